package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSearcher struct {
	chunks []Chunk
	err    error
	calls  int
}

func (s *stubSearcher) Search(ctx context.Context, collectionIDs []string, query string) ([]Chunk, error) {
	s.calls++
	return s.chunks, s.err
}

func TestAugmentWithoutCollectionsIsPassthrough(t *testing.T) {
	searcher := &stubSearcher{chunks: []Chunk{{ID: "c1", Content: "something"}}}
	a := NewAugmenter(searcher, nil)

	got := a.Augment(context.Background(), "what is 2+2", nil)

	assert.Equal(t, "what is 2+2", got.Prompt)
	assert.Empty(t, got.UsedChunks)
	assert.Zero(t, searcher.calls, "no retrieval without attached collections")
}

func TestAugmentWithEmptyResultIsPassthrough(t *testing.T) {
	a := NewAugmenter(&stubSearcher{}, nil)

	got := a.Augment(context.Background(), "obscure question", []string{"col-1"})

	assert.Equal(t, "obscure question", got.Prompt)
	assert.Empty(t, got.UsedChunks)
}

func TestAugmentRetrievalFailureDegradesToRawPrompt(t *testing.T) {
	a := NewAugmenter(&stubSearcher{err: errors.New("db locked")}, nil)

	got := a.Augment(context.Background(), "question", []string{"col-1"})

	assert.Equal(t, "question", got.Prompt)
	assert.Empty(t, got.UsedChunks)
}

func TestAugmentBuildsAlignedManifest(t *testing.T) {
	chunks := []Chunk{
		{ID: "aaa", FileID: "f1", FileName: "intro.md", Content: "first passage"},
		{ID: "bbb", FileID: "f2", FileName: "deep.md", Content: ""},
		{ID: "ccc", FileID: "f1", FileName: "intro.md", Content: "third passage"},
	}
	a := NewAugmenter(&stubSearcher{chunks: chunks}, nil)

	got := a.Augment(context.Background(), "explain the topic", []string{"col-1"})

	require.Equal(t, chunks, got.UsedChunks, "used chunks keep retrieval order")
	assert.Contains(t, got.Prompt, "explain the topic")
	assert.True(t, strings.HasPrefix(got.Prompt, citationInstruction))

	// The manifest must be parseable JSON with seqNo matching position.
	start := strings.Index(got.Prompt, "[{")
	end := strings.LastIndex(got.Prompt, "}]")
	require.GreaterOrEqual(t, start, 0)
	require.Greater(t, end, start)

	var entries []manifestEntry
	require.NoError(t, json.Unmarshal([]byte(got.Prompt[start:end+2]), &entries))
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, i+1, e.SeqNo)
		assert.Equal(t, chunks[i].ID, e.ID)
		assert.Equal(t, chunks[i].FileName, e.File)
	}
	assert.Equal(t, emptyChunkPlaceholder, entries[1].Content, "empty content keeps its manifest slot")
}
