package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var citationChunks = []Chunk{
	{ID: "aaa", FileID: "f1", FileName: "go.md", Content: "chunk a"},
	{ID: "bbb", FileID: "f2", FileName: "sql.md", Content: "chunk b"},
	{ID: "ccc", FileID: "f1", FileName: "go.md", Content: "chunk c"},
}

func TestResolveSubsetInFirstCitationOrder(t *testing.T) {
	out := "Fact one [(1)](citation#aaa 'go.md'). Fact two [(3)](citation#ccc 'go.md')."

	res := Resolve(out, citationChunks)

	assert.Equal(t, []string{"aaa", "ccc"}, res.ChunkIDs())
	assert.Equal(t, []string{"f1"}, res.CitedFileIDs, "file ids are distinct")
}

func TestResolveDeduplicatesRepeatedMarkers(t *testing.T) {
	out := "[(1)](citation#aaa 'go.md') again [(1)](citation#aaa 'go.md') and [(2)](citation#bbb 'sql.md')"

	res := Resolve(out, citationChunks)

	assert.Equal(t, []string{"aaa", "bbb"}, res.ChunkIDs())
	assert.Equal(t, []string{"f1", "f2"}, res.CitedFileIDs)
}

func TestResolveNoMarkersIsValid(t *testing.T) {
	res := Resolve("a plain answer without any citations", citationChunks)
	assert.Empty(t, res.CitedChunks)
	assert.Empty(t, res.CitedFileIDs)
}

func TestResolveIgnoresUnknownIDs(t *testing.T) {
	out := "claim [(1)](citation#zzz 'gone.md') and claim [(2)](citation#bbb 'sql.md')"

	res := Resolve(out, citationChunks)

	assert.Equal(t, []string{"bbb"}, res.ChunkIDs())
}

func TestResolveLenientSeqNoForms(t *testing.T) {
	cases := []struct {
		name string
		out  string
	}{
		{"full form", "[(1)](citation#aaa 'go.md')"},
		{"missing digits", "[()](citation#aaa 'go.md')"},
		{"missing parens", "[1](citation#aaa 'go.md')"},
		{"empty brackets", "[](citation#aaa 'go.md')"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Resolve(tc.out, citationChunks)
			assert.Equal(t, []string{"aaa"}, res.ChunkIDs())
		})
	}
}

func TestResolveSkipsMalformedMarkers(t *testing.T) {
	cases := []struct {
		name string
		out  string
	}{
		{"no citation prefix", "[(1)](ref#aaa 'go.md')"},
		{"missing file quotes", "[(1)](citation#aaa go.md)"},
		{"plain link", "[docs](https://example.com)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Resolve(tc.out, citationChunks)
			assert.Empty(t, res.CitedChunks)
		})
	}
}

func TestResolveExcludesExternalSourcesFromFileIDs(t *testing.T) {
	chunks := []Chunk{
		{ID: "loc", FileID: "f1", FileName: "local.md"},
		{ID: "ext", FileID: ExternalFileID, FileName: "web result"},
		{ID: "anon", FileID: "", FileName: "unsourced"},
	}
	out := "[(1)](citation#loc 'local.md') [(2)](citation#ext 'web result') [(3)](citation#anon 'unsourced')"

	res := Resolve(out, chunks)

	assert.Equal(t, []string{"loc", "ext", "anon"}, res.ChunkIDs(), "external chunks stay citable")
	assert.Equal(t, []string{"f1"}, res.CitedFileIDs, "external sources never appear as local files")
}

func TestResolveEmptyInputs(t *testing.T) {
	assert.Empty(t, Resolve("", citationChunks).CitedChunks)
	assert.Empty(t, Resolve("[(1)](citation#aaa 'go.md')", nil).CitedChunks)
}

func TestLookup(t *testing.T) {
	c, ok := Lookup("bbb", citationChunks)
	require.True(t, ok)
	assert.Equal(t, "sql.md", c.FileName)

	_, ok = Lookup("deleted", citationChunks)
	assert.False(t, ok)
}
