package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "parley.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateChatAssignsID(t *testing.T) {
	s := newTestStore(t)

	c, err := s.CreateChat(Chat{Model: "gpt-4o", Temperature: 0.9})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)

	got, err := s.GetChat(c.ID)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", got.Model)
	assert.Equal(t, 0.9, got.Temperature)
}

func TestUpdateChatPartialFields(t *testing.T) {
	s := newTestStore(t)
	c, err := s.CreateChat(Chat{Model: "gpt-4o", SystemMessage: "be brief", MaxTokens: 4096})
	require.NoError(t, err)

	summary := "what is 2+2"
	ok, err := s.UpdateChat(ChatUpdate{ID: c.ID, Summary: &summary})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetChat(c.ID)
	require.NoError(t, err)
	assert.Equal(t, summary, got.Summary)
	assert.Equal(t, "be brief", got.SystemMessage, "unnamed fields stay untouched")
	assert.Equal(t, 4096, got.MaxTokens)
}

func TestUpdateChatNoFieldsOrMissingRow(t *testing.T) {
	s := newTestStore(t)

	ok, err := s.UpdateChat(ChatUpdate{ID: "whatever"})
	require.NoError(t, err)
	assert.False(t, ok)

	summary := "s"
	ok, err = s.UpdateChat(ChatUpdate{ID: "missing", Summary: &summary})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMessageLifecycle(t *testing.T) {
	s := newTestStore(t)
	c, err := s.CreateChat(Chat{Model: "gpt-4o"})
	require.NoError(t, err)

	m, err := s.CreateMessage(Message{ChatID: c.ID, Prompt: "hello", IsActive: true})
	require.NoError(t, err)
	require.NotEmpty(t, m.ID)

	reply := "hi there"
	reasoning := "greeting"
	in, out := 10, 4
	chunks := []string{"aaa", "ccc"}
	files := []string{"f1"}
	inactive := false
	ok, err := s.UpdateMessage(MessageUpdate{
		ID:            m.ID,
		Reply:         &reply,
		Reasoning:     &reasoning,
		InputTokens:   &in,
		OutputTokens:  &out,
		CitedChunkIDs: &chunks,
		CitedFileIDs:  &files,
		IsActive:      &inactive,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	msgs, err := s.GetMessages(c.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	got := msgs[0]
	assert.Equal(t, "hello", got.Prompt)
	assert.Equal(t, reply, got.Reply)
	assert.Equal(t, reasoning, got.Reasoning)
	assert.Equal(t, in, got.InputTokens)
	assert.Equal(t, out, got.OutputTokens)
	assert.Equal(t, chunks, got.CitedChunkIDs)
	assert.Equal(t, files, got.CitedFileIDs)
	assert.False(t, got.IsActive)
}

func TestGetMessagesMostRecentWindowOldestFirst(t *testing.T) {
	s := newTestStore(t)
	c, err := s.CreateChat(Chat{Model: "gpt-4o"})
	require.NoError(t, err)

	for _, p := range []string{"one", "two", "three", "four"} {
		_, err := s.CreateMessage(Message{ChatID: c.ID, Prompt: p})
		require.NoError(t, err)
	}

	msgs, err := s.GetMessages(c.ID, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "three", msgs[0].Prompt)
	assert.Equal(t, "four", msgs[1].Prompt)
}

func TestDeleteChatCascades(t *testing.T) {
	s := newTestStore(t)
	c, err := s.CreateChat(Chat{Model: "gpt-4o"})
	require.NoError(t, err)
	_, err = s.CreateMessage(Message{ChatID: c.ID, Prompt: "hello"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteChat(c.ID))

	_, err = s.GetChat(c.ID)
	assert.Error(t, err)

	msgs, err := s.GetMessages(c.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestGetMessagesUnknownChat(t *testing.T) {
	s := newTestStore(t)
	msgs, err := s.GetMessages("nope", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
