// Package turn implements the streaming chat turn orchestrator: per-session
// state, the debounced delta aggregator, and the submission pipeline that
// drives a single in-flight provider exchange per session.
package turn

import (
	"sync"

	"parley/internal/specialized"
)

// DraftID is the sentinel id a session carries until its first turn
// persists it.
const DraftID = "draft"

// Session is one chat conversation and its settings. Mutation is owned by
// the orchestrator and by direct user edits through the setters; the
// switchboard manipulates it through specialized.SessionControl.
type Session struct {
	mu               sync.RWMutex
	id               string
	model            string
	systemMessage    string
	temperature      float64
	maxTokens        int
	maxCtxMessages   int
	draftInput       string
	collections      []string
	autoDefaultAgent bool
}

// SessionConfig seeds a new session.
type SessionConfig struct {
	Model          string
	SystemMessage  string
	Temperature    float64
	MaxTokens      int
	MaxCtxMessages int
}

// NewSession creates a draft session with the given defaults.
func NewSession(cfg SessionConfig) *Session {
	return &Session{
		id:               DraftID,
		model:            cfg.Model,
		systemMessage:    cfg.SystemMessage,
		temperature:      cfg.Temperature,
		maxTokens:        cfg.MaxTokens,
		maxCtxMessages:   cfg.MaxCtxMessages,
		autoDefaultAgent: true,
	}
}

// ID returns the session id (DraftID until first persisted).
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// IsDraft reports whether the session has not been persisted yet.
func (s *Session) IsDraft() bool {
	return s.ID() == DraftID
}

func (s *Session) setID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
}

// Model returns the session's effective model.
func (s *Session) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// SetModel switches the session's effective model.
func (s *Session) SetModel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = name
}

// SetAutoDefaultAgent sets whether the session snaps back to the default
// agent model on its own.
func (s *Session) SetAutoDefaultAgent(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoDefaultAgent = enabled
}

// AutoDefaultAgent reports the auto-default-agent flag.
func (s *Session) AutoDefaultAgent() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoDefaultAgent
}

// Settings returns the snapshot-able session settings.
func (s *Session) Settings() specialized.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return specialized.Settings{
		SystemMessage:  s.systemMessage,
		Temperature:    s.temperature,
		MaxTokens:      s.maxTokens,
		MaxCtxMessages: s.maxCtxMessages,
	}
}

// ApplySettings restores a settings snapshot.
func (s *Session) ApplySettings(set specialized.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemMessage = set.SystemMessage
	s.temperature = set.Temperature
	s.maxTokens = set.MaxTokens
	s.maxCtxMessages = set.MaxCtxMessages
}

// DraftInput returns the unsent input text.
func (s *Session) DraftInput() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draftInput
}

// SetDraftInput stores unsent input text.
func (s *Session) SetDraftInput(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draftInput = text
}

// Collections returns the attached knowledge collection ids.
func (s *Session) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.collections))
	copy(out, s.collections)
	return out
}

// SetCollections attaches knowledge collections to the session.
func (s *Session) SetCollections(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections = make([]string, len(ids))
	copy(s.collections, ids)
}
