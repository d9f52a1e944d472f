package specialized

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Mode identifies the specialized mode a session is in.
type Mode int

const (
	ModeNone Mode = iota
	ModeDeepSearch
	ModeDeepReasoning
	ModeFastResponse
)

// String returns the display name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeDeepSearch:
		return "deep-search"
	case ModeDeepReasoning:
		return "deep-reasoning"
	case ModeFastResponse:
		return "fast-response"
	default:
		return "none"
	}
}

// Settings is the session configuration snapshot saved on entering a
// specialized mode and restored on revert.
type Settings struct {
	SystemMessage  string
	Temperature    float64
	MaxTokens      int
	MaxCtxMessages int
}

// SessionControl is the slice of a session the switchboard manipulates.
type SessionControl interface {
	Settings() Settings
	ApplySettings(Settings)
	SetModel(name string)
	SetAutoDefaultAgent(enabled bool)
}

// defaultCooldown serializes near-simultaneous toggle triggers (UI events
// racing message-count observers).
const defaultCooldown = time.Second

// Switchboard toggles a session between the default agent model and a
// one-shot specialized mode, auto-reverting after exactly one completed
// response.
type Switchboard struct {
	mu             sync.Mutex
	registry       *Registry
	session        SessionControl
	logger         *zap.Logger
	mode           Mode
	snapshot       *Settings
	pendingTurn    bool
	lastTransition time.Time
	cooldown       time.Duration
}

// NewSwitchboard creates a switchboard for one session.
func NewSwitchboard(registry *Registry, session SessionControl, logger *zap.Logger) *Switchboard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Switchboard{
		registry: registry,
		session:  session,
		logger:   logger,
		cooldown: defaultCooldown,
	}
}

// SetCooldown overrides the re-entrant guard window. Zero disables it.
func (s *Switchboard) SetCooldown(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldown = d
}

// Mode returns the current mode.
func (s *Switchboard) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Toggle is the explicit user action. Selecting the mode already active
// reverts to idle; selecting a different mode while active switches through
// a revert first so the snapshot always reflects pre-entry settings.
func (s *Switchboard) Toggle(mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.guarded() {
		s.logger.Debug("specialized toggle ignored during cooldown", zap.Stringer("mode", mode))
		return nil
	}

	switch {
	case mode == ModeNone || mode == s.mode:
		return s.revertLocked()
	case s.mode != ModeNone:
		if err := s.revertLocked(); err != nil {
			return err
		}
		return s.enterLocked(mode)
	default:
		return s.enterLocked(mode)
	}
}

// TurnStarted marks that a turn began under the current mode; the next
// completed response triggers the auto-revert.
func (s *Switchboard) TurnStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeNone {
		s.pendingTurn = true
	}
}

// TurnDiscarded clears the pending-turn mark when a submission fails before
// its stream is issued. The mode stays active; the failed attempt must not
// count toward the one-shot revert.
func (s *Switchboard) TurnDiscarded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingTurn = false
}

// TurnCompleted reverts to idle once the turn that started while active has
// a completed assistant response. Completions of turns started before the
// mode was entered do not revert.
func (s *Switchboard) TurnCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModeNone || !s.pendingTurn {
		return
	}
	if err := s.revertLocked(); err != nil {
		s.logger.Warn("auto-revert failed", zap.Error(err))
	}
}

func (s *Switchboard) guarded() bool {
	if s.cooldown <= 0 {
		return false
	}
	return time.Since(s.lastTransition) < s.cooldown
}

func (s *Switchboard) enterLocked(mode Mode) error {
	model, ok := s.registry.ModelFor(mode)
	if !ok {
		return fmt.Errorf("no model designated for mode %s", mode)
	}

	snap := s.session.Settings()
	s.snapshot = &snap
	s.session.SetModel(model.Name)
	// Snapshot settings stay applied; only the model changes on entry.
	s.session.SetAutoDefaultAgent(false)
	s.mode = mode
	s.pendingTurn = false
	s.lastTransition = time.Now()

	s.logger.Info("specialized mode entered",
		zap.Stringer("mode", mode),
		zap.String("model", model.Name))
	return nil
}

func (s *Switchboard) revertLocked() error {
	if s.mode == ModeNone {
		return nil
	}

	agent, ok := s.registry.DefaultAgent()
	if !ok {
		return fmt.Errorf("no agent-capable model in registry")
	}

	s.session.SetModel(agent.Name)
	if s.snapshot != nil {
		s.session.ApplySettings(*s.snapshot)
	}
	prev := s.mode
	s.snapshot = nil
	s.mode = ModeNone
	s.pendingTurn = false
	s.lastTransition = time.Now()

	s.logger.Info("specialized mode reverted",
		zap.Stringer("mode", prev),
		zap.String("model", agent.Name))
	return nil
}
