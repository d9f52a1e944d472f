package turn

import (
	"sync"
)

// State is an immutable snapshot of the observable per-session turn state.
// Observers receive it through StateStore subscriptions; no rendering
// surface is assumed.
type State struct {
	Loading     bool
	RunningTool string
	Reply       string
	Reasoning   string
	Mode        string
}

// StateStore holds the current State and fans out change notifications.
type StateStore struct {
	mu     sync.Mutex
	cur    State
	subs   map[int]func(State)
	nextID int
}

// NewStateStore creates an empty state store.
func NewStateStore() *StateStore {
	return &StateStore{subs: make(map[int]func(State))}
}

// Snapshot returns the current state.
func (s *StateStore) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Subscribe registers an observer and returns its unsubscribe func. The
// observer is immediately called with the current state.
func (s *StateStore) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	cur := s.cur
	s.mu.Unlock()

	fn(cur)

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// update mutates the state and notifies observers with the new snapshot.
// Notification happens outside the lock so observers may call Snapshot.
func (s *StateStore) update(mutate func(*State)) {
	s.mu.Lock()
	mutate(&s.cur)
	cur := s.cur
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(cur)
	}
}
