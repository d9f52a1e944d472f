package turn

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscribeReceivesCurrentStateImmediately(t *testing.T) {
	s := NewStateStore()
	s.update(func(st *State) { st.Reply = "existing" })

	var got State
	unsub := s.Subscribe(func(st State) { got = st })
	defer unsub()

	assert.Equal(t, "existing", got.Reply)
}

func TestUpdateNotifiesAllSubscribers(t *testing.T) {
	s := NewStateStore()

	var mu sync.Mutex
	var a, b []string
	unsubA := s.Subscribe(func(st State) {
		mu.Lock()
		a = append(a, st.Reply)
		mu.Unlock()
	})
	defer unsubA()
	unsubB := s.Subscribe(func(st State) {
		mu.Lock()
		b = append(b, st.Reply)
		mu.Unlock()
	})
	defer unsubB()

	s.update(func(st *State) { st.Reply = "one" })
	s.update(func(st *State) { st.Reply = "two" })

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"", "one", "two"}, a)
	assert.Equal(t, []string{"", "one", "two"}, b)
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	s := NewStateStore()

	calls := 0
	unsub := s.Subscribe(func(State) { calls++ })
	unsub()

	s.update(func(st *State) { st.Loading = true })
	assert.Equal(t, 1, calls, "only the initial snapshot delivery")
}

func TestObserverMayReadSnapshotDuringNotify(t *testing.T) {
	s := NewStateStore()

	var seen State
	unsub := s.Subscribe(func(st State) { seen = s.Snapshot() })
	defer unsub()

	s.update(func(st *State) { st.Mode = "deep-search" })
	assert.Equal(t, "deep-search", seen.Mode)
}
