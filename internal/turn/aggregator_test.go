package turn

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flushRecorder captures onFlush invocations without re-entering the
// aggregator.
type flushRecorder struct {
	mu      sync.Mutex
	flushes []string
}

func (r *flushRecorder) record(content, reasoning string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes = append(r.flushes, content)
}

func (r *flushRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flushes)
}

func (r *flushRecorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.flushes) == 0 {
		return ""
	}
	return r.flushes[len(r.flushes)-1]
}

func TestAggregatorPreservesArrivalOrder(t *testing.T) {
	rec := &flushRecorder{}
	agg := NewAggregator(time.Hour, time.Hour, rec.record)

	agg.Accumulate("Hel", "")
	agg.Accumulate("lo ", "")
	agg.Accumulate("world", "")
	agg.Flush()

	assert.Equal(t, "Hello world", agg.Content())
	assert.Equal(t, "Hello world", rec.last())
}

func TestAggregatorCoalescesBursts(t *testing.T) {
	rec := &flushRecorder{}
	agg := NewAggregator(50*time.Millisecond, time.Second, rec.record)

	agg.Accumulate("a", "")
	agg.Accumulate("b", "")
	agg.Accumulate("c", "")

	require.Eventually(t, func() bool {
		return rec.count() > 0
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, rec.count(), "burst should produce a single flush")
	assert.Equal(t, "abc", agg.Content())
}

func TestAggregatorMaxWaitBoundsDeferral(t *testing.T) {
	rec := &flushRecorder{}
	// Window long enough that a steady stream keeps resetting it; only the
	// max-wait ceiling can force the flush.
	agg := NewAggregator(200*time.Millisecond, 100*time.Millisecond, rec.record)

	stop := time.After(400 * time.Millisecond)
	tick := time.NewTicker(30 * time.Millisecond)
	defer tick.Stop()

feed:
	for {
		select {
		case <-stop:
			break feed
		case <-tick.C:
			agg.Accumulate("x", "")
		}
	}

	assert.Greater(t, rec.count(), 0, "max-wait should force a flush under a steady stream")
}

func TestAggregatorFlushEmptyIsNoop(t *testing.T) {
	rec := &flushRecorder{}
	agg := NewAggregator(time.Hour, time.Hour, rec.record)

	agg.Flush()
	agg.Flush()

	assert.Zero(t, rec.count())
	assert.Empty(t, agg.Content())
}

func TestAggregatorSeparatesReasoning(t *testing.T) {
	agg := NewAggregator(time.Hour, time.Hour, nil)

	agg.Accumulate("answer ", "thinking ")
	agg.Accumulate("text", "more")
	agg.Flush()

	assert.Equal(t, "answer text", agg.Content())
	assert.Equal(t, "thinking more", agg.Reasoning())
}

func TestAggregatorCloseFlushesAndSeals(t *testing.T) {
	rec := &flushRecorder{}
	agg := NewAggregator(time.Hour, time.Hour, rec.record)

	agg.Accumulate("kept", "")
	agg.Close()
	agg.Accumulate("dropped", "")
	agg.Flush()

	assert.Equal(t, "kept", agg.Content())
	assert.Equal(t, 1, rec.count())
}

func TestAggregatorFlushBeforeTimerFires(t *testing.T) {
	rec := &flushRecorder{}
	agg := NewAggregator(time.Hour, time.Hour, rec.record)

	agg.Accumulate("partial", "")
	// A terminal event flushes synchronously; everything accumulated so far
	// must be observable immediately.
	agg.Flush()

	assert.Equal(t, "partial", rec.last())
	assert.Equal(t, "partial", agg.Content())
}
