package turn

import (
	"strings"
	"sync"
	"time"
)

const (
	// defaultDebounceWindow coalesces rapid deltas into fewer observable
	// updates.
	defaultDebounceWindow = 150 * time.Millisecond
	// defaultMaxWait bounds how long a fast stream can defer an update.
	defaultMaxWait = 500 * time.Millisecond
)

// Aggregator merges arriving content/reasoning fragments into accumulated
// strings under a debounce policy. Fragments are appended in arrival order;
// debouncing only changes when updates become observable, never the order
// fragments were appended.
//
// Flush must be called synchronously before any terminal event (tool call,
// completion, error, abort) so no fragment is lost or applied after the
// terminal event. The onFlush callback runs with the aggregator lock held
// and must not call back into the aggregator.
type Aggregator struct {
	mu      sync.Mutex
	window  time.Duration
	maxWait time.Duration
	onFlush func(content, reasoning string)

	pendingContent   strings.Builder
	pendingReasoning strings.Builder
	content          strings.Builder
	reasoning        strings.Builder

	timer    *time.Timer
	deadline time.Time
	closed   bool
}

// NewAggregator creates an aggregator. onFlush receives the full accumulated
// content and reasoning strings after each flush that applied data.
// Non-positive durations fall back to the defaults.
func NewAggregator(window, maxWait time.Duration, onFlush func(content, reasoning string)) *Aggregator {
	if window <= 0 {
		window = defaultDebounceWindow
	}
	if maxWait <= 0 {
		maxWait = defaultMaxWait
	}
	return &Aggregator{window: window, maxWait: maxWait, onFlush: onFlush}
}

// Accumulate appends both fragments to the pending buffer and
// schedules/refreshes the debounce timer. It never triggers an observable
// update by itself.
func (a *Aggregator) Accumulate(contentDelta, reasoningDelta string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}

	empty := a.pendingContent.Len() == 0 && a.pendingReasoning.Len() == 0
	a.pendingContent.WriteString(contentDelta)
	a.pendingReasoning.WriteString(reasoningDelta)
	if a.pendingContent.Len() == 0 && a.pendingReasoning.Len() == 0 {
		return
	}

	now := time.Now()
	if empty {
		// First fragment of this batch starts the max-wait clock.
		a.deadline = now.Add(a.maxWait)
	}

	wait := a.window
	if remaining := a.deadline.Sub(now); remaining < wait {
		wait = remaining
	}
	if wait < 0 {
		wait = 0
	}

	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(wait, a.Flush)
}

// Flush immediately applies the entire pending buffer to the accumulators
// and notifies the observer. Calling Flush with an empty buffer is a no-op.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flushLocked()
}

func (a *Aggregator) flushLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if a.pendingContent.Len() == 0 && a.pendingReasoning.Len() == 0 {
		return
	}

	a.content.WriteString(a.pendingContent.String())
	a.reasoning.WriteString(a.pendingReasoning.String())
	a.pendingContent.Reset()
	a.pendingReasoning.Reset()
	a.deadline = time.Time{}

	if a.onFlush != nil {
		a.onFlush(a.content.String(), a.reasoning.String())
	}
}

// Content returns the flushed accumulated content.
func (a *Aggregator) Content() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.content.String()
}

// Reasoning returns the flushed accumulated reasoning.
func (a *Aggregator) Reasoning() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reasoning.String()
}

// Close flushes any remaining fragments and stops the timer. The aggregator
// ignores further Accumulate calls.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.flushLocked()
	a.closed = true
}
