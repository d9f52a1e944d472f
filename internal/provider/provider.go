// Package provider implements streaming chat transports for the turn
// orchestrator. All implementations deliver output through registered
// callbacks: deltas via OnReading, tool-call interruptions via OnToolCalls,
// and exactly one terminal event via OnComplete or OnError per Chat call.
package provider

import (
	"context"
	"errors"
	"sync"
)

// ErrNotReady is returned by Chat when the client has no usable credentials.
var ErrNotReady = errors.New("provider not configured")

// Role constants for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Attachment is a structured file payload sent alongside a message.
type Attachment struct {
	Filename string
	MIMEType string
	// Data is the base64-encoded file content (data-URL form for
	// OpenAI-compatible transports, raw bytes decoded for Gemini).
	Data string
}

// Message is a single entry in the conversation sent to the model.
type Message struct {
	Role        string
	Content     string
	Attachments []Attachment
}

// Request describes one streaming chat call.
type Request struct {
	Model       string
	System      string
	Temperature float64
	MaxTokens   int
	Messages    []Message
}

// Result is the terminal payload of a successful stream.
type Result struct {
	Content      string
	Reasoning    string
	InputTokens  int
	OutputTokens int
}

// Client is the provider collaborator consumed by the orchestrator.
// Callbacks must be registered before Chat is issued; Chat returns
// immediately after launching the stream.
type Client interface {
	Chat(ctx context.Context, req Request) error
	OnReading(fn func(contentDelta, reasoningDelta string))
	OnToolCalls(fn func(toolName string))
	OnComplete(fn func(res Result))
	OnError(fn func(err error, aborted bool))
	Abort()
	IsReady() bool
}

// callbacks is the shared registration/dispatch state for clients.
type callbacks struct {
	mu         sync.Mutex
	onReading  func(string, string)
	onToolCall func(string)
	onComplete func(Result)
	onError    func(error, bool)
}

func (c *callbacks) OnReading(fn func(contentDelta, reasoningDelta string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReading = fn
}

func (c *callbacks) OnToolCalls(fn func(toolName string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onToolCall = fn
}

func (c *callbacks) OnComplete(fn func(res Result)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onComplete = fn
}

func (c *callbacks) OnError(fn func(err error, aborted bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

func (c *callbacks) fireReading(content, reasoning string) {
	c.mu.Lock()
	fn := c.onReading
	c.mu.Unlock()
	if fn != nil {
		fn(content, reasoning)
	}
}

func (c *callbacks) fireToolCall(name string) {
	c.mu.Lock()
	fn := c.onToolCall
	c.mu.Unlock()
	if fn != nil {
		fn(name)
	}
}

func (c *callbacks) fireComplete(res Result) {
	c.mu.Lock()
	fn := c.onComplete
	c.mu.Unlock()
	if fn != nil {
		fn(res)
	}
}

func (c *callbacks) fireError(err error, aborted bool) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(err, aborted)
	}
}

// aborter tracks the cancel func of the in-flight stream.
type aborter struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

func (a *aborter) arm(cancel context.CancelFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancel = cancel
}

func (a *aborter) disarm() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancel = nil
}

// Abort cancels the in-flight stream, if any. Cooperative: the transport
// observes the context and reports the terminal event itself.
func (a *aborter) Abort() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
