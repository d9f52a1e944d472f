package turn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"parley/internal/knowledge"
	"parley/internal/provider"
	"parley/internal/specialized"
	"parley/internal/store"
)

var (
	// ErrBusy is returned when a turn is already in flight on the session.
	ErrBusy = errors.New("a turn is already active on this session")
	// ErrNoProvider is returned when no usable provider is configured. The
	// turn is never created.
	ErrNoProvider = errors.New("no provider configured")
)

// Store is the persistence collaborator consumed by the orchestrator.
type Store interface {
	CreateChat(c store.Chat) (store.Chat, error)
	UpdateChat(u store.ChatUpdate) (bool, error)
	CreateMessage(m store.Message) (store.Message, error)
	UpdateMessage(u store.MessageUpdate) (bool, error)
	GetMessages(chatID string, limit int) ([]store.Message, error)
}

// UsageTracker is the usage-accounting collaborator.
type UsageTracker interface {
	Track(provider, model, chatID string, input, output int, operation string)
}

// ModeObserver lets the orchestrator drive the specialized-model
// switchboard's one-shot auto-revert.
type ModeObserver interface {
	TurnStarted()
	TurnDiscarded()
	TurnCompleted()
	Mode() specialized.Mode
}

// Options wires an orchestrator.
type Options struct {
	Session      *Session
	Client       provider.Client
	ProviderName string
	Augmenter    *knowledge.Augmenter
	Store        Store
	Usage        UsageTracker
	Notifier     Notifier
	Modes        ModeObserver
	Logger       *zap.Logger

	// Debounce tuning for the delta aggregator; zero values use defaults.
	DebounceWindow  time.Duration
	DebounceMaxWait time.Duration
}

// Orchestrator sequences a single in-flight streaming exchange per session:
// knowledge augmentation, provider streaming, delta aggregation, and
// finalization with token accounting and citation resolution.
type Orchestrator struct {
	mu           sync.Mutex
	session      *Session
	client       provider.Client
	providerName string
	augmenter    *knowledge.Augmenter
	store        Store
	usage        UsageTracker
	notifier     Notifier
	modes        ModeObserver
	state        *StateStore
	logger       *zap.Logger
	window       time.Duration
	maxWait      time.Duration

	active *activeTurn
}

// activeTurn is the mutable record of the in-flight turn.
type activeTurn struct {
	messageID  string
	prompt     string
	augmented  string
	usedChunks []knowledge.Chunk
	agg        *Aggregator
	firstTurn  bool
}

// NewOrchestrator creates an orchestrator for one session.
func NewOrchestrator(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &Orchestrator{
		session:      opts.Session,
		client:       opts.Client,
		providerName: opts.ProviderName,
		augmenter:    opts.Augmenter,
		store:        opts.Store,
		usage:        opts.Usage,
		notifier:     notifier,
		modes:        opts.Modes,
		state:        NewStateStore(),
		logger:       logger,
		window:       opts.DebounceWindow,
		maxWait:      opts.DebounceMaxWait,
	}
}

// State exposes the observable turn state for UI observers.
func (o *Orchestrator) State() *StateStore {
	return o.state
}

// Busy reports whether a turn is in flight.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active != nil
}

// Submit starts a new turn for the prompt. It returns once the streaming
// call is issued; progress and the terminal outcome arrive through the
// state store and the notifier.
func (o *Orchestrator) Submit(ctx context.Context, prompt string, attachments ...provider.Attachment) error {
	o.mu.Lock()
	if o.active != nil {
		o.mu.Unlock()
		return ErrBusy
	}
	if o.client == nil || !o.client.IsReady() {
		o.mu.Unlock()
		return ErrNoProvider
	}
	// Reserve the in-flight slot before the slow work below; concurrent
	// submits are rejected, never queued over the live turn.
	reservation := &activeTurn{}
	o.active = reservation
	o.mu.Unlock()

	turn, err := o.prepare(ctx, prompt)
	if err != nil {
		o.clearActive(reservation)
		return err
	}

	o.mu.Lock()
	o.active = turn
	o.mu.Unlock()

	if err := o.issue(ctx, turn, attachments); err != nil {
		inactive := false
		_, _ = o.store.UpdateMessage(store.MessageUpdate{ID: turn.messageID, IsActive: &inactive})
		o.state.update(func(st *State) {
			st.Loading = false
		})
		o.clearActive(turn)
		return err
	}
	return nil
}

// prepare persists the draft session and the new message, then builds the
// augmented prompt. Persistence failure fails the whole submission.
func (o *Orchestrator) prepare(ctx context.Context, prompt string) (*activeTurn, error) {
	firstTurn := o.session.IsDraft()
	if firstTurn {
		settings := o.session.Settings()
		chat, err := o.store.CreateChat(store.Chat{
			Model:          o.session.Model(),
			SystemMessage:  settings.SystemMessage,
			Temperature:    settings.Temperature,
			MaxTokens:      settings.MaxTokens,
			MaxCtxMessages: settings.MaxCtxMessages,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to persist session: %w", err)
		}
		o.session.setID(chat.ID)
		o.logger.Info("session persisted", zap.String("chat", chat.ID))
	}

	msg, err := o.store.CreateMessage(store.Message{
		ChatID:   o.session.ID(),
		Prompt:   prompt,
		Model:    o.session.Model(),
		IsActive: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	o.session.SetDraftInput("")

	aug := knowledge.Augmentation{Prompt: prompt}
	if o.augmenter != nil {
		aug = o.augmenter.Augment(ctx, prompt, o.session.Collections())
	}

	turn := &activeTurn{
		messageID:  msg.ID,
		prompt:     prompt,
		augmented:  aug.Prompt,
		usedChunks: aug.UsedChunks,
		firstTurn:  firstTurn,
	}
	turn.agg = NewAggregator(o.window, o.maxWait, func(content, reasoning string) {
		o.state.update(func(st *State) {
			st.Reply = content
			st.Reasoning = reasoning
		})
	})
	return turn, nil
}

// issue registers the provider callbacks and fires the streaming call.
func (o *Orchestrator) issue(ctx context.Context, turn *activeTurn, attachments []provider.Attachment) error {
	settings := o.session.Settings()

	history, err := o.store.GetMessages(o.session.ID(), settings.MaxCtxMessages)
	if err != nil {
		// Missing history degrades to a single-message context.
		o.logger.Warn("failed to load chat history", zap.Error(err))
		history = nil
	}

	messages := make([]provider.Message, 0, 2*len(history)+1)
	for _, m := range history {
		if m.ID == turn.messageID {
			continue
		}
		messages = append(messages, provider.Message{Role: provider.RoleUser, Content: m.Prompt})
		if m.Reply != "" {
			messages = append(messages, provider.Message{Role: provider.RoleAssistant, Content: m.Reply})
		}
	}
	messages = append(messages, provider.Message{
		Role:        provider.RoleUser,
		Content:     turn.augmented,
		Attachments: attachments,
	})

	o.state.update(func(st *State) {
		st.Loading = true
		st.RunningTool = ""
		st.Reply = ""
		st.Reasoning = ""
		st.Mode = o.modeName()
	})

	// Callbacks are registered before the call is issued; each terminal
	// path flushes the aggregator first.
	o.client.OnReading(func(contentDelta, reasoningDelta string) {
		turn.agg.Accumulate(contentDelta, reasoningDelta)
	})
	o.client.OnToolCalls(func(toolName string) {
		turn.agg.Flush()
		o.state.update(func(st *State) {
			st.RunningTool = toolName
		})
	})
	o.client.OnComplete(func(res provider.Result) {
		o.complete(turn, res)
	})
	o.client.OnError(func(err error, aborted bool) {
		o.fail(turn, err, aborted)
	})

	req := provider.Request{
		Model:       o.session.Model(),
		System:      settings.SystemMessage,
		Temperature: settings.Temperature,
		MaxTokens:   settings.MaxTokens,
		Messages:    messages,
	}
	// The stream may deliver its terminal event before Chat returns, so the
	// turn must be marked started before the stream exists.
	if o.modes != nil {
		o.modes.TurnStarted()
	}
	if err := o.client.Chat(ctx, req); err != nil {
		if o.modes != nil {
			o.modes.TurnDiscarded()
		}
		return fmt.Errorf("failed to issue chat: %w", err)
	}
	return nil
}

// complete finalizes a successful turn: flush, token accounting, citation
// resolution, persistence.
func (o *Orchestrator) complete(turn *activeTurn, res provider.Result) {
	turn.agg.Flush()

	content := res.Content
	if content == "" {
		content = turn.agg.Content()
	}
	reasoning := res.Reasoning
	if reasoning == "" {
		reasoning = turn.agg.Reasoning()
	}

	// The provider's final text is canonical; observers must end up seeing
	// the same transcript that gets persisted.
	o.state.update(func(st *State) {
		st.Reply = content
		st.Reasoning = reasoning
	})

	inputTokens := res.InputTokens
	if inputTokens == 0 {
		settings := o.session.Settings()
		inputTokens = estimateTokens(settings.SystemMessage + turn.augmented)
	}
	outputTokens := res.OutputTokens
	if outputTokens == 0 {
		outputTokens = estimateTokens(content + reasoning)
	}

	resolution := knowledge.Resolve(content, turn.usedChunks)
	citedChunks := resolution.ChunkIDs()
	citedFiles := resolution.CitedFileIDs

	inactive := false
	tokensIn, tokensOut := inputTokens, outputTokens
	if _, err := o.store.UpdateMessage(store.MessageUpdate{
		ID:            turn.messageID,
		Reply:         &content,
		Reasoning:     &reasoning,
		InputTokens:   &tokensIn,
		OutputTokens:  &tokensOut,
		CitedChunkIDs: &citedChunks,
		CitedFileIDs:  &citedFiles,
		IsActive:      &inactive,
	}); err != nil {
		o.logger.Error("failed to persist completed turn", zap.Error(err))
	}

	if turn.firstTurn {
		o.summarize(turn.prompt)
	}

	if o.usage != nil {
		o.usage.Track(o.providerName, o.session.Model(), o.session.ID(), inputTokens, outputTokens, "chat")
	}

	o.finish(turn)
	if o.modes != nil {
		o.modes.TurnCompleted()
		o.state.update(func(st *State) {
			st.Mode = o.modeName()
		})
	}
	o.logger.Info("turn completed",
		zap.String("message", turn.messageID),
		zap.Int("input_tokens", inputTokens),
		zap.Int("output_tokens", outputTokens),
		zap.Int("cited_chunks", len(citedChunks)))
}

// fail finalizes an errored or aborted turn. Flushed partial output is
// preserved, never discarded.
func (o *Orchestrator) fail(turn *activeTurn, err error, aborted bool) {
	turn.agg.Flush()

	content := turn.agg.Content()
	reasoning := turn.agg.Reasoning()

	inactive := false
	if _, uerr := o.store.UpdateMessage(store.MessageUpdate{
		ID:        turn.messageID,
		Reply:     &content,
		Reasoning: &reasoning,
		IsActive:  &inactive,
	}); uerr != nil {
		o.logger.Error("failed to persist failed turn", zap.Error(uerr))
	}

	o.finish(turn)

	switch {
	case aborted:
		o.logger.Info("turn aborted", zap.String("message", turn.messageID), zap.Int("partial_len", len(content)))
	case content != "":
		// Partial output stands as the truncated result; no blocking error.
		o.logger.Warn("turn failed after partial output",
			zap.String("message", turn.messageID),
			zap.Error(err))
	default:
		o.notifier.Error(fmt.Sprintf("chat failed: %v", err))
	}
}

// finish clears the in-flight slot and the loading/tool markers.
func (o *Orchestrator) finish(turn *activeTurn) {
	o.state.update(func(st *State) {
		st.Loading = false
		st.RunningTool = ""
	})
	o.clearActive(turn)
}

// Abort cancels the in-flight turn. Pending deltas are flushed first so the
// partial transcript survives; the provider reports the terminal event.
func (o *Orchestrator) Abort() {
	o.mu.Lock()
	turn := o.active
	o.mu.Unlock()
	if turn == nil {
		return
	}
	if turn.agg != nil {
		turn.agg.Flush()
	}
	o.client.Abort()
}

func (o *Orchestrator) clearActive(turn *activeTurn) {
	o.mu.Lock()
	if o.active == turn {
		o.active = nil
	}
	o.mu.Unlock()
}

// summarize sets the chat summary from the first prompt.
func (o *Orchestrator) summarize(prompt string) {
	summary := prompt
	if runes := []rune(summary); len(runes) > 100 {
		summary = string(runes[:100])
	}
	if _, err := o.store.UpdateChat(store.ChatUpdate{ID: o.session.ID(), Summary: &summary}); err != nil {
		o.logger.Debug("failed to update chat summary", zap.Error(err))
	}
}

func (o *Orchestrator) modeName() string {
	if o.modes == nil {
		return specialized.ModeNone.String()
	}
	return o.modes.Mode().String()
}
