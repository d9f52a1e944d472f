package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OpenAIClient streams chat completions from any OpenAI-compatible endpoint.
type OpenAIClient struct {
	callbacks
	aborter

	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// OpenAIConfig holds configuration for the OpenAI-compatible client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewOpenAIClient creates a streaming client for an OpenAI-compatible API.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &OpenAIClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			// No client timeout: a streaming response stays open for the
			// whole turn. Cancellation comes from the request context.
		},
		logger: cfg.Logger,
	}
}

// IsReady reports whether the client has credentials to issue calls.
func (c *OpenAIClient) IsReady() bool {
	return c.apiKey != ""
}

// chatRequest is the wire form of a streaming completion request.
type chatRequest struct {
	Model         string          `json:"model"`
	Messages      []wireMessage   `json:"messages"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Temperature   float64         `json:"temperature,omitempty"`
	Stream        bool            `json:"stream"`
	StreamOptions json.RawMessage `json:"stream_options,omitempty"`
}

// wireMessage carries either a plain string content or a part array when
// attachments are present.
type wireMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type contentPart struct {
	Type string    `json:"type"`
	Text string    `json:"text,omitempty"`
	File *filePart `json:"file,omitempty"`
}

type filePart struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

// chatChunk is one SSE data payload.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				Function struct {
					Name string `json:"name"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func buildWireMessages(req Request) []wireMessage {
	messages := make([]wireMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, wireMessage{Role: RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		if len(m.Attachments) == 0 {
			messages = append(messages, wireMessage{Role: m.Role, Content: m.Content})
			continue
		}
		parts := make([]contentPart, 0, len(m.Attachments)+1)
		for _, att := range m.Attachments {
			parts = append(parts, contentPart{
				Type: "file",
				File: &filePart{Filename: att.Filename, FileData: att.Data},
			})
		}
		if m.Content != "" {
			parts = append(parts, contentPart{Type: "text", Text: m.Content})
		}
		messages = append(messages, wireMessage{Role: m.Role, Content: parts})
	}
	return messages
}

// Chat issues the streaming request and returns once the stream goroutine is
// launched. All outcomes are delivered through the registered callbacks.
func (c *OpenAIClient) Chat(ctx context.Context, req Request) error {
	if !c.IsReady() {
		return ErrNotReady
	}

	body := chatRequest{
		Model:         req.Model,
		Messages:      buildWireMessages(req),
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		Stream:        true,
		StreamOptions: json.RawMessage(`{"include_usage":true}`),
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	c.arm(cancel)

	go func() {
		defer c.disarm()
		defer cancel()
		c.stream(streamCtx, jsonData)
	}()

	return nil
}

// stream performs the HTTP exchange and drives the callbacks.
func (c *OpenAIClient) stream(ctx context.Context, jsonData []byte) {
	resp, err := c.open(ctx, jsonData)
	if err != nil {
		c.fireError(err, ctx.Err() != nil)
		return
	}
	defer resp.Body.Close()

	var content, reasoning strings.Builder
	var inputTokens, outputTokens int

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Debug("skipping unparseable stream chunk", zap.Error(err))
			continue
		}
		if chunk.Error != nil {
			c.fireError(fmt.Errorf("provider error: %s", chunk.Error.Message), false)
			return
		}
		if chunk.Usage != nil {
			inputTokens = chunk.Usage.PromptTokens
			outputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		for _, tc := range delta.ToolCalls {
			if tc.Function.Name != "" {
				c.fireToolCall(tc.Function.Name)
			}
		}
		if delta.Content != "" || delta.ReasoningContent != "" {
			content.WriteString(delta.Content)
			reasoning.WriteString(delta.ReasoningContent)
			c.fireReading(delta.Content, delta.ReasoningContent)
		}
	}

	if err := scanner.Err(); err != nil {
		aborted := ctx.Err() != nil
		c.fireError(fmt.Errorf("stream read failed: %w", err), aborted)
		return
	}
	if ctx.Err() != nil {
		// Cancelled between reads; surface as an abort, not a failure.
		c.fireError(ctx.Err(), true)
		return
	}

	c.fireComplete(Result{
		Content:      content.String(),
		Reasoning:    reasoning.String(),
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	})
}

// open performs the initial POST with a small retry loop for rate limits.
// Retrying is safe only here: no delta has been delivered yet.
func (c *OpenAIClient) open(ctx context.Context, jsonData []byte) (*http.Response, error) {
	const maxRetries = 3
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if ctx.Err() != nil {
				return nil, lastErr
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
		}
		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
