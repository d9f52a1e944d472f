package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiClient streams chat completions through the Google GenAI SDK.
type GeminiClient struct {
	callbacks
	aborter

	client *genai.Client
	logger *zap.Logger
}

// NewGeminiClient creates a Gemini streaming client.
func NewGeminiClient(ctx context.Context, apiKey string, logger *zap.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiClient{client: client, logger: logger}, nil
}

// IsReady reports whether the client can issue calls.
func (c *GeminiClient) IsReady() bool {
	return c.client != nil
}

// Chat issues the streaming request and returns once the stream goroutine is
// launched.
func (c *GeminiClient) Chat(ctx context.Context, req Request) error {
	if !c.IsReady() {
		return ErrNotReady
	}

	contents, err := buildGenAIContents(req)
	if err != nil {
		return err
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	c.arm(cancel)

	go func() {
		defer c.disarm()
		defer cancel()
		c.stream(streamCtx, req.Model, contents, cfg)
	}()

	return nil
}

func buildGenAIContents(req Request) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		var role genai.Role = genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		parts := make([]*genai.Part, 0, len(m.Attachments)+1)
		for _, att := range m.Attachments {
			raw, err := base64.StdEncoding.DecodeString(stripDataURL(att.Data))
			if err != nil {
				return nil, fmt.Errorf("failed to decode attachment %s: %w", att.Filename, err)
			}
			parts = append(parts, &genai.Part{
				InlineData: &genai.Blob{MIMEType: att.MIMEType, Data: raw},
			})
		}
		if m.Content != "" {
			parts = append(parts, &genai.Part{Text: m.Content})
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents, nil
}

// stripDataURL removes a data-URL prefix if present, leaving raw base64.
func stripDataURL(s string) string {
	if idx := strings.Index(s, ";base64,"); idx >= 0 {
		return s[idx+len(";base64,"):]
	}
	return s
}

func (c *GeminiClient) stream(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) {
	var content, reasoning strings.Builder
	var inputTokens, outputTokens int

	for resp, err := range c.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
		if err != nil {
			aborted := ctx.Err() != nil
			c.fireError(fmt.Errorf("stream failed: %w", err), aborted)
			return
		}
		if resp.UsageMetadata != nil {
			inputTokens = int(resp.UsageMetadata.PromptTokenCount)
			outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part.FunctionCall != nil {
					c.fireToolCall(part.FunctionCall.Name)
					continue
				}
				if part.Text == "" {
					continue
				}
				if part.Thought {
					reasoning.WriteString(part.Text)
					c.fireReading("", part.Text)
				} else {
					content.WriteString(part.Text)
					c.fireReading(part.Text, "")
				}
			}
		}
	}

	if ctx.Err() != nil {
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
