package llm

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prompt-optimizer/internal/resilience"
	"github.com/sells-group/prompt-optimizer/pkg/anthropic"
)

const defaultAnthropicMaxTokens = 4096

type anthropicChat struct {
	client   anthropic.Client
	cacheTTL string
}

// AnthropicOption configures the Anthropic adapter.
type AnthropicOption func(*anthropicChat)

// WithCacheTTL sets the TTL of cached system prompts ("5m" or "1h").
func WithCacheTTL(ttl string) AnthropicOption {
	return func(c *anthropicChat) {
		c.cacheTTL = ttl
	}
}

// NewAnthropic adapts an Anthropic client to ChatClient.
func NewAnthropic(client anthropic.Client, opts ...AnthropicOption) ChatClient {
	c := &anthropicChat{client: client, cacheTTL: "5m"}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *anthropicChat) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	msgReq := anthropic.MessageRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
	switch {
	case req.System != "" && req.CacheSystem:
		msgReq.System = anthropic.CachedSystemBlocks(req.System, c.cacheTTL)
	case req.System != "":
		msgReq.System = []anthropic.SystemBlock{{Text: req.System}}
	}
	for _, m := range req.Messages {
		msgReq.Messages = append(msgReq.Messages, anthropic.Message{Role: m.Role, Content: m.Content})
	}

	resp, err := c.client.CreateMessage(ctx, msgReq)
	if err != nil {
		if code := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(code) {
			err = resilience.NewTransientError(err, code)
		}
		return nil, eris.Wrapf(err, "llm: anthropic chat %s", req.Model)
	}

	return &ChatResponse{
		Text:  resp.Text(),
		Model: resp.Model,
		Usage: Usage{
			InputTokens:      int(resp.Usage.InputTokens),
			OutputTokens:     int(resp.Usage.OutputTokens),
			CacheWriteTokens: int(resp.Usage.CacheCreationInputTokens),
			CacheReadTokens:  int(resp.Usage.CacheReadInputTokens),
		},
	}, nil
}
