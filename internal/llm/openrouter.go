package llm

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prompt-optimizer/pkg/openrouter"
)

// ProviderOpenRouter and ProviderAnthropic name the supported providers.
const (
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
)

type openRouterChat struct {
	client openrouter.Client
}

// NewOpenRouter adapts an OpenRouter client to ChatClient.
func NewOpenRouter(client openrouter.Client) ChatClient {
	return &openRouterChat{client: client}
}

func (c *openRouterChat) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	msgs := make([]openrouter.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openrouter.Message{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openrouter.Message{Role: m.Role, Content: m.Content})
	}

	orReq := openrouter.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		n := req.MaxTokens
		orReq.MaxTokens = &n
	}
	if req.JSON {
		orReq.ResponseFormat = &openrouter.ResponseFormat{Type: "json_object"}
	}

	resp, err := c.client.ChatCompletion(ctx, orReq)
	if err != nil {
		return nil, eris.Wrapf(err, "llm: openrouter chat %s", req.Model)
	}

	return &ChatResponse{
		Text:  resp.Content(),
		Model: resp.Model,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}
