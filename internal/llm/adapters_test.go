package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prompt-optimizer/internal/resilience"
	"github.com/sells-group/prompt-optimizer/pkg/anthropic"
	"github.com/sells-group/prompt-optimizer/pkg/openrouter"
)

func TestOpenRouterAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openrouter.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "be precise", req.Messages[0].Content)
		assert.Equal(t, "user", req.Messages[1].Role)
		require.NotNil(t, req.MaxTokens)
		assert.Equal(t, 128, *req.MaxTokens)
		require.NotNil(t, req.Temperature)
		assert.InDelta(t, 0.3, *req.Temperature, 1e-9)
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)

		_, _ = w.Write([]byte(`{"id":"1","model":"openai/gpt-5-nano","choices":[{"index":0,"message":{"role":"assistant","content":"{}"}}],"usage":{"prompt_tokens":7,"completion_tokens":3}}`))
	}))
	defer srv.Close()

	client := NewOpenRouter(openrouter.NewClient("k", openrouter.WithBaseURL(srv.URL)))
	resp, err := client.Chat(context.Background(), ChatRequest{
		Model:       "openai/gpt-5-nano",
		System:      "be precise",
		Messages:    UserMessage("extract"),
		Temperature: Float(0.3),
		MaxTokens:   128,
		JSON:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, "{}", resp.Text)
	assert.Equal(t, "openai/gpt-5-nano", resp.Model)
	assert.Equal(t, Usage{InputTokens: 7, OutputTokens: 3}, resp.Usage)
}

func TestOpenRouterAdapter_ErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewOpenRouter(openrouter.NewClient("k", openrouter.WithBaseURL(srv.URL)))
	_, err := client.Chat(context.Background(), ChatRequest{Model: "x", Messages: UserMessage("hi")})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

type mockAnthropic struct {
	mock.Mock
}

func (m *mockAnthropic) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if resp := args.Get(0); resp != nil {
		return resp.(*anthropic.MessageResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestAnthropicAdapter(t *testing.T) {
	m := &mockAnthropic{}
	m.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-haiku-4-5-20251001" &&
			req.MaxTokens == defaultAnthropicMaxTokens &&
			len(req.System) == 1 &&
			req.System[0].CacheControl != nil &&
			req.System[0].CacheControl.TTL == "1h" &&
			len(req.Messages) == 1 && req.Messages[0].Role == "user"
	})).Return(&anthropic.MessageResponse{
		Model:   "claude-haiku-4-5-20251001",
		Content: []anthropic.ContentBlock{{Type: "text", Text: `{"prompt":"p"}`}},
		Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 20, CacheReadInputTokens: 80},
	}, nil)

	client := NewAnthropic(m, WithCacheTTL("1h"))
	resp, err := client.Chat(context.Background(), ChatRequest{
		Model:       "claude-haiku-4-5-20251001",
		System:      "you improve prompts",
		CacheSystem: true,
		Messages:    UserMessage("go"),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"prompt":"p"}`, resp.Text)
	assert.Equal(t, 80, resp.Usage.CacheReadTokens)
	m.AssertExpectations(t)
}

func TestAnthropicAdapter_UncachedSystem(t *testing.T) {
	m := &mockAnthropic{}
	m.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.System) == 1 && req.System[0].CacheControl == nil && req.MaxTokens == 50
	})).Return(&anthropic.MessageResponse{}, nil)

	_, err := NewAnthropic(m).Chat(context.Background(), ChatRequest{System: "s", MaxTokens: 50})
	require.NoError(t, err)
	m.AssertExpectations(t)
}

func TestAnthropicAdapter_Error(t *testing.T) {
	m := &mockAnthropic{}
	m.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("invalid request"))

	_, err := NewAnthropic(m).Chat(context.Background(), ChatRequest{Model: "claude"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm: anthropic chat claude")
	assert.False(t, resilience.IsTransient(err))
}
