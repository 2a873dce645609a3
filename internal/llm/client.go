// Package llm is the model-calling layer shared by the extraction agent and
// the mentor: a provider-neutral chat interface, provider adapters, and the
// decorators that add retries, rate limiting, circuit breaking and usage
// accounting.
package llm

import "context"

// Roles used in Message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatClient sends one chat request and returns the model's reply.
type ChatClient interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ChatFunc adapts a function to ChatClient.
type ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)

// Chat calls f.
func (f ChatFunc) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return f(ctx, req)
}

// ChatRequest is a provider-neutral chat request.
type ChatRequest struct {
	Model       string
	System      string
	Messages    []Message
	Temperature *float64
	MaxTokens   int
	// JSON asks the provider for a JSON object response when it supports
	// one.
	JSON bool
	// CacheSystem marks the system prompt as cacheable.
	CacheSystem bool
}

// Message is one conversational turn.
type Message struct {
	Role    string
	Content string
}

// ChatResponse is a provider-neutral reply.
type ChatResponse struct {
	Text  string
	Model string
	Usage Usage
}

// Usage reports the tokens a call consumed.
type Usage struct {
	InputTokens      int
	OutputTokens     int
	CacheWriteTokens int
	CacheReadTokens  int
}

// Float returns a pointer to f, for ChatRequest.Temperature.
func Float(f float64) *float64 {
	return &f
}

// UserMessage builds a single user turn.
func UserMessage(content string) []Message {
	return []Message{{Role: RoleUser, Content: content}}
}
