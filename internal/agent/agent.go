// Package agent extracts records from text with a chat model. It is the
// optimizer's Invoker.
package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prompt-optimizer/internal/llm"
	"github.com/sells-group/prompt-optimizer/internal/model"
)

const (
	defaultModel       = "openai/gpt-5-nano"
	defaultTemperature = 0.3
	defaultMaxTokens   = 1024
)

// Option configures an Agent.
type Option func(*Agent)

// WithModel sets the model ID.
func WithModel(m string) Option {
	return func(a *Agent) { a.model = m }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(a *Agent) { a.temperature = t }
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int) Option {
	return func(a *Agent) { a.maxTokens = n }
}

// WithFields restricts extraction to a fixed set of field names. Keys the
// model returns outside the set are dropped.
func WithFields(fields []string) Option {
	return func(a *Agent) {
		a.fields = make(map[string]struct{}, len(fields))
		for _, f := range fields {
			f = strings.TrimSpace(f)
			if f != "" {
				a.fields[f] = struct{}{}
			}
		}
		if len(a.fields) == 0 {
			a.fields = nil
		}
	}
}

// Agent runs extraction prompts. Process is safe for concurrent use.
type Agent struct {
	client      llm.ChatClient
	model       string
	temperature float64
	maxTokens   int
	fields      map[string]struct{}

	mu    sync.RWMutex
	hints map[string]string
}

// New creates an Agent backed by client.
func New(client llm.ChatClient, opts ...Option) *Agent {
	a := &Agent{
		client:      client,
		model:       defaultModel,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
		hints:       map[string]string{},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// SetFieldHints replaces the field descriptions included in later prompts.
func (a *Agent) SetFieldHints(hints map[string]string) {
	cp := make(map[string]string, len(hints))
	for k, v := range hints {
		cp[k] = v
	}

	a.mu.Lock()
	a.hints = cp
	a.mu.Unlock()

	zap.L().Debug("agent: field hints updated", zap.Int("fields", len(cp)))
}

// Process extracts a record from text using prompt.
func (a *Agent) Process(ctx context.Context, prompt, text string) (model.Record, error) {
	resp, err := a.client.Chat(ctx, llm.ChatRequest{
		Model:       a.model,
		System:      a.systemMessage(prompt),
		Messages:    llm.UserMessage("Analyze this text and extract all fields:\n\n" + text),
		Temperature: llm.Float(a.temperature),
		MaxTokens:   a.maxTokens,
		JSON:        true,
	})
	if err != nil {
		return nil, eris.Wrap(err, "agent: extract")
	}

	var raw map[string]any
	if err := llm.DecodeJSON(resp.Text, &raw); err != nil {
		return nil, eris.Wrap(err, "agent: parse extraction")
	}

	rec := model.RecordFromMap(raw)
	if a.fields != nil {
		for k := range rec {
			if _, ok := a.fields[k]; !ok {
				zap.L().Debug("agent: dropping field outside schema", zap.String("field", k))
				delete(rec, k)
			}
		}
	}
	return rec, nil
}

func (a *Agent) systemMessage(prompt string) string {
	var b strings.Builder
	b.WriteString("You are a structured information extraction assistant.\n\n")
	b.WriteString(strings.TrimSpace(prompt))
	b.WriteString("\n")

	if len(a.fields) > 0 {
		names := make([]string, 0, len(a.fields))
		for f := range a.fields {
			names = append(names, f)
		}
		sort.Strings(names)
		b.WriteString("\nALLOWED FIELDS: ")
		b.WriteString(strings.Join(names, ", "))
		b.WriteString("\n")
	}

	if block := a.hintBlock(); block != "" {
		b.WriteString("\nFIELD DESCRIPTIONS (use these to understand what to extract):\n")
		b.WriteString(block)
	}

	b.WriteString("\nReturn a single flat JSON object mapping field names to string values. ")
	b.WriteString("Only include fields that are present in the text. Do not add commentary.")
	return b.String()
}

func (a *Agent) hintBlock() string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.hints) == 0 {
		return ""
	}
	names := make([]string, 0, len(a.hints))
	for k := range a.hints {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, n := range names {
		fmt.Fprintf(&b, "- %s: %s\n", n, a.hints[n])
	}
	return b.String()
}
