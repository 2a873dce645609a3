// Package mentor proposes extraction prompts and field descriptions with a
// chat model. It is the optimizer's Mutator.
package mentor

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prompt-optimizer/internal/llm"
	"github.com/sells-group/prompt-optimizer/internal/model"
)

const (
	defaultModel        = "openai/gpt-5-nano"
	defaultTemperature  = 0.7
	defaultMaxTokens    = 4096
	defaultMaxFailures  = 10
	defaultSourceTokens = 200
)

var validate = validator.New()

// response is the JSON object the mentor model must return.
type response struct {
	Prompt            string            `json:"prompt" validate:"required,notblank" jsonschema:"required" jsonschema_description:"The complete improved extraction prompt"`
	Reasoning         string            `json:"reasoning,omitempty" jsonschema_description:"Why the prompt was changed"`
	FieldDescriptions map[string]string `json:"field_descriptions,omitempty" jsonschema_description:"Field name to a description of what to extract for it"`
}

func init() {
	if err := validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}); err != nil {
		panic(err)
	}
}

// Option configures a Mentor.
type Option func(*Mentor)

// WithModel sets the model ID.
func WithModel(m string) Option {
	return func(mt *Mentor) { mt.model = m }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(mt *Mentor) { mt.temperature = t }
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int) Option {
	return func(mt *Mentor) { mt.maxTokens = n }
}

// WithMaxFailures caps the failed predictions rendered per history entry.
// 0 renders all of them.
func WithMaxFailures(n int) Option {
	return func(mt *Mentor) { mt.maxFailures = n }
}

// WithSourceTokens bounds each rendered source text.
func WithSourceTokens(n int) Option {
	return func(mt *Mentor) { mt.sourceTokens = n }
}

// WithTokenizer sets the tokenizer used to truncate source texts.
func WithTokenizer(t llm.Tokenizer) Option {
	return func(mt *Mentor) { mt.tokenizer = t }
}

// Mentor generates prompts from examples and round history.
type Mentor struct {
	client       llm.ChatClient
	model        string
	temperature  float64
	maxTokens    int
	maxFailures  int
	sourceTokens int
	tokenizer    llm.Tokenizer
	schema       string
}

// New creates a Mentor backed by client.
func New(client llm.ChatClient, opts ...Option) *Mentor {
	mt := &Mentor{
		client:       client,
		model:        defaultModel,
		temperature:  defaultTemperature,
		maxTokens:    defaultMaxTokens,
		maxFailures:  defaultMaxFailures,
		sourceTokens: defaultSourceTokens,
		schema:       responseSchema(),
	}
	for _, o := range opts {
		o(mt)
	}
	if mt.tokenizer == nil {
		mt.tokenizer = llm.NewTokenizer(llm.DefaultEncoding)
	}
	return mt
}

// Seed writes a first prompt from a single labeled example.
func (mt *Mentor) Seed(ctx context.Context, text string, truth model.Record, hints map[string]string) (model.GeneratedPrompt, error) {
	zap.L().Info("mentor: generating initial prompt", zap.Int("truth_fields", len(truth)))
	gen, err := mt.generate(ctx, seedSystem, formatSeed(text, truth, hints))
	if err != nil {
		return model.GeneratedPrompt{}, eris.Wrap(err, "mentor: seed")
	}
	return gen, nil
}

// Refine improves currentPrompt using the given window of past rounds.
func (mt *Mentor) Refine(ctx context.Context, window []model.IterationHistory, currentPrompt string, hints map[string]string) (model.GeneratedPrompt, error) {
	zap.L().Info("mentor: generating improved prompt", zap.Int("window", len(window)))
	user := formatRefine(window, currentPrompt, hints, mt.maxFailures, func(s string) string {
		return mt.tokenizer.Truncate(s, mt.sourceTokens)
	})
	gen, err := mt.generate(ctx, refineSystem, user)
	if err != nil {
		return model.GeneratedPrompt{}, eris.Wrap(err, "mentor: refine")
	}
	return gen, nil
}

func (mt *Mentor) generate(ctx context.Context, system, user string) (model.GeneratedPrompt, error) {
	resp, err := mt.client.Chat(ctx, llm.ChatRequest{
		Model:       mt.model,
		System:      system + "\n\nRespond with a JSON object matching this schema:\n" + mt.schema,
		Messages:    llm.UserMessage(user),
		Temperature: llm.Float(mt.temperature),
		MaxTokens:   mt.maxTokens,
		JSON:        true,
		CacheSystem: true,
	})
	if err != nil {
		return model.GeneratedPrompt{}, err
	}

	var out response
	if err := llm.DecodeJSON(resp.Text, &out); err != nil {
		return model.GeneratedPrompt{}, err
	}
	if err := validate.Struct(out); err != nil {
		return model.GeneratedPrompt{}, eris.Wrap(err, "mentor: invalid response")
	}

	zap.L().Debug("mentor: generated prompt",
		zap.Int("prompt_len", len(out.Prompt)),
		zap.Int("field_descriptions", len(out.FieldDescriptions)),
	)
	return model.GeneratedPrompt{
		Prompt:            strings.TrimSpace(out.Prompt),
		FieldDescriptions: out.FieldDescriptions,
		Rationale:         out.Reasoning,
	}, nil
}

func responseSchema() string {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	b, err := json.MarshalIndent(r.Reflect(&response{}), "", "  ")
	if err != nil {
		return `{"type":"object","properties":{"prompt":{"type":"string"},"reasoning":{"type":"string"},"field_descriptions":{"type":"object"}},"required":["prompt"]}`
	}
	return string(b)
}
