package mentor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prompt-optimizer/internal/llm"
	"github.com/sells-group/prompt-optimizer/internal/model"
)

type mockChat struct {
	mock.Mock
}

func (m *mockChat) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	args := m.Called(ctx, req)
	if resp := args.Get(0); resp != nil {
		return resp.(*llm.ChatResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func newMentor(c llm.ChatClient, opts ...Option) *Mentor {
	return New(c, append([]Option{WithTokenizer(llm.RuneTokenizer{})}, opts...)...)
}

func TestSeed(t *testing.T) {
	m := &mockChat{}
	m.On("Chat", mock.Anything, mock.MatchedBy(func(req llm.ChatRequest) bool {
		user := req.Messages[0].Content
		return *req.Temperature == 0.7 &&
			req.CacheSystem &&
			strings.Contains(req.System, `"prompt"`) &&
			strings.Contains(user, "SAMPLE INPUT:\nContact John at john@email.com") &&
			strings.Contains(user, `{"email":"john@email.com","firstname":"John"}`)
	})).Return(&llm.ChatResponse{
		Text: "```json\n" + `{"prompt": "  Extract names and emails.  ", "reasoning": "covers both", "field_descriptions": {"email": "an address"}}` + "\n```",
	}, nil)

	gen, err := newMentor(m).Seed(context.Background(),
		"Contact John at john@email.com",
		model.Record{"firstname": "John", "email": "john@email.com"},
		map[string]string{},
	)
	require.NoError(t, err)
	assert.Equal(t, "Extract names and emails.", gen.Prompt)
	assert.Equal(t, "covers both", gen.Rationale)
	assert.Equal(t, map[string]string{"email": "an address"}, gen.FieldDescriptions)
	m.AssertExpectations(t)
}

func TestRefine(t *testing.T) {
	var user string
	m := &mockChat{}
	m.On("Chat", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			user = args.Get(1).(llm.ChatRequest).Messages[0].Content
		}).
		Return(&llm.ChatResponse{Text: `{"prompt": "v2"}`}, nil)

	window := []model.IterationHistory{
		{
			Iteration:      2,
			Prompt:         "v1",
			PromptAccuracy: 50,
			ErrorSummary:   map[string]int{"MISSING_email": 2, "EXTRA_city": 1},
			FailedPredictions: []model.FailedPrediction{
				{SourceText: "Write to mary@example.org today", GroundTruth: model.Record{"email": "mary@example.org"}, Prediction: model.Record{}},
				{SourceText: "second", GroundTruth: model.Record{"email": "x"}, Prediction: model.Record{"city": "y"}},
			},
		},
	}

	gen, err := newMentor(m, WithMaxFailures(1), WithSourceTokens(8)).
		Refine(context.Background(), window, "v1", map[string]string{"email": "address"})
	require.NoError(t, err)
	assert.Equal(t, "v2", gen.Prompt)
	assert.Nil(t, gen.FieldDescriptions)

	assert.Contains(t, user, "CURRENT PROMPT:\nv1")
	assert.Contains(t, user, "- email: address")
	assert.Contains(t, user, "Iteration 2:")
	assert.Contains(t, user, "Accuracy: 50.00%")
	assert.Contains(t, user, "Error types: EXTRA_city: 1, MISSING_email: 2")
	assert.Contains(t, user, "(1 of 2 shown)")
	assert.Contains(t, user, "Source text: Write to...")
	assert.Contains(t, user, `Expected: {"email":"mary@example.org"}`)
	assert.Contains(t, user, "Predicted: {}")
	assert.NotContains(t, user, "second")
}

func TestRefine_EmptyWindow(t *testing.T) {
	m := &mockChat{}
	m.On("Chat", mock.Anything, mock.MatchedBy(func(req llm.ChatRequest) bool {
		return strings.Contains(req.Messages[0].Content, "No previous iterations.")
	})).Return(&llm.ChatResponse{Text: `{"prompt": "v1"}`}, nil)

	_, err := newMentor(m).Refine(context.Background(), nil, "v0", nil)
	require.NoError(t, err)
	m.AssertExpectations(t)
}

func TestGenerate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		resp    *llm.ChatResponse
		err     error
		wantErr string
	}{
		{"chat error", nil, errors.New("unavailable"), "unavailable"},
		{"no json", &llm.ChatResponse{Text: "Sorry, I cannot help."}, nil, "no JSON object"},
		{"missing prompt", &llm.ChatResponse{Text: `{"reasoning": "none"}`}, nil, "invalid response"},
		{"blank prompt", &llm.ChatResponse{Text: `{"prompt": "   "}`}, nil, "invalid response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockChat{}
			m.On("Chat", mock.Anything, mock.Anything).Return(tt.resp, tt.err)

			_, err := newMentor(m).Refine(context.Background(), nil, "p", nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Contains(t, err.Error(), "mentor: refine")
		})
	}
}

func TestResponseSchema(t *testing.T) {
	s := responseSchema()
	assert.Contains(t, s, `"prompt"`)
	assert.Contains(t, s, `"field_descriptions"`)
	assert.Contains(t, s, `"required"`)
}

func TestFormatErrorSummary_Empty(t *testing.T) {
	assert.Equal(t, "None", formatErrorSummary(nil))
}
