package optimizer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/sells-group/prompt-optimizer/internal/model"
)

// stubInvoker answers with a function of the current round and text.
type stubInvoker struct {
	mu     sync.Mutex
	round  int
	hints  []map[string]string
	prompt []string
	fn     func(round int, text string) (model.Record, error)
}

func (s *stubInvoker) SetFieldHints(h map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.round++
	s.hints = append(s.hints, h)
}

func (s *stubInvoker) Process(_ context.Context, prompt, text string) (model.Record, error) {
	s.mu.Lock()
	round := s.round
	s.prompt = append(s.prompt, prompt)
	s.mu.Unlock()
	return s.fn(round, text)
}

type mockMutator struct {
	mock.Mock
}

func (m *mockMutator) Seed(ctx context.Context, text string, truth model.Record, hints map[string]string) (model.GeneratedPrompt, error) {
	args := m.Called(ctx, text, truth, hints)
	return args.Get(0).(model.GeneratedPrompt), args.Error(1)
}

func (m *mockMutator) Refine(ctx context.Context, window []model.IterationHistory, current string, hints map[string]string) (model.GeneratedPrompt, error) {
	args := m.Called(ctx, window, current, hints)
	return args.Get(0).(model.GeneratedPrompt), args.Error(1)
}

func samples() []model.Sample {
	return []model.Sample{
		{SourceText: "Contact John at john@email.com", GroundTruth: model.Record{"firstname": "John", "email": "john@email.com"}},
		{SourceText: "Mary lives in Paris", GroundTruth: model.Record{"firstname": "Mary", "city": "Paris"}},
	}
}

func truthFor(ss []model.Sample) func(string) model.Record {
	m := make(map[string]model.Record, len(ss))
	for _, s := range ss {
		m[s.SourceText] = s.GroundTruth
	}
	return func(text string) model.Record { return m[text].Clone() }
}

func cfg(rounds, window int) Config {
	c := DefaultConfig()
	c.MaxRounds = rounds
	c.WindowSize = window
	return c
}

func TestRun_PerfectAccuracyStopsEarly(t *testing.T) {
	ss := samples()
	truth := truthFor(ss)
	inv := &stubInvoker{fn: func(_ int, text string) (model.Record, error) { return truth(text), nil }}
	mut := &mockMutator{}

	opt, err := New(inv, mut, cfg(5, 2))
	require.NoError(t, err)

	results, err := opt.Run(context.Background(), ss, "extract fields")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1.0, results[0].Accuracy)
	assert.Equal(t, 2, results[0].CorrectSamples)
	assert.Equal(t, 2, results[0].TotalSamples)
	mut.AssertNotCalled(t, "Refine", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	mut.AssertNotCalled(t, "Seed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_ConvergesOnThirdRound(t *testing.T) {
	ss := samples()
	truth := truthFor(ss)
	inv := &stubInvoker{fn: func(round int, text string) (model.Record, error) {
		if round < 3 {
			return model.Record{}, nil
		}
		return truth(text), nil
	}}
	mut := &mockMutator{}
	mut.On("Refine", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(model.GeneratedPrompt{Prompt: "better"}, nil)

	opt, err := New(inv, mut, cfg(4, 2))
	require.NoError(t, err)

	results, err := opt.Run(context.Background(), ss, "start")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []float64{0, 0, 1}, []float64{results[0].Accuracy, results[1].Accuracy, results[2].Accuracy})
	mut.AssertNumberOfCalls(t, "Refine", 2)
	assert.Equal(t, "start", results[0].Prompt)
	assert.Equal(t, "better", results[1].Prompt)
	assert.Len(t, opt.History(), 3)
}

func TestRun_RefineWindow(t *testing.T) {
	inv := &stubInvoker{fn: func(int, string) (model.Record, error) { return model.Record{}, nil }}

	var windows [][]int
	mut := &mockMutator{}
	mut.On("Refine", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			w := args.Get(1).([]model.IterationHistory)
			its := make([]int, len(w))
			for i, e := range w {
				its[i] = e.Iteration
			}
			windows = append(windows, its)
		}).
		Return(model.GeneratedPrompt{Prompt: "next"}, nil)

	opt, err := New(inv, mut, cfg(4, 2))
	require.NoError(t, err)

	results, err := opt.Run(context.Background(), samples(), "p")
	require.NoError(t, err)
	assert.Len(t, results, 4)
	assert.Equal(t, [][]int{{1}, {1, 2}, {2, 3}}, windows)
}

func TestRun_SeedsPromptAndMergesHints(t *testing.T) {
	ss := samples()
	inv := &stubInvoker{fn: func(int, string) (model.Record, error) { return model.Record{}, nil }}
	mut := &mockMutator{}
	mut.On("Seed", mock.Anything, ss[0].SourceText, ss[0].GroundTruth, map[string]string{}).
		Return(model.GeneratedPrompt{Prompt: "seeded", FieldDescriptions: map[string]string{"email": "an address"}}, nil)
	mut.On("Refine", mock.Anything, mock.Anything, "seeded", map[string]string{"email": "an address"}).
		Return(model.GeneratedPrompt{Prompt: "refined", FieldDescriptions: map[string]string{"city": "a town", "email": "mail"}}, nil)

	opt, err := New(inv, mut, cfg(2, 2))
	require.NoError(t, err)

	results, err := opt.Run(context.Background(), ss, "  ")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "seeded", results[0].Prompt)
	assert.Equal(t, map[string]string{"email": "an address"}, results[0].FieldDescriptions)
	assert.Equal(t, "refined", results[1].Prompt)
	assert.Equal(t, map[string]string{"email": "mail", "city": "a town"}, results[1].FieldDescriptions)

	require.Len(t, inv.hints, 2)
	assert.Equal(t, map[string]string{"email": "an address"}, inv.hints[0])
	assert.Equal(t, map[string]string{"email": "mail", "city": "a town"}, inv.hints[1])
	assert.Equal(t, map[string]string{"email": "mail", "city": "a town"}, opt.FieldHints())
	mut.AssertExpectations(t)
}

func TestRun_InvokerFailureYieldsEmptyRecord(t *testing.T) {
	ss := samples()
	truth := truthFor(ss)
	inv := &stubInvoker{fn: func(_ int, text string) (model.Record, error) {
		if text == ss[1].SourceText {
			return nil, errors.New("upstream timeout")
		}
		return truth(text), nil
	}}
	mut := &mockMutator{}

	opt, err := New(inv, mut, cfg(1, 2))
	require.NoError(t, err)

	results, err := opt.Run(context.Background(), ss, "p")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.5, results[0].Accuracy, 1e-9)
	assert.Equal(t, 1, results[0].CorrectSamples)

	hist := opt.History()
	require.Len(t, hist, 1)
	require.Len(t, hist[0].FailedPredictions, 1)
	assert.Equal(t, model.Record{}, hist[0].FailedPredictions[0].Prediction)
	assert.Equal(t, 1, hist[0].ErrorSummary["MISSING_city"])
	assert.InDelta(t, 50.0, hist[0].PromptAccuracy, 1e-9)
}

func TestRun_AllFailuresStillRecordRound(t *testing.T) {
	inv := &stubInvoker{fn: func(int, string) (model.Record, error) { return nil, errors.New("down") }}
	opt, err := New(inv, &mockMutator{}, cfg(1, 2))
	require.NoError(t, err)

	results, err := opt.Run(context.Background(), samples(), "p")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0.0, results[0].Accuracy)
	assert.Len(t, opt.History()[0].FailedPredictions, 2)
}

func TestRun_RefineFailureAborts(t *testing.T) {
	inv := &stubInvoker{fn: func(int, string) (model.Record, error) { return model.Record{}, nil }}
	mut := &mockMutator{}
	mut.On("Refine", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(model.GeneratedPrompt{}, errors.New("mentor unavailable"))

	opt, err := New(inv, mut, cfg(3, 2))
	require.NoError(t, err)

	results, err := opt.Run(context.Background(), samples(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mentor unavailable")
	assert.Len(t, results, 1)
}

func TestRun_SeedFailureAborts(t *testing.T) {
	inv := &stubInvoker{fn: func(int, string) (model.Record, error) { return model.Record{}, nil }}
	mut := &mockMutator{}
	mut.On("Seed", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(model.GeneratedPrompt{}, errors.New("bad response"))

	opt, err := New(inv, mut, cfg(3, 2))
	require.NoError(t, err)

	results, err := opt.Run(context.Background(), samples(), "")
	require.Error(t, err)
	assert.Empty(t, results)
	assert.Empty(t, inv.hints)
}

func TestRun_NoRefineOnLastRound(t *testing.T) {
	inv := &stubInvoker{fn: func(int, string) (model.Record, error) { return model.Record{}, nil }}
	mut := &mockMutator{}
	mut.On("Refine", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(model.GeneratedPrompt{Prompt: "next"}, nil)

	opt, err := New(inv, mut, cfg(1, 2))
	require.NoError(t, err)

	_, err = opt.Run(context.Background(), samples(), "p")
	require.NoError(t, err)
	mut.AssertNotCalled(t, "Refine", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_ConcurrentPreservesOrder(t *testing.T) {
	var ss []model.Sample
	for i := 0; i < 20; i++ {
		ss = append(ss, model.Sample{
			SourceText:  string(rune('a' + i)),
			GroundTruth: model.Record{"id": string(rune('a' + i))},
		})
	}
	inv := &stubInvoker{fn: func(_ int, text string) (model.Record, error) {
		if (text[0]-'a')%2 == 1 {
			return model.Record{}, nil
		}
		return model.Record{"id": text}, nil
	}}

	c := cfg(1, 2)
	c.Concurrency = 8
	opt, err := New(inv, &mockMutator{}, c)
	require.NoError(t, err)

	results, err := opt.Run(context.Background(), ss, "p")
	require.NoError(t, err)
	assert.Equal(t, 10, results[0].CorrectSamples)

	failed := opt.History()[0].FailedPredictions
	require.Len(t, failed, 10)
	for i, f := range failed {
		assert.Equal(t, string(rune('a'+2*i+1)), f.SourceText)
	}
}

func TestRun_MaxFailuresCapsHistory(t *testing.T) {
	inv := &stubInvoker{fn: func(int, string) (model.Record, error) { return model.Record{}, nil }}
	c := cfg(1, 2)
	c.MaxFailures = 1
	opt, err := New(inv, &mockMutator{}, c)
	require.NoError(t, err)

	results, err := opt.Run(context.Background(), samples(), "p")
	require.NoError(t, err)
	assert.Equal(t, 0, results[0].CorrectSamples)

	failed := opt.History()[0].FailedPredictions
	require.Len(t, failed, 1)
	assert.Equal(t, samples()[0].SourceText, failed[0].SourceText)
}

func TestRun_CollaboratorsCannotRewriteHistory(t *testing.T) {
	inv := &stubInvoker{fn: func(int, string) (model.Record, error) {
		return model.Record{"firstname": "wrong"}, nil
	}}
	mut := &mockMutator{}
	mut.On("Refine", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			w := args.Get(1).([]model.IterationHistory)
			w[0].FailedPredictions[0].Prediction["firstname"] = "MUTATED"
			w[0].FieldDescriptions["z"] = "MUTATED"
			w[0].ErrorSummary["WRONG_firstname"] = 99
		}).
		Return(model.GeneratedPrompt{Prompt: "next"}, nil)
	obs := ObserverFunc(func(_ context.Context, _ model.OptimizationResult, e model.IterationHistory) error {
		e.FailedPredictions[0].GroundTruth["firstname"] = "MUTATED"
		return nil
	})

	opt, err := New(inv, mut, cfg(2, 2), WithObserver(obs))
	require.NoError(t, err)

	_, err = opt.Run(context.Background(), samples(), "p")
	require.NoError(t, err)

	first := opt.History()[0]
	assert.Equal(t, model.Record{"firstname": "wrong"}, first.FailedPredictions[0].Prediction)
	assert.Equal(t, samples()[0].GroundTruth, first.FailedPredictions[0].GroundTruth)
	assert.NotContains(t, first.FieldDescriptions, "z")
	assert.Equal(t, 2, first.ErrorSummary["WRONG_firstname"])
}

func TestRun_RefinesWhenFailuresExceedCap(t *testing.T) {
	inv := &stubInvoker{fn: func(int, string) (model.Record, error) { return model.Record{}, nil }}
	mut := &mockMutator{}
	mut.On("Refine", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(model.GeneratedPrompt{Prompt: "next"}, nil)

	c := cfg(2, 2)
	c.MaxFailures = 1
	opt, err := New(inv, mut, c)
	require.NoError(t, err)

	_, err = opt.Run(context.Background(), samples(), "p")
	require.NoError(t, err)
	mut.AssertNumberOfCalls(t, "Refine", 1)
	assert.Len(t, opt.History()[0].FailedPredictions, 1)
}

func TestRun_ObserverReceivesEveryRound(t *testing.T) {
	inv := &stubInvoker{fn: func(int, string) (model.Record, error) { return model.Record{}, nil }}
	mut := &mockMutator{}
	mut.On("Refine", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(model.GeneratedPrompt{Prompt: "next"}, nil)

	var seen []int
	obs := ObserverFunc(func(_ context.Context, r model.OptimizationResult, e model.IterationHistory) error {
		assert.Equal(t, r.Iteration, e.Iteration)
		seen = append(seen, r.Iteration)
		return nil
	})

	opt, err := New(inv, mut, cfg(3, 2), WithObserver(obs))
	require.NoError(t, err)

	_, err = opt.Run(context.Background(), samples(), "p")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestRun_ObserverErrorAborts(t *testing.T) {
	inv := &stubInvoker{fn: func(int, string) (model.Record, error) { return model.Record{}, nil }}
	obs := ObserverFunc(func(context.Context, model.OptimizationResult, model.IterationHistory) error {
		return errors.New("disk full")
	})

	opt, err := New(inv, &mockMutator{}, cfg(3, 2), WithObserver(obs))
	require.NoError(t, err)

	results, err := opt.Run(context.Background(), samples(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, results, 1)
}

func TestRun_CancelledContext(t *testing.T) {
	inv := &stubInvoker{fn: func(int, string) (model.Record, error) { return model.Record{}, nil }}
	opt, err := New(inv, &mockMutator{}, cfg(3, 2))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := opt.Run(ctx, samples(), "p")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, results)
}

func TestRun_NoSamples(t *testing.T) {
	opt, err := New(&stubInvoker{}, &mockMutator{}, cfg(1, 1))
	require.NoError(t, err)

	_, err = opt.Run(context.Background(), nil, "p")
	assert.ErrorIs(t, err, ErrNoSamples)
}

func TestRun_ResetsStateBetweenRuns(t *testing.T) {
	inv := &stubInvoker{fn: func(int, string) (model.Record, error) { return model.Record{}, nil }}
	opt, err := New(inv, &mockMutator{}, cfg(1, 1))
	require.NoError(t, err)

	_, err = opt.Run(context.Background(), samples(), "p")
	require.NoError(t, err)
	_, err = opt.Run(context.Background(), samples(), "p")
	require.NoError(t, err)
	assert.Len(t, opt.History(), 1)
}

func TestRun_Spans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	inv := &stubInvoker{fn: func(int, string) (model.Record, error) { return model.Record{}, nil }}
	mut := &mockMutator{}
	mut.On("Seed", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(model.GeneratedPrompt{Prompt: "seeded"}, nil)
	mut.On("Refine", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(model.GeneratedPrompt{Prompt: "next"}, nil)

	opt, err := New(inv, mut, cfg(2, 2), WithTracerProvider(tp))
	require.NoError(t, err)

	_, err = opt.Run(context.Background(), samples(), "")
	require.NoError(t, err)

	var names []string
	for _, s := range rec.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{
		"optimizer.seed",
		"optimizer.round",
		"optimizer.refine",
		"optimizer.round",
		"optimizer.run",
	}, names)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero rounds", func(c *Config) { c.MaxRounds = 0 }, true},
		{"zero window", func(c *Config) { c.WindowSize = 0 }, true},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, true},
		{"negative failures", func(c *Config) { c.MaxFailures = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(&stubInvoker{}, &mockMutator{}, Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
