// Package optimizer runs the evaluate-and-refine loop that improves an
// extraction prompt against labeled samples.
package optimizer

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prompt-optimizer/internal/evaluate"
	"github.com/sells-group/prompt-optimizer/internal/ledger"
	"github.com/sells-group/prompt-optimizer/internal/model"
)

const tracerName = "github.com/sells-group/prompt-optimizer/internal/optimizer"

// Invoker extracts a record from one text using a prompt.
type Invoker interface {
	Process(ctx context.Context, prompt, text string) (model.Record, error)
	// SetFieldHints replaces the field descriptions used by later
	// Process calls.
	SetFieldHints(hints map[string]string)
}

// Mutator proposes prompts: Seed from a single labeled example, Refine from
// the recent history of rounds.
type Mutator interface {
	Seed(ctx context.Context, text string, truth model.Record, hints map[string]string) (model.GeneratedPrompt, error)
	Refine(ctx context.Context, window []model.IterationHistory, currentPrompt string, hints map[string]string) (model.GeneratedPrompt, error)
}

// Observer is notified after every completed round. A returned error
// aborts the run.
type Observer interface {
	RoundCompleted(ctx context.Context, result model.OptimizationResult, entry model.IterationHistory) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, result model.OptimizationResult, entry model.IterationHistory) error

// RoundCompleted calls f.
func (f ObserverFunc) RoundCompleted(ctx context.Context, result model.OptimizationResult, entry model.IterationHistory) error {
	return f(ctx, result, entry)
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithObserver registers an observer. Observers run in registration order.
func WithObserver(obs Observer) Option {
	return func(o *Optimizer) {
		o.observers = append(o.observers, obs)
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Optimizer) {
		o.tracer = tp.Tracer(tracerName)
	}
}

// Optimizer drives rounds of extraction, evaluation and prompt refinement.
// A single Optimizer must not run more than one optimization at a time.
type Optimizer struct {
	invoker   Invoker
	mutator   Mutator
	cfg       Config
	evaluator evaluate.Evaluator
	observers []Observer
	tracer    trace.Tracer

	hints  *model.FieldHints
	ledger *ledger.Ledger
}

// New validates cfg and returns an Optimizer.
func New(invoker Invoker, mutator Mutator, cfg Config, opts ...Option) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Optimizer{
		invoker:   invoker,
		mutator:   mutator,
		cfg:       cfg,
		evaluator: evaluate.Evaluator{CaseSensitive: cfg.CaseSensitive},
		tracer:    otel.Tracer(tracerName),
		hints:     model.NewFieldHints(),
		ledger:    ledger.New(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run optimizes the prompt over samples. When initialPrompt is blank the
// mutator seeds one from the first sample. It returns one result per
// completed round; on error the rounds completed so far are returned with
// it. Field hints and history start empty on every call.
func (o *Optimizer) Run(ctx context.Context, samples []model.Sample, initialPrompt string) ([]model.OptimizationResult, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	ctx, span := o.tracer.Start(ctx, "optimizer.run", trace.WithAttributes(
		attribute.Int("samples", len(samples)),
		attribute.Int("max_rounds", o.cfg.MaxRounds),
		attribute.Int("window_size", o.cfg.WindowSize),
	))
	defer span.End()

	o.hints = model.NewFieldHints()
	o.ledger = ledger.New()

	log := zap.L().With(zap.String("component", "optimizer"))
	log.Info("optimizer: starting run",
		zap.Int("samples", len(samples)),
		zap.Int("max_rounds", o.cfg.MaxRounds),
		zap.Int("window_size", o.cfg.WindowSize),
		zap.Int("concurrency", o.cfg.Concurrency),
	)

	results, err := o.run(ctx, samples, initialPrompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return results, err
	}

	span.SetAttributes(attribute.Int("rounds", len(results)))
	if len(results) > 0 {
		span.SetAttributes(attribute.Float64("final_accuracy", results[len(results)-1].Accuracy))
	}
	return results, nil
}

func (o *Optimizer) run(ctx context.Context, samples []model.Sample, initialPrompt string) ([]model.OptimizationResult, error) {
	prompt := initialPrompt
	if strings.TrimSpace(prompt) == "" {
		seeded, err := o.seed(ctx, samples[0])
		if err != nil {
			return nil, err
		}
		prompt = seeded
	}

	texts := make([]string, len(samples))
	truths := make([]model.Record, len(samples))
	for i, s := range samples {
		texts[i] = s.SourceText
		truths[i] = s.GroundTruth
	}

	var results []model.OptimizationResult
	for round := 1; round <= o.cfg.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return results, eris.Wrapf(err, "optimizer: round %d", round)
		}

		out, err := o.round(ctx, round, prompt, texts, truths)
		if err != nil {
			return results, err
		}
		result := out.result
		results = append(results, result)

		for _, obs := range o.observers {
			if err := obs.RoundCompleted(ctx, result, out.entry.Clone()); err != nil {
				return results, eris.Wrapf(err, "optimizer: observe round %d", round)
			}
		}

		if result.Accuracy >= 1.0 {
			zap.L().Info("optimizer: perfect accuracy, stopping early", zap.Int("round", round))
			break
		}

		if round < o.cfg.MaxRounds && out.failures > 0 {
			next, err := o.refine(ctx, prompt)
			if err != nil {
				return results, err
			}
			prompt = next
		}
	}

	return results, nil
}

func (o *Optimizer) seed(ctx context.Context, sample model.Sample) (string, error) {
	ctx, span := o.tracer.Start(ctx, "optimizer.seed")
	defer span.End()

	gen, err := o.mutator.Seed(ctx, sample.SourceText, sample.GroundTruth, o.hints.Snapshot())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", eris.Wrap(err, "optimizer: seed prompt")
	}
	o.hints.Merge(gen.FieldDescriptions)

	zap.L().Info("optimizer: seeded initial prompt",
		zap.Int("prompt_len", len(gen.Prompt)),
		zap.Int("hints", o.hints.Len()),
	)
	return gen.Prompt, nil
}

// roundOutcome is what one round produces. failures counts every incorrect
// sample, before any cap on what the history keeps.
type roundOutcome struct {
	result   model.OptimizationResult
	entry    model.IterationHistory
	failures int
}

func (o *Optimizer) round(ctx context.Context, round int, prompt string, texts []string, truths []model.Record) (roundOutcome, error) {
	ctx, span := o.tracer.Start(ctx, "optimizer.round", trace.WithAttributes(attribute.Int("round", round)))
	defer span.End()

	start := time.Now()
	o.invoker.SetFieldHints(o.hints.Snapshot())

	predictions, err := o.predict(ctx, round, prompt, texts)
	if err != nil {
		span.RecordError(err)
		return roundOutcome{}, err
	}

	accuracy, evals, err := o.evaluator.EvaluateBatch(predictions, truths)
	if err != nil {
		span.RecordError(err)
		return roundOutcome{}, eris.Wrapf(err, "optimizer: evaluate round %d", round)
	}

	correct := evaluate.CountCorrect(evals)
	failed := evaluate.CollectFailedPredictions(evals, texts)
	failures := len(failed)
	if o.cfg.MaxFailures > 0 && len(failed) > o.cfg.MaxFailures {
		failed = failed[:o.cfg.MaxFailures]
	}

	entry := model.IterationHistory{
		Iteration:         round,
		Prompt:            prompt,
		PromptAccuracy:    accuracy * 100,
		FailedPredictions: failed,
		ErrorSummary:      evaluate.ErrorSummary(evals),
		FieldDescriptions: o.hints.Snapshot(),
	}
	if err := o.ledger.Append(entry); err != nil {
		return roundOutcome{}, err
	}

	result := model.OptimizationResult{
		Iteration:         round,
		Prompt:            prompt,
		Accuracy:          accuracy,
		TotalSamples:      len(truths),
		CorrectSamples:    correct,
		FieldDescriptions: o.hints.Snapshot(),
	}

	span.SetAttributes(
		attribute.Float64("accuracy", accuracy),
		attribute.Int("correct", correct),
		attribute.Int("failed", failures),
	)
	zap.L().Info("optimizer: round complete",
		zap.Int("round", round),
		zap.Float64("accuracy", accuracy),
		zap.Int("correct", correct),
		zap.Int("total", len(truths)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return roundOutcome{result: result, entry: entry, failures: failures}, nil
}

// predict runs the invoker over every text. Results are placed by index so
// their order matches the input regardless of concurrency. A failed call
// yields an empty record.
func (o *Optimizer) predict(ctx context.Context, round int, prompt string, texts []string) ([]model.Record, error) {
	predictions := make([]model.Record, len(texts))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)

	for i, text := range texts {
		g.Go(func() error {
			rec, err := o.invoker.Process(gCtx, prompt, text)
			if err != nil {
				zap.L().Warn("optimizer: extraction failed, using empty record",
					zap.Int("round", round),
					zap.Int("sample", i),
					zap.Error(err),
				)
				rec = model.Record{}
			}
			if rec == nil {
				rec = model.Record{}
			}
			predictions[i] = rec
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrapf(err, "optimizer: round %d", round)
	}
	return predictions, nil
}

func (o *Optimizer) refine(ctx context.Context, current string) (string, error) {
	window := o.ledger.Window(o.cfg.WindowSize)

	ctx, span := o.tracer.Start(ctx, "optimizer.refine", trace.WithAttributes(
		attribute.Int("window", len(window)),
	))
	defer span.End()

	gen, err := o.mutator.Refine(ctx, window, current, o.hints.Snapshot())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", eris.Wrap(err, "optimizer: refine prompt")
	}
	o.hints.Merge(gen.FieldDescriptions)

	keys := make([]string, 0, len(gen.FieldDescriptions))
	for k := range gen.FieldDescriptions {
		keys = append(keys, k)
	}
	zap.L().Info("optimizer: refined prompt",
		zap.Int("window", len(window)),
		zap.Int("prompt_len", len(gen.Prompt)),
		zap.Strings("hint_keys", keys),
	)
	return gen.Prompt, nil
}

// History returns the rounds recorded by the most recent run.
func (o *Optimizer) History() []model.IterationHistory {
	return o.ledger.Entries()
}

// FieldHints returns the field descriptions accumulated by the most recent
// run.
func (o *Optimizer) FieldHints() map[string]string {
	return o.hints.Snapshot()
}
