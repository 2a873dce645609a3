package llm

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/prompt-optimizer/internal/cost"
	"github.com/sells-group/prompt-optimizer/internal/model"
)

// UsageTracker accumulates token usage and cost per model. It is safe for
// concurrent use.
type UsageTracker struct {
	calc *cost.Calculator

	mu      sync.Mutex
	byModel map[string]model.TokenUsage
}

// NewUsageTracker returns a tracker that prices calls with calc. A nil calc
// records tokens without cost.
func NewUsageTracker(calc *cost.Calculator) *UsageTracker {
	return &UsageTracker{
		calc:    calc,
		byModel: make(map[string]model.TokenUsage),
	}
}

// Record adds one call's usage.
func (t *UsageTracker) Record(modelID string, u Usage) {
	var usd float64
	if t.calc != nil {
		usd = t.calc.Cost(modelID, cost.Usage{
			Input:      u.InputTokens,
			Output:     u.OutputTokens,
			CacheWrite: u.CacheWriteTokens,
			CacheRead:  u.CacheReadTokens,
		})
	}

	zap.L().Debug("llm: cost attribution",
		zap.String("model", modelID),
		zap.Int("input_tokens", u.InputTokens),
		zap.Int("output_tokens", u.OutputTokens),
		zap.Int("cache_write_tokens", u.CacheWriteTokens),
		zap.Int("cache_read_tokens", u.CacheReadTokens),
		zap.Float64("estimated_cost_usd", usd),
	)

	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.byModel[modelID]
	cur.Add(model.TokenUsage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		Calls:        1,
		Cost:         usd,
	})
	t.byModel[modelID] = cur
}

// Snapshot returns usage per model.
func (t *UsageTracker) Snapshot() map[string]model.TokenUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]model.TokenUsage, len(t.byModel))
	for k, v := range t.byModel {
		out[k] = v
	}
	return out
}

// Total returns usage summed over all models.
func (t *UsageTracker) Total() model.TokenUsage {
	var total model.TokenUsage
	for _, u := range t.Snapshot() {
		total.Add(u)
	}
	return total
}

// Log writes one line per model and a total.
func (t *UsageTracker) Log() {
	snap := t.Snapshot()
	models := make([]string, 0, len(snap))
	for m := range snap {
		models = append(models, m)
	}
	sort.Strings(models)

	for _, m := range models {
		u := snap[m]
		zap.L().Info("llm: usage",
			zap.String("model", m),
			zap.Int("calls", u.Calls),
			zap.Int("input_tokens", u.InputTokens),
			zap.Int("output_tokens", u.OutputTokens),
			zap.Float64("cost_usd", u.Cost),
		)
	}
	total := t.Total()
	zap.L().Info("llm: usage total",
		zap.Int("calls", total.Calls),
		zap.Int("input_tokens", total.InputTokens),
		zap.Int("output_tokens", total.OutputTokens),
		zap.Float64("cost_usd", total.Cost),
	)
}
