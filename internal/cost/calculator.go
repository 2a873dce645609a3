// Package cost prices model token usage.
package cost

// Rates holds per-model pricing keyed by model ID.
type Rates struct {
	Models map[string]ModelRate `yaml:"models" mapstructure:"models"`
}

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Usage is the token count of a single call.
type Usage struct {
	Input      int
	Output     int
	CacheWrite int
	CacheRead  int
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Known reports whether the calculator has a price for model.
func (c *Calculator) Known(model string) bool {
	_, ok := c.rates.Models[model]
	return ok
}

// Cost returns the USD cost of u for model, or 0 for unknown models.
func (c *Calculator) Cost(model string, u Usage) float64 {
	rate, ok := c.rates.Models[model]
	if !ok {
		return 0
	}

	inCost := (float64(u.Input) / 1e6) * rate.Input
	outCost := (float64(u.Output) / 1e6) * rate.Output
	cwCost := (float64(u.CacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(u.CacheRead) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// DefaultRates returns the default pricing for the models the optimizer
// ships configured with.
func DefaultRates() Rates {
	return Rates{
		Models: map[string]ModelRate{
			"openai/gpt-5-nano":  {Input: 0.05, Output: 0.40},
			"openai/gpt-5-mini":  {Input: 0.25, Output: 2.00},
			"openai/gpt-5":       {Input: 1.25, Output: 10.00},
			"openai/gpt-4o-mini": {Input: 0.15, Output: 0.60},
			"claude-haiku-4-5-20251001": {
				Input: 1.00, Output: 5.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
	}
}

// Merge returns rates with overrides applied per model.
func (r Rates) Merge(overrides map[string]ModelRate) Rates {
	out := Rates{Models: make(map[string]ModelRate, len(r.Models)+len(overrides))}
	for k, v := range r.Models {
		out.Models[k] = v
	}
	for k, v := range overrides {
		out.Models[k] = v
	}
	return out
}
