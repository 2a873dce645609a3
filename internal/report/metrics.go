// Package report summarizes optimization results and writes them to disk.
package report

import (
	"fmt"
	"strings"

	"github.com/sells-group/prompt-optimizer/internal/model"
)

// Metrics aggregates the results of an optimization run.
type Metrics struct {
	TotalIterations int     `json:"total_iterations" yaml:"total_iterations"`
	BestAccuracy    float64 `json:"best_accuracy" yaml:"best_accuracy"`
	BestIteration   int     `json:"best_iteration" yaml:"best_iteration"`
	FinalAccuracy   float64 `json:"final_accuracy" yaml:"final_accuracy"`
	Improvement     float64 `json:"improvement" yaml:"improvement"`
	AverageAccuracy float64 `json:"average_accuracy" yaml:"average_accuracy"`
	FailedSamples   int     `json:"failed_samples" yaml:"failed_samples"`
}

// Summarize computes metrics over results. It returns false when results
// is empty. Ties for best accuracy go to the earliest iteration.
func Summarize(results []model.OptimizationResult) (Metrics, bool) {
	if len(results) == 0 {
		return Metrics{}, false
	}

	best := results[0]
	var sum float64
	var failed int
	for _, r := range results {
		if r.Accuracy > best.Accuracy {
			best = r
		}
		sum += r.Accuracy
		failed += r.TotalSamples - r.CorrectSamples
	}

	last := results[len(results)-1]
	return Metrics{
		TotalIterations: len(results),
		BestAccuracy:    best.Accuracy,
		BestIteration:   best.Iteration,
		FinalAccuracy:   last.Accuracy,
		Improvement:     last.Accuracy - results[0].Accuracy,
		AverageAccuracy: sum / float64(len(results)),
		FailedSamples:   failed,
	}, true
}

// BestPrompt returns the prompt of the first iteration with the highest
// accuracy.
func BestPrompt(results []model.OptimizationResult) (string, bool) {
	m, ok := Summarize(results)
	if !ok {
		return "", false
	}
	for _, r := range results {
		if r.Iteration == m.BestIteration {
			return r.Prompt, true
		}
	}
	return "", false
}

// FormatMetrics renders metrics as a text block for the terminal.
func FormatMetrics(m Metrics) string {
	var b strings.Builder
	b.WriteString("OPTIMIZATION METRICS\n")
	fmt.Fprintf(&b, "  Total iterations:      %d\n", m.TotalIterations)
	fmt.Fprintf(&b, "  Best accuracy:         %s (iteration %d)\n", percent(m.BestAccuracy), m.BestIteration)
	fmt.Fprintf(&b, "  Final accuracy:        %s\n", percent(m.FinalAccuracy))
	fmt.Fprintf(&b, "  Accuracy improvement:  %+.2f%%\n", m.Improvement*100)
	fmt.Fprintf(&b, "  Average accuracy:      %s\n", percent(m.AverageAccuracy))
	fmt.Fprintf(&b, "  Failed samples:        %d\n", m.FailedSamples)
	return b.String()
}

const barWidth = 40

// FormatProgression renders one bar per iteration, scaled to accuracy.
func FormatProgression(results []model.OptimizationResult) string {
	var b strings.Builder
	for _, r := range results {
		filled := int(r.Accuracy*barWidth + 0.5)
		filled = max(0, min(barWidth, filled))
		fmt.Fprintf(&b, "  Iter %2d: %s%s %s\n",
			r.Iteration,
			strings.Repeat("#", filled),
			strings.Repeat(".", barWidth-filled),
			percent(r.Accuracy),
		)
	}
	return b.String()
}

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}
