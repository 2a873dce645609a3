package evaluate

import (
	"fmt"

	"github.com/sells-group/prompt-optimizer/internal/model"
)

// LengthMismatchError is returned when a batch has a different number of
// predictions and ground truths.
type LengthMismatchError struct {
	Predictions int
	Truths      int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("evaluate: %d predictions for %d ground truths", e.Predictions, e.Truths)
}

// Evaluator scores batches with a fixed comparison mode.
type Evaluator struct {
	CaseSensitive bool
}

// Compare scores a single pair using the evaluator's comparison mode.
func (e Evaluator) Compare(prediction, truth model.Record) model.EvaluationResult {
	return Compare(prediction, truth, e.CaseSensitive)
}

// EvaluateBatch compares predictions to truths pairwise and returns the mean
// per-sample accuracy (0 for an empty batch) with the individual results in
// input order.
func (e Evaluator) EvaluateBatch(predictions, truths []model.Record) (float64, []model.EvaluationResult, error) {
	if len(predictions) != len(truths) {
		return 0, nil, &LengthMismatchError{Predictions: len(predictions), Truths: len(truths)}
	}

	results := make([]model.EvaluationResult, len(truths))
	var sum float64
	for i := range truths {
		results[i] = Compare(predictions[i], truths[i], e.CaseSensitive)
		sum += results[i].Accuracy
	}
	if len(results) == 0 {
		return 0, results, nil
	}
	return sum / float64(len(results)), results, nil
}

// CountCorrect returns the number of results that matched exactly.
func CountCorrect(results []model.EvaluationResult) int {
	n := 0
	for _, r := range results {
		if r.IsCorrect {
			n++
		}
	}
	return n
}

// CollectFailedPredictions returns the incorrect samples in input order.
// sourceTexts is indexed like results; missing entries yield empty text.
func CollectFailedPredictions(results []model.EvaluationResult, sourceTexts []string) []model.FailedPrediction {
	var failed []model.FailedPrediction
	for i, r := range results {
		if r.IsCorrect {
			continue
		}
		var text string
		if i < len(sourceTexts) {
			text = sourceTexts[i]
		}
		failed = append(failed, model.FailedPrediction{
			SourceText:  text,
			GroundTruth: r.GroundTruth,
			Prediction:  r.Prediction,
		})
	}
	return failed
}

// ErrorSummary counts MISSING_<field>, EXTRA_<field> and WRONG_<field>
// occurrences across the batch.
func ErrorSummary(results []model.EvaluationResult) map[string]int {
	summary := make(map[string]int)
	for _, r := range results {
		for _, f := range r.MissingFields {
			summary["MISSING_"+f]++
		}
		for _, f := range r.ExtraFields {
			summary["EXTRA_"+f]++
		}
		for _, w := range r.WrongValues {
			summary["WRONG_"+w.Field]++
		}
	}
	return summary
}
