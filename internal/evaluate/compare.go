// Package evaluate scores predicted records against ground truth.
package evaluate

import (
	"sort"
	"strings"

	"github.com/sells-group/prompt-optimizer/internal/model"
)

// Compare scores one prediction against its ground truth field by field.
//
// Accuracy is the number of shared fields with matching values divided by
// the number of ground-truth fields. A shared field with a different value
// is listed in WrongValues and does not count toward the numerator. Extra
// fields make the result incorrect but do not lower accuracy. An empty
// ground truth scores 1.0 only when the prediction is empty too.
func Compare(prediction, truth model.Record, caseSensitive bool) model.EvaluationResult {
	res := model.EvaluationResult{
		MissingFields: []string{},
		ExtraFields:   []string{},
		WrongValues:   []model.WrongValue{},
		Prediction:    prediction,
		GroundTruth:   truth,
	}

	var shared []string
	for field := range truth {
		if _, ok := prediction[field]; ok {
			shared = append(shared, field)
		} else {
			res.MissingFields = append(res.MissingFields, field)
		}
	}
	for field := range prediction {
		if _, ok := truth[field]; !ok {
			res.ExtraFields = append(res.ExtraFields, field)
		}
	}
	sort.Strings(shared)
	sort.Strings(res.MissingFields)
	sort.Strings(res.ExtraFields)

	for _, field := range shared {
		predicted, expected := prediction[field], truth[field]
		a, b := predicted, expected
		if !caseSensitive {
			a, b = strings.ToLower(a), strings.ToLower(b)
		}
		if a != b {
			res.WrongValues = append(res.WrongValues, model.WrongValue{
				Field:     field,
				Predicted: predicted,
				Truth:     expected,
			})
		}
	}

	switch {
	case len(truth) == 0 && len(prediction) == 0:
		res.Accuracy = 1.0
	case len(truth) == 0:
		res.Accuracy = 0.0
	default:
		correct := len(shared) - len(res.WrongValues)
		if correct < 0 {
			correct = 0
		}
		res.Accuracy = float64(correct) / float64(len(truth))
	}

	res.IsCorrect = len(res.MissingFields) == 0 &&
		len(res.ExtraFields) == 0 &&
		len(res.WrongValues) == 0
	return res
}
