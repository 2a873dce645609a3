package model

// WrongValue is a field present in both records whose values disagree.
type WrongValue struct {
	Field     string `json:"field"`
	Predicted string `json:"predicted"`
	Truth     string `json:"truth"`
}

// EvaluationResult is the comparison of one prediction against its ground
// truth for a single round.
type EvaluationResult struct {
	IsCorrect     bool         `json:"is_correct"`
	Accuracy      float64      `json:"accuracy"`
	MissingFields []string     `json:"missing_fields"`
	ExtraFields   []string     `json:"extra_fields"`
	WrongValues   []WrongValue `json:"wrong_values"`
	Prediction    Record       `json:"prediction"`
	GroundTruth   Record       `json:"ground_truth"`
}

// FailedPrediction keeps the inputs of a sample that was not extracted
// correctly, for mentor feedback.
type FailedPrediction struct {
	SourceText  string `json:"source_text" yaml:"source_text"`
	GroundTruth Record `json:"ground_truth" yaml:"ground_truth"`
	Prediction  Record `json:"predict" yaml:"predict"`
}

// Clone returns a copy with its own records.
func (f FailedPrediction) Clone() FailedPrediction {
	return FailedPrediction{
		SourceText:  f.SourceText,
		GroundTruth: f.GroundTruth.Clone(),
		Prediction:  f.Prediction.Clone(),
	}
}
