package model

// IterationHistory is one completed round as recorded in the ledger.
// PromptAccuracy uses a 0-100 scale.
type IterationHistory struct {
	Iteration         int                `json:"iteration"`
	Prompt            string             `json:"prompt"`
	PromptAccuracy    float64            `json:"prompt_accuracy"`
	FailedPredictions []FailedPrediction `json:"failed_predictions"`
	ErrorSummary      map[string]int     `json:"error_summary,omitempty"`
	FieldDescriptions map[string]string  `json:"field_descriptions,omitempty"`
}

// OptimizationResult is the public outcome of one round. Accuracy uses a
// 0-1 scale.
type OptimizationResult struct {
	Iteration         int               `json:"iteration" yaml:"iteration"`
	Prompt            string            `json:"prompt" yaml:"prompt"`
	Accuracy          float64           `json:"accuracy" yaml:"accuracy"`
	TotalSamples      int               `json:"total_samples" yaml:"total_samples"`
	CorrectSamples    int               `json:"correct_samples" yaml:"correct_samples"`
	FieldDescriptions map[string]string `json:"field_descriptions" yaml:"field_descriptions"`
}

// GeneratedPrompt is what the mentor proposes: a prompt, hint updates and
// the reasoning behind them.
type GeneratedPrompt struct {
	Prompt            string            `json:"prompt"`
	FieldDescriptions map[string]string `json:"field_descriptions,omitempty"`
	Rationale         string            `json:"rationale,omitempty"`
}

// Clone returns a deep copy of the entry. Later changes to the copy never
// reach the original.
func (h IterationHistory) Clone() IterationHistory {
	out := h
	if h.FailedPredictions != nil {
		out.FailedPredictions = make([]FailedPrediction, len(h.FailedPredictions))
		for i, fp := range h.FailedPredictions {
			out.FailedPredictions[i] = fp.Clone()
		}
	}
	if h.ErrorSummary != nil {
		out.ErrorSummary = make(map[string]int, len(h.ErrorSummary))
		for k, v := range h.ErrorSummary {
			out.ErrorSummary[k] = v
		}
	}
	if h.FieldDescriptions != nil {
		out.FieldDescriptions = make(map[string]string, len(h.FieldDescriptions))
		for k, v := range h.FieldDescriptions {
			out.FieldDescriptions[k] = v
		}
	}
	return out
}
