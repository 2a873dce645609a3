package model

import "time"

// RunStatus represents the current state of an optimization run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunSpec describes the inputs an optimization run was started with.
type RunSpec struct {
	Dataset       string `json:"dataset"`
	Samples       int    `json:"samples"`
	InitialPrompt string `json:"initial_prompt,omitempty"`
	MaxRounds     int    `json:"max_rounds"`
	WindowSize    int    `json:"window_size"`
	AgentModel    string `json:"agent_model"`
	MentorModel   string `json:"mentor_model"`
}

// RunSummary holds the final outcome of a run.
type RunSummary struct {
	Iterations    int        `json:"iterations"`
	BestAccuracy  float64    `json:"best_accuracy"`
	BestIteration int        `json:"best_iteration"`
	FinalAccuracy float64    `json:"final_accuracy"`
	BestPrompt    string     `json:"best_prompt"`
	TokenUsage    TokenUsage `json:"token_usage"`
}

// Run represents a single optimization run.
type Run struct {
	ID        string      `json:"id"`
	Spec      RunSpec     `json:"spec"`
	Status    RunStatus   `json:"status"`
	Summary   *RunSummary `json:"summary,omitempty"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// IterationRecord is a persisted round: the public result plus the
// feedback that was recorded for it.
type IterationRecord struct {
	ID                string             `json:"id"`
	RunID             string             `json:"run_id"`
	Result            OptimizationResult `json:"result"`
	ErrorSummary      map[string]int     `json:"error_summary,omitempty"`
	FailedPredictions []FailedPrediction `json:"failed_predictions,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Calls        int     `json:"calls"`
	Cost         float64 `json:"cost"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.Calls += other.Calls
	t.Cost += other.Cost
}
