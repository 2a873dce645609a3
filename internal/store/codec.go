package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prompt-optimizer/internal/model"
)

// iterationColumns holds the JSON-encoded columns of an iteration row.
type iterationColumns struct {
	hints    []byte
	summary  []byte
	failures []byte
}

func newID() string {
	return uuid.New().String()
}

func newIterationRecord(runID string, result model.OptimizationResult, entry model.IterationHistory) *model.IterationRecord {
	return &model.IterationRecord{
		ID:                newID(),
		RunID:             runID,
		Result:            result,
		ErrorSummary:      entry.ErrorSummary,
		FailedPredictions: entry.FailedPredictions,
		CreatedAt:         time.Now().UTC(),
	}
}

func marshalIteration(rec *model.IterationRecord) (iterationColumns, error) {
	var cols iterationColumns
	var err error

	hints := rec.Result.FieldDescriptions
	if hints == nil {
		hints = map[string]string{}
	}
	if cols.hints, err = json.Marshal(hints); err != nil {
		return cols, eris.Wrap(err, "field descriptions")
	}

	summary := rec.ErrorSummary
	if summary == nil {
		summary = map[string]int{}
	}
	if cols.summary, err = json.Marshal(summary); err != nil {
		return cols, eris.Wrap(err, "error summary")
	}

	failures := rec.FailedPredictions
	if failures == nil {
		failures = []model.FailedPrediction{}
	}
	if cols.failures, err = json.Marshal(failures); err != nil {
		return cols, eris.Wrap(err, "failed predictions")
	}
	return cols, nil
}

func unmarshalIteration(rec *model.IterationRecord, hints, summary, failures []byte) error {
	if err := json.Unmarshal(hints, &rec.Result.FieldDescriptions); err != nil {
		return eris.Wrap(err, "field descriptions")
	}
	if err := json.Unmarshal(summary, &rec.ErrorSummary); err != nil {
		return eris.Wrap(err, "error summary")
	}
	if err := json.Unmarshal(failures, &rec.FailedPredictions); err != nil {
		return eris.Wrap(err, "failed predictions")
	}
	return nil
}

func unmarshalRun(r *model.Run, spec, summary []byte) error {
	if err := json.Unmarshal(spec, &r.Spec); err != nil {
		return eris.Wrap(err, "spec")
	}
	if summary != nil {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal(summary, r.Summary); err != nil {
			return eris.Wrap(err, "summary")
		}
	}
	return nil
}
