package store

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prompt-optimizer/internal/model"
)

// Recorder persists each completed round of a run as it is emitted by the
// optimizer.
type Recorder struct {
	Store Store
	RunID string
}

// RoundCompleted stores the round's result and ledger entry.
func (r *Recorder) RoundCompleted(ctx context.Context, result model.OptimizationResult, entry model.IterationHistory) error {
	rec, err := r.Store.RecordIteration(ctx, r.RunID, result, entry)
	if err != nil {
		return eris.Wrapf(err, "store: record iteration %d", result.Iteration)
	}
	zap.L().Debug("store: iteration recorded",
		zap.String("run_id", r.RunID),
		zap.String("iteration_id", rec.ID),
		zap.Int("iteration", result.Iteration),
	)
	return nil
}
