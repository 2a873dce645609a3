package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prompt-optimizer/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	spec       JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	summary    JSONB,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS iterations (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id             TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	iteration          INTEGER NOT NULL,
	prompt             TEXT NOT NULL,
	accuracy           DOUBLE PRECISION NOT NULL,
	total_samples      INTEGER NOT NULL,
	correct_samples    INTEGER NOT NULL,
	field_descriptions JSONB NOT NULL DEFAULT '{}',
	error_summary      JSONB NOT NULL DEFAULT '{}',
	failed_predictions JSONB NOT NULL DEFAULT '[]',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (run_id, iteration)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_iterations_run_id ON iterations(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, spec model.RunSpec) (*model.Run, error) {
	r := &model.Run{
		Spec:   spec,
		Status: model.RunStatusRunning,
	}
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt

	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal spec")
	}

	r.ID = newID()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, spec, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		r.ID, specJSON, string(model.RunStatusRunning), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return r, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, summary model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET summary = $1, status = $2, updated_at = $3 WHERE id = $4`,
		summaryJSON, string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET error = $1, status = $2, updated_at = $3 WHERE id = $4`,
		message, string(model.RunStatusFailed), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, spec, status, summary, error, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, spec, status, summary, error, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list runs")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) RecordIteration(ctx context.Context, runID string, result model.OptimizationResult, entry model.IterationHistory) (*model.IterationRecord, error) {
	rec := newIterationRecord(runID, result, entry)
	cols, err := marshalIteration(rec)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal iteration")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `UPDATE runs SET updated_at = $1 WHERE id = $2`, rec.CreatedAt, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: touch run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO iterations (id, run_id, iteration, prompt, accuracy, total_samples, correct_samples,
			field_descriptions, error_summary, failed_predictions, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, runID, result.Iteration, result.Prompt, result.Accuracy, result.TotalSamples, result.CorrectSamples,
		cols.hints, cols.summary, cols.failures, rec.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert iteration %d", result.Iteration)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit")
	}
	return rec, nil
}

func (s *PostgresStore) ListIterations(ctx context.Context, runID string) ([]model.IterationRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, iteration, prompt, accuracy, total_samples, correct_samples,
			field_descriptions, error_summary, failed_predictions, created_at
		 FROM iterations WHERE run_id = $1 ORDER BY iteration`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list iterations %s", runID)
	}
	defer rows.Close()

	var out []model.IterationRecord
	for rows.Next() {
		var rec model.IterationRecord
		var hints, summary, failures []byte
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Result.Iteration, &rec.Result.Prompt, &rec.Result.Accuracy,
			&rec.Result.TotalSamples, &rec.Result.CorrectSamples, &hints, &summary, &failures, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan iteration")
		}
		if err := unmarshalIteration(&rec, hints, summary, failures); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal iteration")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list iterations iterate")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var specJSON []byte
	var summaryJSON *[]byte

	if err := row.Scan(&r.ID, &specJSON, &r.Status, &summaryJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	var summary []byte
	if summaryJSON != nil {
		summary = *summaryJSON
	}
	if err := unmarshalRun(&r, specJSON, summary); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal run")
	}
	return &r, nil
}
