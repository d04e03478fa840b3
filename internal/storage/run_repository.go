package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/portfolio-performance/internal/models"
)

// RunRepository records engine run bookkeeping. Runs exist for operators:
// the ops API reads them and a failed run names what aborted it.
type RunRepository struct {
	pool *pgxpool.Pool
}

// NewRunRepository creates a new run repository
func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{
		pool: pool,
	}
}

// Create inserts a new run row in in_progress state.
func (r *RunRepository) Create(ctx context.Context, run *models.EngineRun) error {
	query := `
		INSERT INTO engine_runs (
			id, kind, mode, status, started_at,
			scopes_total, records_written, corrected, unchanged, skipped, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Kind,
		run.Mode,
		run.Status,
		run.StartedAt,
		run.ScopesTotal,
		run.RecordsWritten,
		run.Corrected,
		run.Unchanged,
		run.Skipped,
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert engine run: %w", err)
	}
	return nil
}

// Finish updates a run with its terminal state and counters.
func (r *RunRepository) Finish(ctx context.Context, run *models.EngineRun) error {
	query := `
		UPDATE engine_runs
		SET status = $2, finished_at = $3,
			scopes_total = $4, records_written = $5,
			corrected = $6, unchanged = $7, skipped = $8, error = $9
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		run.FinishedAt,
		run.ScopesTotal,
		run.RecordsWritten,
		run.Corrected,
		run.Unchanged,
		run.Skipped,
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to update engine run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no run with id %s", run.ID)
	}
	return nil
}

// Latest returns the most recent run of one kind, or nil when none exists.
func (r *RunRepository) Latest(ctx context.Context, kind string) (*models.EngineRun, error) {
	query := `
		SELECT id, kind, mode, status, started_at, finished_at,
			scopes_total, records_written, corrected, unchanged, skipped, error
		FROM engine_runs
		WHERE kind = $1
		ORDER BY started_at DESC
		LIMIT 1
	`

	run, err := scanRun(r.pool.QueryRow(ctx, query, kind))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return run, nil
}

// List returns the most recent runs across all kinds, newest first.
func (r *RunRepository) List(ctx context.Context, limit int) ([]*models.EngineRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, kind, mode, status, started_at, finished_at,
			scopes_total, records_written, corrected, unchanged, skipped, error
		FROM engine_runs
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query engine runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.EngineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate engine runs: %w", err)
	}

	return runs, nil
}

// scanRun scans one engine run row.
func scanRun(row pgx.Row) (*models.EngineRun, error) {
	var run models.EngineRun

	err := row.Scan(
		&run.ID,
		&run.Kind,
		&run.Mode,
		&run.Status,
		&run.StartedAt,
		&run.FinishedAt,
		&run.ScopesTotal,
		&run.RecordsWritten,
		&run.Corrected,
		&run.Unchanged,
		&run.Skipped,
		&run.Error,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan engine run row: %w", err)
	}

	return &run, nil
}
