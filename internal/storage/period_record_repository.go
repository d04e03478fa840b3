package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/portfolio-performance/internal/models"
	"github.com/portfolio-performance/internal/types"
)

// PeriodRecordRepository handles consolidated monthly and yearly records.
// These rows are derived caches of the daily records; deleting them is
// always safe because regeneration reproduces them exactly.
type PeriodRecordRepository struct {
	pool *pgxpool.Pool
}

// NewPeriodRecordRepository creates a new period record repository
func NewPeriodRecordRepository(pool *pgxpool.Pool) *PeriodRecordRepository {
	return &PeriodRecordRepository{
		pool: pool,
	}
}

// Upsert writes one consolidated record, replacing any existing row for the
// same (scope, periodType, periodKey).
func (r *PeriodRecordRepository) Upsert(ctx context.Context, record *models.ConsolidatedPeriodRecord) error {
	currenciesJSON, err := json.Marshal(record.Currencies)
	if err != nil {
		return fmt.Errorf("failed to marshal currencies: %w", err)
	}

	query := `
		INSERT INTO consolidated_period_records (
			scope_kind,
			scope_id,
			period_type,
			period_key,
			currencies,
			created_at,
			updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (scope_kind, scope_id, period_type, period_key)
		DO UPDATE SET
			currencies = EXCLUDED.currencies,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.pool.Exec(
		ctx,
		query,
		record.Scope.Kind,
		record.Scope.ID,
		record.PeriodType,
		record.PeriodKey,
		currenciesJSON,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert period record: %w", err)
	}

	return nil
}

// Get returns one consolidated record, or nil when absent.
func (r *PeriodRecordRepository) Get(ctx context.Context, scope types.EntityScope, periodType types.PeriodType, periodKey string) (*models.ConsolidatedPeriodRecord, error) {
	query := `
		SELECT scope_kind, scope_id, period_type, period_key, currencies, created_at, updated_at
		FROM consolidated_period_records
		WHERE scope_kind = $1 AND scope_id = $2 AND period_type = $3 AND period_key = $4
	`

	row := r.pool.QueryRow(ctx, query, scope.Kind, scope.ID, periodType, periodKey)

	record, err := scanPeriodRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// ListMonths returns a scope's monthly records for one year in ascending
// period-key order.
func (r *PeriodRecordRepository) ListMonths(ctx context.Context, scope types.EntityScope, yearKey string) ([]*models.ConsolidatedPeriodRecord, error) {
	query := `
		SELECT scope_kind, scope_id, period_type, period_key, currencies, created_at, updated_at
		FROM consolidated_period_records
		WHERE scope_kind = $1 AND scope_id = $2
			AND period_type = $3
			AND period_key LIKE $4
		ORDER BY period_key ASC
	`

	rows, err := r.pool.Query(ctx, query, scope.Kind, scope.ID, types.PeriodMonth, yearKey+"-%")
	if err != nil {
		return nil, fmt.Errorf("failed to query monthly records: %w", err)
	}
	defer rows.Close()

	var records []*models.ConsolidatedPeriodRecord
	for rows.Next() {
		record, err := scanPeriodRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate monthly records: %w", err)
	}

	return records, nil
}

// LatestMonthBefore returns the scope's most recent monthly record with a
// period key strictly before monthKey, or nil. Its end factors seed the next
// month's chained factors.
func (r *PeriodRecordRepository) LatestMonthBefore(ctx context.Context, scope types.EntityScope, monthKey string) (*models.ConsolidatedPeriodRecord, error) {
	query := `
		SELECT scope_kind, scope_id, period_type, period_key, currencies, created_at, updated_at
		FROM consolidated_period_records
		WHERE scope_kind = $1 AND scope_id = $2
			AND period_type = $3
			AND period_key < $4
		ORDER BY period_key DESC
		LIMIT 1
	`

	row := r.pool.QueryRow(ctx, query, scope.Kind, scope.ID, types.PeriodMonth, monthKey)

	record, err := scanPeriodRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// DeleteByScopeYear removes a scope's monthly and yearly records for one
// year ahead of regeneration.
func (r *PeriodRecordRepository) DeleteByScopeYear(ctx context.Context, scope types.EntityScope, yearKey string) error {
	query := `
		DELETE FROM consolidated_period_records
		WHERE scope_kind = $1 AND scope_id = $2
			AND (period_key = $3 OR period_key LIKE $4)
	`

	_, err := r.pool.Exec(ctx, query, scope.Kind, scope.ID, yearKey, yearKey+"-%")
	if err != nil {
		return fmt.Errorf("failed to delete period records: %w", err)
	}
	return nil
}

// scanPeriodRecord scans one row into a consolidated record.
func scanPeriodRecord(row pgx.Row) (*models.ConsolidatedPeriodRecord, error) {
	var record models.ConsolidatedPeriodRecord
	var currenciesJSON []byte

	err := row.Scan(
		&record.Scope.Kind,
		&record.Scope.ID,
		&record.PeriodType,
		&record.PeriodKey,
		&currenciesJSON,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan period record row: %w", err)
	}

	if err := json.Unmarshal(currenciesJSON, &record.Currencies); err != nil {
		return nil, fmt.Errorf("failed to unmarshal currencies: %w", err)
	}

	return &record, nil
}
