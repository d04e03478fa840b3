package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/portfolio-performance/internal/models"
	"github.com/portfolio-performance/internal/types"
)

// DailyRecordRepository handles daily performance record storage. Currency
// views are stored as one JSONB document per record, so a correction can
// replace whole currency sub-objects atomically.
type DailyRecordRepository struct {
	pool *pgxpool.Pool
}

// NewDailyRecordRepository creates a new daily record repository
func NewDailyRecordRepository(pool *pgxpool.Pool) *DailyRecordRepository {
	return &DailyRecordRepository{
		pool: pool,
	}
}

// Upsert writes one record, replacing any existing (scope, date) row.
func (r *DailyRecordRepository) Upsert(ctx context.Context, record *models.DailyPerformanceRecord) error {
	currenciesJSON, err := json.Marshal(record.Currencies)
	if err != nil {
		return fmt.Errorf("failed to marshal currencies: %w", err)
	}

	query := `
		INSERT INTO daily_performance_records (
			scope_kind,
			scope_id,
			record_date,
			currencies,
			created_at,
			updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (scope_kind, scope_id, record_date)
		DO UPDATE SET
			currencies = EXCLUDED.currencies,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.pool.Exec(
		ctx,
		query,
		record.Scope.Kind,
		record.Scope.ID,
		record.Date,
		currenciesJSON,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert daily record: %w", err)
	}

	return nil
}

// GetLatestBefore returns the scope's most recent record strictly before
// date, or nil when none exists.
func (r *DailyRecordRepository) GetLatestBefore(ctx context.Context, scope types.EntityScope, date time.Time) (*models.DailyPerformanceRecord, error) {
	query := `
		SELECT scope_kind, scope_id, record_date, currencies, created_at, updated_at
		FROM daily_performance_records
		WHERE scope_kind = $1 AND scope_id = $2 AND record_date < $3
		ORDER BY record_date DESC
		LIMIT 1
	`

	row := r.pool.QueryRow(ctx, query, scope.Kind, scope.ID, date)

	record, err := scanDailyRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// ListByScope returns a scope's records in [from, to] in strict ascending
// date order.
func (r *DailyRecordRepository) ListByScope(ctx context.Context, scope types.EntityScope, from, to time.Time) ([]*models.DailyPerformanceRecord, error) {
	query := `
		SELECT scope_kind, scope_id, record_date, currencies, created_at, updated_at
		FROM daily_performance_records
		WHERE scope_kind = $1 AND scope_id = $2
			AND record_date >= $3
			AND record_date <= $4
		ORDER BY record_date ASC
	`

	rows, err := r.pool.Query(ctx, query, scope.Kind, scope.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily records: %w", err)
	}
	defer rows.Close()

	var records []*models.DailyPerformanceRecord
	for rows.Next() {
		record, err := scanDailyRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate daily records: %w", err)
	}

	return records, nil
}

// ReplaceCurrencies rewrites the currency documents of every record in one
// transaction. Either the whole batch lands or none of it does, so a crash
// mid-correction never leaves a scope half-repaired.
func (r *DailyRecordRepository) ReplaceCurrencies(ctx context.Context, records []*models.DailyPerformanceRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	query := `
		UPDATE daily_performance_records
		SET currencies = $4, updated_at = $5
		WHERE scope_kind = $1 AND scope_id = $2 AND record_date = $3
	`

	for _, record := range records {
		currenciesJSON, err := json.Marshal(record.Currencies)
		if err != nil {
			return fmt.Errorf("failed to marshal currencies: %w", err)
		}

		tag, err := tx.Exec(ctx, query,
			record.Scope.Kind,
			record.Scope.ID,
			record.Date,
			currenciesJSON,
			record.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to replace currencies: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("no row for %s on %s", record.Scope.Key(), types.DayKey(record.Date))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit correction batch: %w", err)
	}

	return nil
}

// scanDailyRecord scans one row into a record, deserializing the currency
// document.
func scanDailyRecord(row pgx.Row) (*models.DailyPerformanceRecord, error) {
	var record models.DailyPerformanceRecord
	var currenciesJSON []byte

	err := row.Scan(
		&record.Scope.Kind,
		&record.Scope.ID,
		&record.Date,
		&currenciesJSON,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan daily record row: %w", err)
	}

	if err := json.Unmarshal(currenciesJSON, &record.Currencies); err != nil {
		return nil, fmt.Errorf("failed to unmarshal currencies: %w", err)
	}

	return &record, nil
}
