package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/portfolio-performance/internal/rates"
	"github.com/portfolio-performance/internal/types"
)

// RateRepository answers exact-date exchange-rate lookups from the
// exchange_rates table. Fallback to earlier dates is the converter's job;
// this layer reports a missing date as rates.ErrRateNotFound.
type RateRepository struct {
	pool *pgxpool.Pool
}

// NewRateRepository creates a new rate repository
func NewRateRepository(pool *pgxpool.Pool) *RateRepository {
	return &RateRepository{
		pool: pool,
	}
}

// RateOn returns the rate converting one reference-currency unit into the
// given currency on the exact date.
func (r *RateRepository) RateOn(ctx context.Context, currency types.Currency, date time.Time) (float64, error) {
	query := `
		SELECT rate
		FROM exchange_rates
		WHERE currency = $1 AND rate_date = $2
	`

	var value float64
	err := r.pool.QueryRow(ctx, query, currency, date).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, rates.ErrRateNotFound
		}
		return 0, fmt.Errorf("failed to query exchange rate: %w", err)
	}

	return value, nil
}

// Upsert stores one rate observation. Used by the rate ingestion job and by
// tests seeding fixtures.
func (r *RateRepository) Upsert(ctx context.Context, currency types.Currency, date time.Time, value float64) error {
	query := `
		INSERT INTO exchange_rates (currency, rate_date, rate, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (currency, rate_date)
		DO UPDATE SET rate = EXCLUDED.rate, updated_at = NOW()
	`

	_, err := r.pool.Exec(ctx, query, currency, date, value)
	if err != nil {
		return fmt.Errorf("failed to upsert exchange rate: %w", err)
	}
	return nil
}
