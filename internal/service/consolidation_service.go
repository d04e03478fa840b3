package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/portfolio-performance/internal/errors"
	"github.com/portfolio-performance/internal/logging"
	"github.com/portfolio-performance/internal/models"
	"github.com/portfolio-performance/internal/types"
)

// PeriodRecordStore persists consolidated monthly and yearly records.
type PeriodRecordStore interface {
	Upsert(ctx context.Context, record *models.ConsolidatedPeriodRecord) error
	// ListMonths returns a scope's monthly records for one year in ascending
	// period-key order.
	ListMonths(ctx context.Context, scope types.EntityScope, yearKey string) ([]*models.ConsolidatedPeriodRecord, error)
	// LatestMonthBefore returns the most recent monthly record strictly
	// before monthKey, or nil.
	LatestMonthBefore(ctx context.Context, scope types.EntityScope, monthKey string) (*models.ConsolidatedPeriodRecord, error)
	// DeleteByScopeYear removes one year's monthly and yearly records.
	DeleteByScopeYear(ctx context.Context, scope types.EntityScope, yearKey string) error
}

// ScopeLister discovers the entity scopes with data in a date range.
type ScopeLister interface {
	Scopes(ctx context.Context, from, to time.Time) ([]types.EntityScope, error)
}

// ConsolidationService drives period consolidation: it loads daily records,
// seeds each month from its predecessor's factor checkpoint, and persists
// the rollups. Consolidated records are derived caches, so every operation
// here can be re-run freely.
type ConsolidationService struct {
	daily        DailyRecordStore
	periods      PeriodRecordStore
	scopes       ScopeLister
	cache        AggregateInvalidator
	consolidator *PeriodConsolidator
	maxParallel  int
}

// NewConsolidationService creates a new consolidation service. cache may be
// nil when no downstream aggregates exist.
func NewConsolidationService(
	daily DailyRecordStore,
	periods PeriodRecordStore,
	scopes ScopeLister,
	cache AggregateInvalidator,
	maxParallel int,
) *ConsolidationService {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &ConsolidationService{
		daily:        daily,
		periods:      periods,
		scopes:       scopes,
		cache:        cache,
		consolidator: NewPeriodConsolidator(),
		maxParallel:  maxParallel,
	}
}

// ConsolidateMonth rebuilds one scope's monthly record. The previous month's
// end factors seed the chained factors; with no predecessor the chain starts
// at 1.0. A month with zero valid days writes nothing.
func (s *ConsolidationService) ConsolidateMonth(ctx context.Context, scope types.EntityScope, monthKey string) (*models.ConsolidatedPeriodRecord, error) {
	from, to, err := monthBounds(monthKey)
	if err != nil {
		return nil, errors.NewValidationError("monthKey", err.Error())
	}

	days, err := s.daily.ListByScope(ctx, scope, from, to)
	if err != nil {
		return nil, errors.NewStoreError("list daily records", err)
	}

	seeds, err := s.monthSeeds(ctx, scope, monthKey)
	if err != nil {
		return nil, err
	}

	record := s.consolidator.ConsolidateMonth(scope, monthKey, days, seeds)
	if record == nil {
		return nil, nil
	}

	if err := s.periods.Upsert(ctx, record); err != nil {
		return nil, errors.NewStoreError("upsert monthly record", err)
	}

	return record, nil
}

// monthSeeds loads the previous month's end factors per currency.
func (s *ConsolidationService) monthSeeds(ctx context.Context, scope types.EntityScope, monthKey string) (map[types.Currency]float64, error) {
	previous, err := s.periods.LatestMonthBefore(ctx, scope, monthKey)
	if err != nil {
		return nil, errors.NewStoreError("load previous monthly record", err)
	}
	if previous == nil {
		return nil, nil
	}

	seeds := make(map[types.Currency]float64, len(previous.Currencies))
	for currency, view := range previous.Currencies {
		seeds[currency] = view.EndFactor
	}
	return seeds, nil
}

// ConsolidateYear rebuilds one scope's yearly record from its stored monthly
// records. Daily data is never revisited.
func (s *ConsolidationService) ConsolidateYear(ctx context.Context, scope types.EntityScope, yearKey string) (*models.ConsolidatedPeriodRecord, error) {
	months, err := s.periods.ListMonths(ctx, scope, yearKey)
	if err != nil {
		return nil, errors.NewStoreError("list monthly records", err)
	}

	record := s.consolidator.ConsolidateYear(scope, yearKey, months)
	if record == nil {
		return nil, nil
	}

	if err := s.periods.Upsert(ctx, record); err != nil {
		return nil, errors.NewStoreError("upsert yearly record", err)
	}

	return record, nil
}

// RegenerateYear deletes one scope's rollups for a year and rebuilds them
// month by month from daily records.
func (s *ConsolidationService) RegenerateYear(ctx context.Context, scope types.EntityScope, yearKey string) error {
	if err := s.periods.DeleteByScopeYear(ctx, scope, yearKey); err != nil {
		return errors.NewStoreError("delete period records", err)
	}

	for month := 1; month <= 12; month++ {
		monthKey := fmt.Sprintf("%s-%02d", yearKey, month)
		if _, err := s.ConsolidateMonth(ctx, scope, monthKey); err != nil {
			return err
		}
	}

	if _, err := s.ConsolidateYear(ctx, scope, yearKey); err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.InvalidateScope(ctx, scope); err != nil {
			logging.FromContext(ctx).WithError(err).
				WithField("scope", scope.Key()).
				Warn("Failed to invalidate downstream aggregates")
		}
	}

	return nil
}

// ConsolidateRange consolidates every month touching [from, to] for every
// scope with data in the range, then refreshes the affected years. Scopes
// consolidate in parallel; months within one scope stay sequential because
// each month seeds from its predecessor.
func (s *ConsolidationService) ConsolidateRange(ctx context.Context, from, to time.Time) (*RunSummary, error) {
	logger := logging.FromContext(ctx)

	summary := &RunSummary{StartedAt: time.Now().UTC()}

	scopes, err := s.scopes.Scopes(ctx, from, to)
	if err != nil {
		return summary, errors.NewStoreError("list scopes", err)
	}
	summary.ScopesTotal = len(scopes)

	months := monthKeysBetween(from, to)
	years := yearKeysOf(months)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	sem := make(chan struct{}, s.maxParallel)

	for _, scope := range scopes {
		wg.Add(1)
		sem <- struct{}{}

		go func(scope types.EntityScope) {
			defer wg.Done()
			defer func() { <-sem }()

			written := 0
			for _, monthKey := range months {
				record, err := s.ConsolidateMonth(ctx, scope, monthKey)
				if err != nil {
					logger.WithError(err).WithField("scope", scope.Key()).
						WithField("month", monthKey).
						Error("Monthly consolidation failed")
					return
				}
				if record != nil {
					written++
				}
			}
			for _, yearKey := range years {
				record, err := s.ConsolidateYear(ctx, scope, yearKey)
				if err != nil {
					logger.WithError(err).WithField("scope", scope.Key()).
						WithField("year", yearKey).
						Error("Yearly consolidation failed")
					return
				}
				if record != nil {
					written++
				}
			}

			if s.cache != nil {
				if err := s.cache.InvalidateScope(ctx, scope); err != nil {
					logger.WithError(err).WithField("scope", scope.Key()).
						Warn("Failed to invalidate downstream aggregates")
				}
			}

			mu.Lock()
			summary.RecordsWritten += written
			mu.Unlock()
		}(scope)
	}

	wg.Wait()
	summary.FinishedAt = time.Now().UTC()

	logger.WithFields(map[string]interface{}{
		"scopes":  summary.ScopesTotal,
		"written": summary.RecordsWritten,
	}).Info("Consolidation run complete")

	return summary, nil
}

// monthBounds returns the first and last day of a month key.
func monthBounds(monthKey string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01", monthKey)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid month key %q", monthKey)
	}
	end := start.AddDate(0, 1, -1)
	return start, end, nil
}

// monthKeysBetween returns every month key touching [from, to] in ascending
// order.
func monthKeysBetween(from, to time.Time) []string {
	start := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC)

	var keys []string
	for m := start; !m.After(end); m = m.AddDate(0, 1, 0) {
		keys = append(keys, types.MonthKey(m))
	}
	return keys
}

// yearKeysOf returns the distinct year keys covering the month keys, in
// ascending order.
func yearKeysOf(monthKeys []string) []string {
	var keys []string
	seen := make(map[string]bool)
	for _, monthKey := range monthKeys {
		yearKey := monthKey[:4]
		if !seen[yearKey] {
			seen[yearKey] = true
			keys = append(keys, yearKey)
		}
	}
	return keys
}
