package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/portfolio-performance/internal/errors"
	"github.com/portfolio-performance/internal/logging"
	"github.com/portfolio-performance/internal/models"
	"github.com/portfolio-performance/internal/types"
)

// DailyRecordStore is the persisted daily record surface the verifier needs.
type DailyRecordStore interface {
	// ListByScope returns records in strict ascending date order.
	ListByScope(ctx context.Context, scope types.EntityScope, from, to time.Time) ([]*models.DailyPerformanceRecord, error)
	// ReplaceCurrencies rewrites the currency sub-objects of every record in
	// one transaction: all-or-nothing within the batch.
	ReplaceCurrencies(ctx context.Context, records []*models.DailyPerformanceRecord) error
}

// AggregateInvalidator invalidates downstream cached aggregates after
// corrections are applied.
type AggregateInvalidator interface {
	InvalidateScope(ctx context.Context, scope types.EntityScope) error
}

// VerifierConfig holds verification thresholds and batching limits.
type VerifierConfig struct {
	// FieldThreshold is the divergence, in percentage points, that flags a
	// field-level discrepancy
	FieldThreshold float64
	// CrossLevelThreshold applies to adjusted-return checks at account and
	// overall level, where the flow is re-derived from asset sums
	CrossLevelThreshold float64
	// BatchSize bounds how many record rewrites share one transaction
	BatchSize int
	// Mode selects dry-run (report only) or fix (persist corrections)
	Mode types.RunMode
}

// DefaultVerifierConfig returns the default thresholds.
func DefaultVerifierConfig() VerifierConfig {
	return VerifierConfig{
		FieldThreshold:      0.01,
		CrossLevelThreshold: 0.5,
		BatchSize:           100,
		Mode:                types.ModeDryRun,
	}
}

// Discrepancy describes one flagged field on one record.
type Discrepancy struct {
	Scope    string  `json:"scope"`
	Date     string  `json:"date"`
	Currency string  `json:"currency"`
	Field    string  `json:"field"`
	Stored   float64 `json:"stored"`
	Expected float64 `json:"expected"`
}

// VerifyReport summarizes one verification pass over a scope.
type VerifyReport struct {
	Scope          string        `json:"scope"`
	Mode           types.RunMode `json:"mode"`
	RecordsChecked int           `json:"recordsChecked"`
	Flagged        int           `json:"flagged"`
	Corrected      int           `json:"corrected"`
	Unchanged      int           `json:"unchanged"`
	Discrepancies  []Discrepancy `json:"discrepancies,omitempty"`
}

// ConsistencyVerifier recomputes expected adjusted returns from stored
// values and stored asset-level cash flows and repairs divergent records.
// Verification and correction share ComputeDailyReturn with the pipeline,
// so re-running a fix over already-corrected records changes nothing.
type ConsistencyVerifier struct {
	store      DailyRecordStore
	cache      AggregateInvalidator
	attributor *CashFlowAttributor
	config     VerifierConfig
}

// NewConsistencyVerifier creates a new verifier. cache may be nil when no
// downstream aggregates exist (tests, backfills).
func NewConsistencyVerifier(store DailyRecordStore, cache AggregateInvalidator, config VerifierConfig) *ConsistencyVerifier {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultVerifierConfig().BatchSize
	}
	return &ConsistencyVerifier{
		store:      store,
		cache:      cache,
		attributor: NewCashFlowAttributor(),
		config:     config,
	}
}

// VerifyScope checks every stored daily record of one scope in [from, to],
// in strict ascending date order, and corrects divergent records in
// size-bounded transactional batches when running in fix mode.
func (v *ConsistencyVerifier) VerifyScope(ctx context.Context, scope types.EntityScope, from, to time.Time) (*VerifyReport, error) {
	logger := logging.FromContext(ctx)

	// The ordered list is the arena: each date's check reads its
	// predecessor by integer index, never by scanning.
	records, err := v.store.ListByScope(ctx, scope, from, to)
	if err != nil {
		return nil, errors.NewStoreError("list daily records", err)
	}

	report := &VerifyReport{
		Scope: scope.Key(),
		Mode:  v.config.Mode,
	}

	var batch []*models.DailyPerformanceRecord

	for i := 0; i < len(records); i++ {
		record := records[i]
		var previous *models.DailyPerformanceRecord
		if i > 0 {
			previous = records[i-1]
		}

		corrected, discrepancies, err := v.checkRecord(previous, record)
		if err != nil {
			// Malformed record: abort the current batch, surface the error,
			// leave previously flushed batches in place (resume is safe).
			return report, err
		}

		report.RecordsChecked++
		report.Discrepancies = append(report.Discrepancies, discrepancies...)

		if corrected == nil {
			report.Unchanged++
			continue
		}

		report.Flagged++
		batch = append(batch, corrected)

		if len(batch) >= v.config.BatchSize {
			if err := v.flush(ctx, scope, batch, report); err != nil {
				return report, err
			}
			batch = nil
		}
	}

	if len(batch) > 0 {
		if err := v.flush(ctx, scope, batch, report); err != nil {
			return report, err
		}
	}

	logger.WithFields(map[string]interface{}{
		"scope":     scope.Key(),
		"mode":      string(v.config.Mode),
		"checked":   report.RecordsChecked,
		"flagged":   report.Flagged,
		"corrected": report.Corrected,
		"unchanged": report.Unchanged,
	}).Info("Consistency verification complete")

	return report, nil
}

// flush persists one batch of corrected records and invalidates downstream
// aggregates. In dry-run mode the batch only counts.
func (v *ConsistencyVerifier) flush(ctx context.Context, scope types.EntityScope, batch []*models.DailyPerformanceRecord, report *VerifyReport) error {
	if v.config.Mode != types.ModeFix {
		return nil
	}

	if err := v.store.ReplaceCurrencies(ctx, batch); err != nil {
		return errors.NewStoreError("replace corrected records", err)
	}
	report.Corrected += len(batch)

	if v.cache != nil {
		if err := v.cache.InvalidateScope(ctx, scope); err != nil {
			logging.FromContext(ctx).WithError(err).
				WithField("scope", scope.Key()).
				Warn("Failed to invalidate downstream aggregates")
		}
	}

	return nil
}

// checkRecord verifies one record against its predecessor. It returns a
// fully corrected copy when any currency view diverges, or nil when the
// record is already consistent.
func (v *ConsistencyVerifier) checkRecord(previous, record *models.DailyPerformanceRecord) (*models.DailyPerformanceRecord, []Discrepancy, error) {
	var discrepancies []Discrepancy
	var correctedViews map[types.Currency]*models.CurrencyPerformance

	for _, currency := range types.AllCurrencies() {
		view := record.Currency(currency)
		if view == nil {
			continue
		}

		if field := malformedField(view); field != "" {
			return nil, discrepancies, errors.NewMalformedRecordError(
				record.Scope.Key(), types.DayKey(record.Date),
				fmt.Sprintf("%s.%s", currency, field))
		}

		var prevView *models.CurrencyPerformance
		if previous != nil {
			prevView = previous.Currency(currency)
		}

		corrected, found := v.checkCurrency(record.Scope, record.Date, currency, prevView, view)
		discrepancies = append(discrepancies, found...)
		if corrected != nil {
			if correctedViews == nil {
				correctedViews = make(map[types.Currency]*models.CurrencyPerformance)
			}
			correctedViews[currency] = corrected
		}
	}

	if correctedViews == nil {
		return nil, discrepancies, nil
	}

	// Full currency sub-object replacement: the corrected record carries
	// every currency view, flagged ones replaced wholesale.
	out := &models.DailyPerformanceRecord{
		Scope:      record.Scope,
		Date:       record.Date,
		Currencies: make(map[types.Currency]*models.CurrencyPerformance, len(record.Currencies)),
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  time.Now().UTC(),
	}
	for currency, view := range record.Currencies {
		if corrected, ok := correctedViews[currency]; ok {
			out.Currencies[currency] = corrected
		} else {
			out.Currencies[currency] = view.Clone()
		}
	}

	return out, discrepancies, nil
}

// checkCurrency verifies one currency view. The expected adjusted return is
// recomputed from the stored previous value, the stored current value, and
// the sum of stored asset-level cash flows, using the same formula the
// pipeline used. Sharing the formula is what makes correction idempotent.
func (v *ConsistencyVerifier) checkCurrency(
	scope types.EntityScope,
	date time.Time,
	currency types.Currency,
	prevView, view *models.CurrencyPerformance,
) (*models.CurrencyPerformance, []Discrepancy) {
	var discrepancies []Discrepancy

	flag := func(field string, stored, expected float64) {
		discrepancies = append(discrepancies, Discrepancy{
			Scope:    scope.Key(),
			Date:     types.DayKey(date),
			Currency: string(currency),
			Field:    field,
			Stored:   stored,
			Expected: expected,
		})
	}

	// Canonical entity-level cash flow is the sum of asset-level flows.
	derivedFlow := view.TotalCashFlow
	if len(view.AssetPerformance) > 0 {
		derivedFlow = v.attributor.SumAssetFlows(view.AssetPerformance)
		if math.Abs(derivedFlow-view.TotalCashFlow) > models.CashFlowTolerance {
			flag("totalCashFlow", view.TotalCashFlow, derivedFlow)
		}
	}

	// Without a predecessor there is no return to recompute; only the
	// intra-record cash-flow invariant applies.
	if prevView == nil {
		if len(discrepancies) == 0 {
			return nil, nil
		}
		corrected := view.Clone()
		corrected.TotalCashFlow = derivedFlow
		return corrected, discrepancies
	}

	expected := ComputeDailyReturn(prevView.TotalValue, view.TotalValue, derivedFlow)

	adjustedThreshold := v.config.FieldThreshold
	if scope.Kind != types.ScopeAsset {
		// Cross-level check: the flow was re-derived from asset sums.
		adjustedThreshold = v.config.CrossLevelThreshold
	}

	if math.Abs(expected.Adjusted-view.AdjustedDailyChangePercentage) > adjustedThreshold {
		flag("adjustedDailyChangePercentage", view.AdjustedDailyChangePercentage, expected.Adjusted)
	}
	if math.Abs(expected.Raw-view.RawDailyChangePercentage) > v.config.FieldThreshold {
		flag("rawDailyChangePercentage", view.RawDailyChangePercentage, expected.Raw)
	}
	if math.Abs(DailyReturnFraction(expected.Adjusted)-view.DailyReturn) > v.config.FieldThreshold/100 {
		flag("dailyReturn", view.DailyReturn, DailyReturnFraction(expected.Adjusted))
	}

	if len(discrepancies) == 0 {
		return nil, nil
	}

	corrected := view.Clone()
	corrected.TotalCashFlow = derivedFlow
	corrected.RawDailyChangePercentage = expected.Raw
	corrected.AdjustedDailyChangePercentage = expected.Adjusted
	corrected.DailyReturn = DailyReturnFraction(expected.Adjusted)
	return corrected, discrepancies
}

// malformedField returns the name of the first required numeric field that
// is not a finite number, or "" when the view is structurally sound.
func malformedField(view *models.CurrencyPerformance) string {
	checks := []struct {
		name  string
		value float64
	}{
		{"totalValue", view.TotalValue},
		{"totalInvestment", view.TotalInvestment},
		{"totalCashFlow", view.TotalCashFlow},
		{"rawDailyChangePercentage", view.RawDailyChangePercentage},
		{"adjustedDailyChangePercentage", view.AdjustedDailyChangePercentage},
		{"dailyReturn", view.DailyReturn},
	}
	for _, check := range checks {
		if math.IsNaN(check.value) || math.IsInf(check.value, 0) {
			return check.name
		}
	}
	for key, entry := range view.AssetPerformance {
		if math.IsNaN(entry.TotalCashFlow) || math.IsInf(entry.TotalCashFlow, 0) {
			return "assetPerformance." + key + ".totalCashFlow"
		}
		if math.IsNaN(entry.TotalValue) || math.IsInf(entry.TotalValue, 0) {
			return "assetPerformance." + key + ".totalValue"
		}
	}
	return ""
}
