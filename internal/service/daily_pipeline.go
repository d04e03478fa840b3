package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/portfolio-performance/internal/errors"
	"github.com/portfolio-performance/internal/logging"
	"github.com/portfolio-performance/internal/models"
	"github.com/portfolio-performance/internal/retry"
	"github.com/portfolio-performance/internal/types"
)

// SnapshotSource supplies end-of-day market value snapshots in the
// reference currency.
type SnapshotSource interface {
	// Scopes returns every entity scope with snapshots in [from, to].
	Scopes(ctx context.Context, from, to time.Time) ([]types.EntityScope, error)
	// ScopeSnapshot returns the entity-level snapshot for a date, or nil
	// when the date has no snapshot.
	ScopeSnapshot(ctx context.Context, scope types.EntityScope, date time.Time) (*models.ValueSnapshot, error)
	// AssetSnapshots returns the per-asset snapshots under a scope for a date.
	AssetSnapshots(ctx context.Context, scope types.EntityScope, date time.Time) ([]*models.ValueSnapshot, error)
}

// LedgerSource supplies ordered ledger transactions.
type LedgerSource interface {
	// TransactionsByAsset returns a scope's transactions for one date,
	// grouped by asset key, each group ordered as recorded.
	TransactionsByAsset(ctx context.Context, scope types.EntityScope, date time.Time) (map[string][]*models.LedgerTransaction, error)
}

// DailyRecordWriter persists computed daily records.
type DailyRecordWriter interface {
	// GetLatestBefore returns the scope's most recent record strictly before
	// date, or nil when none exists.
	GetLatestBefore(ctx context.Context, scope types.EntityScope, date time.Time) (*models.DailyPerformanceRecord, error)
	// Upsert writes one full record.
	Upsert(ctx context.Context, record *models.DailyPerformanceRecord) error
}

// DailyPipelineConfig holds pipeline configuration.
type DailyPipelineConfig struct {
	// Currencies to produce views for; the reference currency is implicit
	Currencies []types.Currency
	// MaxParallelScopes bounds concurrent scope computation
	MaxParallelScopes int
}

// RunSummary reports one pipeline run.
type RunSummary struct {
	RunID          string    `json:"runId"`
	ScopesTotal    int       `json:"scopesTotal"`
	RecordsWritten int       `json:"recordsWritten"`
	Skipped        int       `json:"skipped"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
}

// DailyPipeline computes daily performance records from ledger and
// snapshots. Dates within one scope are strictly sequential, since each day's
// adjusted return depends on the previous day's stored value. Independent
// scopes compute in parallel.
type DailyPipeline struct {
	snapshots  SnapshotSource
	ledger     LedgerSource
	records    DailyRecordWriter
	attributor *CashFlowAttributor
	converter  *CurrencyConverter
	config     DailyPipelineConfig
}

// NewDailyPipeline creates a new pipeline.
func NewDailyPipeline(
	snapshots SnapshotSource,
	ledger LedgerSource,
	records DailyRecordWriter,
	converter *CurrencyConverter,
	config DailyPipelineConfig,
) *DailyPipeline {
	if config.MaxParallelScopes <= 0 {
		config.MaxParallelScopes = 1
	}
	return &DailyPipeline{
		snapshots:  snapshots,
		ledger:     ledger,
		records:    records,
		attributor: NewCashFlowAttributor(),
		converter:  converter,
		config:     config,
	}
}

// Run computes records for every scope over [from, to]. Scope failures are
// isolated: a failing scope is logged and counted, the rest proceed. Only
// structural failures abort the run.
func (p *DailyPipeline) Run(ctx context.Context, from, to time.Time) (*RunSummary, error) {
	logger := logging.FromContext(ctx)

	summary := &RunSummary{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}

	scopes, err := p.snapshots.Scopes(ctx, from, to)
	if err != nil {
		return summary, errors.NewStoreError("list scopes", err)
	}
	summary.ScopesTotal = len(scopes)

	dates := daysBetween(from, to)

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		fatalErr error
	)
	sem := make(chan struct{}, p.config.MaxParallelScopes)

	for _, scope := range scopes {
		wg.Add(1)
		sem <- struct{}{}

		go func(scope types.EntityScope) {
			defer wg.Done()
			defer func() { <-sem }()

			written, skipped, err := p.ProcessScope(ctx, scope, dates)

			mu.Lock()
			defer mu.Unlock()
			summary.RecordsWritten += written
			summary.Skipped += skipped
			if err != nil {
				logger.WithError(err).WithField("scope", scope.Key()).Error("Scope processing failed")
				if errors.IsFatal(err) && fatalErr == nil {
					fatalErr = err
				}
			}
		}(scope)
	}

	wg.Wait()
	summary.FinishedAt = time.Now().UTC()

	logger.WithFields(map[string]interface{}{
		"runId":   summary.RunID,
		"scopes":  summary.ScopesTotal,
		"written": summary.RecordsWritten,
		"skipped": summary.Skipped,
	}).Info("Daily pipeline run complete")

	return summary, fatalErr
}

// ProcessScope computes one scope's records in strict ascending date order.
// The run may stop between dates (context cancellation) without corrupting
// state: every write is a full-record upsert.
func (p *DailyPipeline) ProcessScope(ctx context.Context, scope types.EntityScope, dates []time.Time) (written, skipped int, err error) {
	if len(dates) == 0 {
		return 0, 0, nil
	}

	previous, err := p.records.GetLatestBefore(ctx, scope, dates[0])
	if err != nil {
		return 0, 0, errors.NewStoreError("load previous record", err)
	}

	for _, date := range dates {
		// Abort between dates only, never mid-date.
		if ctx.Err() != nil {
			return written, skipped, ctx.Err()
		}

		record, err := p.buildRecord(ctx, scope, date, previous)
		if err != nil {
			return written, skipped, err
		}
		if record == nil {
			skipped++
			continue
		}

		// Transient store failures retry with backoff; the write is a full
		// upsert, so a repeated attempt can never double-apply.
		err = retry.WithRetry(ctx, func(ctx context.Context, attempt int) error {
			return p.records.Upsert(ctx, record)
		})
		if err != nil {
			return written, skipped, errors.NewStoreError("upsert daily record", err)
		}

		previous = record
		written++
	}

	return written, skipped, nil
}

// buildRecord assembles the reference-currency view for one (scope, date)
// and converts it into the remaining tracked currencies. Returns nil when
// the date has no snapshot.
func (p *DailyPipeline) buildRecord(ctx context.Context, scope types.EntityScope, date time.Time, previous *models.DailyPerformanceRecord) (*models.DailyPerformanceRecord, error) {
	snapshot, err := p.snapshots.ScopeSnapshot(ctx, scope, date)
	if err != nil {
		return nil, errors.NewStoreError("load scope snapshot", err)
	}
	if snapshot == nil {
		return nil, nil
	}

	assetSnapshots, err := p.snapshots.AssetSnapshots(ctx, scope, date)
	if err != nil {
		return nil, errors.NewStoreError("load asset snapshots", err)
	}

	transactions, err := p.ledger.TransactionsByAsset(ctx, scope, date)
	if err != nil {
		return nil, errors.NewStoreError("load ledger transactions", err)
	}

	var prevRef *models.CurrencyPerformance
	if previous != nil {
		prevRef = previous.Reference()
	}

	entries := p.buildAssetEntries(assetSnapshots, transactions, prevRef)

	// Entity-level cash flow is always the sum of asset-level flows, never
	// re-derived from the ledger independently.
	entityFlow := p.attributor.SumAssetFlows(entries)
	if len(entries) == 0 {
		for _, txs := range transactions {
			entityFlow += p.attributor.AttributeAsset(txs)
		}
	}

	var prevValue float64
	if prevRef != nil {
		prevValue = prevRef.TotalValue
	}
	change := ComputeDailyReturn(prevValue, snapshot.TotalValue, entityFlow)

	reference := &models.CurrencyPerformance{
		TotalValue:                    snapshot.TotalValue,
		TotalInvestment:               snapshot.TotalInvestment,
		TotalCashFlow:                 entityFlow,
		RawDailyChangePercentage:      change.Raw,
		AdjustedDailyChangePercentage: change.Adjusted,
		DailyReturn:                   DailyReturnFraction(change.Adjusted),
		UnrealizedPnL:                 snapshot.UnrealizedPnL,
		DoneProfitAndLoss:             snapshot.DonePnL,
	}
	if len(entries) > 0 {
		reference.AssetPerformance = entries
	}

	now := time.Now().UTC()
	record := &models.DailyPerformanceRecord{
		Scope: scope,
		Date:  date,
		Currencies: map[types.Currency]*models.CurrencyPerformance{
			types.ReferenceCurrency: reference,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Skipped currencies are reported inside PopulateCurrencies with scope,
	// date, and currency context; the record proceeds without them.
	p.converter.PopulateCurrencies(ctx, record, p.config.Currencies)

	return record, nil
}

// buildAssetEntries computes each asset's entry, including implied-flow
// handling for unexplained unit changes.
func (p *DailyPipeline) buildAssetEntries(
	snapshots []*models.ValueSnapshot,
	transactions map[string][]*models.LedgerTransaction,
	prevRef *models.CurrencyPerformance,
) map[string]*models.AssetPerformanceEntry {
	if len(snapshots) == 0 {
		return nil
	}

	entries := make(map[string]*models.AssetPerformanceEntry, len(snapshots))

	for _, snap := range snapshots {
		ledgerFlow := p.attributor.AttributeAsset(transactions[snap.AssetKey])

		var prevUnits, prevValue float64
		if prevRef != nil {
			if prevEntry, ok := prevRef.AssetPerformance[snap.AssetKey]; ok {
				prevUnits = prevEntry.Units
				prevValue = prevEntry.TotalValue
			}
		}

		flow := p.attributor.DetectImplied(prevUnits, snap.Units, ledgerFlow, snap.TotalValue)
		change := ComputeDailyReturn(prevValue, snap.TotalValue, flow.CashFlow)

		entries[snap.AssetKey] = &models.AssetPerformanceEntry{
			Units:                         snap.Units,
			TotalValue:                    snap.TotalValue,
			TotalInvestment:               snap.TotalInvestment,
			TotalCashFlow:                 flow.CashFlow,
			RawDailyChangePercentage:      change.Raw,
			AdjustedDailyChangePercentage: change.Adjusted,
			UnrealizedProfitAndLoss:       snap.UnrealizedPnL,
			DoneProfitAndLoss:             snap.DonePnL,
			ImpliedCashFlow:               flow.Implied,
		}
	}

	return entries
}

// daysBetween returns every UTC day from from to to inclusive.
func daysBetween(from, to time.Time) []time.Time {
	from = from.UTC().Truncate(24 * time.Hour)
	to = to.UTC().Truncate(24 * time.Hour)

	var days []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
