package models

import (
	"math"
	"time"

	"github.com/portfolio-performance/internal/types"
)

// CashFlowTolerance is the maximum allowed gap, in currency units, between
// an entity's stored cash flow and the sum of its asset-level cash flows.
const CashFlowTolerance = 0.01

// AssetPerformanceEntry holds one asset's contribution to a daily record,
// denominated in a single currency.
type AssetPerformanceEntry struct {
	Units                         float64 `json:"units"`
	TotalValue                    float64 `json:"totalValue"`
	TotalInvestment               float64 `json:"totalInvestment"`
	TotalCashFlow                 float64 `json:"totalCashFlow"`
	RawDailyChangePercentage      float64 `json:"rawDailyChangePercentage"`
	AdjustedDailyChangePercentage float64 `json:"adjustedDailyChangePercentage"`
	UnrealizedProfitAndLoss       float64 `json:"unrealizedProfitAndLoss"`
	DoneProfitAndLoss             float64 `json:"doneProfitAndLoss"`
	// ImpliedCashFlow marks entries whose cash flow was inferred from an
	// unexplained unit change rather than ledger entries.
	ImpliedCashFlow bool `json:"impliedCashFlow,omitempty"`
}

// CurrencyPerformance holds the per-currency view of a daily record.
// Percentage fields are currency-invariant; absolute fields are converted
// from the reference currency by the same rate.
type CurrencyPerformance struct {
	TotalValue                    float64                           `json:"totalValue"`
	TotalInvestment               float64                           `json:"totalInvestment"`
	TotalCashFlow                 float64                           `json:"totalCashFlow"`
	RawDailyChangePercentage      float64                           `json:"rawDailyChangePercentage"`
	AdjustedDailyChangePercentage float64                           `json:"adjustedDailyChangePercentage"`
	DailyReturn                   float64                           `json:"dailyReturn"`
	UnrealizedPnL                 float64                           `json:"unrealizedPnL"`
	DoneProfitAndLoss             float64                           `json:"doneProfitAndLoss"`
	AssetPerformance              map[string]*AssetPerformanceEntry `json:"assetPerformance,omitempty"`
}

// AssetCashFlowSum returns the sum of asset-level cash flows.
func (cp *CurrencyPerformance) AssetCashFlowSum() float64 {
	var sum float64
	for _, entry := range cp.AssetPerformance {
		sum += entry.TotalCashFlow
	}
	return sum
}

// CashFlowConsistent reports whether the entity-level cash flow agrees with
// the sum of asset-level cash flows within CashFlowTolerance.
func (cp *CurrencyPerformance) CashFlowConsistent() bool {
	if len(cp.AssetPerformance) == 0 {
		return true
	}
	return math.Abs(cp.AssetCashFlowSum()-cp.TotalCashFlow) <= CashFlowTolerance
}

// Clone returns a deep copy. Corrections replace whole currency sub-objects,
// never individual fields, so callers clone before mutating.
func (cp *CurrencyPerformance) Clone() *CurrencyPerformance {
	out := *cp
	if cp.AssetPerformance != nil {
		out.AssetPerformance = make(map[string]*AssetPerformanceEntry, len(cp.AssetPerformance))
		for key, entry := range cp.AssetPerformance {
			copied := *entry
			out.AssetPerformance[key] = &copied
		}
	}
	return &out
}

// DailyPerformanceRecord is the persisted end-of-day performance state for
// one entity scope. It is created once per (scope, date) and mutated only by
// the corrector, which replaces full currency sub-objects.
type DailyPerformanceRecord struct {
	Scope      types.EntityScope                       `json:"scope"`
	Date       time.Time                               `json:"date"`
	Currencies map[types.Currency]*CurrencyPerformance `json:"currencies"`
	CreatedAt  time.Time                               `json:"createdAt"`
	UpdatedAt  time.Time                               `json:"updatedAt"`
}

// Currency returns the record's view in the given currency, or nil.
func (r *DailyPerformanceRecord) Currency(c types.Currency) *CurrencyPerformance {
	if r.Currencies == nil {
		return nil
	}
	return r.Currencies[c]
}

// Reference returns the reference-currency view.
func (r *DailyPerformanceRecord) Reference() *CurrencyPerformance {
	return r.Currency(types.ReferenceCurrency)
}
