package models

import (
	"time"

	"github.com/portfolio-performance/internal/types"
)

// CurrencyConsolidation holds the per-currency view of a consolidated period.
// EndFactor must equal StartFactor multiplied by the chained daily factors of
// every day in range.
type CurrencyConsolidation struct {
	StartTotalValue float64  `json:"startTotalValue"`
	EndTotalValue   float64  `json:"endTotalValue"`
	StartFactor     float64  `json:"startFactor"`
	EndFactor       float64  `json:"endFactor"`
	PeriodReturn    float64  `json:"periodReturn"`
	PersonalReturn  *float64 `json:"personalReturn,omitempty"`
	TotalCashFlow   float64  `json:"totalCashFlow"`
	DocsCount       int      `json:"docsCount"`
	ValidDocsCount  int      `json:"validDocsCount"`
	Version         int      `json:"version"`
}

// Clone returns a copy of the consolidation.
func (cc *CurrencyConsolidation) Clone() *CurrencyConsolidation {
	out := *cc
	if cc.PersonalReturn != nil {
		v := *cc.PersonalReturn
		out.PersonalReturn = &v
	}
	return &out
}

// ConsolidatedPeriodRecord is a derived monthly or yearly rollup of daily
// records. It caches truth and is safe to delete and regenerate at any time.
type ConsolidatedPeriodRecord struct {
	Scope      types.EntityScope                         `json:"scope"`
	PeriodType types.PeriodType                          `json:"periodType"`
	PeriodKey  string                                    `json:"periodKey"`
	Currencies map[types.Currency]*CurrencyConsolidation `json:"currencies"`
	CreatedAt  time.Time                                 `json:"createdAt"`
	UpdatedAt  time.Time                                 `json:"updatedAt"`
}

// Currency returns the record's view in the given currency, or nil.
func (r *ConsolidatedPeriodRecord) Currency(c types.Currency) *CurrencyConsolidation {
	if r.Currencies == nil {
		return nil
	}
	return r.Currencies[c]
}
