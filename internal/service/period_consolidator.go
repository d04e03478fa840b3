package service

import (
	"strings"
	"time"

	"github.com/portfolio-performance/internal/models"
	"github.com/portfolio-performance/internal/types"
)

// consolidationVersion is stamped on every consolidated currency view so a
// formula change can invalidate stale rollups wholesale.
const consolidationVersion = 2

// PeriodConsolidator rolls daily records up into monthly records and monthly
// records into yearly ones, preserving chained TWR factors and cash-flow
// sums. Consolidated records are derived caches: safe to delete and
// regenerate at any time.
type PeriodConsolidator struct{}

// NewPeriodConsolidator creates a new consolidator
func NewPeriodConsolidator() *PeriodConsolidator {
	return &PeriodConsolidator{}
}

// ConsolidateMonth aggregates the ordered daily records of one month into a
// single record. Seeds carry each currency's chained factor checkpoint from
// the previous month (1.0 when absent). A month with zero valid days yields
// nil: absence signals missing data, not flat performance.
func (pc *PeriodConsolidator) ConsolidateMonth(
	scope types.EntityScope,
	monthKey string,
	days []*models.DailyPerformanceRecord,
	seeds map[types.Currency]float64,
) *models.ConsolidatedPeriodRecord {
	inRange := make([]*models.DailyPerformanceRecord, 0, len(days))
	for _, day := range days {
		if strings.HasPrefix(types.DayKey(day.Date), monthKey) {
			inRange = append(inRange, day)
		}
	}
	if len(inRange) == 0 {
		return nil
	}

	record := &models.ConsolidatedPeriodRecord{
		Scope:      scope,
		PeriodType: types.PeriodMonth,
		PeriodKey:  monthKey,
		Currencies: make(map[types.Currency]*models.CurrencyConsolidation),
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}

	for _, currency := range types.AllCurrencies() {
		consolidation := pc.consolidateCurrencyDays(currency, inRange, seeds)
		if consolidation != nil {
			record.Currencies[currency] = consolidation
		}
	}

	if len(record.Currencies) == 0 {
		return nil
	}
	return record
}

// consolidateCurrencyDays chains one currency across a month's days.
func (pc *PeriodConsolidator) consolidateCurrencyDays(
	currency types.Currency,
	days []*models.DailyPerformanceRecord,
	seeds map[types.Currency]float64,
) *models.CurrencyConsolidation {
	startFactor := 1.0
	if seed, ok := seeds[currency]; ok && seed > 0 {
		startFactor = seed
	}
	chainer := NewTWRChainerFrom(startFactor)

	var first, last *models.CurrencyPerformance
	var totalCashFlow float64
	validDocs := 0

	for _, day := range days {
		view := day.Currency(currency)
		if view == nil {
			continue
		}

		validDocs++
		if first == nil {
			first = view
		}
		last = view

		totalCashFlow += view.TotalCashFlow
		chainer.Chain(view.AdjustedDailyChangePercentage)
	}

	if validDocs == 0 {
		return nil
	}

	return &models.CurrencyConsolidation{
		StartTotalValue: first.TotalValue,
		EndTotalValue:   last.TotalValue,
		StartFactor:     chainer.StartFactor(),
		EndFactor:       chainer.Factor(),
		PeriodReturn:    chainer.PeriodReturn(),
		PersonalReturn:  ModifiedDietz(first.TotalValue, last.TotalValue, totalCashFlow),
		TotalCashFlow:   totalCashFlow,
		DocsCount:       len(days),
		ValidDocsCount:  validDocs,
		Version:         consolidationVersion,
	}
}

// ConsolidateYear aggregates ordered monthly records into a yearly record by
// chaining each month's endFactor over its startFactor onto the running
// product. It never revisits daily data, which keeps consolidation exact and
// composable at arbitrary granularity.
func (pc *PeriodConsolidator) ConsolidateYear(
	scope types.EntityScope,
	yearKey string,
	months []*models.ConsolidatedPeriodRecord,
) *models.ConsolidatedPeriodRecord {
	inRange := make([]*models.ConsolidatedPeriodRecord, 0, len(months))
	for _, month := range months {
		if month.PeriodType == types.PeriodMonth && strings.HasPrefix(month.PeriodKey, yearKey) {
			inRange = append(inRange, month)
		}
	}
	if len(inRange) == 0 {
		return nil
	}

	record := &models.ConsolidatedPeriodRecord{
		Scope:      scope,
		PeriodType: types.PeriodYear,
		PeriodKey:  yearKey,
		Currencies: make(map[types.Currency]*models.CurrencyConsolidation),
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}

	for _, currency := range types.AllCurrencies() {
		consolidation := pc.consolidateCurrencyMonths(currency, inRange)
		if consolidation != nil {
			record.Currencies[currency] = consolidation
		}
	}

	if len(record.Currencies) == 0 {
		return nil
	}
	return record
}

// consolidateCurrencyMonths chains one currency across a year's months.
func (pc *PeriodConsolidator) consolidateCurrencyMonths(
	currency types.Currency,
	months []*models.ConsolidatedPeriodRecord,
) *models.CurrencyConsolidation {
	var chainer *TWRChainer
	var first, last *models.CurrencyConsolidation
	var totalCashFlow float64
	docsCount := 0
	validDocs := 0

	for _, month := range months {
		view := month.Currency(currency)
		if view == nil {
			continue
		}

		if chainer == nil {
			chainer = NewTWRChainerFrom(view.StartFactor)
			first = view
		}
		last = view

		chainer.ChainFactor(view.StartFactor, view.EndFactor)
		totalCashFlow += view.TotalCashFlow
		docsCount += view.DocsCount
		validDocs += view.ValidDocsCount
	}

	if chainer == nil {
		return nil
	}

	return &models.CurrencyConsolidation{
		StartTotalValue: first.StartTotalValue,
		EndTotalValue:   last.EndTotalValue,
		StartFactor:     chainer.StartFactor(),
		EndFactor:       chainer.Factor(),
		PeriodReturn:    chainer.PeriodReturn(),
		PersonalReturn:  ModifiedDietz(first.StartTotalValue, last.EndTotalValue, totalCashFlow),
		TotalCashFlow:   totalCashFlow,
		DocsCount:       docsCount,
		ValidDocsCount:  validDocs,
		Version:         consolidationVersion,
	}
}
