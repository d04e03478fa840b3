// Package service implements the performance and return consolidation engine.
package service

// DailyChange holds the raw and cash-flow-adjusted daily percentage change
// for one entity on one date.
type DailyChange struct {
	Raw      float64 `json:"raw"`
	Adjusted float64 `json:"adjusted"`
}

// ComputeDailyReturn computes the daily percentage change of an entity given
// yesterday's stored value, today's value, and today's net cash flow.
//
// Sign convention: negative cash flow = capital added (deposit/buy),
// positive = capital removed (withdrawal/sell proceeds), so the flow is
// subtracted from the value gain it produced.
//
// This is the single return formula in the engine: the daily pipeline and
// the corrector both call it, so compute and verify can never drift apart.
func ComputeDailyReturn(prev, curr, cashFlow float64) DailyChange {
	// No previous baseline: day one of a position, both returns are zero.
	if prev <= 0 {
		return DailyChange{}
	}

	return DailyChange{
		Raw:      (curr - prev) / prev * 100,
		Adjusted: (curr - prev + cashFlow) / prev * 100,
	}
}

// DailyReturnFraction converts an adjusted percentage to the dailyReturn
// fraction stored alongside it.
func DailyReturnFraction(adjustedPct float64) float64 {
	return adjustedPct / 100
}
