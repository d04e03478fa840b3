package service

// TWRChainer compounds a sequence of adjusted daily returns into a
// time-weighted return factor. The factor can be seeded from any prior
// checkpoint, which is what lets period consolidation resume mid-sequence
// without recomputing history.
type TWRChainer struct {
	start  float64
	factor float64
}

// NewTWRChainer creates a chainer starting at factor 1.0
func NewTWRChainer() *TWRChainer {
	return NewTWRChainerFrom(1.0)
}

// NewTWRChainerFrom creates a chainer seeded from a checkpoint factor
func NewTWRChainerFrom(startFactor float64) *TWRChainer {
	return &TWRChainer{start: startFactor, factor: startFactor}
}

// Chain compounds one day's adjusted percentage change onto the running
// factor. Days with adjusted == 0 (including days without a previous
// baseline) leave the factor unchanged; they are neutral, never skipped.
func (c *TWRChainer) Chain(adjustedPct float64) {
	c.factor *= 1 + adjustedPct/100
}

// ChainFactor compounds a sub-period factor ratio onto the running factor.
// Consolidating months into a year chains each month's endFactor over its
// startFactor rather than revisiting the underlying days.
func (c *TWRChainer) ChainFactor(subStart, subEnd float64) {
	if subStart == 0 {
		return
	}
	c.factor *= subEnd / subStart
}

// Factor returns the current chained factor
func (c *TWRChainer) Factor() float64 {
	return c.factor
}

// StartFactor returns the seed checkpoint
func (c *TWRChainer) StartFactor() float64 {
	return c.start
}

// PeriodReturn returns the percentage return since the seed checkpoint
func (c *TWRChainer) PeriodReturn() float64 {
	if c.start == 0 {
		return 0
	}
	return (c.factor/c.start - 1) * 100
}

// ModifiedDietz computes the money-weighted return over a period from its
// start value, end value, and net cash flow (engine sign convention: net
// deposits = -totalCashFlow).
//
//	investmentBase = startValue + netDeposits/2
//	gain           = endValue - startValue - netDeposits
//	MWR            = gain / investmentBase * 100
//
// When the investment base is unusable but there were net deposits, the
// position was opened from zero inside the period and the return is taken
// against the deposits themselves. When neither base is usable the MWR is
// undefined and nil is returned, never zero.
func ModifiedDietz(startValue, endValue, totalCashFlow float64) *float64 {
	netDeposits := -totalCashFlow

	investmentBase := startValue + netDeposits/2
	if investmentBase > 0 {
		mwr := (endValue - startValue - netDeposits) / investmentBase * 100
		return &mwr
	}

	if netDeposits > 0 {
		mwr := (endValue - netDeposits) / netDeposits * 100
		return &mwr
	}

	return nil
}
