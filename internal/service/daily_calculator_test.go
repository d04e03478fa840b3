package service

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestComputeDailyReturn(t *testing.T) {
	t.Run("pure market movement", func(t *testing.T) {
		change := ComputeDailyReturn(1000, 1050, 0)

		assert.InDelta(t, 5.0, change.Raw, 1e-9)
		assert.InDelta(t, 5.0, change.Adjusted, 1e-9)
	})

	t.Run("deposit masks flat performance", func(t *testing.T) {
		// Value rose 1000 -> 1100 only because 100 was deposited. The raw
		// change reports 10%, the adjusted change reports 0%.
		change := ComputeDailyReturn(1000, 1100, -100)

		assert.InDelta(t, 10.0, change.Raw, 1e-9)
		assert.InDelta(t, 0.0, change.Adjusted, 1e-9)
	})

	t.Run("withdrawal masks a gain", func(t *testing.T) {
		// 1000 -> 950 after withdrawing 100: the position actually gained 5%.
		change := ComputeDailyReturn(1000, 950, 100)

		assert.InDelta(t, -5.0, change.Raw, 1e-9)
		assert.InDelta(t, 5.0, change.Adjusted, 1e-9)
	})

	t.Run("no previous baseline yields zero returns", func(t *testing.T) {
		assert.Equal(t, DailyChange{}, ComputeDailyReturn(0, 500, -500))
		assert.Equal(t, DailyChange{}, ComputeDailyReturn(-10, 500, 0))
	})

	t.Run("total loss", func(t *testing.T) {
		change := ComputeDailyReturn(1000, 0, 0)

		assert.InDelta(t, -100.0, change.Raw, 1e-9)
		assert.InDelta(t, -100.0, change.Adjusted, 1e-9)
	})
}

func TestComputeDailyReturnProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("zero cash flow makes raw and adjusted identical", prop.ForAll(
		func(prev, curr float64) bool {
			change := ComputeDailyReturn(prev, curr, 0)
			return change.Raw == change.Adjusted
		},
		gen.Float64Range(1, 1e9),
		gen.Float64Range(0, 1e9),
	))

	properties.Property("adjusted differs from raw by cashFlow/prev", prop.ForAll(
		func(prev, curr, flow float64) bool {
			change := ComputeDailyReturn(prev, curr, flow)
			expected := change.Raw + flow/prev*100
			diff := change.Adjusted - expected
			return diff < 1e-6 && diff > -1e-6
		},
		gen.Float64Range(1, 1e6),
		gen.Float64Range(0, 1e6),
		gen.Float64Range(-1e5, 1e5),
	))

	properties.TestingRun(t)
}

func TestDailyReturnFraction(t *testing.T) {
	assert.InDelta(t, 0.05, DailyReturnFraction(5.0), 1e-12)
	assert.InDelta(t, -0.012, DailyReturnFraction(-1.2), 1e-12)
	assert.Zero(t, DailyReturnFraction(0))
}
