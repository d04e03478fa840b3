package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEntityScopeKey(t *testing.T) {
	assert.Equal(t, "account:ib-main", EntityScope{Kind: ScopeAccount, ID: "ib-main"}.Key())
	assert.Equal(t, "asset:AAPL", EntityScope{Kind: ScopeAsset, ID: "AAPL"}.Key())
	assert.Equal(t, "overall:portfolio", EntityScope{Kind: ScopeOverall, ID: "portfolio"}.String())
}

func TestPeriodKeys(t *testing.T) {
	date := time.Date(2024, 5, 17, 14, 30, 0, 0, time.UTC)

	assert.Equal(t, "2024-05-17", DayKey(date))
	assert.Equal(t, "2024-05", MonthKey(date))
	assert.Equal(t, "2024", YearKey(date))
}

func TestAllCurrencies(t *testing.T) {
	currencies := AllCurrencies()

	assert.Len(t, currencies, 4)
	assert.Equal(t, ReferenceCurrency, currencies[0])
}
