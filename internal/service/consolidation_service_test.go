package service

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-performance/internal/models"
	"github.com/portfolio-performance/internal/types"
)

type mockPeriodStore struct {
	records map[string]*models.ConsolidatedPeriodRecord // periodType:periodKey
	deleted []string
}

func newMockPeriodStore() *mockPeriodStore {
	return &mockPeriodStore{records: make(map[string]*models.ConsolidatedPeriodRecord)}
}

func periodStoreKey(periodType types.PeriodType, periodKey string) string {
	return string(periodType) + ":" + periodKey
}

func (m *mockPeriodStore) Upsert(_ context.Context, record *models.ConsolidatedPeriodRecord) error {
	m.records[periodStoreKey(record.PeriodType, record.PeriodKey)] = record
	return nil
}

func (m *mockPeriodStore) ListMonths(_ context.Context, _ types.EntityScope, yearKey string) ([]*models.ConsolidatedPeriodRecord, error) {
	var months []*models.ConsolidatedPeriodRecord
	for _, record := range m.records {
		if record.PeriodType == types.PeriodMonth && strings.HasPrefix(record.PeriodKey, yearKey+"-") {
			months = append(months, record)
		}
	}
	sort.Slice(months, func(i, j int) bool { return months[i].PeriodKey < months[j].PeriodKey })
	return months, nil
}

func (m *mockPeriodStore) LatestMonthBefore(_ context.Context, _ types.EntityScope, monthKey string) (*models.ConsolidatedPeriodRecord, error) {
	var latest *models.ConsolidatedPeriodRecord
	for _, record := range m.records {
		if record.PeriodType != types.PeriodMonth || record.PeriodKey >= monthKey {
			continue
		}
		if latest == nil || record.PeriodKey > latest.PeriodKey {
			latest = record
		}
	}
	return latest, nil
}

func (m *mockPeriodStore) DeleteByScopeYear(_ context.Context, scope types.EntityScope, yearKey string) error {
	m.deleted = append(m.deleted, scope.Key()+":"+yearKey)
	for key, record := range m.records {
		if strings.HasPrefix(record.PeriodKey, yearKey) {
			delete(m.records, key)
		}
	}
	return nil
}

func (m *mockPeriodStore) month(monthKey string) *models.ConsolidatedPeriodRecord {
	return m.records[periodStoreKey(types.PeriodMonth, monthKey)]
}

func (m *mockPeriodStore) year(yearKey string) *models.ConsolidatedPeriodRecord {
	return m.records[periodStoreKey(types.PeriodYear, yearKey)]
}

type mockScopeLister struct {
	scopes []types.EntityScope
}

func (m *mockScopeLister) Scopes(_ context.Context, _, _ time.Time) ([]types.EntityScope, error) {
	return m.scopes, nil
}

func TestConsolidateMonthSeedsFromPreviousMonth(t *testing.T) {
	scope := verifierScope()

	daily := &mockDailyStore{records: []*models.DailyPerformanceRecord{
		dailyRecord(scope, "2024-05-02", 1010, 1.0, 0),
		dailyRecord(scope, "2024-05-03", 1030, 2.0, 0),
	}}

	periods := newMockPeriodStore()
	periods.records[periodStoreKey(types.PeriodMonth, "2024-04")] = &models.ConsolidatedPeriodRecord{
		Scope:      scope,
		PeriodType: types.PeriodMonth,
		PeriodKey:  "2024-04",
		Currencies: map[types.Currency]*models.CurrencyConsolidation{
			types.CurrencyUSD: {StartFactor: 1.0, EndFactor: 1.05},
		},
	}

	svc := NewConsolidationService(daily, periods, nil, nil, 1)

	record, err := svc.ConsolidateMonth(context.Background(), scope, "2024-05")
	require.NoError(t, err)
	require.NotNil(t, record)

	view := record.Currency(types.CurrencyUSD)
	require.NotNil(t, view)
	assert.Equal(t, 1.05, view.StartFactor)
	assert.InDelta(t, 1.05*1.01*1.02, view.EndFactor, 1e-12)

	// The record was persisted under its month key.
	assert.Same(t, record, periods.month("2024-05"))
}

func TestConsolidateMonthWithoutDaysWritesNothing(t *testing.T) {
	scope := verifierScope()
	periods := newMockPeriodStore()
	svc := NewConsolidationService(&mockDailyStore{}, periods, nil, nil, 1)

	record, err := svc.ConsolidateMonth(context.Background(), scope, "2024-05")
	require.NoError(t, err)

	assert.Nil(t, record)
	assert.Empty(t, periods.records)
}

func TestConsolidateMonthRejectsBadKey(t *testing.T) {
	svc := NewConsolidationService(&mockDailyStore{}, newMockPeriodStore(), nil, nil, 1)

	_, err := svc.ConsolidateMonth(context.Background(), verifierScope(), "May 2024")
	require.Error(t, err)
}

func TestRegenerateYear(t *testing.T) {
	scope := verifierScope()

	daily := &mockDailyStore{records: []*models.DailyPerformanceRecord{
		dailyRecord(scope, "2024-05-02", 1010, 1.0, 0),
		dailyRecord(scope, "2024-06-03", 1020, 0.5, -10),
	}}

	periods := newMockPeriodStore()
	// A stale rollup from the old formula must not survive regeneration.
	periods.records[periodStoreKey(types.PeriodMonth, "2024-03")] = &models.ConsolidatedPeriodRecord{
		Scope:      scope,
		PeriodType: types.PeriodMonth,
		PeriodKey:  "2024-03",
		Currencies: map[types.Currency]*models.CurrencyConsolidation{
			types.CurrencyUSD: {EndFactor: 9.9},
		},
	}

	cache := &mockInvalidator{}
	svc := NewConsolidationService(daily, periods, nil, cache, 1)

	require.NoError(t, svc.RegenerateYear(context.Background(), scope, "2024"))

	assert.Equal(t, []string{scope.Key() + ":2024"}, periods.deleted)
	assert.Nil(t, periods.month("2024-03"), "stale rollup removed")

	may := periods.month("2024-05")
	require.NotNil(t, may)
	assert.InDelta(t, 1.01, may.Currency(types.CurrencyUSD).EndFactor, 1e-12)

	// June seeds from the regenerated May factor.
	june := periods.month("2024-06")
	require.NotNil(t, june)
	assert.InDelta(t, 1.01, june.Currency(types.CurrencyUSD).StartFactor, 1e-12)
	assert.InDelta(t, 1.01*1.005, june.Currency(types.CurrencyUSD).EndFactor, 1e-12)

	year := periods.year("2024")
	require.NotNil(t, year)
	assert.InDelta(t, 1.01*1.005, year.Currency(types.CurrencyUSD).EndFactor, 1e-12)
	assert.InDelta(t, -10.0, year.Currency(types.CurrencyUSD).TotalCashFlow, 1e-9)

	require.Len(t, cache.scopes, 1)
	assert.Equal(t, scope, cache.scopes[0])
}

func TestConsolidateRange(t *testing.T) {
	scope := verifierScope()

	daily := &mockDailyStore{records: []*models.DailyPerformanceRecord{
		dailyRecord(scope, "2024-05-02", 1010, 1.0, 0),
		dailyRecord(scope, "2024-06-03", 1020, 0.5, 0),
	}}
	periods := newMockPeriodStore()
	cache := &mockInvalidator{}
	lister := &mockScopeLister{scopes: []types.EntityScope{scope}}

	svc := NewConsolidationService(daily, periods, lister, cache, 2)

	summary, err := svc.ConsolidateRange(context.Background(), day("2024-05-01"), day("2024-06-30"))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ScopesTotal)
	// Two monthly records plus the year rollup.
	assert.Equal(t, 3, summary.RecordsWritten)

	assert.NotNil(t, periods.month("2024-05"))
	assert.NotNil(t, periods.month("2024-06"))
	assert.NotNil(t, periods.year("2024"))
	assert.Len(t, cache.scopes, 1)
}
