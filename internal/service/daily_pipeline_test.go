package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-performance/internal/models"
	"github.com/portfolio-performance/internal/types"
)

type mockSnapshotSource struct {
	scopes []types.EntityScope
	entity map[string]map[string]*models.ValueSnapshot   // scope key -> day key
	assets map[string]map[string][]*models.ValueSnapshot // scope key -> day key
}

func (m *mockSnapshotSource) Scopes(_ context.Context, _, _ time.Time) ([]types.EntityScope, error) {
	return m.scopes, nil
}

func (m *mockSnapshotSource) ScopeSnapshot(_ context.Context, scope types.EntityScope, date time.Time) (*models.ValueSnapshot, error) {
	return m.entity[scope.Key()][types.DayKey(date)], nil
}

func (m *mockSnapshotSource) AssetSnapshots(_ context.Context, scope types.EntityScope, date time.Time) ([]*models.ValueSnapshot, error) {
	return m.assets[scope.Key()][types.DayKey(date)], nil
}

type mockLedgerSource struct {
	transactions map[string]map[string]map[string][]*models.LedgerTransaction // scope key -> day key -> asset key
}

func (m *mockLedgerSource) TransactionsByAsset(_ context.Context, scope types.EntityScope, date time.Time) (map[string][]*models.LedgerTransaction, error) {
	return m.transactions[scope.Key()][types.DayKey(date)], nil
}

type mockRecordWriter struct {
	mu      sync.Mutex
	upserts []*models.DailyPerformanceRecord
}

func (m *mockRecordWriter) GetLatestBefore(_ context.Context, scope types.EntityScope, date time.Time) (*models.DailyPerformanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *models.DailyPerformanceRecord
	for _, record := range m.upserts {
		if record.Scope == scope && record.Date.Before(date) {
			if latest == nil || record.Date.After(latest.Date) {
				latest = record
			}
		}
	}
	return latest, nil
}

func (m *mockRecordWriter) Upsert(_ context.Context, record *models.DailyPerformanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts = append(m.upserts, record)
	return nil
}

func (m *mockRecordWriter) byDay(scope types.EntityScope, dayKey string) *models.DailyPerformanceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.upserts {
		if record.Scope == scope && types.DayKey(record.Date) == dayKey {
			return record
		}
	}
	return nil
}

func usdOnlyPipeline(snapshots *mockSnapshotSource, ledger *mockLedgerSource, writer *mockRecordWriter) *DailyPipeline {
	converter := NewCurrencyConverter(&mapRateSource{}, testConverterConfig())
	return NewDailyPipeline(snapshots, ledger, writer, converter, DailyPipelineConfig{
		Currencies:        []types.Currency{types.CurrencyUSD},
		MaxParallelScopes: 2,
	})
}

func TestProcessScopeSequentialDays(t *testing.T) {
	scope := types.EntityScope{Kind: types.ScopeAccount, ID: "ib-main"}
	key := scope.Key()

	snapshots := &mockSnapshotSource{
		scopes: []types.EntityScope{scope},
		entity: map[string]map[string]*models.ValueSnapshot{key: {
			"2024-05-01": {TotalValue: 1000},
			"2024-05-02": {TotalValue: 1050},
		}},
	}
	ledger := &mockLedgerSource{
		transactions: map[string]map[string]map[string][]*models.LedgerTransaction{key: {
			"2024-05-01": {
				"cash": {{Type: types.TxCashIncome, Amount: 1000}},
			},
		}},
	}
	writer := &mockRecordWriter{}

	pipeline := usdOnlyPipeline(snapshots, ledger, writer)

	written, skipped, err := pipeline.ProcessScope(context.Background(), scope,
		daysBetween(day("2024-05-01"), day("2024-05-02")))
	require.NoError(t, err)
	assert.Equal(t, 2, written)
	assert.Zero(t, skipped)

	// Day one has no baseline: both returns zero, the deposit recorded.
	first := writer.byDay(scope, "2024-05-01").Reference()
	require.NotNil(t, first)
	assert.InDelta(t, -1000.0, first.TotalCashFlow, 1e-9)
	assert.Zero(t, first.RawDailyChangePercentage)
	assert.Zero(t, first.AdjustedDailyChangePercentage)

	// Day two gains 5% against day one's stored value.
	second := writer.byDay(scope, "2024-05-02").Reference()
	require.NotNil(t, second)
	assert.InDelta(t, 5.0, second.RawDailyChangePercentage, 1e-9)
	assert.InDelta(t, 5.0, second.AdjustedDailyChangePercentage, 1e-9)
	assert.InDelta(t, 0.05, second.DailyReturn, 1e-9)
}

func TestProcessScopeSkipsMissingSnapshots(t *testing.T) {
	scope := types.EntityScope{Kind: types.ScopeOverall, ID: "portfolio"}
	key := scope.Key()

	// The 2nd has no snapshot: the 3rd must compute against the 1st.
	snapshots := &mockSnapshotSource{
		entity: map[string]map[string]*models.ValueSnapshot{key: {
			"2024-05-01": {TotalValue: 1000},
			"2024-05-03": {TotalValue: 1020},
		}},
	}
	writer := &mockRecordWriter{}
	pipeline := usdOnlyPipeline(snapshots, &mockLedgerSource{}, writer)

	written, skipped, err := pipeline.ProcessScope(context.Background(), scope,
		daysBetween(day("2024-05-01"), day("2024-05-03")))
	require.NoError(t, err)
	assert.Equal(t, 2, written)
	assert.Equal(t, 1, skipped)

	third := writer.byDay(scope, "2024-05-03").Reference()
	require.NotNil(t, third)
	assert.InDelta(t, 2.0, third.AdjustedDailyChangePercentage, 1e-9)
}

func TestProcessScopeImpliedCashFlow(t *testing.T) {
	scope := types.EntityScope{Kind: types.ScopeAccount, ID: "ib-main"}
	key := scope.Key()

	snapshots := &mockSnapshotSource{
		entity: map[string]map[string]*models.ValueSnapshot{key: {
			"2024-05-01": {TotalValue: 4500},
			"2024-05-02": {TotalValue: 5000},
		}},
		assets: map[string]map[string][]*models.ValueSnapshot{key: {
			"2024-05-01": {{AssetKey: "AAPL", Units: 90, TotalValue: 4500}},
			// Ten units appeared with no ledger entry: implied buy at the
			// end-of-day price of 50.
			"2024-05-02": {{AssetKey: "AAPL", Units: 100, TotalValue: 5000}},
		}},
	}
	writer := &mockRecordWriter{}
	pipeline := usdOnlyPipeline(snapshots, &mockLedgerSource{}, writer)

	_, _, err := pipeline.ProcessScope(context.Background(), scope,
		daysBetween(day("2024-05-01"), day("2024-05-02")))
	require.NoError(t, err)

	second := writer.byDay(scope, "2024-05-02").Reference()
	require.NotNil(t, second)

	entry := second.AssetPerformance["AAPL"]
	require.NotNil(t, entry)
	assert.True(t, entry.ImpliedCashFlow)
	assert.InDelta(t, -500.0, entry.TotalCashFlow, 1e-9)
	// 4500 -> 5000 with 500 bought in: no actual performance.
	assert.InDelta(t, 0.0, entry.AdjustedDailyChangePercentage, 1e-9)

	// The entity-level flow is the sum of asset flows.
	assert.InDelta(t, -500.0, second.TotalCashFlow, 1e-9)
	assert.InDelta(t, 0.0, second.AdjustedDailyChangePercentage, 1e-9)
}

func TestRunProcessesScopesInParallel(t *testing.T) {
	scopeA := types.EntityScope{Kind: types.ScopeAccount, ID: "a"}
	scopeB := types.EntityScope{Kind: types.ScopeAccount, ID: "b"}

	snapshots := &mockSnapshotSource{
		scopes: []types.EntityScope{scopeA, scopeB},
		entity: map[string]map[string]*models.ValueSnapshot{
			scopeA.Key(): {"2024-05-01": {TotalValue: 100}},
			scopeB.Key(): {"2024-05-01": {TotalValue: 200}},
		},
	}
	writer := &mockRecordWriter{}
	pipeline := usdOnlyPipeline(snapshots, &mockLedgerSource{}, writer)

	summary, err := pipeline.Run(context.Background(), day("2024-05-01"), day("2024-05-01"))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.ScopesTotal)
	assert.Equal(t, 2, summary.RecordsWritten)
	assert.Zero(t, summary.Skipped)
	assert.NotEmpty(t, summary.RunID)
	assert.NotNil(t, writer.byDay(scopeA, "2024-05-01"))
	assert.NotNil(t, writer.byDay(scopeB, "2024-05-01"))
}

func TestRunPopulatesCurrencies(t *testing.T) {
	scope := types.EntityScope{Kind: types.ScopeAccount, ID: "ib-main"}
	key := scope.Key()

	snapshots := &mockSnapshotSource{
		scopes: []types.EntityScope{scope},
		entity: map[string]map[string]*models.ValueSnapshot{key: {
			"2024-05-01": {TotalValue: 1000},
		}},
	}
	writer := &mockRecordWriter{}

	source := &mapRateSource{rates: map[string]float64{"EUR:2024-05-01": 0.9}}
	converter := NewCurrencyConverter(source, testConverterConfig())
	pipeline := NewDailyPipeline(snapshots, &mockLedgerSource{}, writer, converter, DailyPipelineConfig{
		Currencies:        []types.Currency{types.CurrencyUSD, types.CurrencyEUR},
		MaxParallelScopes: 1,
	})

	_, err := pipeline.Run(context.Background(), day("2024-05-01"), day("2024-05-01"))
	require.NoError(t, err)

	record := writer.byDay(scope, "2024-05-01")
	require.NotNil(t, record)
	require.Contains(t, record.Currencies, types.CurrencyEUR)
	assert.InDelta(t, 900.0, record.Currencies[types.CurrencyEUR].TotalValue, 1e-9)
}
