package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/portfolio-performance/internal/models"
	"github.com/portfolio-performance/internal/types"
)

// LedgerRepository reads the transaction ledger and the end-of-day value
// snapshots from ClickHouse. Both are written by the ingestion service and
// read-only from the engine's side.
type LedgerRepository struct {
	db *ClickHouseDB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *ClickHouseDB) *LedgerRepository {
	return &LedgerRepository{
		db: db,
	}
}

// Scopes returns every entity scope with at least one snapshot in [from, to].
func (r *LedgerRepository) Scopes(ctx context.Context, from, to time.Time) ([]types.EntityScope, error) {
	query := `
		SELECT DISTINCT scope_kind, scope_id
		FROM value_snapshots
		WHERE snapshot_date >= ? AND snapshot_date <= ?
		ORDER BY scope_kind, scope_id
	`

	rows, err := r.db.Conn().Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query scopes: %w", err)
	}
	defer rows.Close()

	var scopes []types.EntityScope
	for rows.Next() {
		var kind, id string
		if err := rows.Scan(&kind, &id); err != nil {
			return nil, fmt.Errorf("failed to scan scope row: %w", err)
		}
		scopes = append(scopes, types.EntityScope{Kind: types.ScopeKind(kind), ID: id})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scope rows: %w", err)
	}

	return scopes, nil
}

// ScopeSnapshot returns the entity-level snapshot for one date, or nil when
// the date has no snapshot. Entity-level rows carry an empty asset key.
func (r *LedgerRepository) ScopeSnapshot(ctx context.Context, scope types.EntityScope, date time.Time) (*models.ValueSnapshot, error) {
	query := `
		SELECT units, total_value, total_investment, unrealized_pnl, done_pnl
		FROM value_snapshots
		WHERE scope_kind = ? AND scope_id = ? AND snapshot_date = ? AND asset_key = ''
		LIMIT 1
	`

	rows, err := r.db.Conn().Query(ctx, query, scope.Kind, scope.ID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query scope snapshot: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read scope snapshot: %w", err)
		}
		return nil, nil
	}

	snapshot := &models.ValueSnapshot{Scope: scope, Date: date}
	if err := rows.Scan(
		&snapshot.Units,
		&snapshot.TotalValue,
		&snapshot.TotalInvestment,
		&snapshot.UnrealizedPnL,
		&snapshot.DonePnL,
	); err != nil {
		return nil, fmt.Errorf("failed to scan scope snapshot: %w", err)
	}

	return snapshot, nil
}

// AssetSnapshots returns the per-asset snapshots under a scope for one date.
func (r *LedgerRepository) AssetSnapshots(ctx context.Context, scope types.EntityScope, date time.Time) ([]*models.ValueSnapshot, error) {
	query := `
		SELECT asset_key, units, total_value, total_investment, unrealized_pnl, done_pnl
		FROM value_snapshots
		WHERE scope_kind = ? AND scope_id = ? AND snapshot_date = ? AND asset_key != ''
		ORDER BY asset_key
	`

	rows, err := r.db.Conn().Query(ctx, query, scope.Kind, scope.ID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query asset snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.ValueSnapshot
	for rows.Next() {
		snapshot := &models.ValueSnapshot{Scope: scope, Date: date}
		if err := rows.Scan(
			&snapshot.AssetKey,
			&snapshot.Units,
			&snapshot.TotalValue,
			&snapshot.TotalInvestment,
			&snapshot.UnrealizedPnL,
			&snapshot.DonePnL,
		); err != nil {
			return nil, fmt.Errorf("failed to scan asset snapshot: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate asset snapshots: %w", err)
	}

	return snapshots, nil
}

// TransactionsByAsset returns a scope's ledger transactions for one date,
// grouped by asset key, each group in recorded order.
func (r *LedgerRepository) TransactionsByAsset(ctx context.Context, scope types.EntityScope, date time.Time) (map[string][]*models.LedgerTransaction, error) {
	query := `
		SELECT asset_key, type, amount, price
		FROM ledger_transactions
		WHERE scope_kind = ? AND scope_id = ? AND tx_date = ?
		ORDER BY asset_key, recorded_at
	`

	rows, err := r.db.Conn().Query(ctx, query, scope.Kind, scope.ID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger transactions: %w", err)
	}
	defer rows.Close()

	grouped := make(map[string][]*models.LedgerTransaction)
	for rows.Next() {
		tx := &models.LedgerTransaction{Date: date}
		var txType string
		if err := rows.Scan(&tx.AssetKey, &txType, &tx.Amount, &tx.Price); err != nil {
			return nil, fmt.Errorf("failed to scan ledger transaction: %w", err)
		}
		tx.Type = types.TransactionType(txType)
		grouped[tx.AssetKey] = append(grouped[tx.AssetKey], tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger transactions: %w", err)
	}

	return grouped, nil
}
