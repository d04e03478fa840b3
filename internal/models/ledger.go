package models

import (
	"time"

	"github.com/portfolio-performance/internal/types"
)

// LedgerTransaction is one row of the external transaction ledger, already
// normalized by the ingestion service. Amount and Price are always positive;
// the sign convention is applied during cash-flow attribution.
type LedgerTransaction struct {
	Date     time.Time             `json:"date" ch:"date"`
	AssetKey string                `json:"assetKey" ch:"asset_key"`
	Type     types.TransactionType `json:"type" ch:"type"`
	Amount   float64               `json:"amount" ch:"amount"`
	Price    float64               `json:"price" ch:"price"`
}

// ValueSnapshot is an end-of-day market value observation for one scope in
// the reference currency. Asset-level snapshots carry unit counts; account
// and overall snapshots do not.
type ValueSnapshot struct {
	Scope           types.EntityScope `json:"scope" ch:"scope"`
	Date            time.Time         `json:"date" ch:"date"`
	AssetKey        string            `json:"assetKey,omitempty" ch:"asset_key"`
	Units           float64           `json:"units,omitempty" ch:"units"`
	TotalValue      float64           `json:"totalValue" ch:"total_value"`
	TotalInvestment float64           `json:"totalInvestment" ch:"total_investment"`
	UnrealizedPnL   float64           `json:"unrealizedPnL" ch:"unrealized_pnl"`
	DonePnL         float64           `json:"donePnL" ch:"done_pnl"`
}
