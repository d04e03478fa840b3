// Package types provides common type definitions for the performance engine.
package types

import (
	"fmt"
	"time"
)

// Currency represents a tracked reporting currency
type Currency string

const (
	// CurrencyUSD is the reference currency; all snapshots arrive in USD
	CurrencyUSD Currency = "USD"
	// CurrencyEUR represents euro-denominated reporting
	CurrencyEUR Currency = "EUR"
	// CurrencyGBP represents pound-denominated reporting
	CurrencyGBP Currency = "GBP"
	// CurrencyILS represents shekel-denominated reporting
	CurrencyILS Currency = "ILS"
)

// ReferenceCurrency is the canonical currency snapshots are recorded in.
const ReferenceCurrency = CurrencyUSD

// AllCurrencies returns the fixed set of tracked currencies,
// reference currency first.
func AllCurrencies() []Currency {
	return []Currency{CurrencyUSD, CurrencyEUR, CurrencyGBP, CurrencyILS}
}

// ScopeKind represents the level an entity scope aggregates at
type ScopeKind string

const (
	// ScopeAsset represents a single holding
	ScopeAsset ScopeKind = "asset"
	// ScopeAccount represents one brokerage/bank account
	ScopeAccount ScopeKind = "account"
	// ScopeOverall represents the whole portfolio
	ScopeOverall ScopeKind = "overall"
)

// EntityScope identifies the entity a record belongs to.
// Scope is the unit of write exclusivity: no two processes mutate
// records of the same scope concurrently.
type EntityScope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id"`
}

// Key returns the storage key for the scope, e.g. "account:ib-main"
func (s EntityScope) Key() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.ID)
}

func (s EntityScope) String() string {
	return s.Key()
}

// TransactionType classifies a ledger transaction for cash-flow attribution
type TransactionType string

const (
	// TxBuy is a purchase; contributes -amount*price (capital added)
	TxBuy TransactionType = "buy"
	// TxSell is a disposal; contributes +amount*price (capital removed)
	TxSell TransactionType = "sell"
	// TxCashIncome is a cash injection; contributes -amount
	TxCashIncome TransactionType = "cash_income"
	// TxCashOutcome is a cash removal; contributes +amount
	TxCashOutcome TransactionType = "cash_outcome"
)

// PeriodType represents the granularity of a consolidated record
type PeriodType string

const (
	// PeriodMonth consolidates the days of one calendar month
	PeriodMonth PeriodType = "month"
	// PeriodYear consolidates the months of one calendar year
	PeriodYear PeriodType = "year"
)

// MonthKey formats a date as a monthly period key, e.g. "2024-05"
func MonthKey(date time.Time) string {
	return date.Format("2006-01")
}

// YearKey formats a date as a yearly period key, e.g. "2024"
func YearKey(date time.Time) string {
	return date.Format("2006")
}

// DayKey formats a date as the canonical daily key, e.g. "2024-05-17"
func DayKey(date time.Time) string {
	return date.Format("2006-01-02")
}

// RunMode selects whether the verifier persists corrections
type RunMode string

const (
	// ModeDryRun reports proposed corrections without writing
	ModeDryRun RunMode = "dry-run"
	// ModeFix persists corrections and reports counts
	ModeFix RunMode = "fix"
)

// RunStatus represents the lifecycle state of an engine run
type RunStatus string

const (
	// RunStatusInProgress represents a run currently executing
	RunStatusInProgress RunStatus = "in_progress"
	// RunStatusCompleted represents a successfully completed run
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed represents a run aborted by a structural failure
	RunStatusFailed RunStatus = "failed"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
