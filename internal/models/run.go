package models

import (
	"time"

	"github.com/portfolio-performance/internal/types"
)

// EngineRun records one execution of the daily pipeline or the verifier.
type EngineRun struct {
	ID             string          `json:"id" db:"id"`
	Kind           string          `json:"kind" db:"kind"` // "daily", "consolidate", "verify"
	Mode           types.RunMode   `json:"mode" db:"mode"`
	Status         types.RunStatus `json:"status" db:"status"`
	StartedAt      time.Time       `json:"startedAt" db:"started_at"`
	FinishedAt     *time.Time      `json:"finishedAt,omitempty" db:"finished_at"`
	ScopesTotal    int             `json:"scopesTotal" db:"scopes_total"`
	RecordsWritten int             `json:"recordsWritten" db:"records_written"`
	Corrected      int             `json:"corrected" db:"corrected"`
	Unchanged      int             `json:"unchanged" db:"unchanged"`
	Skipped        int             `json:"skipped" db:"skipped"`
	Error          string          `json:"error,omitempty" db:"error"`
}
