// Package errors defines the categorized error taxonomy of the engine.
//
// A missing previous-day baseline is deliberately absent here: it is day-one
// behavior (both returns are zero), not an error condition.
package errors

import (
	"errors"
	"fmt"

	"github.com/portfolio-performance/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryRates represents exchange-rate lookup failures
	CategoryRates ErrorCategory = "rates"
	// CategoryConsistency represents verifier discrepancies
	CategoryConsistency ErrorCategory = "consistency"
	// CategoryMalformed represents structurally invalid persisted records
	CategoryMalformed ErrorCategory = "malformed"
	// CategoryStore represents persistence-layer failures
	CategoryStore ErrorCategory = "store"
	// CategoryValidation represents invalid engine input
	CategoryValidation ErrorCategory = "validation"
)

// CategorizedError represents an error with category and code
type CategorizedError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Details  map[string]interface{}
	Cause    error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewRateLookupExhaustedError reports that no exchange rate was found for a
// currency/date after the bounded fallback probes. The currency/date is
// skipped and reported; other currencies proceed.
func NewRateLookupExhaustedError(currency string, date string, attempts int) *CategorizedError {
	return &CategorizedError{
		Category: CategoryRates,
		Code:     "RATE_LOOKUP_EXHAUSTED",
		Message:  fmt.Sprintf("no exchange rate for %s on %s after %d attempts", currency, date, attempts),
		Details: map[string]interface{}{
			"currency": currency,
			"date":     date,
			"attempts": attempts,
		},
	}
}

// NewRateOutOfBandError reports a rate rejected by the sanity check.
func NewRateOutOfBandError(currency string, date string, rate float64) *CategorizedError {
	return &CategorizedError{
		Category: CategoryRates,
		Code:     "RATE_OUT_OF_BAND",
		Message:  fmt.Sprintf("exchange rate %g for %s on %s outside plausible band", rate, currency, date),
		Details: map[string]interface{}{
			"currency": currency,
			"date":     date,
			"rate":     rate,
		},
	}
}

// NewCashFlowMismatchError reports a divergence between an entity-level cash
// flow and the sum of its asset-level cash flows. Flagged for correction,
// never fatal.
func NewCashFlowMismatchError(scope string, date string, stored, derived float64) *CategorizedError {
	return &CategorizedError{
		Category: CategoryConsistency,
		Code:     "CASH_FLOW_MISMATCH",
		Message:  fmt.Sprintf("cash flow mismatch for %s on %s: stored=%g derived=%g", scope, date, stored, derived),
		Details: map[string]interface{}{
			"scope":   scope,
			"date":    date,
			"stored":  stored,
			"derived": derived,
		},
	}
}

// NewMalformedRecordError reports a record whose required numeric fields are
// missing or non-numeric. Aborts the current correction batch.
func NewMalformedRecordError(scope string, date string, field string) *CategorizedError {
	return &CategorizedError{
		Category: CategoryMalformed,
		Code:     "MALFORMED_RECORD",
		Message:  fmt.Sprintf("malformed record for %s on %s: field %q", scope, date, field),
		Details: map[string]interface{}{
			"scope": scope,
			"date":  date,
			"field": field,
		},
	}
}

// NewStoreError wraps a persistence-layer failure.
func NewStoreError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryStore,
		Code:     "STORE_ERROR",
		Message:  fmt.Sprintf("store error during %s", operation),
		Cause:    cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewValidationError reports invalid engine input.
func NewValidationError(field string, reason string) *CategorizedError {
	return &CategorizedError{
		Category: CategoryValidation,
		Code:     "INVALID_INPUT",
		Message:  fmt.Sprintf("invalid input %q: %s", field, reason),
		Details: map[string]interface{}{
			"field":  field,
			"reason": reason,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if errors.As(err, &svcErr) {
		return &CategorizedError{
			Category: CategoryStore,
			Code:     svcErr.Code,
			Message:  svcErr.Message,
			Details:  svcErr.Details,
		}
	}

	return NewStoreError("unknown operation", err)
}

// IsFatal reports whether an error must abort the run. Only structural
// failures (malformed records) are fatal; rate and consistency conditions
// are isolated per date/currency.
func IsFatal(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.Category == CategoryMalformed
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.Category == CategoryStore
}

// IsCode reports whether err carries the given engine error code.
func IsCode(err error, code string) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Code == code
}
