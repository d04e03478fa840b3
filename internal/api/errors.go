package api

import (
	"encoding/json"
	"net/http"

	"github.com/portfolio-performance/internal/errors"
	"github.com/portfolio-performance/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// Common error codes
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	_ = json.NewEncoder(w).Encode(response) // nolint:errcheck // best effort
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data) // nolint:errcheck // best effort
	}
}

// respondEngineError maps a categorized engine error onto an HTTP response.
func respondEngineError(w http.ResponseWriter, err error) {
	catErr := errors.Categorize(err)

	status := http.StatusInternalServerError
	switch catErr.Category {
	case errors.CategoryValidation:
		status = http.StatusBadRequest
	case errors.CategoryRates, errors.CategoryStore:
		status = http.StatusServiceUnavailable
	}

	respondError(w, status, catErr.Code, catErr.Message, catErr.Details)
}
