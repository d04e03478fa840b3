package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorizedError(t *testing.T) {
	t.Run("message includes code and cause", func(t *testing.T) {
		cause := stderrors.New("connection refused")
		err := NewStoreError("upsert daily record", cause)

		assert.Contains(t, err.Error(), "STORE_ERROR")
		assert.Contains(t, err.Error(), "connection refused")
		assert.ErrorIs(t, err, cause)
	})

	t.Run("wrapping preserves the category", func(t *testing.T) {
		inner := NewMalformedRecordError("account:ib-main", "2024-05-17", "totalValue")
		wrapped := fmt.Errorf("verify scope: %w", inner)

		assert.True(t, IsFatal(wrapped))
		assert.True(t, IsCode(wrapped, "MALFORMED_RECORD"))
	})

	t.Run("service error conversion keeps details", func(t *testing.T) {
		err := NewRateLookupExhaustedError("EUR", "2024-05-17", 8)

		svc := err.ToServiceError()
		assert.Equal(t, "RATE_LOOKUP_EXHAUSTED", svc.Code)
		assert.Equal(t, 8, svc.Details["attempts"])
	})
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(NewMalformedRecordError("account:a", "2024-05-17", "totalValue")))

	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(NewRateLookupExhaustedError("EUR", "2024-05-17", 8)))
	assert.False(t, IsFatal(NewCashFlowMismatchError("account:a", "2024-05-17", -100, -80)))
	assert.False(t, IsFatal(NewStoreError("list scopes", stderrors.New("timeout"))))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewStoreError("upsert", stderrors.New("timeout"))))
	assert.True(t, IsRetryable(stderrors.New("plain failure")), "uncategorized errors default to store")

	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(NewValidationError("monthKey", "not a month")))
	assert.False(t, IsRetryable(NewRateOutOfBandError("ILS", "2024-05-17", 250)))
}

func TestCategorize(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, Categorize(nil))
	})

	t.Run("plain errors become store errors", func(t *testing.T) {
		catErr := Categorize(stderrors.New("boom"))
		require.NotNil(t, catErr)
		assert.Equal(t, CategoryStore, catErr.Category)
		assert.Equal(t, "STORE_ERROR", catErr.Code)
	})
}
