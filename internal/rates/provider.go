// Package rates provides exchange-rate lookup against an external source.
package rates

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/portfolio-performance/internal/types"
)

// ErrRateNotFound reports that the source has no rate for the requested
// currency and date. Callers fall back to earlier dates.
var ErrRateNotFound = errors.New("exchange rate not found")

// Source answers exact-date rate lookups. A rate converts one reference
// currency unit into the requested currency.
type Source interface {
	RateOn(ctx context.Context, currency types.Currency, date time.Time) (float64, error)
}

// Provider wraps a Source with a rate limiter so fallback probing across
// prior dates never floods the underlying provider, and lookups suspend
// per call without blocking other scopes.
type Provider struct {
	source  Source
	limiter *rate.Limiter
}

// NewProvider creates a rate provider bounded to lookupsPerSecond.
func NewProvider(source Source, lookupsPerSecond float64) *Provider {
	if lookupsPerSecond <= 0 {
		lookupsPerSecond = 1
	}
	return &Provider{
		source:  source,
		limiter: rate.NewLimiter(rate.Limit(lookupsPerSecond), 1),
	}
}

// RateOn looks up the rate for an exact date, waiting on the limiter first.
func (p *Provider) RateOn(ctx context.Context, currency types.Currency, date time.Time) (float64, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return p.source.RateOn(ctx, currency, date)
}
