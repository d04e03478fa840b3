package service

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/portfolio-performance/internal/errors"
	"github.com/portfolio-performance/internal/logging"
	"github.com/portfolio-performance/internal/models"
	"github.com/portfolio-performance/internal/rates"
	"github.com/portfolio-performance/internal/types"
)

// CurrencyConverterConfig holds converter configuration
type CurrencyConverterConfig struct {
	// MaxFallbackDays bounds how many prior days a lookup probes to cover
	// non-trading days
	MaxFallbackDays int
	// FallbackDelay is the pause between fallback probes
	FallbackDelay time.Duration
	// SanityBand rejects rates outside [1/band, band] versus the reference
	// currency; catches same-value-in-all-currencies corruption
	SanityBand float64
}

// DefaultCurrencyConverterConfig returns the default converter configuration
func DefaultCurrencyConverterConfig() CurrencyConverterConfig {
	return CurrencyConverterConfig{
		MaxFallbackDays: 7,
		FallbackDelay:   200 * time.Millisecond,
		SanityBand:      20.0,
	}
}

// CurrencyConverter derives same-day record views in every tracked currency
// from the reference-currency view.
type CurrencyConverter struct {
	rates  rates.Source
	config CurrencyConverterConfig
}

// NewCurrencyConverter creates a new currency converter
func NewCurrencyConverter(source rates.Source, config CurrencyConverterConfig) *CurrencyConverter {
	if config.MaxFallbackDays <= 0 {
		config.MaxFallbackDays = 1
	}
	if config.SanityBand <= 1 {
		config.SanityBand = DefaultCurrencyConverterConfig().SanityBand
	}
	return &CurrencyConverter{rates: source, config: config}
}

// LookupRate resolves the exchange rate for a currency on a date, retrying
// progressively earlier dates up to the configured attempt bound with a
// short delay between probes. Exhaustion yields RATE_LOOKUP_EXHAUSTED; the
// caller skips that currency/date and reports it, other currencies proceed.
func (c *CurrencyConverter) LookupRate(ctx context.Context, currency types.Currency, date time.Time) (float64, error) {
	if currency == types.ReferenceCurrency {
		return 1.0, nil
	}

	attempts := c.config.MaxFallbackDays + 1
	for i := 0; i < attempts; i++ {
		lookupDate := date.AddDate(0, 0, -i)

		value, err := c.rates.RateOn(ctx, currency, lookupDate)
		if err == nil {
			if !c.withinSanityBand(value) {
				return 0, errors.NewRateOutOfBandError(string(currency), types.DayKey(lookupDate), value)
			}
			return value, nil
		}
		if !stderrors.Is(err, rates.ErrRateNotFound) {
			return 0, err
		}

		if i < attempts-1 {
			select {
			case <-time.After(c.config.FallbackDelay):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
	}

	return 0, errors.NewRateLookupExhaustedError(string(currency), types.DayKey(date), attempts)
}

// withinSanityBand reports whether a rate implies a plausible value ratio
// versus the reference currency.
func (c *CurrencyConverter) withinSanityBand(value float64) bool {
	return value > 1/c.config.SanityBand && value < c.config.SanityBand
}

// ConvertPerformance produces one currency's view from the reference view.
// Absolute fields multiply by the rate; percentage and ratio fields are
// currency-invariant and copy unchanged. Asset entries convert the same way.
func (c *CurrencyConverter) ConvertPerformance(ref *models.CurrencyPerformance, exchangeRate float64) *models.CurrencyPerformance {
	out := &models.CurrencyPerformance{
		TotalValue:                    ref.TotalValue * exchangeRate,
		TotalInvestment:               ref.TotalInvestment * exchangeRate,
		TotalCashFlow:                 ref.TotalCashFlow * exchangeRate,
		RawDailyChangePercentage:      ref.RawDailyChangePercentage,
		AdjustedDailyChangePercentage: ref.AdjustedDailyChangePercentage,
		DailyReturn:                   ref.DailyReturn,
		UnrealizedPnL:                 ref.UnrealizedPnL * exchangeRate,
		DoneProfitAndLoss:             ref.DoneProfitAndLoss * exchangeRate,
	}

	if ref.AssetPerformance != nil {
		out.AssetPerformance = make(map[string]*models.AssetPerformanceEntry, len(ref.AssetPerformance))
		for key, entry := range ref.AssetPerformance {
			out.AssetPerformance[key] = &models.AssetPerformanceEntry{
				Units:                         entry.Units,
				TotalValue:                    entry.TotalValue * exchangeRate,
				TotalInvestment:               entry.TotalInvestment * exchangeRate,
				TotalCashFlow:                 entry.TotalCashFlow * exchangeRate,
				RawDailyChangePercentage:      entry.RawDailyChangePercentage,
				AdjustedDailyChangePercentage: entry.AdjustedDailyChangePercentage,
				UnrealizedProfitAndLoss:       entry.UnrealizedProfitAndLoss * exchangeRate,
				DoneProfitAndLoss:             entry.DoneProfitAndLoss * exchangeRate,
				ImpliedCashFlow:               entry.ImpliedCashFlow,
			}
		}
	}

	return out
}

// PopulateCurrencies fills a record's non-reference currency views from its
// reference view. A currency whose rate lookup fails is skipped and the
// condition returned, never silently zeroed; remaining currencies proceed.
func (c *CurrencyConverter) PopulateCurrencies(ctx context.Context, record *models.DailyPerformanceRecord, currencies []types.Currency) []error {
	logger := logging.FromContext(ctx)

	ref := record.Reference()
	if ref == nil {
		return []error{errors.NewMalformedRecordError(record.Scope.Key(), types.DayKey(record.Date), "currencies."+string(types.ReferenceCurrency))}
	}

	var skipped []error
	for _, currency := range currencies {
		if currency == types.ReferenceCurrency {
			continue
		}

		exchangeRate, err := c.LookupRate(ctx, currency, record.Date)
		if err != nil {
			logger.WithScope(record.Scope.Key(), types.DayKey(record.Date), string(currency)).
				WithError(err).
				Warn("Skipping currency conversion")
			skipped = append(skipped, err)
			continue
		}

		record.Currencies[currency] = c.ConvertPerformance(ref, exchangeRate)
	}

	return skipped
}
