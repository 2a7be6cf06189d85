// Package marketdata implements the market-data Provider chain: a
// single interface with four selectable variants (mock, external-HTTP
// priced via Black-Scholes, MT5-strict, and a hybrid that composes the
// other two). Chain selection happens once, at startup, from
// configuration — there is no runtime switching beyond the interface
// itself.
package marketdata

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rollwatch/rollwatch/internal/apperr"
	"github.com/rollwatch/rollwatch/internal/models"
)

// Greeks carries the sensitivity measures the roll calculator and rule
// evaluator consume on a best-effort basis.
type Greeks struct {
	Delta decimal.Decimal
	Gamma decimal.Decimal
	Theta decimal.Decimal
	Vega  decimal.Decimal
}

// Health is the result of a provider's health_check.
type Health struct {
	Healthy bool
	Detail  string
}

// Provider is the capability every market-data backend implements.
type Provider interface {
	GetQuote(ctx context.Context, symbol string) (models.Quote, error)
	GetOptionChain(ctx context.Context, ticker string, expiration time.Time) ([]models.OptionQuote, error)
	GetOptionQuote(ctx context.Context, ticker string, strike decimal.Decimal, side models.Side, expiration time.Time) (models.OptionQuote, error)
	GetGreeks(ctx context.Context, ticker string, strike decimal.Decimal, side models.Side, expiration time.Time) (Greeks, error)
	HealthCheck(ctx context.Context) Health
}

// errUnavailable builds the apperr.CodeMarketDataUnavailable error a
// provider returns when it has no fresh data.
func errUnavailable(detail string) error {
	return apperr.New(apperr.CodeMarketDataUnavailable, detail)
}
