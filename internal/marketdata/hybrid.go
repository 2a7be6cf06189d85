package marketdata

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rollwatch/rollwatch/internal/models"
	"github.com/rollwatch/rollwatch/internal/quotecache"
)

// HybridProvider reads the MT5 cache first; on a miss or stale entry it
// delegates to a configured fallback provider. Results keep their
// Source tag so callers can tell a live tick from a synthesized one.
type HybridProvider struct {
	primary  *MT5StrictProvider
	fallback Provider
}

// NewHybridProvider composes primary (held as a concrete
// *MT5StrictProvider — no interface indirection needed since it's always
// MT5-strict) with a
// fallback provider (mock or external-http).
func NewHybridProvider(cache *quotecache.Cache, ttl time.Duration, fallback Provider) *HybridProvider {
	return &HybridProvider{
		primary:  NewMT5StrictProvider(cache, ttl),
		fallback: fallback,
	}
}

func (h *HybridProvider) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	q, err := h.primary.GetQuote(ctx, symbol)
	if err == nil {
		return q, nil
	}
	return h.fallback.GetQuote(ctx, symbol)
}

func (h *HybridProvider) GetOptionChain(ctx context.Context, ticker string, expiration time.Time) ([]models.OptionQuote, error) {
	chain, err := h.primary.GetOptionChain(ctx, ticker, expiration)
	if err == nil && len(chain) > 0 {
		return chain, nil
	}
	return h.fallback.GetOptionChain(ctx, ticker, expiration)
}

func (h *HybridProvider) GetOptionQuote(ctx context.Context, ticker string, strike decimal.Decimal, side models.Side, expiration time.Time) (models.OptionQuote, error) {
	oq, err := h.primary.GetOptionQuote(ctx, ticker, strike, side, expiration)
	if err == nil {
		return oq, nil
	}
	return h.fallback.GetOptionQuote(ctx, ticker, strike, side, expiration)
}

func (h *HybridProvider) GetGreeks(ctx context.Context, ticker string, strike decimal.Decimal, side models.Side, expiration time.Time) (Greeks, error) {
	g, err := h.primary.GetGreeks(ctx, ticker, strike, side, expiration)
	if err == nil {
		return g, nil
	}
	return h.fallback.GetGreeks(ctx, ticker, strike, side, expiration)
}

func (h *HybridProvider) HealthCheck(ctx context.Context) Health {
	primary := h.primary.HealthCheck(ctx)
	if primary.Healthy {
		return primary
	}
	fallback := h.fallback.HealthCheck(ctx)
	return Health{
		Healthy: fallback.Healthy,
		Detail:  "mt5 cache empty, fallback reports: " + fallback.Detail,
	}
}
