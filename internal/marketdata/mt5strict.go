package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rollwatch/rollwatch/internal/models"
	"github.com/rollwatch/rollwatch/internal/quotecache"
)

// MT5StrictProvider returns only cache-fresh quotes pushed by the MT5
// bridge; anything missing or stale is market-data-unavailable rather
// than synthesized.
type MT5StrictProvider struct {
	cache *quotecache.Cache
	ttl   time.Duration
}

// NewMT5StrictProvider builds a strict provider reading from cache with
// the given freshness window.
func NewMT5StrictProvider(cache *quotecache.Cache, ttl time.Duration) *MT5StrictProvider {
	return &MT5StrictProvider{cache: cache, ttl: ttl}
}

func (p *MT5StrictProvider) GetQuote(_ context.Context, symbol string) (models.Quote, error) {
	q, ok := p.cache.GetLatestQuote(symbol, p.ttl, time.Now())
	if !ok {
		return models.Quote{}, errUnavailable(fmt.Sprintf("no fresh MT5 quote for %s", symbol))
	}
	return q, nil
}

func (p *MT5StrictProvider) GetOptionChain(_ context.Context, ticker string, expiration time.Time) ([]models.OptionQuote, error) {
	chain := p.cache.FilterOptionQuotes(ticker, models.SideCall, []time.Time{expiration}, decimal.Zero, decimal.NewFromInt(1_000_000))
	puts := p.cache.FilterOptionQuotes(ticker, models.SidePut, []time.Time{expiration}, decimal.Zero, decimal.NewFromInt(1_000_000))
	chain = append(chain, puts...)
	if len(chain) == 0 {
		return nil, errUnavailable(fmt.Sprintf("no fresh MT5 option chain for %s", ticker))
	}
	return chain, nil
}

func (p *MT5StrictProvider) GetOptionQuote(_ context.Context, ticker string, strike decimal.Decimal, side models.Side, expiration time.Time) (models.OptionQuote, error) {
	oq, ok := p.cache.GetLatestOptionQuote(ticker, strike, side, expiration, p.ttl, time.Now())
	if !ok {
		return models.OptionQuote{}, errUnavailable(fmt.Sprintf("no fresh MT5 option quote for %s", ticker))
	}
	return oq, nil
}

func (p *MT5StrictProvider) GetGreeks(_ context.Context, ticker string, strike decimal.Decimal, side models.Side, expiration time.Time) (Greeks, error) {
	oq, ok := p.cache.GetLatestOptionQuote(ticker, strike, side, expiration, p.ttl, time.Now())
	if !ok || oq.Delta == nil {
		return Greeks{}, errUnavailable(fmt.Sprintf("no fresh MT5 greeks for %s", ticker))
	}
	return Greeks{Delta: *oq.Delta}, nil
}

func (p *MT5StrictProvider) HealthCheck(_ context.Context) Health {
	return Health{Healthy: true, Detail: "mt5-strict reads only cached bridge data"}
}
