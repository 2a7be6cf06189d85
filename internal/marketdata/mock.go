package marketdata

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rollwatch/rollwatch/internal/models"
)

// MockProvider returns deterministic-but-noisy data and never fails,
// for development and tests.
type MockProvider struct {
	// BasePrice seeds the deterministic walk; symbols hash onto distinct
	// but stable bands so repeated runs are comparable.
	BasePrice decimal.Decimal
}

// NewMockProvider builds a MockProvider with a sane default base price.
func NewMockProvider() *MockProvider {
	return &MockProvider{BasePrice: decimal.NewFromFloat(25)}
}

func (m *MockProvider) priceFor(symbol string, now time.Time) decimal.Decimal {
	hash := 0
	for _, c := range symbol {
		hash = hash*31 + int(c)
	}
	if hash < 0 {
		hash = -hash
	}
	wobble := math.Sin(float64(now.Unix())/600.0 + float64(hash%97))
	base := m.BasePrice.Add(decimal.NewFromInt(int64(hash % 40)))
	return base.Mul(decimal.NewFromFloat(1 + 0.01*wobble))
}

func (m *MockProvider) GetQuote(_ context.Context, symbol string) (models.Quote, error) {
	now := time.Now()
	price := m.priceFor(symbol, now)
	half := decimal.NewFromFloat(0.02)
	bid := price.Sub(half)
	ask := price.Add(half)
	return models.Quote{
		Symbol: symbol,
		Bid:    &bid,
		Ask:    &ask,
		Last:   &price,
		Ts:     now,
		Source: models.QuoteSourceFallback,
	}, nil
}

func (m *MockProvider) GetOptionChain(ctx context.Context, ticker string, expiration time.Time) ([]models.OptionQuote, error) {
	quote, err := m.GetQuote(ctx, ticker)
	if err != nil {
		return nil, err
	}
	var chain []models.OptionQuote
	for i := -2; i <= 2; i++ {
		strike := quote.Last.Add(decimal.NewFromInt(int64(i)))
		for _, side := range []models.Side{models.SideCall, models.SidePut} {
			oq, _ := m.GetOptionQuote(ctx, ticker, strike, side, expiration)
			chain = append(chain, oq)
		}
	}
	return chain, nil
}

func (m *MockProvider) GetOptionQuote(_ context.Context, ticker string, strike decimal.Decimal, side models.Side, expiration time.Time) (models.OptionQuote, error) {
	now := time.Now()
	theo := blackScholesPrice(m.priceFor(ticker, now), strike, daysBetween(now, expiration), defaultRiskFreeRate, defaultVolatility, side)
	half := maxDecimal(decimal.NewFromFloat(0.01), theo.Mul(decimal.NewFromFloat(0.02)))
	bid := theo.Sub(half)
	ask := theo.Add(half)
	return models.OptionQuote{
		Ticker:     ticker,
		Strike:     strike,
		Side:       side,
		Expiration: expiration,
		Bid:        &bid,
		Ask:        &ask,
		Last:       &theo,
		Ts:         now,
		Source:     models.QuoteSourceFallback,
	}, nil
}

func (m *MockProvider) GetGreeks(_ context.Context, ticker string, strike decimal.Decimal, side models.Side, expiration time.Time) (Greeks, error) {
	now := time.Now()
	price := m.priceFor(ticker, now)
	delta := blackScholesDelta(price, strike, daysBetween(now, expiration), defaultRiskFreeRate, defaultVolatility, side)
	return Greeks{Delta: delta}, nil
}

func (m *MockProvider) HealthCheck(_ context.Context) Health {
	return Health{Healthy: true, Detail: "mock provider always healthy"}
}
