package rollcalc

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollwatch/rollwatch/internal/apperr"
	"github.com/rollwatch/rollwatch/internal/marketdata"
	"github.com/rollwatch/rollwatch/internal/models"
	"github.com/rollwatch/rollwatch/internal/quotecache"
)

// stubProvider returns a fixed option premium, or errors when told to,
// so the fallback paths are deterministic.
type stubProvider struct {
	premium decimal.Decimal
	fail    bool
}

func (s *stubProvider) GetQuote(_ context.Context, symbol string) (models.Quote, error) {
	if s.fail {
		return models.Quote{}, apperr.New(apperr.CodeMarketDataUnavailable, "stub has no quote")
	}
	price := decimal.NewFromInt(62)
	return models.Quote{Symbol: symbol, Last: &price, Ts: time.Now(), Source: models.QuoteSourceFallback}, nil
}

func (s *stubProvider) GetOptionChain(context.Context, string, time.Time) ([]models.OptionQuote, error) {
	return nil, nil
}

func (s *stubProvider) GetOptionQuote(_ context.Context, ticker string, strike decimal.Decimal, side models.Side, expiration time.Time) (models.OptionQuote, error) {
	if s.fail {
		return models.OptionQuote{}, apperr.New(apperr.CodeMarketDataUnavailable, "stub has no option quote")
	}
	return models.OptionQuote{
		Ticker: ticker, Strike: strike, Side: side, Expiration: expiration,
		Last: &s.premium, Ts: time.Now(), Source: models.QuoteSourceFallback,
	}, nil
}

func (s *stubProvider) GetGreeks(context.Context, string, decimal.Decimal, models.Side, time.Time) (marketdata.Greeks, error) {
	return marketdata.Greeks{}, nil
}

func (s *stubProvider) HealthCheck(context.Context) marketdata.Health {
	return marketdata.Health{Healthy: !s.fail}
}

func callPosition(strike int64, expiration time.Time) models.Position {
	return models.Position{
		ID: "pos-1", AccountID: "acct-1", AssetID: "VALE3", Side: models.SideCall,
		Strike: decimal.NewFromInt(strike), Expiration: expiration,
		AvgPremium: decimal.NewFromFloat(1.5), Status: models.PositionOpen,
	}
}

func defaultParams() Params {
	return Params{
		OTMPctLow:  decimal.NewFromFloat(0.02),
		OTMPctHigh: decimal.NewFromFloat(0.08),
		DTEMin:     15,
		DTEMax:     60,
	}
}

func seedUnderlying(c *quotecache.Cache, now time.Time, last float64) {
	price := decimal.NewFromFloat(last)
	c.UpsertQuotes([]quotecache.QuoteRow{{Symbol: "VALE3", Last: &price, Ts: &now}}, now)
}

func TestCalculate_NoFreshDataEmitsNothing(t *testing.T) {
	cache := quotecache.New(10 * time.Second)
	now := time.Date(2026, 8, 3, 14, 0, 0, 0, time.UTC)

	result := Calculate(context.Background(), cache, &stubProvider{fail: true}, "VALE3",
		callPosition(60, now.AddDate(0, 0, 10)), defaultParams(), now)

	assert.Nil(t, result.UnderlyingPrice)
	assert.Empty(t, result.Suggestions)
}

func TestCalculate_NoBuybackMidEmitsMetricsOnly(t *testing.T) {
	cache := quotecache.New(10 * time.Second)
	now := time.Date(2026, 8, 3, 14, 0, 0, 0, time.UTC)
	seedUnderlying(cache, now, 62.0)

	// Provider fails for option quotes, and the current leg isn't cached,
	// so there is no buy-back price to net against.
	providerNoOptions := &stubProvider{fail: true}
	price := decimal.NewFromInt(62)
	providerWithQuoteOnly := &quoteOnlyProvider{inner: providerNoOptions, last: price}

	result := Calculate(context.Background(), cache, providerWithQuoteOnly, "VALE3",
		callPosition(60, now.AddDate(0, 0, 10)), defaultParams(), now)

	require.NotNil(t, result.UnderlyingPrice)
	assert.Nil(t, result.BuybackMid)
	assert.Empty(t, result.Suggestions)
}

// quoteOnlyProvider serves underlying quotes but no option markets.
type quoteOnlyProvider struct {
	inner *stubProvider
	last  decimal.Decimal
}

func (q *quoteOnlyProvider) GetQuote(_ context.Context, symbol string) (models.Quote, error) {
	return models.Quote{Symbol: symbol, Last: &q.last, Ts: time.Now(), Source: models.QuoteSourceFallback}, nil
}

func (q *quoteOnlyProvider) GetOptionChain(ctx context.Context, ticker string, exp time.Time) ([]models.OptionQuote, error) {
	return q.inner.GetOptionChain(ctx, ticker, exp)
}

func (q *quoteOnlyProvider) GetOptionQuote(ctx context.Context, ticker string, strike decimal.Decimal, side models.Side, exp time.Time) (models.OptionQuote, error) {
	return q.inner.GetOptionQuote(ctx, ticker, strike, side, exp)
}

func (q *quoteOnlyProvider) GetGreeks(ctx context.Context, ticker string, strike decimal.Decimal, side models.Side, exp time.Time) (marketdata.Greeks, error) {
	return q.inner.GetGreeks(ctx, ticker, strike, side, exp)
}

func (q *quoteOnlyProvider) HealthCheck(ctx context.Context) marketdata.Health {
	return q.inner.HealthCheck(ctx)
}

func TestCalculate_RanksCachedCandidatesByScore(t *testing.T) {
	cache := quotecache.New(10 * time.Second)
	now := time.Date(2026, 8, 3, 14, 0, 0, 0, time.UTC)
	seedUnderlying(cache, now, 62.0)

	exp := thirdFriday(2026, 9) // within the 15-60 DTE band from Aug 3
	currentExp := now.AddDate(0, 0, 10)

	buybackBid := decimal.NewFromFloat(0.40)
	buybackAsk := decimal.NewFromFloat(0.60)
	richBid := decimal.NewFromFloat(1.40)
	richAsk := decimal.NewFromFloat(1.60)
	thinBid := decimal.NewFromFloat(0.70)
	thinAsk := decimal.NewFromFloat(0.90)

	cache.UpsertOptionQuotes([]quotecache.OptionQuoteRow{
		// current leg, used for the buy-back mid (0.50)
		{Ticker: "VALE3", Strike: decimal.NewFromInt(60), Side: models.SideCall, Expiration: currentExp, Bid: &buybackBid, Ask: &buybackAsk, Ts: &now},
		// candidates within the 2-8% OTM band of a 62 underlying
		{Ticker: "VALE3", Strike: decimal.NewFromInt(64), Side: models.SideCall, Expiration: exp, Bid: &richBid, Ask: &richAsk, Ts: &now},
		{Ticker: "VALE3", Strike: decimal.NewFromInt(66), Side: models.SideCall, Expiration: exp, Bid: &thinBid, Ask: &thinAsk, Ts: &now},
	}, now)

	result := Calculate(context.Background(), cache, &stubProvider{fail: true}, "VALE3",
		callPosition(60, currentExp), defaultParams(), now)

	require.NotNil(t, result.BuybackMid)
	assert.True(t, result.BuybackMid.Equal(decimal.NewFromFloat(0.50)))
	require.Len(t, result.Suggestions, 2)

	best := result.Suggestions[0]
	assert.True(t, best.Strike.Equal(decimal.NewFromInt(64)), "richer net credit should rank first")
	assert.True(t, best.NetCredit.Equal(decimal.NewFromFloat(1.00)))
	assert.True(t, best.Score.GreaterThan(result.Suggestions[1].Score))
	assert.True(t, best.FromMT5)
}

func TestCalculate_TruncatesToFiveSuggestions(t *testing.T) {
	cache := quotecache.New(10 * time.Second)
	now := time.Date(2026, 8, 3, 14, 0, 0, 0, time.UTC)
	seedUnderlying(cache, now, 62.0)

	exp := thirdFriday(2026, 9)
	currentExp := now.AddDate(0, 0, 10)

	bid := decimal.NewFromFloat(0.40)
	ask := decimal.NewFromFloat(0.60)
	rows := []quotecache.OptionQuoteRow{
		{Ticker: "VALE3", Strike: decimal.NewFromInt(60), Side: models.SideCall, Expiration: currentExp, Bid: &bid, Ask: &ask, Ts: &now},
	}
	for _, strike := range []float64{63.5, 64, 64.5, 65, 65.5, 66, 66.5} {
		b := decimal.NewFromFloat(0.90)
		a := decimal.NewFromFloat(1.10)
		rows = append(rows, quotecache.OptionQuoteRow{
			Ticker: "VALE3", Strike: decimal.NewFromFloat(strike), Side: models.SideCall,
			Expiration: exp, Bid: &b, Ask: &a, Ts: &now,
		})
	}
	cache.UpsertOptionQuotes(rows, now)

	result := Calculate(context.Background(), cache, &stubProvider{fail: true}, "VALE3",
		callPosition(60, currentExp), defaultParams(), now)
	assert.Len(t, result.Suggestions, 5)
}

func TestCalculate_SynthesizesWhenCacheHasNoCandidates(t *testing.T) {
	cache := quotecache.New(10 * time.Second)
	now := time.Date(2026, 8, 3, 14, 0, 0, 0, time.UTC)
	seedUnderlying(cache, now, 62.0)

	currentExp := now.AddDate(0, 0, 10)
	bid := decimal.NewFromFloat(0.40)
	ask := decimal.NewFromFloat(0.60)
	cache.UpsertOptionQuotes([]quotecache.OptionQuoteRow{
		{Ticker: "VALE3", Strike: decimal.NewFromInt(60), Side: models.SideCall, Expiration: currentExp, Bid: &bid, Ask: &ask, Ts: &now},
	}, now)

	provider := &stubProvider{premium: decimal.NewFromFloat(1.25)}
	result := Calculate(context.Background(), cache, provider, "VALE3",
		callPosition(60, currentExp), defaultParams(), now)

	require.NotEmpty(t, result.Suggestions)
	assert.LessOrEqual(t, len(result.Suggestions), 3)
	for _, s := range result.Suggestions {
		assert.False(t, s.FromMT5)
		assert.True(t, s.NetCredit.Equal(decimal.NewFromFloat(0.75)))
	}
}

func TestTargetStrikeBand_PutBandSitsBelowPrice(t *testing.T) {
	price := decimal.NewFromInt(100)
	low, high := targetStrikeBand(models.SidePut, price, decimal.NewFromFloat(0.02), decimal.NewFromFloat(0.08))
	assert.True(t, low.Equal(decimal.NewFromInt(92)))
	assert.True(t, high.Equal(decimal.NewFromInt(98)))

	low, high = targetStrikeBand(models.SideCall, price, decimal.NewFromFloat(0.02), decimal.NewFromFloat(0.08))
	assert.True(t, low.Equal(decimal.NewFromInt(102)))
	assert.True(t, high.Equal(decimal.NewFromInt(108)))
}

func TestThirdFriday_AlwaysAFridayInTheThirdWeek(t *testing.T) {
	for year := 2025; year <= 2027; year++ {
		for month := 1; month <= 12; month++ {
			d := thirdFriday(year, month)
			assert.Equal(t, time.Friday, d.Weekday())
			assert.GreaterOrEqual(t, d.Day(), 15)
			assert.LessOrEqual(t, d.Day(), 21)
		}
	}
}

func TestCandidateExpirations_StayWithinDTEBand(t *testing.T) {
	now := time.Date(2026, 8, 3, 14, 0, 0, 0, time.UTC)
	for _, exp := range candidateExpirations(now, 15, 60) {
		dte := int(exp.Sub(now).Hours() / 24)
		assert.GreaterOrEqual(t, dte, 15)
		assert.LessOrEqual(t, dte, 60)
	}
}
