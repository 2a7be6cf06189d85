package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/rollwatch/rollwatch/internal/models"
)

// ExternalHTTPProvider fetches underlying prices from a public HTTP
// quote API and prices options via Black-Scholes on top. The HTTP leg
// is wrapped in a gobreaker.CircuitBreaker so a flaky upstream degrades
// to fast open-circuit failures instead of hanging every scan cycle.
type ExternalHTTPProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	rate       float64
	sigma      float64
}

// ExternalHTTPConfig configures the quote endpoint and pricing constants.
type ExternalHTTPConfig struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	RiskFreeRate   float64
	Volatility     float64
	BreakerTimeout time.Duration
}

// NewExternalHTTPProvider builds a provider with a dedicated breaker
// named for the log lines it produces.
func NewExternalHTTPProvider(cfg ExternalHTTPConfig) *ExternalHTTPProvider {
	rate := cfg.RiskFreeRate
	if rate == 0 {
		rate = defaultRiskFreeRate
	}
	sigma := cfg.Volatility
	if sigma == 0 {
		sigma = defaultVolatility
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout == 0 {
		breakerTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    "market-data-external-http",
		Timeout: breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}

	return &ExternalHTTPProvider{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    gobreaker.NewCircuitBreaker(settings),
		rate:       rate,
		sigma:      sigma,
	}
}

type quoteAPIResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"regularMarketPrice"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Volume float64 `json:"regularMarketVolume"`
}

func (p *ExternalHTTPProvider) fetchPrice(ctx context.Context, symbol string) (quoteAPIResponse, error) {
	result, err := p.breaker.Execute(func() (interface{}, error) {
		url := fmt.Sprintf("%s/quote/%s?token=%s", p.baseURL, symbol, p.apiKey)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return quoteAPIResponse{}, err
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			return quoteAPIResponse{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return quoteAPIResponse{}, fmt.Errorf("external quote API returned %d", resp.StatusCode)
		}
		var out quoteAPIResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return quoteAPIResponse{}, err
		}
		return out, nil
	})
	if err != nil {
		return quoteAPIResponse{}, err
	}
	return result.(quoteAPIResponse), nil
}

func (p *ExternalHTTPProvider) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	raw, err := p.fetchPrice(ctx, symbol)
	if err != nil {
		return models.Quote{}, errUnavailable(fmt.Sprintf("external provider: %v", err))
	}
	bid := decimal.NewFromFloat(raw.Bid)
	ask := decimal.NewFromFloat(raw.Ask)
	last := decimal.NewFromFloat(raw.Price)
	volume := decimal.NewFromFloat(raw.Volume)
	return models.Quote{
		Symbol: symbol,
		Bid:    &bid,
		Ask:    &ask,
		Last:   &last,
		Volume: &volume,
		Ts:     time.Now(),
		Source: models.QuoteSourceFallback,
	}, nil
}

func (p *ExternalHTTPProvider) GetOptionChain(ctx context.Context, ticker string, expiration time.Time) ([]models.OptionQuote, error) {
	quote, err := p.GetQuote(ctx, ticker)
	if err != nil {
		return nil, err
	}
	var chain []models.OptionQuote
	for i := -2; i <= 2; i++ {
		strike := quote.Last.Add(decimal.NewFromInt(int64(i)))
		for _, side := range []models.Side{models.SideCall, models.SidePut} {
			oq, err := p.priceOption(quote, ticker, strike, side, expiration)
			if err != nil {
				continue
			}
			chain = append(chain, oq)
		}
	}
	return chain, nil
}

func (p *ExternalHTTPProvider) priceOption(quote models.Quote, ticker string, strike decimal.Decimal, side models.Side, expiration time.Time) (models.OptionQuote, error) {
	now := time.Now()
	theo := blackScholesPrice(*quote.Last, strike, daysBetween(now, expiration), p.rate, p.sigma, side)
	half := maxDecimal(decimal.NewFromFloat(0.01), theo.Mul(decimal.NewFromFloat(0.02)))
	bid := theo.Sub(half)
	ask := theo.Add(half)
	delta := blackScholesDelta(*quote.Last, strike, daysBetween(now, expiration), p.rate, p.sigma, side)
	return models.OptionQuote{
		Ticker:     ticker,
		Strike:     strike,
		Side:       side,
		Expiration: expiration,
		Bid:        &bid,
		Ask:        &ask,
		Last:       &theo,
		Delta:      &delta,
		Ts:         now,
		Source:     models.QuoteSourceFallback,
	}, nil
}

func (p *ExternalHTTPProvider) GetOptionQuote(ctx context.Context, ticker string, strike decimal.Decimal, side models.Side, expiration time.Time) (models.OptionQuote, error) {
	quote, err := p.GetQuote(ctx, ticker)
	if err != nil {
		return models.OptionQuote{}, err
	}
	return p.priceOption(quote, ticker, strike, side, expiration)
}

func (p *ExternalHTTPProvider) GetGreeks(ctx context.Context, ticker string, strike decimal.Decimal, side models.Side, expiration time.Time) (Greeks, error) {
	oq, err := p.GetOptionQuote(ctx, ticker, strike, side, expiration)
	if err != nil {
		return Greeks{}, err
	}
	if oq.Delta == nil {
		return Greeks{}, nil
	}
	return Greeks{Delta: *oq.Delta}, nil
}

func (p *ExternalHTTPProvider) HealthCheck(ctx context.Context) Health {
	if p.breaker.State() == gobreaker.StateOpen {
		return Health{Healthy: false, Detail: "circuit open"}
	}
	if _, err := p.fetchPrice(ctx, "PETR4"); err != nil {
		return Health{Healthy: false, Detail: err.Error()}
	}
	return Health{Healthy: true, Detail: "external provider reachable"}
}
