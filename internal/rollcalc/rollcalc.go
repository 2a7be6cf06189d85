// Package rollcalc produces ranked roll suggestions for an open
// position: given the current leg and the configured OTM target band,
// it scans the option-quote cache (falling back to the provider chain)
// and scores candidate replacement contracts.
package rollcalc

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rollwatch/rollwatch/internal/marketdata"
	"github.com/rollwatch/rollwatch/internal/models"
	"github.com/rollwatch/rollwatch/internal/quotecache"
)

// Suggestion is one ranked roll candidate.
type Suggestion struct {
	Strike     decimal.Decimal `json:"strike"`
	Expiration time.Time       `json:"expiration"`
	NetCredit  decimal.Decimal `json:"net_credit"`
	OTMPct     decimal.Decimal `json:"otm_pct"`
	Spread     decimal.Decimal `json:"spread"`
	DTE        int             `json:"dte"`
	Score      decimal.Decimal `json:"score"`
	FromMT5    bool            `json:"from_mt5"`
}

// Result is the roll calculator's output: a current-metrics snapshot
// when an underlying price is available (empty otherwise), plus up to 5
// ranked suggestions when fresh data allows it.
type Result struct {
	UnderlyingPrice *decimal.Decimal `json:"underlying_price,omitempty"`
	BuybackMid      *decimal.Decimal `json:"buyback_mid,omitempty"`
	Suggestions     []Suggestion     `json:"suggestions"`
}

// Params bundles the configuration the calculator needs beyond the
// position itself: the rule's OTM target band and DTE band.
type Params struct {
	OTMPctLow  decimal.Decimal
	OTMPctHigh decimal.Decimal
	DTEMin     int
	DTEMax     int
}

const maxSuggestions = 5

// Calculate resolves the underlying price, computes the target strike
// band and buy-back mid for the current leg, then ranks replacement
// candidates from the cache (or, failing that, synthesized from the
// provider) by score. With no fresh underlying price it returns an
// empty Result; with no buy-back mid it returns the price snapshot and
// no suggestions.
func Calculate(ctx context.Context, cache *quotecache.Cache, provider marketdata.Provider, ticker string, position models.Position, params Params, now time.Time) Result {
	quote, ok := cache.GetLatestQuote(ticker, cache.DefaultTTL(), now)
	var price decimal.Decimal
	if ok && quote.Last != nil {
		price = *quote.Last
	} else if live, err := provider.GetQuote(ctx, ticker); err == nil && live.Last != nil {
		price = *live.Last
	} else {
		return Result{}
	}

	low, high := targetStrikeBand(position.Side, price, params.OTMPctLow, params.OTMPctHigh)

	buyback, ok := resolveBuybackMid(ctx, cache, provider, ticker, position, now)
	if !ok {
		return Result{UnderlyingPrice: &price}
	}

	candidates := candidateExpirations(now, params.DTEMin, params.DTEMax)

	matches := cache.FilterOptionQuotes(ticker, position.Side, candidates, low, high)
	suggestions := scoreMatches(matches, price, buyback, params, now)

	if len(suggestions) == 0 {
		suggestions = synthesizeCandidates(ctx, provider, ticker, position.Side, low, high, candidates, buyback, price, params, now)
	}

	sort.Slice(suggestions, func(i, j int) bool {
		return suggestions[i].Score.GreaterThan(suggestions[j].Score)
	})
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}

	return Result{
		UnderlyingPrice: &price,
		BuybackMid:      &buyback,
		Suggestions:     suggestions,
	}
}

func targetStrikeBand(side models.Side, price, otmLow, otmHigh decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	one := decimal.NewFromInt(1)
	if side == models.SidePut {
		return price.Mul(one.Sub(otmHigh)), price.Mul(one.Sub(otmLow))
	}
	return price.Mul(one.Add(otmLow)), price.Mul(one.Add(otmHigh))
}

func resolveBuybackMid(ctx context.Context, cache *quotecache.Cache, provider marketdata.Provider, ticker string, position models.Position, now time.Time) (decimal.Decimal, bool) {
	if oq, ok := cache.GetLatestOptionQuote(ticker, position.Strike, position.Side, position.Expiration, cache.DefaultTTL(), now); ok {
		if mid, ok := oq.Mid(); ok {
			return mid, true
		}
	}
	oq, err := provider.GetOptionQuote(ctx, ticker, position.Strike, position.Side, position.Expiration)
	if err != nil {
		return decimal.Zero, false
	}
	return oq.Mid()
}

// candidateExpirations enumerates third Fridays of upcoming months whose
// DTE falls in [dteMin, dteMax], scanning up to 12 months ahead.
func candidateExpirations(now time.Time, dteMin, dteMax int) []time.Time {
	var out []time.Time
	cursor := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	for i := 0; i < 12; i++ {
		exp := thirdFriday(cursor.Year(), int(cursor.Month()))
		dte := int(exp.Sub(now).Hours() / 24)
		if dte >= dteMin && dte <= dteMax {
			out = append(out, exp)
		}
		cursor = cursor.AddDate(0, 1, 0)
	}
	return out
}

func thirdFriday(year, month int) time.Time {
	d := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	fridays := 0
	for {
		if d.Weekday() == time.Friday {
			fridays++
			if fridays == 3 {
				return d
			}
		}
		d = d.AddDate(0, 0, 1)
	}
}

func scoreMatches(matches []models.OptionQuote, price, buyback decimal.Decimal, params Params, now time.Time) []Suggestion {
	otmTarget := params.OTMPctLow.Add(params.OTMPctHigh).Div(decimal.NewFromInt(2))
	dteTarget := decimal.NewFromInt(int64(params.DTEMin + params.DTEMax)).Div(decimal.NewFromInt(2))

	out := make([]Suggestion, 0, len(matches))
	for _, oq := range matches {
		mid, ok := oq.Mid()
		if !ok || !mid.IsPositive() {
			continue
		}
		spread, hasSpread := oq.Spread()
		spreadRatio := decimal.Zero
		if hasSpread && mid.IsPositive() {
			spreadRatio = spread.Div(mid)
		}
		netCredit := mid.Sub(buyback)
		otmPct := oq.Strike.Sub(price).Abs().Div(price)
		dte := int(oq.Expiration.Sub(now).Hours() / 24)

		score := scoreCandidate(netCredit, otmPct, otmTarget, decimal.NewFromInt(int64(dte)), dteTarget, oq.Source)

		out = append(out, Suggestion{
			Strike:     oq.Strike,
			Expiration: oq.Expiration,
			NetCredit:  netCredit,
			OTMPct:     otmPct,
			Spread:     spreadRatio,
			DTE:        dte,
			Score:      score,
			FromMT5:    oq.Source == models.QuoteSourceMT5,
		})
	}
	return out
}

// scoreCandidate weighs net credit (up to 40), OTM alignment against
// the band midpoint (up to 30), DTE alignment (up to 20) and a
// liquidity bonus for live MT5 quotes (10, halved for synthesized
// ones), capping the total at 100.
func scoreCandidate(netCredit, otmPct, otmTarget, dte, dteTarget decimal.Decimal, source models.QuoteSource) decimal.Decimal {
	creditScore := decimal.Min(netCredit.Mul(decimal.NewFromInt(10)), decimal.NewFromInt(40))
	if creditScore.IsNegative() {
		creditScore = decimal.Zero
	}

	otmDelta := otmPct.Sub(otmTarget).Abs()
	otmScore := decimal.NewFromInt(30).Sub(otmDelta.Mul(decimal.NewFromInt(300)))
	otmScore = decimal.Max(otmScore, decimal.Zero)

	dteDelta := dte.Sub(dteTarget).Abs()
	dteScore := decimal.NewFromInt(20).Sub(dteDelta.Div(decimal.NewFromInt(2)))
	dteScore = decimal.Max(dteScore, decimal.Zero)

	liquidityScore := decimal.NewFromInt(5)
	if source == models.QuoteSourceMT5 {
		liquidityScore = decimal.NewFromInt(10)
	}

	total := creditScore.Add(otmScore).Add(dteScore).Add(liquidityScore)
	return decimal.Min(total, decimal.NewFromInt(100))
}

// synthesizeCandidates requests the provider for a strike at the
// midpoint of the OTM band, rounded to 0.50, for up to three candidate
// expirations, when the cache produced nothing.
func synthesizeCandidates(ctx context.Context, provider marketdata.Provider, ticker string, side models.Side, low, high decimal.Decimal, candidates []time.Time, buyback, price decimal.Decimal, params Params, now time.Time) []Suggestion {
	mid := low.Add(high).Div(decimal.NewFromInt(2))
	mid = mid.Mul(decimal.NewFromInt(2)).Round(0).Div(decimal.NewFromInt(2))

	otmTarget := params.OTMPctLow.Add(params.OTMPctHigh).Div(decimal.NewFromInt(2))
	dteTarget := decimal.NewFromInt(int64(params.DTEMin + params.DTEMax)).Div(decimal.NewFromInt(2))

	limit := len(candidates)
	if limit > 3 {
		limit = 3
	}

	var out []Suggestion
	for _, exp := range candidates[:limit] {
		oq, err := provider.GetOptionQuote(ctx, ticker, mid, side, exp)
		if err != nil {
			continue
		}
		quoteMid, ok := oq.Mid()
		if !ok {
			continue
		}
		netCredit := quoteMid.Sub(buyback)
		otmPct := mid.Sub(price).Abs().Div(price)
		dte := int(exp.Sub(now).Hours() / 24)
		score := scoreCandidate(netCredit, otmPct, otmTarget, decimal.NewFromInt(int64(dte)), dteTarget, oq.Source)
		out = append(out, Suggestion{
			Strike:     mid,
			Expiration: exp,
			NetCredit:  netCredit,
			OTMPct:     otmPct,
			DTE:        dte,
			Score:      score,
			FromMT5:    oq.Source == models.QuoteSourceMT5,
		})
	}
	return out
}
