package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OptionQuote is the last-known market for a single option contract,
// keyed by the (ticker, strike, side, expiration) tuple rather than by
// the broker-specific symbol, so providers can disagree on symbology
// without fragmenting the cache.
type OptionQuote struct {
	Ticker     string           `json:"ticker"`
	Strike     decimal.Decimal  `json:"strike"`
	Side       Side             `json:"side"`
	Expiration time.Time        `json:"expiration"`
	MT5Symbol  string           `json:"mt5_symbol,omitempty"`
	Bid        *decimal.Decimal `json:"bid,omitempty"`
	Ask        *decimal.Decimal `json:"ask,omitempty"`
	Last       *decimal.Decimal `json:"last,omitempty"`
	Volume     *decimal.Decimal `json:"volume,omitempty"`
	OpenInt    *decimal.Decimal `json:"open_interest,omitempty"`
	Delta      *decimal.Decimal `json:"delta,omitempty"`
	Ts         time.Time        `json:"ts"`
	Source     QuoteSource      `json:"source"`
}

// Key returns the cache key for this contract: ticker_strike_type_expiration.
func (o *OptionQuote) Key() string {
	return OptionQuoteKey(o.Ticker, o.Strike, o.Side, o.Expiration)
}

// OptionQuoteKey builds the canonical cache key for a contract without
// requiring a populated OptionQuote.
func OptionQuoteKey(ticker string, strike decimal.Decimal, side Side, expiration time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%s", ticker, strike.String(), side, expiration.Format("2006-01-02"))
}

// Stale reports whether the OptionQuote is older than ttl as of now.
func (o *OptionQuote) Stale(now time.Time, ttl time.Duration) bool {
	return now.Sub(o.Ts) > ttl
}

// Mid returns the bid/ask midpoint, falling back to Last when either
// side of the book is missing.
func (o *OptionQuote) Mid() (decimal.Decimal, bool) {
	if o.Bid != nil && o.Ask != nil {
		return o.Bid.Add(*o.Ask).Div(decimal.NewFromInt(2)), true
	}
	if o.Last != nil {
		return *o.Last, true
	}
	return decimal.Zero, false
}

// Spread returns ask-minus-bid when both sides of the book are present.
func (o *OptionQuote) Spread() (decimal.Decimal, bool) {
	if o.Bid == nil || o.Ask == nil {
		return decimal.Zero, false
	}
	return o.Ask.Sub(*o.Bid), true
}
