package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteSource distinguishes ticks pushed by the MT5 bridge from values
// synthesized by a fallback Provider.
type QuoteSource string

const (
	QuoteSourceMT5      QuoteSource = "mt5"
	QuoteSourceFallback QuoteSource = "fallback"
)

// Quote is the last-known price for an underlying symbol, held in
// internal/quotecache with a TTL and replaced in place on every tick.
type Quote struct {
	Symbol string           `json:"symbol"`
	Bid    *decimal.Decimal `json:"bid,omitempty"`
	Ask    *decimal.Decimal `json:"ask,omitempty"`
	Last   *decimal.Decimal `json:"last,omitempty"`
	Volume *decimal.Decimal `json:"volume,omitempty"`
	Ts     time.Time        `json:"ts"`
	Source QuoteSource      `json:"source"`
}

// Stale reports whether the Quote is older than ttl as of now.
func (q *Quote) Stale(now time.Time, ttl time.Duration) bool {
	return now.Sub(q.Ts) > ttl
}

// Mid returns the bid/ask midpoint, falling back to Last when either side
// of the book is missing.
func (q *Quote) Mid() (decimal.Decimal, bool) {
	if q.Bid != nil && q.Ask != nil {
		return q.Bid.Add(*q.Ask).Div(decimal.NewFromInt(2)), true
	}
	if q.Last != nil {
		return *q.Last, true
	}
	return decimal.Zero, false
}
