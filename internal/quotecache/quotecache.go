// Package quotecache holds the process-wide, TTL-bounded market-data
// state: underlying quotes, option quotes, terminal heartbeats, and the
// MT5 command queue, all behind one mutex. Readers always get copies;
// the mutex is held only across small in-memory operations, never
// across I/O.
package quotecache

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rollwatch/rollwatch/internal/models"
)

// Cache is the single owned instance threaded through the composition
// root. There is no package-level state; callers construct one with New
// and pass the pointer to the scheduler, bridge, and provider chain.
type Cache struct {
	mu sync.Mutex

	quotes       map[string]models.Quote
	optionQuotes map[string]models.OptionQuote
	heartbeats   map[string]models.Heartbeat
	commands     map[string]models.Command

	quoteTTL time.Duration
}

// New builds an empty Cache with the given default quote TTL.
func New(quoteTTL time.Duration) *Cache {
	return &Cache{
		quotes:       make(map[string]models.Quote),
		optionQuotes: make(map[string]models.OptionQuote),
		heartbeats:   make(map[string]models.Heartbeat),
		commands:     make(map[string]models.Command),
		quoteTTL:     quoteTTL,
	}
}

// QuoteRow is one row of an EA quote-ingress payload, numerics already
// coerced defensively (non-numeric → nil) by the bridge decoder.
type QuoteRow struct {
	Symbol string
	Bid    *decimal.Decimal
	Ask    *decimal.Decimal
	Last   *decimal.Decimal
	Volume *decimal.Decimal
	Ts     *time.Time
}

// UpsertQuotes accepts a batch of underlying-quote rows, dropping any row
// lacking a symbol, and returns the count of accepted rows.
func (c *Cache) UpsertQuotes(rows []QuoteRow, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	accepted := 0
	for _, row := range rows {
		symbol := strings.ToUpper(strings.TrimSpace(row.Symbol))
		if symbol == "" {
			continue
		}
		ts := now
		if row.Ts != nil {
			ts = *row.Ts
		}
		c.quotes[symbol] = models.Quote{
			Symbol: symbol,
			Bid:    row.Bid,
			Ask:    row.Ask,
			Last:   row.Last,
			Volume: row.Volume,
			Ts:     ts,
			Source: models.QuoteSourceMT5,
		}
		accepted++
	}
	return accepted
}

// GetLatestQuote returns a copy of the freshest quote for symbol, or
// false when absent or older than ttl. ttl<=0 means "no freshness
// check" (used by tests and by callers that already validated recency).
// A quote exactly ttl seconds old is still treated as fresh.
func (c *Cache) GetLatestQuote(symbol string, ttl time.Duration, now time.Time) (models.Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.quotes[strings.ToUpper(symbol)]
	if !ok {
		return models.Quote{}, false
	}
	if ttl > 0 && now.Sub(q.Ts) > ttl {
		return models.Quote{}, false
	}
	return q, true
}

// DefaultTTL returns the cache's configured quote TTL.
func (c *Cache) DefaultTTL() time.Duration {
	return c.quoteTTL
}

// OptionQuoteRow is one row of an EA option-quote ingress payload after
// symbol-mapper decoding has attached the canonical tuple.
type OptionQuoteRow struct {
	Ticker     string
	Strike     decimal.Decimal
	Side       models.Side
	Expiration time.Time
	MT5Symbol  string
	Bid        *decimal.Decimal
	Ask        *decimal.Decimal
	Last       *decimal.Decimal
	Volume     *decimal.Decimal
	OpenInt    *decimal.Decimal
	Ts         *time.Time
}

// UpsertOptionQuotes stores a batch of decoded option-quote rows, keyed
// by (ticker, strike, side, expiration), and returns the count stored.
func (c *Cache) UpsertOptionQuotes(rows []OptionQuoteRow, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, row := range rows {
		ts := now
		if row.Ts != nil {
			ts = *row.Ts
		}
		oq := models.OptionQuote{
			Ticker:     row.Ticker,
			Strike:     row.Strike,
			Side:       row.Side,
			Expiration: row.Expiration,
			MT5Symbol:  row.MT5Symbol,
			Bid:        row.Bid,
			Ask:        row.Ask,
			Last:       row.Last,
			Volume:     row.Volume,
			OpenInt:    row.OpenInt,
			Ts:         ts,
			Source:     models.QuoteSourceMT5,
		}
		c.optionQuotes[oq.Key()] = oq
	}
	return len(rows)
}

// GetLatestOptionQuote returns a copy of the cached quote for the given
// contract tuple, or false when absent or stale.
func (c *Cache) GetLatestOptionQuote(ticker string, strike decimal.Decimal, side models.Side, expiration time.Time, ttl time.Duration, now time.Time) (models.OptionQuote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := models.OptionQuoteKey(ticker, strike, side, expiration)
	oq, ok := c.optionQuotes[key]
	if !ok {
		return models.OptionQuote{}, false
	}
	if ttl > 0 && now.Sub(oq.Ts) > ttl {
		return models.OptionQuote{}, false
	}
	return oq, true
}

// FilterOptionQuotes returns copies of every cached option quote matching
// ticker/side, with expiration in expirations and strike within
// [strikeLow, strikeHigh], used by the roll calculator's candidate scan.
func (c *Cache) FilterOptionQuotes(ticker string, side models.Side, expirations []time.Time, strikeLow, strikeHigh decimal.Decimal) []models.OptionQuote {
	c.mu.Lock()
	defer c.mu.Unlock()

	expSet := make(map[string]bool, len(expirations))
	for _, e := range expirations {
		expSet[e.Format("2006-01-02")] = true
	}

	var out []models.OptionQuote
	for _, oq := range c.optionQuotes {
		if oq.Ticker != ticker || oq.Side != side {
			continue
		}
		if !expSet[oq.Expiration.Format("2006-01-02")] {
			continue
		}
		if oq.Strike.LessThan(strikeLow) || oq.Strike.GreaterThan(strikeHigh) {
			continue
		}
		out = append(out, oq)
	}
	return out
}

// QuoteStats reports how many quotes are cached and how many of those
// are still within ttl as of now, for the bridge health endpoint.
func (c *Cache) QuoteStats(ttl time.Duration, now time.Time) (total, fresh int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total = len(c.quotes)
	for _, q := range c.quotes {
		if ttl <= 0 || now.Sub(q.Ts) <= ttl {
			fresh++
		}
	}
	return total, fresh
}

// UpsertHeartbeat records liveness for a terminal, stamping UpdatedAt.
func (c *Cache) UpsertHeartbeat(hb models.Heartbeat, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hb.UpdatedAt = now
	c.heartbeats[hb.TerminalID] = hb
}

// GetHeartbeat returns a copy of the heartbeat for terminalID. When
// maxAge > 0, a heartbeat older than maxAge is reported absent.
func (c *Cache) GetHeartbeat(terminalID string, maxAge time.Duration, now time.Time) (models.Heartbeat, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hb, ok := c.heartbeats[terminalID]
	if !ok {
		return models.Heartbeat{}, false
	}
	if maxAge > 0 && now.Sub(hb.Ts) > maxAge {
		return models.Heartbeat{}, false
	}
	return hb, true
}

// AllHeartbeats returns copies of every known heartbeat, for the bridge
// health endpoint's aggregate view.
func (c *Cache) AllHeartbeats() []models.Heartbeat {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.Heartbeat, 0, len(c.heartbeats))
	for _, hb := range c.heartbeats {
		out = append(out, hb)
	}
	return out
}

// EnqueueCommand stores cmd under its ID, overwriting any prior command
// with the same ID rather than duplicating it.
func (c *Cache) EnqueueCommand(cmd models.Command) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.commands[cmd.ID] = cmd
}

// Pending is the dispatch primitive: selects PENDING/RETRY commands,
// optionally filtered by terminal/account, oldest first, truncated to
// maxCount, stamping dispatched_at idempotently. A command stays
// eligible — same dispatched_at, same status — until a terminal
// execution report resolves it, so a terminal that crashes mid-poll
// re-receives the same commands on its next drain.
func (c *Cache) Pending(terminalID, accountNumber string, maxCount int, now time.Time) []models.Command {
	c.mu.Lock()
	defer c.mu.Unlock()

	var matches []*models.Command
	for id := range c.commands {
		cmd := c.commands[id]
		if !cmd.EligibleForDispatch() {
			continue
		}
		if terminalID != "" && cmd.TerminalID != terminalID {
			continue
		}
		if accountNumber != "" && cmd.AccountNumber != accountNumber {
			continue
		}
		stored := c.commands[id]
		matches = append(matches, &stored)
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})

	if maxCount > 0 && len(matches) > maxCount {
		matches = matches[:maxCount]
	}

	out := make([]models.Command, 0, len(matches))
	for _, cmd := range matches {
		if cmd.DispatchedAt == nil {
			dispatchedAt := now
			cmd.DispatchedAt = &dispatchedAt
			c.commands[cmd.ID] = *cmd
		}
		out = append(out, *cmd)
	}
	return out
}

// RecordExecutionReport reconciles a dispatched command against an EA
// execution report. Unknown command IDs get a placeholder record so a
// late-arriving report is never silently dropped.
func (c *Cache) RecordExecutionReport(report models.ExecutionReport, now time.Time) models.Command {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd, ok := c.commands[report.CommandID]
	if !ok {
		cmd = models.Command{
			ID:        report.CommandID,
			Status:    models.CommandUnknown,
			CreatedAt: now,
		}
	}
	if report.ReceivedAt.IsZero() {
		report.ReceivedAt = now
	}
	cmd.ApplyReport(report)
	c.commands[cmd.ID] = cmd
	return cmd
}

// ListCommands returns commands created by createdBy, newest first,
// truncated to limit.
func (c *Cache) ListCommands(createdBy string, limit int) []models.Command {
	c.mu.Lock()
	defer c.mu.Unlock()

	var matches []models.Command
	for _, cmd := range c.commands {
		if cmd.CreatedBy == createdBy {
			matches = append(matches, cmd)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
