// Package notifier implements the periodic alert-drain engine: load
// PENDING alerts FIFO, enrich and render each one, fan it out to its
// channel list with bounded retries, and record a delivery Log per
// channel outcome.
package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/rollwatch/rollwatch/internal/channel"
	"github.com/rollwatch/rollwatch/internal/marketdata"
	"github.com/rollwatch/rollwatch/internal/models"
	"github.com/rollwatch/rollwatch/internal/repo"
	"github.com/rollwatch/rollwatch/internal/retry"
	"github.com/rollwatch/rollwatch/internal/session"
)

const maxPendingPerRun = 100

// DefaultChannels is unioned onto every alert's channel list.
var DefaultChannels = []models.Channel{models.ChannelWhatsApp, models.ChannelSMS}

// Engine owns the repositories, provider chain and channel clients a
// drain cycle needs.
type Engine struct {
	Accounts  repo.AccountRepo
	Positions repo.PositionRepo
	Alerts    repo.AlertRepo
	Logs      repo.LogRepo
	Provider  marketdata.Provider
	Channels  map[models.Channel]channel.Channel
	Session   session.Window

	MaxRetries      int
	RetryDelay      time.Duration
	RetryPolicy     retry.Policy
	AccountContacts func(models.Channel, models.Account) string

	// DispatchLimiter caps the rate of outbound channel sends, since the
	// fixed 100-alert batch has no backpressure signal if the channel
	// provider rate-limits below the batch rate. Nil means unthrottled.
	DispatchLimiter *rate.Limiter
}

// Summary is the per-invocation result.
type Summary struct {
	Skipped       bool
	AlertsDrained int
	AlertsSent    int
	AlertsFailed  int
}

// Run executes one Notifier invocation.
func (e *Engine) Run(ctx context.Context, now time.Time) (Summary, error) {
	if !e.Session.IsOpen(now) {
		return Summary{Skipped: true}, nil
	}

	pending, err := e.Alerts.GetPendingAlerts(ctx, maxPendingPerRun)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{AlertsDrained: len(pending)}
	for _, alert := range pending {
		if e.processOne(ctx, alert, now) {
			summary.AlertsSent++
		} else {
			summary.AlertsFailed++
		}
	}
	return summary, nil
}

func (e *Engine) processOne(ctx context.Context, alert models.Alert, now time.Time) bool {
	if err := e.Alerts.UpdateStatus(ctx, alert.ID, models.AlertProcessing, "", ""); err != nil {
		return false
	}

	account, err := e.Accounts.GetByID(ctx, alert.AccountID)
	if err != nil {
		_ = e.Alerts.UpdateStatus(ctx, alert.ID, models.AlertFailed, "account not found", "")
		return false
	}

	enriched := e.enrich(ctx, alert, now)
	if err := e.Alerts.MergePayload(ctx, alert.ID, enriched.Payload); err != nil {
		return false
	}
	alert = enriched

	channels := models.DedupeChannels(append(append([]models.Channel{}, alert.Payload.Channels...), DefaultChannels...))
	message := buildMessage(alert)

	allOK := true
	for _, ch := range channels {
		target := e.targetFor(ch, account)
		if target == "" {
			allOK = false
			continue
		}
		msgID, err := e.sendWithRetries(ctx, ch, target, message)
		logEntry := models.Log{
			AlertID: alert.ID,
			Channel: ch,
			Target:  target,
			Message: message,
			SentAt:  now,
		}
		if err != nil {
			allOK = false
			logEntry.Status = models.LogFailed
			logEntry.Error = err.Error()
		} else {
			logEntry.Status = models.LogSuccess
			logEntry.ProviderMsgID = msgID
		}
		_, _ = e.Logs.CreateLog(ctx, logEntry)
	}

	if allOK {
		_ = e.Alerts.UpdateStatus(ctx, alert.ID, models.AlertSent, "", "")
		return true
	}
	_ = e.Alerts.UpdateStatus(ctx, alert.ID, models.AlertFailed, "one or more channels failed delivery", "")
	return false
}

// RetryFailed flips a FAILED alert back to PENDING so the next Run picks
// it up again through the normal FIFO path. It is the engine-side half
// of the admin retry route; the HTTP handler lives in internal/bridge.
func (e *Engine) RetryFailed(ctx context.Context, alertID string) (models.Alert, error) {
	return e.Alerts.RetryFailedAlert(ctx, alertID)
}

func (e *Engine) targetFor(ch models.Channel, account models.Account) string {
	if e.AccountContacts != nil {
		return e.AccountContacts(ch, account)
	}
	switch ch {
	case models.ChannelEmail:
		return account.Email
	default:
		return account.Phone
	}
}

func (e *Engine) sendWithRetries(ctx context.Context, ch models.Channel, target, message string) (string, error) {
	client, ok := e.Channels[ch]
	if !ok {
		return "", fmt.Errorf("no channel client configured for %s", ch)
	}

	retries := e.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	policy := e.RetryPolicy
	if e.RetryDelay > 0 {
		policy.InitialBackoff = e.RetryDelay
	}

	var lastErr error
	var delay time.Duration
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			delay = policy.NextBackoff(delay)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}
		if e.DispatchLimiter != nil {
			if err := e.DispatchLimiter.Wait(ctx); err != nil {
				return "", err
			}
		}
		result, err := client.Send(ctx, channel.Message{To: target, Subject: "Roll alert", Body: message})
		if err == nil {
			return result.ProviderMsgID, nil
		}
		lastErr = err
	}
	return "", lastErr
}

// enrich fills in missing roll_trigger core fields by joining the
// Position and fetching fresh market data. Fetch failures are
// non-fatal: the alert still dispatches with whatever context is
// available.
func (e *Engine) enrich(ctx context.Context, alert models.Alert, now time.Time) models.Alert {
	if alert.Reason != models.ReasonRollTrigger || alert.OptionPositionID == nil {
		return alert
	}
	p := alert.Payload
	needsCore := p.Ticker == "" || p.Side == "" || p.Strike == nil || p.Expiration == nil || p.DTE == nil
	if !needsCore {
		return e.enrichMarketData(ctx, alert, now)
	}

	position, err := e.Positions.GetPositionByID(ctx, *alert.OptionPositionID)
	if err != nil {
		return alert
	}
	dte := position.DTE(now)
	patch := models.Payload{
		Ticker:     position.AssetID,
		Side:       position.Side,
		Strike:     &position.Strike,
		Expiration: &position.Expiration,
		DTE:        &dte,
		AvgPremium: &position.AvgPremium,
	}
	alert.Payload.Merge(patch)
	return e.enrichMarketData(ctx, alert, now)
}

func (e *Engine) enrichMarketData(ctx context.Context, alert models.Alert, now time.Time) models.Alert {
	if e.Provider == nil || alert.Payload.Ticker == "" || alert.Payload.Strike == nil || alert.Payload.Expiration == nil {
		return alert
	}
	p := alert.Payload

	var patch models.Payload
	if quote, err := e.Provider.GetQuote(ctx, p.Ticker); err == nil && quote.Last != nil {
		patch.UnderlyingPrice = quote.Last
		if p.Strike != nil && !p.Strike.IsZero() {
			otm := quote.Last.Sub(*p.Strike).Div(*p.Strike).Mul(decimal.NewFromInt(100))
			if p.Side == models.SidePut {
				otm = otm.Neg()
			}
			patch.OTMPct = &otm
			patch.Moneyness = &otm
		}
	}
	if oq, err := e.Provider.GetOptionQuote(ctx, p.Ticker, *p.Strike, p.Side, *p.Expiration); err == nil {
		if mid, ok := oq.Mid(); ok {
			patch.CurrentPremium = &mid
			if p.AvgPremium != nil {
				pnl := p.AvgPremium.Sub(mid).Mul(decimal.NewFromInt(100))
				patch.PnLPremium = &pnl
			}
		}
	}
	if greeks, err := e.Provider.GetGreeks(ctx, p.Ticker, *p.Strike, p.Side, *p.Expiration); err == nil {
		patch.Delta = &greeks.Delta
	}

	alert.Payload.Merge(patch)
	return alert
}

func buildMessage(alert models.Alert) string {
	p := alert.Payload
	switch alert.Reason {
	case models.ReasonExpirationWarning:
		return fmt.Sprintf("Expiration warning: %s %s %s exp %s — %d days to expiry. Consider rolling or closing.",
			p.Ticker, p.Side, strikeStr(p), expStr(p), intOrZero(p.DTE))
	case models.ReasonDeltaThreshold:
		return fmt.Sprintf("Delta threshold: %s %s %s — delta %s vs threshold %s.",
			p.Ticker, p.Side, strikeStr(p), decStr(p.Delta), decStr(p.DeltaThreshold))
	case models.ReasonRollTrigger:
		fallthrough
	default:
		return fmt.Sprintf(
			"Roll trigger: %s %s %s exp %s (DTE %d)\nUnderlying: %s  Premium: %s (avg %s, PnL %s)\nMoneyness/OTM: %s%%  Delta: %s\nAction: review and roll this position.",
			p.Ticker, p.Side, strikeStr(p), expStr(p), intOrZero(p.DTE),
			decStr(p.UnderlyingPrice), decStr(p.CurrentPremium), decStr(p.AvgPremium), decStr(p.PnLPremium),
			decStr(p.OTMPct), decStr(p.Delta),
		)
	}
}

func strikeStr(p models.Payload) string {
	if p.Strike == nil {
		return "?"
	}
	return p.Strike.String()
}

func expStr(p models.Payload) string {
	if p.Expiration == nil {
		return "?"
	}
	return p.Expiration.Format("2006-01-02")
}

func decStr(d *decimal.Decimal) string {
	if d == nil {
		return "?"
	}
	return d.String()
}

func intOrZero(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}
