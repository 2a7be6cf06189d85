// Package monitor implements the periodic scan engine: for every
// account, check positions nearing expiration and run the roll rule
// evaluator over every (rule, position) pair, deduping alerts within
// the day. Invoked by the scheduler; never called concurrently with
// itself.
package monitor

import (
	"context"
	"log"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/rollwatch/rollwatch/internal/marketdata"
	"github.com/rollwatch/rollwatch/internal/models"
	"github.com/rollwatch/rollwatch/internal/repo"
	"github.com/rollwatch/rollwatch/internal/rules"
	"github.com/rollwatch/rollwatch/internal/session"
)

// Engine owns the repositories and provider chain a scan needs.
type Engine struct {
	Accounts  repo.AccountRepo
	Positions repo.PositionRepo
	Rules     repo.RuleRepo
	Alerts    repo.AlertRepo
	Provider  marketdata.Provider
	Session   session.Window
	Logger    *log.Logger

	// ExpirationWindowDays is the [0, N] DTE band that creates an
	// expiration_warning alert.
	ExpirationWindowDays int

	// MaxConcurrentAccounts bounds the errgroup fan-out across accounts.
	MaxConcurrentAccounts int
}

// Summary is the per-invocation scan result.
type Summary struct {
	Skipped           bool
	AccountsProcessed int
	PositionsChecked  int
	AlertsCreated     int
}

// Run executes one Monitor invocation.
func (e *Engine) Run(ctx context.Context, now time.Time) (Summary, error) {
	if !e.Session.IsOpen(now) {
		return Summary{Skipped: true}, nil
	}

	accounts, err := e.Accounts.GetAll(ctx)
	if err != nil {
		return Summary{}, err
	}

	type accountResult struct {
		positionsChecked int
		alertsCreated    int
		err              error
	}
	results := make([]accountResult, len(accounts))

	g, gctx := errgroup.WithContext(ctx)
	if e.MaxConcurrentAccounts > 0 {
		g.SetLimit(e.MaxConcurrentAccounts)
	}

	for i, account := range accounts {
		i, account := i, account
		g.Go(func() error {
			checked, created, err := e.scanAccount(gctx, account, now)
			results[i] = accountResult{positionsChecked: checked, alertsCreated: created, err: err}
			if err != nil {
				e.logf("monitor: account %s scan error: %v", account.ID, err)
			}
			return nil // per-account errors never abort the batch
		})
	}
	_ = g.Wait()

	summary := Summary{AccountsProcessed: len(accounts)}
	var scanErrs error
	for _, r := range results {
		summary.PositionsChecked += r.positionsChecked
		summary.AlertsCreated += r.alertsCreated
		if r.err != nil {
			scanErrs = multierror.Append(scanErrs, r.err)
		}
	}
	if scanErrs != nil {
		e.logf("monitor: completed with per-account errors: %v", scanErrs)
	}
	return summary, nil
}

func (e *Engine) scanAccount(ctx context.Context, account models.Account, now time.Time) (int, int, error) {
	positions, err := e.Positions.GetOpenPositions(ctx, account.ID)
	if err != nil {
		return 0, 0, err
	}
	activeRules, err := e.Rules.GetActiveRules(ctx, account.ID)
	if err != nil {
		return 0, 0, err
	}

	alertsCreated := 0
	for _, position := range positions {
		if created, err := e.checkExpiration(ctx, account, position, now); err != nil {
			e.logf("monitor: expiration check error for position %s: %v", position.ID, err)
		} else if created {
			alertsCreated++
		}

		live := e.fetchLive(ctx, account, position)

		for _, rule := range activeRules {
			if rule.AccountID != account.ID {
				continue
			}
			if !rules.Evaluate(rule, position, live, now) {
				continue
			}
			created, err := e.createDedupedAlert(ctx, account, position, rule, live, now)
			if err != nil {
				e.logf("monitor: alert creation error for position %s rule %s: %v", position.ID, rule.ID, err)
				continue
			}
			if created {
				alertsCreated++
			}
		}
	}
	return len(positions), alertsCreated, nil
}

func (e *Engine) checkExpiration(ctx context.Context, account models.Account, position models.Position, now time.Time) (bool, error) {
	dte := position.DTE(now)
	if dte < 0 || dte > e.ExpirationWindowDays {
		return false, nil
	}
	exists, err := e.Alerts.ExistsExpirationWarning(ctx, position.ID, now)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	positionID := position.ID
	dteCopy := dte
	alert := models.Alert{
		AccountID:        account.ID,
		OptionPositionID: &positionID,
		Reason:           models.ReasonExpirationWarning,
		Status:           models.AlertPending,
		CreatedAt:        now,
		Payload: models.Payload{
			Ticker:     position.AssetID,
			Side:       position.Side,
			Strike:     &position.Strike,
			Expiration: &position.Expiration,
			DTE:        &dteCopy,
		},
	}
	if _, err := e.Alerts.Create(ctx, alert); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) fetchLive(ctx context.Context, account models.Account, position models.Position) rules.Live {
	var live rules.Live

	quote, err := e.Provider.GetQuote(ctx, position.AssetID)
	if err != nil {
		e.logf("monitor: market data unavailable for %s: %v", position.AssetID, err)
	} else if quote.Last != nil {
		live.UnderlyingPrice = quote.Last
	}

	oq, err := e.Provider.GetOptionQuote(ctx, position.AssetID, position.Strike, position.Side, position.Expiration)
	if err == nil {
		if mid, ok := oq.Mid(); ok {
			live.CurrentPremium = &mid
		}
	}

	greeks, err := e.Provider.GetGreeks(ctx, position.AssetID, position.Strike, position.Side, position.Expiration)
	if err == nil {
		live.Delta = &greeks.Delta
	}

	return live
}

func (e *Engine) createDedupedAlert(ctx context.Context, account models.Account, position models.Position, rule models.Rule, live rules.Live, now time.Time) (bool, error) {
	exists, err := e.Alerts.ExistsForPositionRuleOnDate(ctx, position.ID, rule.ID, models.ReasonRollTrigger, now)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	dte := position.DTE(now)
	positionID := position.ID
	alert := models.Alert{
		AccountID:        account.ID,
		OptionPositionID: &positionID,
		Reason:           models.ReasonRollTrigger,
		Status:           models.AlertPending,
		CreatedAt:        now,
		Payload: models.Payload{
			Ticker:          position.AssetID,
			Side:            position.Side,
			Strike:          &position.Strike,
			Expiration:      &position.Expiration,
			DTE:             &dte,
			AvgPremium:      &position.AvgPremium,
			RuleID:          rule.ID,
			UnderlyingPrice: live.UnderlyingPrice,
			CurrentPremium:  live.CurrentPremium,
			Delta:           live.Delta,
		},
	}
	if _, err := e.Alerts.Create(ctx, alert); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}
