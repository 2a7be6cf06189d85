package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollwatch/rollwatch/internal/marketdata"
	"github.com/rollwatch/rollwatch/internal/models"
	"github.com/rollwatch/rollwatch/internal/session"
)

// fakeRepo is an in-memory stand-in implementing AccountRepo,
// PositionRepo, RuleRepo and AlertRepo together.
type fakeRepo struct {
	accounts  []models.Account
	positions []models.Position
	rules     []models.Rule
	alerts    []models.Alert
}

func (f *fakeRepo) GetAll(_ context.Context) ([]models.Account, error) { return f.accounts, nil }
func (f *fakeRepo) GetByID(_ context.Context, id string) (models.Account, error) {
	for _, a := range f.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return models.Account{}, assert.AnError
}
func (f *fakeRepo) UserOwnsAccount(_ context.Context, accountID, userID string) (bool, error) {
	return true, nil
}

func (f *fakeRepo) GetOpenPositions(_ context.Context, accountID string) ([]models.Position, error) {
	var out []models.Position
	for _, p := range f.positions {
		if p.AccountID == accountID && p.IsOpen() {
			out = append(out, p)
		}
	}
	return out, nil
}
func (f *fakeRepo) GetPositionByID(_ context.Context, id string) (models.Position, error) {
	for _, p := range f.positions {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Position{}, assert.AnError
}
func (f *fakeRepo) GetUserPosition(_ context.Context, id, userID string) (models.Position, error) {
	return f.GetPositionByID(context.Background(), id)
}
func (f *fakeRepo) ExpireOverduePositions(_ context.Context, asOf time.Time) (int, error) {
	return 0, nil
}

func (f *fakeRepo) GetActiveRules(_ context.Context, accountID string) ([]models.Rule, error) {
	var out []models.Rule
	for _, r := range f.rules {
		if r.AccountID == accountID && r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) Create(_ context.Context, alert models.Alert) (models.Alert, error) {
	alert.ID = "alert-" + string(rune(len(f.alerts)+'0'))
	f.alerts = append(f.alerts, alert)
	return alert, nil
}
func (f *fakeRepo) GetPendingAlerts(_ context.Context, limit int) ([]models.Alert, error) {
	return f.alerts, nil
}
func (f *fakeRepo) GetByAccountID(_ context.Context, accountID string, status *models.AlertStatus, asUser string) ([]models.Alert, error) {
	return f.alerts, nil
}
func (f *fakeRepo) GetAlertByID(_ context.Context, id string) (models.Alert, error) {
	for _, a := range f.alerts {
		if a.ID == id {
			return a, nil
		}
	}
	return models.Alert{}, assert.AnError
}
func (f *fakeRepo) ExistsForPositionRuleOnDate(_ context.Context, positionID, ruleID string, reason models.AlertReason, date time.Time) (bool, error) {
	for _, a := range f.alerts {
		if a.OptionPositionID != nil && *a.OptionPositionID == positionID &&
			a.Payload.RuleID == ruleID && a.Reason == reason &&
			sameDay(a.CreatedAt, date) {
			return true, nil
		}
	}
	return false, nil
}
func (f *fakeRepo) ExistsExpirationWarning(_ context.Context, positionID string, date time.Time) (bool, error) {
	for _, a := range f.alerts {
		if a.OptionPositionID != nil && *a.OptionPositionID == positionID &&
			a.Reason == models.ReasonExpirationWarning && sameDay(a.CreatedAt, date) {
			return true, nil
		}
	}
	return false, nil
}
func (f *fakeRepo) UpdateStatus(_ context.Context, id string, status models.AlertStatus, errExcerpt string, asUser string) error {
	return nil
}
func (f *fakeRepo) MergePayload(_ context.Context, id string, patch models.Payload) error {
	return nil
}
func (f *fakeRepo) RetryFailedAlert(_ context.Context, id string) (models.Alert, error) {
	return models.Alert{}, nil
}
func (f *fakeRepo) CleanupOldAlerts(_ context.Context, olderThan time.Duration) (int, error) {
	return 0, nil
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func openWindow() session.Window {
	return session.Window{Location: time.UTC, OpenHour: 0, CloseHour: 23, CloseMinute: 59}
}

func aMonday() time.Time {
	return time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)
}

func TestRun_SkipsWhenSessionClosed(t *testing.T) {
	e := &Engine{
		Accounts: &fakeRepo{},
		Session:  session.Window{Location: time.UTC, OpenHour: 10, CloseHour: 11},
	}
	summary, err := e.Run(context.Background(), aMonday())
	require.NoError(t, err)
	assert.True(t, summary.Skipped)
}

func TestRun_CreatesExpirationWarningWithinWindow(t *testing.T) {
	now := aMonday()
	repo := &fakeRepo{
		accounts: []models.Account{{ID: "acct-1"}},
		positions: []models.Position{{
			ID: "pos-1", AccountID: "acct-1", AssetID: "PETR4", Side: models.SideCall,
			Strike: decimal.NewFromInt(30), Expiration: now.AddDate(0, 0, 2),
			AvgPremium: decimal.NewFromFloat(1.5), Status: models.PositionOpen,
		}},
	}
	e := &Engine{
		Accounts: repo, Positions: repo, Rules: repo, Alerts: repo,
		Provider: marketdata.NewMockProvider(), Session: openWindow(),
		ExpirationWindowDays: 3,
	}
	summary, err := e.Run(context.Background(), now)
	require.NoError(t, err)
	assert.False(t, summary.Skipped)
	assert.Equal(t, 1, summary.AccountsProcessed)
	assert.Equal(t, 1, summary.PositionsChecked)
	assert.Equal(t, 1, summary.AlertsCreated)
	require.Len(t, repo.alerts, 1)
	assert.Equal(t, models.ReasonExpirationWarning, repo.alerts[0].Reason)
}

func TestRun_DedupesExpirationWarningSameDay(t *testing.T) {
	now := aMonday()
	positionID := "pos-1"
	repo := &fakeRepo{
		accounts: []models.Account{{ID: "acct-1"}},
		positions: []models.Position{{
			ID: positionID, AccountID: "acct-1", AssetID: "PETR4", Side: models.SideCall,
			Strike: decimal.NewFromInt(30), Expiration: now.AddDate(0, 0, 1),
			Status: models.PositionOpen,
		}},
		alerts: []models.Alert{{
			ID: "existing", AccountID: "acct-1", OptionPositionID: &positionID,
			Reason: models.ReasonExpirationWarning, CreatedAt: now,
		}},
	}
	e := &Engine{
		Accounts: repo, Positions: repo, Rules: repo, Alerts: repo,
		Provider: marketdata.NewMockProvider(), Session: openWindow(),
		ExpirationWindowDays: 3,
	}
	summary, err := e.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.AlertsCreated)
	assert.Len(t, repo.alerts, 1)
}

func TestRun_RuleTriggerDedupesSameDayPerRule(t *testing.T) {
	now := aMonday()
	threshold := decimal.NewFromFloat(0.05)
	repo := &fakeRepo{
		accounts: []models.Account{{ID: "acct-1"}},
		positions: []models.Position{{
			ID: "pos-1", AccountID: "acct-1", AssetID: "VALE3", Side: models.SidePut,
			Strike: decimal.NewFromInt(60), Expiration: now.AddDate(0, 0, 20),
			AvgPremium: decimal.NewFromFloat(2.0), Status: models.PositionOpen,
		}},
		rules: []models.Rule{{
			ID: "rule-1", AccountID: "acct-1", IsActive: true,
			DTEMin: 0, DTEMax: 45, PremiumCloseThreshold: &threshold,
		}},
	}
	e := &Engine{
		Accounts: repo, Positions: repo, Rules: repo, Alerts: repo,
		Provider: &stubProvider{premium: decimal.NewFromFloat(0.01)}, Session: openWindow(),
		ExpirationWindowDays: 3,
	}

	summary, err := e.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.AlertsCreated)

	summary2, err := e.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, summary2.AlertsCreated, "same-day roll_trigger for same rule+position must be deduped")
}

// stubProvider returns a fixed premium so the premium-override gate fires
// deterministically, unlike MockProvider's noisy walk.
type stubProvider struct {
	premium decimal.Decimal
}

func (s *stubProvider) GetQuote(_ context.Context, symbol string) (models.Quote, error) {
	price := decimal.NewFromInt(50)
	return models.Quote{Symbol: symbol, Last: &price, Ts: time.Now(), Source: models.QuoteSourceFallback}, nil
}
func (s *stubProvider) GetOptionChain(_ context.Context, ticker string, expiration time.Time) ([]models.OptionQuote, error) {
	return nil, nil
}
func (s *stubProvider) GetOptionQuote(_ context.Context, ticker string, strike decimal.Decimal, side models.Side, expiration time.Time) (models.OptionQuote, error) {
	return models.OptionQuote{
		Ticker: ticker, Strike: strike, Side: side, Expiration: expiration,
		Last: &s.premium, Ts: time.Now(), Source: models.QuoteSourceFallback,
	}, nil
}
func (s *stubProvider) GetGreeks(_ context.Context, ticker string, strike decimal.Decimal, side models.Side, expiration time.Time) (marketdata.Greeks, error) {
	return marketdata.Greeks{Delta: decimal.NewFromFloat(0.3)}, nil
}
func (s *stubProvider) HealthCheck(_ context.Context) marketdata.Health {
	return marketdata.Health{Healthy: true}
}
