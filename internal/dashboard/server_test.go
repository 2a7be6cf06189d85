package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollwatch/rollwatch/internal/marketdata"
	"github.com/rollwatch/rollwatch/internal/models"
	"github.com/rollwatch/rollwatch/internal/quotecache"
	"github.com/rollwatch/rollwatch/internal/scheduler"
)

type fakeAccountRepo struct{}

func (fakeAccountRepo) GetAll(context.Context) ([]models.Account, error) { return nil, nil }
func (fakeAccountRepo) GetByID(context.Context, string) (models.Account, error) {
	return models.Account{}, nil
}
func (fakeAccountRepo) UserOwnsAccount(context.Context, string, string) (bool, error) {
	return false, nil
}

type fakePositionRepo struct {
	positions []models.Position
}

func (f fakePositionRepo) GetOpenPositions(context.Context, string) ([]models.Position, error) {
	return f.positions, nil
}
func (f fakePositionRepo) GetPositionByID(_ context.Context, id string) (models.Position, error) {
	for _, p := range f.positions {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Position{}, assert.AnError
}
func (fakePositionRepo) GetUserPosition(context.Context, string, string) (models.Position, error) {
	return models.Position{}, nil
}
func (fakePositionRepo) ExpireOverduePositions(context.Context, time.Time) (int, error) {
	return 0, nil
}

type fakeAlertRepo struct{}

func (fakeAlertRepo) Create(context.Context, models.Alert) (models.Alert, error) {
	return models.Alert{}, nil
}
func (fakeAlertRepo) GetPendingAlerts(context.Context, int) ([]models.Alert, error) { return nil, nil }
func (fakeAlertRepo) GetByAccountID(context.Context, string, *models.AlertStatus, string) ([]models.Alert, error) {
	return []models.Alert{{ID: "a1", Reason: models.ReasonRollTrigger}}, nil
}
func (fakeAlertRepo) GetAlertByID(context.Context, string) (models.Alert, error) {
	return models.Alert{}, nil
}
func (fakeAlertRepo) ExistsForPositionRuleOnDate(context.Context, string, string, models.AlertReason, time.Time) (bool, error) {
	return false, nil
}
func (fakeAlertRepo) ExistsExpirationWarning(context.Context, string, time.Time) (bool, error) {
	return false, nil
}
func (fakeAlertRepo) UpdateStatus(context.Context, string, models.AlertStatus, string, string) error {
	return nil
}
func (fakeAlertRepo) MergePayload(context.Context, string, models.Payload) error { return nil }
func (fakeAlertRepo) RetryFailedAlert(context.Context, string) (models.Alert, error) {
	return models.Alert{}, nil
}
func (fakeAlertRepo) CleanupOldAlerts(context.Context, time.Duration) (int, error) { return 0, nil }

type fakeRuleRepo struct{}

func (fakeRuleRepo) GetActiveRules(context.Context, string) ([]models.Rule, error) {
	return nil, nil
}

func newTestServer(token string) *Server {
	cache := quotecache.New(10 * time.Second)
	positions := fakePositionRepo{positions: []models.Position{{ID: "p1", AccountID: "acc1"}}}
	return New(cache, fakeAccountRepo{}, positions, fakeRuleRepo{}, fakeAlertRepo{}, marketdata.NewMockProvider(), nil, Config{AuthToken: token}, nil)
}

func doGet(s *Server, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("X-Auth-Token", token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth_AlwaysPublic(t *testing.T) {
	s := newTestServer("secret")
	rec := doGet(s, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPositions_RequiresAuthWhenTokenConfigured(t *testing.T) {
	s := newTestServer("secret")
	rec := doGet(s, "/api/accounts/acc1/positions", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPositions_ReturnsOpenPositionsForAccount(t *testing.T) {
	s := newTestServer("secret")
	rec := doGet(s, "/api/accounts/acc1/positions", "secret")
	require.Equal(t, http.StatusOK, rec.Code)
	var positions []models.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &positions))
	require.Len(t, positions, 1)
	assert.Equal(t, "p1", positions[0].ID)
}

func TestAlerts_ReturnsAlertsForAccount(t *testing.T) {
	s := newTestServer("secret")
	rec := doGet(s, "/api/accounts/acc1/alerts", "secret")
	require.Equal(t, http.StatusOK, rec.Code)
	var alerts []models.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)
}

func TestJobs_EmptyWhenNoSchedulerWired(t *testing.T) {
	s := newTestServer("secret")
	rec := doGet(s, "/api/jobs", "secret")
	require.Equal(t, http.StatusOK, rec.Code)
	var statuses []scheduler.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	assert.Empty(t, statuses)
}

func TestNoAuthToken_AllowsUnauthenticatedAccess(t *testing.T) {
	s := newTestServer("")
	rec := doGet(s, "/api/accounts/acc1/positions", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRollSuggestions_UnknownPositionIs404(t *testing.T) {
	s := newTestServer("secret")
	rec := doGet(s, "/api/positions/nope/roll-suggestions", "secret")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRollSuggestions_ReturnsCalculatorResult(t *testing.T) {
	cache := quotecache.New(10 * time.Second)
	positions := fakePositionRepo{positions: []models.Position{{
		ID: "p1", AccountID: "acc1", AssetID: "VALE3", Side: models.SideCall,
		Strike:     decimal.NewFromInt(60),
		Expiration: time.Now().AddDate(0, 0, 10),
		Status:     models.PositionOpen,
	}}}
	s := New(cache, fakeAccountRepo{}, positions, fakeRuleRepo{}, fakeAlertRepo{}, marketdata.NewMockProvider(), nil, Config{}, nil)

	rec := doGet(s, "/api/positions/p1/roll-suggestions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var result map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Contains(t, result, "underlying_price")
}
