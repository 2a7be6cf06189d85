// Package repo defines the persistence contracts consumed by the
// engines: account/position/rule reads scoped to an owning user, and
// alert/log read-write operations. The file-backed implementation lives
// in internal/repo/jsonrepo.
package repo

import (
	"context"
	"time"

	"github.com/rollwatch/rollwatch/internal/models"
)

// AccountRepo resolves accounts and verifies ownership.
type AccountRepo interface {
	GetAll(ctx context.Context) ([]models.Account, error)
	GetByID(ctx context.Context, id string) (models.Account, error)
	UserOwnsAccount(ctx context.Context, accountID, userID string) (bool, error)
}

// PositionRepo resolves positions, scoped to an account or a user.
type PositionRepo interface {
	GetOpenPositions(ctx context.Context, accountID string) ([]models.Position, error)
	GetPositionByID(ctx context.Context, id string) (models.Position, error)
	GetUserPosition(ctx context.Context, id, userID string) (models.Position, error)
	ExpireOverduePositions(ctx context.Context, asOf time.Time) (int, error)
}

// RuleRepo resolves active roll rules.
type RuleRepo interface {
	GetActiveRules(ctx context.Context, accountID string) ([]models.Rule, error)
}

// AlertRepo is the queue's persistence boundary: create, FIFO drain,
// status transitions, payload merge, manual retry, and retention cleanup.
type AlertRepo interface {
	Create(ctx context.Context, alert models.Alert) (models.Alert, error)
	GetPendingAlerts(ctx context.Context, limit int) ([]models.Alert, error)
	GetByAccountID(ctx context.Context, accountID string, status *models.AlertStatus, asUser string) ([]models.Alert, error)
	GetAlertByID(ctx context.Context, id string) (models.Alert, error)
	ExistsForPositionRuleOnDate(ctx context.Context, positionID, ruleID string, reason models.AlertReason, date time.Time) (bool, error)
	ExistsExpirationWarning(ctx context.Context, positionID string, date time.Time) (bool, error)
	UpdateStatus(ctx context.Context, id string, status models.AlertStatus, errExcerpt string, asUser string) error
	MergePayload(ctx context.Context, id string, patch models.Payload) error
	RetryFailedAlert(ctx context.Context, id string) (models.Alert, error)
	CleanupOldAlerts(ctx context.Context, olderThan time.Duration) (int, error)
}

// LogRepo is the append-only delivery-attempt ledger.
type LogRepo interface {
	CreateLog(ctx context.Context, log models.Log) (models.Log, error)
	CleanupOldLogs(ctx context.Context, olderThan time.Duration) (int, error)
}
