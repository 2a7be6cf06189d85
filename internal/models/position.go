package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the option side of a Position.
type Side string

const (
	SideCall Side = "CALL"
	SidePut  Side = "PUT"
)

// PositionStatus is the lifecycle state of a Position.
type PositionStatus string

const (
	PositionOpen    PositionStatus = "OPEN"
	PositionClosed  PositionStatus = "CLOSED"
	PositionExpired PositionStatus = "EXPIRED"
)

// Position is a held option contract being watched against roll rules.
type Position struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	AssetID     string          `json:"asset_id"`
	Side        Side            `json:"side"`
	Strategy    string          `json:"strategy"`
	Strike      decimal.Decimal `json:"strike"`
	Expiration  time.Time       `json:"expiration"`
	Quantity    int             `json:"quantity"`
	AvgPremium  decimal.Decimal `json:"avg_premium"`
	Status      PositionStatus  `json:"status"`
	Notes       string          `json:"notes,omitempty"`
}

// DTE returns the calendar-day distance between Expiration and the given
// reference date, truncated to whole days. It is not clamped to zero so
// callers can detect positions already past expiration.
func (p *Position) DTE(asOf time.Time) int {
	exp := p.Expiration.Truncate(24 * time.Hour)
	ref := asOf.Truncate(24 * time.Hour)
	return int(exp.Sub(ref).Hours() / 24)
}

// IsOpen reports whether the position is eligible for monitoring.
func (p *Position) IsOpen() bool {
	return p.Status == PositionOpen
}
