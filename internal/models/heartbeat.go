package models

import "time"

// Heartbeat is the last liveness ping received from an MT5 terminal,
// held in internal/quotecache to drive the bridge-health and dashboard
// heartbeat views; one record per terminal, replaced in place.
type Heartbeat struct {
	TerminalID    string    `json:"terminal_id"`
	AccountNumber string    `json:"account_number"`
	Broker        string    `json:"broker"`
	Build         string    `json:"build,omitempty"`
	Ts            time.Time `json:"ts"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Stale reports whether the Heartbeat is older than ttl as of now.
func (h *Heartbeat) Stale(now time.Time, ttl time.Duration) bool {
	return now.Sub(h.Ts) > ttl
}
