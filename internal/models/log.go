package models

import "time"

// LogStatus is the outcome of a single delivery attempt.
type LogStatus string

const (
	LogSuccess LogStatus = "success"
	LogFailed  LogStatus = "failed"
)

// Log is an append-only record of one delivery for one Alert on one
// Channel. Notifier writes one Log per channel each time it processes an
// alert, recording the outcome after that channel's retries; a channel
// with no target on the account gets no Log. Records are never mutated.
type Log struct {
	ID            string    `json:"id"`
	AlertID       string    `json:"alert_id"`
	Channel       Channel   `json:"channel"`
	Target        string    `json:"target"`
	Message       string    `json:"message"`
	Status        LogStatus `json:"status"`
	SentAt        time.Time `json:"sent_at"`
	ProviderMsgID string    `json:"provider_msg_id,omitempty"`
	Error         string    `json:"error,omitempty"`
}
