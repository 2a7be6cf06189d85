// Package channel implements the external notification channels the
// Notifier fans alerts out to: WhatsApp and SMS over a
// bearer-authenticated HTTP API with primary/fallback endpoints and
// token refresh, and Email over SendGrid.
package channel

import (
	"context"

	"github.com/rollwatch/rollwatch/internal/models"
)

// Message is what the Notifier hands a Channel to deliver.
type Message struct {
	To       string
	Subject  string
	Body     string
	HTMLBody string
}

// Result carries the vendor's message identifier back to the Notifier
// so it can be recorded on the delivery Log.
type Result struct {
	ProviderMsgID string
}

// Channel is the capability every delivery mechanism implements.
type Channel interface {
	Type() models.Channel
	Send(ctx context.Context, msg Message) (Result, error)
}
