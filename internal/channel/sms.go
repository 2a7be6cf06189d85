package channel

import (
	"context"
	"time"

	"github.com/rollwatch/rollwatch/internal/models"
)

// SMSChannel sends alert text through a bearer-authenticated SMS
// gateway, sharing the primary/fallback + re-auth algorithm with
// WhatsAppChannel but against its own endpoint set.
type SMSChannel struct {
	client *bearerClient
}

// SMSConfig configures the SMS gateway endpoints and auth.
type SMSConfig struct {
	PrimaryURL   string
	FallbackURL  string
	LoginURL     string
	StaticAPIKey string
	Username     string
	Password     string
	Timeout      time.Duration
}

// NewSMSChannel builds an SMSChannel from cfg.
func NewSMSChannel(cfg SMSConfig) *SMSChannel {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &SMSChannel{
		client: newBearerClient("sms-gateway", cfg.PrimaryURL, cfg.FallbackURL, cfg.LoginURL, cfg.StaticAPIKey, cfg.Username, cfg.Password, timeout),
	}
}

func (c *SMSChannel) Type() models.Channel {
	return models.ChannelSMS
}

func (c *SMSChannel) Send(ctx context.Context, msg Message) (Result, error) {
	payload := map[string]string{
		"to":      normalizePhone(msg.To),
		"message": msg.Body,
	}
	return c.client.send(ctx, payload)
}
