package channel

import (
	"context"
	"time"

	"github.com/rollwatch/rollwatch/internal/models"
)

// WhatsAppChannel sends alert text through a bearer-authenticated
// WhatsApp Business-style gateway.
type WhatsAppChannel struct {
	client *bearerClient
}

// WhatsAppConfig configures the WhatsApp gateway endpoints and auth.
type WhatsAppConfig struct {
	PrimaryURL   string
	FallbackURL  string
	LoginURL     string
	StaticAPIKey string
	Username     string
	Password     string
	Timeout      time.Duration
}

// NewWhatsAppChannel builds a WhatsAppChannel from cfg.
func NewWhatsAppChannel(cfg WhatsAppConfig) *WhatsAppChannel {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &WhatsAppChannel{
		client: newBearerClient("whatsapp-gateway", cfg.PrimaryURL, cfg.FallbackURL, cfg.LoginURL, cfg.StaticAPIKey, cfg.Username, cfg.Password, timeout),
	}
}

func (c *WhatsAppChannel) Type() models.Channel {
	return models.ChannelWhatsApp
}

func (c *WhatsAppChannel) Send(ctx context.Context, msg Message) (Result, error) {
	payload := map[string]string{
		"to":   normalizePhone(msg.To),
		"text": msg.Body,
	}
	return c.client.send(ctx, payload)
}
