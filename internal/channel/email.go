package channel

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/rollwatch/rollwatch/internal/models"
)

// EmailChannel delivers alert text via SendGrid.
type EmailChannel struct {
	fromEmail string
	fromName  string
	client    *sendgrid.Client
}

// EmailConfig configures the SendGrid sender identity.
type EmailConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewEmailChannel builds an EmailChannel. Both the API key and the
// sender address are required; there is no anonymous-sender fallback.
func NewEmailChannel(cfg EmailConfig) (*EmailChannel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("sendgrid API key is required")
	}
	if cfg.FromEmail == "" {
		return nil, fmt.Errorf("from email is required")
	}
	return &EmailChannel{
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		client:    sendgrid.NewSendClient(cfg.APIKey),
	}, nil
}

func (c *EmailChannel) Type() models.Channel {
	return models.ChannelEmail
}

func (c *EmailChannel) Send(ctx context.Context, msg Message) (Result, error) {
	if msg.To == "" {
		return Result{}, fmt.Errorf("no recipient specified")
	}

	from := mail.NewEmail(c.fromName, c.fromEmail)
	personalization := mail.NewPersonalization()
	personalization.AddTos(mail.NewEmail("", msg.To))

	m := mail.NewV3Mail()
	m.SetFrom(from)
	m.Subject = msg.Subject
	m.AddPersonalizations(personalization)
	if msg.Body != "" {
		m.AddContent(mail.NewContent("text/plain", msg.Body))
	}
	if msg.HTMLBody != "" {
		m.AddContent(mail.NewContent("text/html", msg.HTMLBody))
	}

	response, err := c.client.SendWithContext(ctx, m)
	if err != nil {
		return Result{}, fmt.Errorf("sendgrid send failed: %w", err)
	}
	if response.StatusCode >= 400 {
		return Result{}, fmt.Errorf("sendgrid returned status %d: %s", response.StatusCode, response.Body)
	}

	var msgID string
	if id := response.Headers["X-Message-Id"]; len(id) > 0 {
		msgID = id[0]
	}
	return Result{ProviderMsgID: msgID}, nil
}
