package external

import (
	"context"
)

// EmailAttachment is a base64-encoded file attached to an outbound email.
type EmailAttachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// EmailMessage is a fully rendered email ready for transmission.
type EmailMessage struct {
	To          string
	FromAddress string
	FromName    string
	Subject     string
	BodyHTML    string
	BodyText    string
	Attachments []EmailAttachment
	// ReferenceID correlates provider webhooks with the appointment.
	ReferenceID string
}

// EmailProvider abstracts the email delivery service (SendGrid).
type EmailProvider interface {
	// Send transmits a rendered email and returns the provider message ID.
	Send(ctx context.Context, msg EmailMessage) (providerMsgID string, err error)
}

// SMSProvider abstracts SMS delivery (self-hosted Android gateway or Twilio).
type SMSProvider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Send delivers text to a single E.164 number and returns the provider
	// message ID.
	Send(ctx context.Context, phoneE164, text string) (providerMsgID string, err error)
}

// Pinger is implemented by providers that can probe their upstream for the
// health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}
