// Package sms implements the SMS reminder channel on top of an
// external.SMSProvider (self-hosted gateway or Twilio).
package sms

import (
	"context"
	"fmt"
	"log/slog"

	"sphyra/internal/external"
	"sphyra/internal/notifications/core"
	"sphyra/internal/types"
)

// Channel implements core.Channel for SMS reminders. Retries happen inside the
// provider; Send reports the final outcome only.
type Channel struct {
	provider  external.SMSProvider
	signature string
	logger    *slog.Logger
}

// NewChannel creates an SMS channel. A nil provider yields a channel whose
// every send fails as not configured. signature closes every message.
func NewChannel(provider external.SMSProvider, signature string, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{provider: provider, signature: signature, logger: logger}
}

// Type implements core.Channel.
func (c *Channel) Type() types.ReminderType { return types.ReminderSMS }

// Send normalizes the phone number, renders the text and delivers it.
func (c *Channel) Send(ctx context.Context, to core.Recipient, msg core.Message) (res core.DeliveryResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("sms channel panic", "panic", fmt.Sprint(r), "appointment_id", msg.AppointmentID)
			res = core.Failed(types.NewAppError(types.ErrCodeInternalUnexpected, fmt.Sprintf("sms channel panic: %v", r), nil))
		}
	}()

	if c.provider == nil {
		return core.Failed(types.NewAppError(types.ErrCodeInternalChannelMissing, external.MsgGatewayNotConfigured, nil))
	}
	if to.Phone == "" {
		return core.Failed(types.NewAppError(types.ErrCodeContactMissing, "Customer has no phone number", nil))
	}

	phone, err := NormalizePhone(to.Phone)
	if err != nil {
		return core.Failed(err)
	}

	text := RenderReminder(to, msg, c.signature)
	msgID, err := c.provider.Send(ctx, phone, text)
	if err != nil {
		c.logger.Error("sms delivery failed",
			"provider", c.provider.Name(),
			"dest", RedactPhone(phone),
			"appointment_id", msg.AppointmentID,
			"error", err.Error(),
		)
		return core.Failed(err)
	}

	c.logger.Info("reminder sms sent",
		"provider", c.provider.Name(),
		"dest", RedactPhone(phone),
		"appointment_id", msg.AppointmentID,
		"message_id", msgID,
	)
	return core.Delivered(msgID)
}

var _ core.Channel = (*Channel)(nil)
