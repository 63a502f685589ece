package email

import (
	"context"
	"fmt"
	"log/slog"

	"sphyra/internal/external"
	"sphyra/internal/notifications/core"
	"sphyra/internal/types"
)

const icsFilename = "appuntamento.ics"

// Channel implements core.Channel for email reminders. It renders the
// templates locally, attaches the calendar invitation and hands the result to
// an external.EmailProvider.
type Channel struct {
	provider    external.EmailProvider
	renderer    *Renderer
	studio      StudioInfo
	fromAddress string
	fromName    string
	clock       types.Clock
	logger      *slog.Logger
}

// ChannelConfig holds the dependencies needed to create a Channel. A nil
// Provider yields a channel whose every send fails as not configured.
type ChannelConfig struct {
	Provider    external.EmailProvider
	Renderer    *Renderer
	Studio      StudioInfo
	FromAddress string
	FromName    string
	Clock       types.Clock
	Logger      *slog.Logger
}

// NewChannel creates a new email Channel.
func NewChannel(cfg ChannelConfig) *Channel {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		provider:    cfg.Provider,
		renderer:    cfg.Renderer,
		studio:      cfg.Studio,
		fromAddress: cfg.FromAddress,
		fromName:    cfg.FromName,
		clock:       clock,
		logger:      logger,
	}
}

// Type implements core.Channel.
func (c *Channel) Type() types.ReminderType { return types.ReminderEmail }

// Send renders and transmits the reminder. Failures are reported in the
// result; Send does not panic.
func (c *Channel) Send(ctx context.Context, to core.Recipient, msg core.Message) (res core.DeliveryResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("email channel panic", "panic", fmt.Sprint(r), "appointment_id", msg.AppointmentID)
			res = core.Failed(types.NewAppError(types.ErrCodeInternalUnexpected, fmt.Sprintf("email channel panic: %v", r), nil))
		}
	}()

	if c.provider == nil || c.renderer == nil {
		return core.Failed(types.NewAppError(types.ErrCodeInternalChannelMissing, external.ErrSendGridNotConfigured.Error(), nil))
	}
	if to.Email == "" {
		return core.Failed(types.NewAppError(types.ErrCodeContactMissing, "Customer has no email address", nil))
	}

	rendered, err := c.renderer.Render(to, msg)
	if err != nil {
		return core.Failed(types.NewAppError(types.ErrCodeInternalUnexpected, err.Error(), err))
	}

	ics := BuildICS(ICSEvent{
		AppointmentID:   msg.AppointmentID,
		Date:            msg.Date,
		StartTime:       msg.StartTime,
		EndTime:         msg.EndTime,
		ServiceName:     msg.ServiceName,
		ServiceDuration: msg.ServiceDuration,
		StaffName:       msg.StaffName,
		AttendeeName:    to.Name,
		AttendeeEmail:   to.Email,
		Stamp:           c.clock.Now(),
	}, c.studio)

	msgID, err := c.provider.Send(ctx, external.EmailMessage{
		To:          to.Email,
		FromAddress: c.fromAddress,
		FromName:    c.fromName,
		Subject:     rendered.Subject,
		BodyHTML:    rendered.BodyHTML,
		BodyText:    rendered.BodyText,
		Attachments: []external.EmailAttachment{{
			Filename:    icsFilename,
			ContentType: "text/calendar; charset=utf-8; method=REQUEST",
			Content:     ics,
		}},
		ReferenceID: msg.AppointmentID,
	})
	if err != nil {
		if IsBlocklistError(err) {
			c.logger.Warn("recipient blocked by provider",
				"dest", RedactEmail(to.Email),
				"appointment_id", msg.AppointmentID,
			)
		} else {
			c.logger.Error("email delivery failed",
				"dest", RedactEmail(to.Email),
				"appointment_id", msg.AppointmentID,
				"error", err.Error(),
			)
		}
		return core.Failed(err)
	}

	c.logger.Info("reminder email sent",
		"dest", RedactEmail(to.Email),
		"appointment_id", msg.AppointmentID,
		"message_id", msgID,
	)
	return core.Delivered(msgID)
}

var _ core.Channel = (*Channel)(nil)
