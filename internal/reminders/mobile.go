package reminders

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"sphyra/internal/notifications/core"
	"sphyra/internal/notifications/sms"
	"sphyra/internal/types"
)

const (
	mobileWindow         = 24 * time.Hour
	defaultMobileFailure = "SMS send failed from mobile"
)

// MobileAppointments is the appointment collaborator of MobileQueue.
type MobileAppointments interface {
	FindUpcomingForSMS(ctx context.Context, fromDay, toDay time.Time) ([]*types.AppointmentDetails, error)
	GetByID(ctx context.Context, id string) (*types.Appointment, error)
	MarkReminderSent(ctx context.Context, id string) error
}

// MobileReminders is the reminder record collaborator of MobileQueue.
type MobileReminders interface {
	Create(ctx context.Context, rem *types.Reminder) error
	HasSent(ctx context.Context, appointmentID string, typ types.ReminderType) (bool, error)
}

// PendingSMS is one reminder the studio phone should send.
type PendingSMS struct {
	Appointment *types.AppointmentDetails `json:"appointment"`
	Phone       string                    `json:"phone"`
	Message     string                    `json:"message"`
}

// MobileQueue serves the phone app that sends SMS reminders from the studio
// SIM. The phone polls Pending and reports each outcome back.
type MobileQueue struct {
	appointments MobileAppointments
	reminders    MobileReminders
	signature    string
	location     *time.Location
	metrics      core.Metrics
	clock        types.Clock
	logger       *slog.Logger
}

// MobileQueueConfig holds the dependencies for a MobileQueue.
type MobileQueueConfig struct {
	Appointments MobileAppointments
	Reminders    MobileReminders
	Signature    string
	Location     *time.Location
	Metrics      core.Metrics
	Clock        types.Clock
	Logger       *slog.Logger
}

// NewMobileQueue creates a MobileQueue.
func NewMobileQueue(cfg MobileQueueConfig) *MobileQueue {
	q := &MobileQueue{
		appointments: cfg.Appointments,
		reminders:    cfg.Reminders,
		signature:    cfg.Signature,
		location:     cfg.Location,
		metrics:      cfg.Metrics,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
	}
	if q.location == nil {
		q.location = time.UTC
	}
	if q.metrics == nil {
		q.metrics = core.NoopMetrics{}
	}
	if q.clock == nil {
		q.clock = types.RealClock{}
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	return q
}

// Pending lists appointments starting within the next 24 hours that still
// need an SMS reminder, with the rendered text and normalized phone number.
// Appointments with an unusable phone number or start time are left out.
func (q *MobileQueue) Pending(ctx context.Context) ([]PendingSMS, error) {
	now := q.clock.Now().In(q.location)
	until := now.Add(mobileWindow)
	fromDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	toDay := time.Date(until.Year(), until.Month(), until.Day(), 0, 0, 0, 0, time.UTC)

	appts, err := q.appointments.FindUpcomingForSMS(ctx, fromDay, toDay)
	if err != nil {
		return nil, err
	}

	out := make([]PendingSMS, 0, len(appts))
	for _, a := range appts {
		start, ok := startInstant(a.Date, a.StartTime, q.location)
		if !ok {
			q.logger.Warn("skipping appointment with unparsable start time", "appointment_id", a.ID)
			continue
		}
		if start.Before(now) || start.After(until) {
			continue
		}
		phone, err := sms.NormalizePhone(a.Customer.Phone)
		if err != nil {
			q.logger.Warn("skipping appointment with invalid phone",
				"appointment_id", a.ID,
				"phone", sms.RedactPhone(a.Customer.Phone),
			)
			continue
		}
		to := core.Recipient{Name: a.Customer.FullName(), Phone: phone}
		out = append(out, PendingSMS{
			Appointment: a,
			Phone:       phone,
			Message:     sms.RenderReminder(to, core.MessageFromDetails(a, ""), q.signature),
		})
	}

	q.logger.Info("mobile pending reminders", "candidates", len(appts), "returned", len(out))
	return out, nil
}

// MarkSent records that the phone delivered the SMS. It reports
// alreadySent when the appointment was flagged or an SMS reminder is
// already on record, in which case no new record is written.
func (q *MobileQueue) MarkSent(ctx context.Context, appointmentID string) (alreadySent bool, err error) {
	appt, err := q.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return false, err
	}
	if appt.ReminderSent {
		return true, nil
	}

	sent, err := q.reminders.HasSent(ctx, appointmentID, types.ReminderSMS)
	if err != nil {
		return false, err
	}
	if sent {
		return true, q.appointments.MarkReminderSent(ctx, appointmentID)
	}

	now := q.clock.Now()
	if err := q.reminders.Create(ctx, &types.Reminder{
		AppointmentID: appointmentID,
		Type:          types.ReminderSMS,
		ScheduledFor:  now,
		Sent:          true,
		SentAt:        &now,
	}); err != nil {
		return false, err
	}
	q.metrics.RecordDelivery(ctx, types.ReminderSMS, core.MetricSuccess)
	if err := q.appointments.MarkReminderSent(ctx, appointmentID); err != nil {
		return false, err
	}

	q.logger.Info("mobile SMS reminder marked sent", "appointment_id", appointmentID)
	return false, nil
}

// MarkFailed records a failed SMS attempt reported by the phone.
func (q *MobileQueue) MarkFailed(ctx context.Context, appointmentID, reason string) error {
	if _, err := q.appointments.GetByID(ctx, appointmentID); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultMobileFailure
	}

	if err := q.reminders.Create(ctx, &types.Reminder{
		AppointmentID: appointmentID,
		Type:          types.ReminderSMS,
		ScheduledFor:  q.clock.Now(),
		ErrorMessage:  &reason,
	}); err != nil {
		return err
	}
	q.metrics.RecordDelivery(ctx, types.ReminderSMS, core.MetricFailed)

	q.logger.Warn("mobile SMS reminder failed", "appointment_id", appointmentID, "reason", reason)
	return nil
}

// startInstant combines a calendar day and an HH:MM time in loc.
func startInstant(day time.Time, hhmm string, loc *time.Location) (time.Time, bool) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, false
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc), true
}
