package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sphyra/internal/notifications/core"
	"sphyra/internal/notifications/sms"
	"sphyra/internal/types"
)

// AppointmentStore is the appointment collaborator of the Orchestrator.
type AppointmentStore interface {
	FindDue(ctx context.Context, day time.Time) ([]*types.AppointmentDetails, error)
	GetDetails(ctx context.Context, id string) (*types.AppointmentDetails, error)
	MarkReminderSent(ctx context.Context, id string) error
}

// ReminderStore persists the audit record of each send attempt.
type ReminderStore interface {
	Create(ctx context.Context, rem *types.Reminder) error
	ListByAppointment(ctx context.Context, appointmentID string) ([]*types.Reminder, error)
}

// SettingsSource provides the current reminder settings.
type SettingsSource interface {
	Get(ctx context.Context) types.ReminderSettings
}

// SendResult is the outcome of one SendReminderForAppointment call.
type SendResult struct {
	AppointmentID string          `json:"appointment_id"`
	Success       bool            `json:"success"`
	ReminderID    string          `json:"reminder_id,omitempty"`
	Error         string          `json:"error,omitempty"`
	Code          types.ErrorCode `json:"code,omitempty"`
}

// BatchResult aggregates a SendAllDueReminders run.
type BatchResult struct {
	Total   int          `json:"total"`
	Sent    int          `json:"sent"`
	Failed  int          `json:"failed"`
	Results []SendResult `json:"results"`
}

// Orchestrator finds due appointments and drives token issuance, delivery
// and record keeping for each of them.
type Orchestrator struct {
	appointments AppointmentStore
	reminders    ReminderStore
	settings     SettingsSource
	tokens       *TokenService
	channels     map[types.ReminderType]core.Channel
	batchChannel types.ReminderType
	frontendURL  string
	location     *time.Location
	metrics      core.Metrics
	events       core.EventPublisher
	clock        types.Clock
	logger       *slog.Logger
}

// OrchestratorConfig holds the dependencies for an Orchestrator.
//
// BatchChannel is the channel used by SendAllDueReminders (default email).
// Location is the studio time zone used to compute the due day (default UTC).
type OrchestratorConfig struct {
	Appointments AppointmentStore
	Reminders    ReminderStore
	Settings     SettingsSource
	Tokens       *TokenService
	Channels     []core.Channel
	BatchChannel types.ReminderType
	FrontendURL  string
	Location     *time.Location
	Metrics      core.Metrics
	Events       core.EventPublisher
	Clock        types.Clock
	Logger       *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	channels := make(map[types.ReminderType]core.Channel, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		channels[ch.Type()] = ch
	}
	batch := cfg.BatchChannel
	if batch == "" {
		batch = types.ReminderEmail
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	var metrics core.Metrics = core.NoopMetrics{}
	if cfg.Metrics != nil {
		metrics = cfg.Metrics
	}
	var events core.EventPublisher = core.NoopPublisher{}
	if cfg.Events != nil {
		events = cfg.Events
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		appointments: cfg.Appointments,
		reminders:    cfg.Reminders,
		settings:     cfg.Settings,
		tokens:       cfg.Tokens,
		channels:     channels,
		batchChannel: batch,
		frontendURL:  cfg.FrontendURL,
		location:     loc,
		metrics:      metrics,
		events:       events,
		clock:        clock,
		logger:       logger,
	}
}

// DueDay returns the calendar day whose appointments are reminded today.
func (o *Orchestrator) DueDay(ctx context.Context) time.Time {
	settings := o.settings.Get(ctx)
	y, m, d := o.clock.Now().In(o.location).Date()
	return time.Date(y, m, d+settings.ReminderDaysBefore, 0, 0, 0, 0, time.UTC)
}

// AppointmentsNeedingReminders lists remindable, not yet reminded
// appointments on the due day.
func (o *Orchestrator) AppointmentsNeedingReminders(ctx context.Context) ([]*types.AppointmentDetails, error) {
	day := o.DueDay(ctx)
	appts, err := o.appointments.FindDue(ctx, day)
	if err != nil {
		return nil, err
	}
	o.logger.Info("looked up appointments needing reminders",
		"day", day.Format(time.DateOnly),
		"count", len(appts),
	)
	return appts, nil
}

// History returns the reminder records of an appointment, newest first.
func (o *Orchestrator) History(ctx context.Context, appointmentID string) ([]*types.Reminder, error) {
	return o.reminders.ListByAppointment(ctx, appointmentID)
}

// SendReminderForAppointment sends one reminder of the given type.
//
// Contact, consent and phone format are checked before a token is issued;
// such failures are recorded as unsent reminders and no channel is called.
// Token issuance precedes delivery and delivery precedes the record. The
// appointment is flagged as reminded only after a successful delivery.
func (o *Orchestrator) SendReminderForAppointment(ctx context.Context, appointmentID string, typ types.ReminderType) SendResult {
	res := SendResult{AppointmentID: appointmentID}

	if !typ.Valid() {
		return fail(res, types.NewAppError(types.ErrCodeValidationInvalidChannel,
			fmt.Sprintf("Unsupported reminder type: %s", typ), nil))
	}

	details, err := o.appointments.GetDetails(ctx, appointmentID)
	if err != nil {
		return fail(res, err)
	}

	recipient, err := checkRecipient(details.Customer, typ)
	if err != nil {
		o.logger.Warn("reminder skipped before send",
			"appointment_id", appointmentID,
			"type", typ,
			"reason", types.CodeOf(err),
		)
		return o.record(ctx, res, typ, core.Failed(err))
	}

	ch, ok := o.channels[typ]
	if !ok {
		return o.record(ctx, res, typ, core.Failed(types.NewAppError(types.ErrCodeInternalChannelMissing,
			fmt.Sprintf("No %s channel configured", typ), nil)))
	}

	token, err := o.tokens.Issue(ctx, &details.Appointment)
	if err != nil {
		o.logger.Error("confirmation token issue failed", "appointment_id", appointmentID, "error", err)
		return fail(res, err)
	}

	link := BuildConfirmationLink(o.frontendURL, appointmentID, token)
	start := o.clock.Now()
	delivery := ch.Send(ctx, recipient, core.MessageFromDetails(details, link))
	o.metrics.RecordLatency(ctx, typ, o.clock.Now().Sub(start))

	res = o.record(ctx, res, typ, delivery)
	if !delivery.Success {
		return res
	}

	if err := o.appointments.MarkReminderSent(ctx, appointmentID); err != nil {
		o.logger.Error("failed to flag appointment as reminded",
			"appointment_id", appointmentID,
			"error", err,
		)
	}
	return res
}

// record persists the attempt and folds the delivery outcome into res.
func (o *Orchestrator) record(ctx context.Context, res SendResult, typ types.ReminderType, delivery core.DeliveryResult) SendResult {
	now := o.clock.Now()
	rem := &types.Reminder{
		AppointmentID: res.AppointmentID,
		Type:          typ,
		ScheduledFor:  now,
		Sent:          delivery.Success,
	}
	if delivery.Success {
		rem.SentAt = &now
		o.metrics.RecordDelivery(ctx, typ, core.MetricSuccess)
	} else {
		msg := delivery.Error
		rem.ErrorMessage = &msg
		o.metrics.RecordDelivery(ctx, typ, core.MetricFailed)
	}

	if err := o.reminders.Create(ctx, rem); err != nil {
		o.logger.Error("failed to record reminder attempt",
			"appointment_id", res.AppointmentID,
			"type", typ,
			"sent", delivery.Success,
			"error", err,
		)
	} else {
		res.ReminderID = rem.ID
	}

	res.Success = delivery.Success
	if !delivery.Success {
		res.Error = delivery.Error
		res.Code = delivery.Code
		o.logger.Warn("reminder not delivered",
			"appointment_id", res.AppointmentID,
			"type", typ,
			"code", delivery.Code,
			"transient", delivery.Transient,
		)
	} else {
		o.logger.Info("reminder delivered",
			"appointment_id", res.AppointmentID,
			"type", typ,
			"message_id", delivery.MessageID,
		)
	}
	return res
}

// SendAllDueReminders sends the batch channel reminder to every due
// appointment, one at a time. Per-appointment failures are reported in the
// result; only a failure to list the due set is returned as an error.
func (o *Orchestrator) SendAllDueReminders(ctx context.Context) (BatchResult, error) {
	batch := BatchResult{Results: []SendResult{}}

	appts, err := o.AppointmentsNeedingReminders(ctx)
	if err != nil {
		return batch, err
	}

	for _, a := range appts {
		r := o.SendReminderForAppointment(ctx, a.ID, o.batchChannel)
		batch.Results = append(batch.Results, r)
		if r.Success {
			batch.Sent++
		} else {
			batch.Failed++
		}
	}
	batch.Total = len(appts)

	o.metrics.RecordBatch(ctx, batch.Total, batch.Sent, batch.Failed)
	if batch.Total > 0 {
		evt := core.Event{
			Type:       core.EventReminderBatchCompleted,
			OccurredAt: o.clock.Now(),
			Data: map[string]any{
				"total":   batch.Total,
				"sent":    batch.Sent,
				"failed":  batch.Failed,
				"channel": string(o.batchChannel),
			},
		}
		if err := o.events.Publish(ctx, evt); err != nil {
			o.logger.Warn("failed to publish batch event", "error", err)
		}
	}

	o.logger.Info("reminder batch completed",
		"total", batch.Total,
		"sent", batch.Sent,
		"failed", batch.Failed,
	)
	return batch, nil
}

// checkRecipient validates contact and consent for the channel and returns
// the addressee.
func checkRecipient(c types.Customer, typ types.ReminderType) (core.Recipient, error) {
	to := core.Recipient{Name: c.FullName()}
	switch typ {
	case types.ReminderEmail:
		if c.Email == "" {
			return to, types.NewAppError(types.ErrCodeContactMissing,
				fmt.Sprintf("Customer email not found (%s)", c.FullName()), nil)
		}
		if !c.EmailReminderConsent {
			return to, types.NewAppError(types.ErrCodeConsentMissing,
				"Customer has not consented to email reminders (GDPR)", nil)
		}
		to.Email = c.Email
	case types.ReminderSMS:
		if c.Phone == "" {
			return to, types.NewAppError(types.ErrCodeContactMissing,
				fmt.Sprintf("Customer phone not found (%s)", c.FullName()), nil)
		}
		if !c.SMSReminderConsent {
			return to, types.NewAppError(types.ErrCodeConsentMissing,
				"Customer has not consented to SMS reminders (GDPR)", nil)
		}
		phone, err := sms.NormalizePhone(c.Phone)
		if err != nil {
			return to, err
		}
		to.Phone = phone
	}
	return to, nil
}

func fail(res SendResult, err error) SendResult {
	res.Success = false
	res.Code = types.CodeOf(err)
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		res.Error = appErr.Message
	} else {
		res.Error = err.Error()
	}
	return res
}

// RevokeToken clears the outstanding confirmation token of an appointment so
// that a leaked link stops working.
func (o *Orchestrator) RevokeToken(ctx context.Context, appointmentID string) error {
	details, err := o.appointments.GetDetails(ctx, appointmentID)
	if err != nil {
		return err
	}
	if err := o.tokens.Invalidate(ctx, &details.Appointment); err != nil {
		return err
	}
	o.logger.Info("confirmation token revoked", "appointment_id", appointmentID)
	return nil
}
