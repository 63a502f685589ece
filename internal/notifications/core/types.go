// Package core provides the shared notification contract used by the email
// and SMS reminder channels: the Channel interface, the delivery result
// shape, and the observability hooks (CloudWatch metrics, SQS events) the
// reminder pipeline reports through.
package core

import (
	"context"
	"errors"
	"time"

	"sphyra/internal/types"
)

// Recipient identifies who a reminder is addressed to. Only the field of the
// channel in use needs to be set.
type Recipient struct {
	Name  string
	Email string
	Phone string
}

// FirstName returns the first whitespace-separated word of Name.
func (r Recipient) FirstName() string {
	for i, c := range r.Name {
		if c == ' ' {
			return r.Name[:i]
		}
	}
	return r.Name
}

// Message is the channel-independent content of an appointment reminder.
type Message struct {
	AppointmentID   string
	Date            time.Time // calendar day
	StartTime       string    // HH:MM
	EndTime         string    // HH:MM
	ServiceName     string
	ServiceDuration int // minutes
	StaffName       string
	ConfirmationURL string
}

// MessageFromDetails builds the reminder content for an appointment.
func MessageFromDetails(d *types.AppointmentDetails, confirmationURL string) Message {
	return Message{
		AppointmentID:   d.ID,
		Date:            d.Date,
		StartTime:       d.StartTime,
		EndTime:         d.EndTime,
		ServiceName:     d.Service.Name,
		ServiceDuration: d.Service.Duration,
		StaffName:       d.Staff.FullName(),
		ConfirmationURL: confirmationURL,
	}
}

// DeliveryResult is the outcome of one Channel.Send call. Channels report
// failures here instead of returning Go errors.
type DeliveryResult struct {
	Success   bool
	MessageID string
	Error     string
	Code      types.ErrorCode
	// Transient marks failures that a later attempt could fix.
	Transient bool
}

// Delivered builds a successful result.
func Delivered(messageID string) DeliveryResult {
	return DeliveryResult{Success: true, MessageID: messageID}
}

// Failed converts an error into a failed DeliveryResult.
func Failed(err error) DeliveryResult {
	msg := err.Error()
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	return DeliveryResult{
		Error:     msg,
		Code:      types.CodeOf(err),
		Transient: IsTransient(err),
	}
}

// IsTransient reports whether err is a delivery failure worth retrying later.
func IsTransient(err error) bool {
	switch types.CodeOf(err) {
	case types.ErrCodeChannelTransientFailure,
		types.ErrCodeUpstreamUnavailable,
		types.ErrCodeUpstreamRateLimited:
		return true
	}
	return false
}

// Channel delivers a reminder through one medium.
type Channel interface {
	Type() types.ReminderType
	Send(ctx context.Context, to Recipient, msg Message) DeliveryResult
}

// MetricResult categorizes a delivery outcome for metrics reporting.
type MetricResult string

const (
	MetricSuccess MetricResult = "success"
	MetricFailed  MetricResult = "failed"
)

// Metrics abstracts CloudWatch telemetry for the reminder pipeline.
type Metrics interface {
	RecordDelivery(ctx context.Context, channel types.ReminderType, result MetricResult)
	RecordLatency(ctx context.Context, channel types.ReminderType, d time.Duration)
	RecordBatch(ctx context.Context, total, sent, failed int)
}

// NoopMetrics discards all metrics.
type NoopMetrics struct{}

func (NoopMetrics) RecordDelivery(context.Context, types.ReminderType, MetricResult) {}
func (NoopMetrics) RecordLatency(context.Context, types.ReminderType, time.Duration) {}
func (NoopMetrics) RecordBatch(context.Context, int, int, int) {}

// Event types published to the events queue.
const (
	EventAppointmentConfirmed   = "appointment.confirmed"
	EventReminderBatchCompleted = "reminder.batch_completed"
)

// Event is a domain event emitted for downstream consumers.
type Event struct {
	Type          string         `json:"type"`
	AppointmentID string         `json:"appointment_id,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Data          map[string]any `json:"data,omitempty"`
}

// EventPublisher emits domain events. Implementations must not block the
// reminder pipeline on failure beyond returning an error.
type EventPublisher interface {
	Publish(ctx context.Context, evt Event) error
}

// NoopPublisher drops all events.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
