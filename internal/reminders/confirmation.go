package reminders

import (
	"context"
	"log/slog"
	"time"

	"sphyra/internal/notifications/core"
	"sphyra/internal/types"
)

// Public outcomes of a confirmation. Verification failures all share one
// message so the caller cannot tell which check rejected the token.
const (
	MsgConfirmed        = "Appointment confirmed successfully"
	MsgAlreadyConfirmed = "Appointment already confirmed"
	MsgCouldNotConfirm  = "Could not confirm the appointment. The link may be invalid or expired, please contact us."
	MsgNotFound         = "Appointment not found"
	MsgConfirmFailed    = "Could not confirm the appointment, please try again later."
)

// ConfirmStore is the appointment collaborator of ConfirmationFlow.
type ConfirmStore interface {
	GetByID(ctx context.Context, id string) (*types.Appointment, error)
	// ConfirmWithToken sets status=confirmed and confirmed_at and clears the
	// token fields in one update, only while the stored hash equals
	// expectedHash.
	ConfirmWithToken(ctx context.Context, id, expectedHash string, at time.Time) (*types.Appointment, error)
}

// ConfirmResult is returned to the link handlers. Code keeps the precise
// failure kind for logs and is never serialized; Error is safe to show
// customers.
type ConfirmResult struct {
	Success     bool               `json:"success"`
	Appointment *types.Appointment `json:"appointment,omitempty"`
	Message     string             `json:"message,omitempty"`
	Error       string             `json:"error,omitempty"`
	Code        types.ErrorCode    `json:"-"`
}

// ConfirmationFlow turns a presented token into a confirmed appointment.
type ConfirmationFlow struct {
	store  ConfirmStore
	tokens *TokenService
	events core.EventPublisher
	clock  types.Clock
	logger *slog.Logger
}

// NewConfirmationFlow creates a ConfirmationFlow. A nil publisher drops
// events.
func NewConfirmationFlow(store ConfirmStore, tokens *TokenService, events core.EventPublisher, clock types.Clock, logger *slog.Logger) *ConfirmationFlow {
	if events == nil {
		events = core.NoopPublisher{}
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfirmationFlow{store: store, tokens: tokens, events: events, clock: clock, logger: logger}
}

// Confirm verifies token for the appointment and confirms it.
//
// The token is verified before the status is looked at, so a confirmed
// appointment reports "already confirmed" only to a holder of a live token.
// After a successful confirmation the token is gone and a replay fails with
// ErrCodeTokenMissing.
func (f *ConfirmationFlow) Confirm(ctx context.Context, appointmentID, token string) ConfirmResult {
	appt, err := f.store.GetByID(ctx, appointmentID)
	if err != nil {
		if types.HasCode(err, types.ErrCodeNotFoundAppointment) {
			return ConfirmResult{Error: MsgNotFound, Code: types.ErrCodeNotFoundAppointment}
		}
		f.logger.Error("confirmation lookup failed", "appointment_id", appointmentID, "error", err)
		return ConfirmResult{Error: MsgConfirmFailed, Code: types.CodeOf(err)}
	}

	if err := f.tokens.Verify(appt, token); err != nil {
		code := types.CodeOf(err)
		f.logger.Warn("confirmation rejected", "appointment_id", appointmentID, "code", code)
		return ConfirmResult{Error: MsgCouldNotConfirm, Code: code}
	}

	if appt.Status == types.AppointmentConfirmed {
		return ConfirmResult{Success: true, Appointment: appt, Message: MsgAlreadyConfirmed}
	}

	now := f.clock.Now()
	updated, err := f.store.ConfirmWithToken(ctx, appointmentID, *appt.ConfirmationTokenHash, now)
	if err != nil {
		code := types.CodeOf(err)
		if code == types.ErrCodeTokenMissing {
			// Another request consumed the token between verify and update.
			return ConfirmResult{Error: MsgCouldNotConfirm, Code: code}
		}
		f.logger.Error("confirmation update failed", "appointment_id", appointmentID, "error", err)
		return ConfirmResult{Error: MsgConfirmFailed, Code: code}
	}

	f.logger.Info("appointment confirmed by customer", "appointment_id", appointmentID)
	evt := core.Event{
		Type:          core.EventAppointmentConfirmed,
		AppointmentID: appointmentID,
		OccurredAt:    now,
	}
	if err := f.events.Publish(ctx, evt); err != nil {
		f.logger.Warn("failed to publish confirmation event", "appointment_id", appointmentID, "error", err)
	}

	return ConfirmResult{Success: true, Appointment: updated, Message: MsgConfirmed}
}
