// Package main is the entrypoint for the reminder worker Lambda.
//
// An EventBridge rule invokes the worker every minute with {"action":"tick"};
// the tick goes through the same settings, time match and distributed lock
// checks as the in-process scheduler of the API, so the API and any number of
// concurrent workers send each day's batch once. Operators can also invoke
// the function directly to run the batch now or to send one reminder.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"sphyra/internal/app"
	"sphyra/internal/config"
	"sphyra/internal/reminders"
	"sphyra/internal/scheduler"
	"sphyra/internal/types"
)

// Ticker runs one scheduler tick.
type Ticker interface {
	TickAt(ctx context.Context, now time.Time) scheduler.TickOutcome
	TriggerNow(ctx context.Context) (reminders.BatchResult, error)
}

// Sender sends a single reminder.
type Sender interface {
	SendReminderForAppointment(ctx context.Context, appointmentID string, typ types.ReminderType) reminders.SendResult
}

// Handler holds the dependencies for the worker Lambda handler function.
type Handler struct {
	Scheduler Ticker
	Sender    Sender
	Logger    *slog.Logger
	Now       func() time.Time
}

// Handle routes a ReminderPayload to the scheduler or the orchestrator and
// returns a one-line summary for the invocation log.
func (h *Handler) Handle(ctx context.Context, payload scheduler.ReminderPayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch payload.Action {
	case scheduler.ActionTick:
		now := h.now()
		if payload.ReferenceTime != nil {
			now = payload.ReferenceTime.UTC()
		}
		outcome := h.Scheduler.TickAt(ctx, now)
		logger.DebugContext(ctx, "tick evaluated",
			"reference_time", now.Format(time.RFC3339),
			"outcome", string(outcome),
		)
		if outcome == scheduler.OutcomeFailed {
			return "", fmt.Errorf("reminder batch failed at %s", now.Format(time.RFC3339))
		}
		return string(outcome), nil

	case scheduler.ActionSendAll:
		res, err := h.Scheduler.TriggerNow(ctx)
		if err != nil {
			return "", fmt.Errorf("send_all: %w", err)
		}
		return fmt.Sprintf("send_all complete: %d total, %d sent, %d failed", res.Total, res.Sent, res.Failed), nil

	case scheduler.ActionSend:
		if payload.AppointmentID == "" {
			return "", fmt.Errorf("send requires appointment_id")
		}
		typ := payload.Type
		if typ == "" {
			typ = types.ReminderEmail
		}
		if !typ.Valid() {
			return "", fmt.Errorf("unknown reminder type %q", typ)
		}
		res := h.Sender.SendReminderForAppointment(ctx, payload.AppointmentID, typ)
		if !res.Success {
			return "", fmt.Errorf("send %s reminder for %s: %s", typ, payload.AppointmentID, res.Error)
		}
		return fmt.Sprintf("%s reminder sent for %s", typ, payload.AppointmentID), nil

	case "":
		return "", fmt.Errorf("empty action in reminder payload")
	default:
		return "", fmt.Errorf("unknown action %q", payload.Action)
	}
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		app.NewLogger("info").Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("reminder worker initializing (cold start)")

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to wire application", "error", err)
		os.Exit(1)
	}

	handler := &Handler{
		Scheduler: a.Scheduler,
		Sender:    a.Orchestrator,
		Logger:    logger,
	}

	logger.Info("reminder worker initialized",
		"instance_id", cfg.Reminder.InstanceID,
		"timezone", cfg.Reminder.Timezone,
	)

	lambda.Start(handler.Handle)
}
