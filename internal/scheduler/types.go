// Package scheduler drives the daily reminder run. ReminderScheduler is woken
// every minute, either by an in-process cron or by an EventBridge rule that
// invokes the reminder worker Lambda with a ReminderPayload.
package scheduler

import (
	"time"

	"sphyra/internal/types"
)

// State is the position of ReminderScheduler in its tick cycle.
type State string

const (
	StateIdle          State = "idle"
	StateCheckingTime  State = "checking_time"
	StateAcquiringLock State = "acquiring_lock"
	StateRunning       State = "running"
	StateReleasingLock State = "releasing_lock"
)

// TickOutcome reports how a tick ended.
type TickOutcome string

const (
	OutcomeSkippedDisabled   TickOutcome = "skipped_disabled"
	OutcomeSkippedTime       TickOutcome = "skipped_time"
	OutcomeSkippedAlreadyRan TickOutcome = "skipped_already_ran"
	OutcomeSkippedLocked     TickOutcome = "skipped_locked"
	OutcomeSkippedBusy       TickOutcome = "skipped_busy"
	OutcomeRan               TickOutcome = "ran"
	OutcomeFailed            TickOutcome = "failed"
)

// Action selects what a worker invocation does.
type Action string

const (
	// ActionTick runs one scheduler tick (the minute rule).
	ActionTick Action = "tick"
	// ActionSendAll sends all due reminders now, bypassing time and lock.
	ActionSendAll Action = "send_all"
	// ActionSend sends one reminder for AppointmentID.
	ActionSend Action = "send"
)

// ReminderPayload is the JSON event accepted by the reminder worker:
//
//	{"action": "tick"}
//	{"action": "send", "appointment_id": "...", "type": "sms"}
type ReminderPayload struct {
	Action        Action             `json:"action"`
	AppointmentID string             `json:"appointment_id,omitempty"`
	Type          types.ReminderType `json:"type,omitempty"`
	// ReferenceTime overrides "now" for a tick, for manual replays.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}
