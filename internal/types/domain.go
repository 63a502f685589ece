package types

import (
	"strings"
	"time"
)

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentCompleted AppointmentStatus = "completed"
)

// Remindable reports whether an appointment in this status may still receive
// a reminder.
func (s AppointmentStatus) Remindable() bool {
	return s == AppointmentScheduled || s == AppointmentConfirmed
}

// ReminderType identifies the channel a reminder is delivered through.
type ReminderType string

const (
	ReminderEmail ReminderType = "email"
	ReminderSMS   ReminderType = "sms"
)

// Valid reports whether t names a supported channel.
func (t ReminderType) Valid() bool {
	return t == ReminderEmail || t == ReminderSMS
}

// Appointment is the subset of the booking record that the reminder pipeline
// reads and writes.
//
// ConfirmationTokenHash and TokenExpiresAt are set and cleared together.
type Appointment struct {
	ID                    string            `json:"id"`
	CustomerID            string            `json:"customer_id"`
	ServiceID             string            `json:"service_id"`
	StaffID               string            `json:"staff_id"`
	Date                  time.Time         `json:"date"`       // calendar day, UTC midnight
	StartTime             string            `json:"start_time"` // HH:MM
	EndTime               string            `json:"end_time"`   // HH:MM
	Status                AppointmentStatus `json:"status"`
	ReminderSent          bool              `json:"reminder_sent"`
	ConfirmationTokenHash *string           `json:"-"`
	TokenExpiresAt        *time.Time        `json:"token_expires_at,omitempty"`
	ConfirmedAt           *time.Time        `json:"confirmed_at,omitempty"`
}

// HasToken reports whether a confirmation token is currently stored.
func (a *Appointment) HasToken() bool {
	return a.ConfirmationTokenHash != nil && *a.ConfirmationTokenHash != "" && a.TokenExpiresAt != nil
}

// Customer holds the contact and consent fields used for reminders.
type Customer struct {
	ID                   string `json:"id"`
	FirstName            string `json:"first_name"`
	LastName             string `json:"last_name"`
	Email                string `json:"email,omitempty"`
	Phone                string `json:"phone,omitempty"`
	EmailReminderConsent bool   `json:"email_reminder_consent"`
	SMSReminderConsent   bool   `json:"sms_reminder_consent"`
}

// FullName returns "First Last" trimmed of surrounding whitespace.
func (c Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Service is the booked treatment.
type Service struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Duration int    `json:"duration_minutes"`
}

// Staff is the practitioner assigned to the appointment.
type Staff struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// FullName returns "First Last" trimmed of surrounding whitespace.
func (s Staff) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// AppointmentDetails is an appointment joined with its customer, service and
// staff member.
type AppointmentDetails struct {
	Appointment
	Customer Customer `json:"customer"`
	Service  Service  `json:"service"`
	Staff    Staff    `json:"staff"`
}

// Reminder is the immutable audit record of a single send attempt.
type Reminder struct {
	ID            string       `json:"id"`
	AppointmentID string       `json:"appointment_id"`
	Type          ReminderType `json:"type"`
	ScheduledFor  time.Time    `json:"scheduled_for"`
	Sent          bool         `json:"sent"`
	SentAt        *time.Time   `json:"sent_at,omitempty"`
	ErrorMessage  *string      `json:"error_message,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// CronLock is the persisted lease row guarding a scheduled job.
// The lock is held iff now < ExpiresAt.
type CronLock struct {
	JobName   string     `json:"job_name"`
	LockedBy  string     `json:"locked_by"`
	LockedAt  time.Time  `json:"locked_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
}

// HeldAt reports whether the lease is active at the given instant.
func (l *CronLock) HeldAt(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}

// Settings store keys read by the reminder pipeline.
const (
	SettingReminderSendHour   = "reminderSendHour"
	SettingReminderSendMinute = "reminderSendMinute"
	SettingReminderDaysBefore = "reminderDaysBefore"
	SettingEnableAutoReminder = "enableAutoReminders"
)

// Defaults applied when a settings key is missing or malformed.
const (
	DefaultReminderHour       = 10
	DefaultReminderMinute     = 0
	DefaultReminderDaysBefore = 1
	DefaultAutoReminders      = true
)

// ReminderSettings is the reminder timing configuration.
type ReminderSettings struct {
	ReminderHour        int  `json:"reminder_hour" validate:"min=0,max=23"`
	ReminderMinute      int  `json:"reminder_minute" validate:"min=0,max=59"`
	ReminderDaysBefore  int  `json:"reminder_days_before" validate:"min=1,max=30"`
	EnableAutoReminders bool `json:"enable_auto_reminders"`
}

// DefaultReminderSettings returns the hardcoded fallback configuration.
func DefaultReminderSettings() ReminderSettings {
	return ReminderSettings{
		ReminderHour:        DefaultReminderHour,
		ReminderMinute:      DefaultReminderMinute,
		ReminderDaysBefore:  DefaultReminderDaysBefore,
		EnableAutoReminders: DefaultAutoReminders,
	}
}
