package db

import (
	"context"

	"github.com/google/uuid"

	"sphyra/internal/types"
)

// ReminderRepository persists the append-only reminder audit trail.
type ReminderRepository struct {
	db DBTX
}

// NewReminderRepository creates a new ReminderRepository.
func NewReminderRepository(db DBTX) *ReminderRepository {
	return &ReminderRepository{db: db}
}

const reminderColumns = `id, appointment_id, type, scheduled_for, sent, sent_at, error_message, created_at`

func scanReminder(row scanner) (*types.Reminder, error) {
	var (
		rem types.Reminder
		typ string
	)
	if err := row.Scan(&rem.ID, &rem.AppointmentID, &typ, &rem.ScheduledFor, &rem.Sent, &rem.SentAt, &rem.ErrorMessage, &rem.CreatedAt); err != nil {
		return nil, err
	}
	rem.Type = types.ReminderType(typ)
	return &rem, nil
}

// Create inserts a reminder row. An ID is generated when empty and
// CreatedAt is filled from the database.
func (r *ReminderRepository) Create(ctx context.Context, rem *types.Reminder) error {
	if rem.ID == "" {
		rem.ID = uuid.NewString()
	}
	err := r.db.QueryRow(ctx,
		`INSERT INTO reminders (id, appointment_id, type, scheduled_for, sent, sent_at, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		rem.ID,
		rem.AppointmentID,
		string(rem.Type),
		rem.ScheduledFor,
		rem.Sent,
		rem.SentAt,
		rem.ErrorMessage,
	).Scan(&rem.CreatedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create reminder record", err)
	}
	return nil
}

// ListByAppointment returns the reminder history of an appointment, newest
// first.
func (r *ReminderRepository) ListByAppointment(ctx context.Context, appointmentID string) ([]*types.Reminder, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+reminderColumns+`
		 FROM reminders
		 WHERE appointment_id = $1
		 ORDER BY created_at DESC`,
		appointmentID,
	)
	if err != nil {
		if isMalformedID(err) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list reminders", err)
	}
	defer rows.Close()

	var out []*types.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan reminder row", err)
		}
		out = append(out, rem)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating reminder rows", err)
	}
	return out, nil
}

// HasSent reports whether a successful reminder of the given type exists for
// the appointment.
func (r *ReminderRepository) HasSent(ctx context.Context, appointmentID string, typ types.ReminderType) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(
		   SELECT 1 FROM reminders
		    WHERE appointment_id = $1 AND type = $2 AND sent = TRUE
		 )`,
		appointmentID, string(typ),
	).Scan(&exists)
	if err != nil {
		if isMalformedID(err) {
			return false, nil
		}
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check reminder history", err)
	}
	return exists, nil
}
