package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"sphyra/internal/types"
)

// AppointmentRepository reads appointments joined with their customer,
// service and staff member, and performs the targeted field updates the
// reminder pipeline needs.
type AppointmentRepository struct {
	db DBTX
}

// NewAppointmentRepository creates a new AppointmentRepository.
func NewAppointmentRepository(db DBTX) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

const appointmentColumns = `a.id, a.customer_id, a.service_id, a.staff_id, a.date, a.start_time, a.end_time,
	a.status, a.reminder_sent, a.confirmation_token_hash, a.token_expires_at, a.confirmed_at`

const appointmentDetailsSelect = `SELECT ` + appointmentColumns + `,
	c.first_name, c.last_name, COALESCE(c.email, ''), COALESCE(c.phone, ''),
	c.email_reminder_consent, c.sms_reminder_consent,
	s.name, s.duration,
	st.first_name, st.last_name
FROM appointments a
JOIN customers c ON c.id = a.customer_id
JOIN services s ON s.id = a.service_id
JOIN staff st ON st.id = a.staff_id`

func scanAppointment(row scanner, dest ...any) (*types.Appointment, error) {
	var (
		a      types.Appointment
		status string
	)
	base := []any{
		&a.ID, &a.CustomerID, &a.ServiceID, &a.StaffID, &a.Date, &a.StartTime, &a.EndTime,
		&status, &a.ReminderSent, &a.ConfirmationTokenHash, &a.TokenExpiresAt, &a.ConfirmedAt,
	}
	if err := row.Scan(append(base, dest...)...); err != nil {
		return nil, err
	}
	a.Status = types.AppointmentStatus(status)
	return &a, nil
}

func scanAppointmentDetails(row scanner) (*types.AppointmentDetails, error) {
	var d types.AppointmentDetails
	appt, err := scanAppointment(row,
		&d.Customer.FirstName, &d.Customer.LastName, &d.Customer.Email, &d.Customer.Phone,
		&d.Customer.EmailReminderConsent, &d.Customer.SMSReminderConsent,
		&d.Service.Name, &d.Service.Duration,
		&d.Staff.FirstName, &d.Staff.LastName,
	)
	if err != nil {
		return nil, err
	}
	d.Appointment = *appt
	d.Customer.ID = appt.CustomerID
	d.Service.ID = appt.ServiceID
	d.Staff.ID = appt.StaffID
	return &d, nil
}

func (r *AppointmentRepository) listDetails(ctx context.Context, query string, args ...any) ([]*types.AppointmentDetails, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query appointments", err)
	}
	defer rows.Close()

	var out []*types.AppointmentDetails
	for rows.Next() {
		d, err := scanAppointmentDetails(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan appointment row", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating appointment rows", err)
	}
	return out, nil
}

// FindDue returns appointments on the given calendar day that are scheduled
// or confirmed and have not been reminded yet, in start-time order.
func (r *AppointmentRepository) FindDue(ctx context.Context, day time.Time) ([]*types.AppointmentDetails, error) {
	return r.listDetails(ctx,
		appointmentDetailsSelect+`
		 WHERE a.date = $1
		   AND a.status IN ('scheduled', 'confirmed')
		   AND a.reminder_sent = FALSE
		 ORDER BY a.start_time, a.id`,
		day,
	)
}

// FindUpcomingForSMS returns unreminded appointments between the two calendar
// days (inclusive) whose customer consented to SMS, has a phone number and
// has no successful SMS reminder on record.
func (r *AppointmentRepository) FindUpcomingForSMS(ctx context.Context, fromDay, toDay time.Time) ([]*types.AppointmentDetails, error) {
	return r.listDetails(ctx,
		appointmentDetailsSelect+`
		 WHERE a.date BETWEEN $1 AND $2
		   AND a.status IN ('scheduled', 'confirmed')
		   AND a.reminder_sent = FALSE
		   AND c.sms_reminder_consent = TRUE
		   AND COALESCE(c.phone, '') <> ''
		   AND NOT EXISTS (
		       SELECT 1 FROM reminders rm
		        WHERE rm.appointment_id = a.id AND rm.type = 'sms' AND rm.sent = TRUE
		   )
		 ORDER BY a.date, a.start_time, a.id`,
		fromDay, toDay,
	)
}

// GetDetails loads one appointment with its customer, service and staff.
func (r *AppointmentRepository) GetDetails(ctx context.Context, id string) (*types.AppointmentDetails, error) {
	d, err := scanAppointmentDetails(r.db.QueryRow(ctx, appointmentDetailsSelect+` WHERE a.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isMalformedID(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAppointment, "Appointment not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load appointment", err)
	}
	return d, nil
}

// GetByID loads the appointment row without joins.
func (r *AppointmentRepository) GetByID(ctx context.Context, id string) (*types.Appointment, error) {
	a, err := scanAppointment(r.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments a WHERE a.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isMalformedID(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAppointment, "Appointment not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load appointment", err)
	}
	return a, nil
}

// SetToken stores a token hash and its expiry together, replacing any
// previous token.
func (r *AppointmentRepository) SetToken(ctx context.Context, id, hash string, expiresAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE appointments
		 SET confirmation_token_hash = $2, token_expires_at = $3
		 WHERE id = $1`,
		id, hash, expiresAt,
	)
	if err != nil {
		if isMalformedID(err) {
			return types.NewAppError(types.ErrCodeNotFoundAppointment, "Appointment not found", nil)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to store confirmation token", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAppointment, "Appointment not found", nil)
	}
	return nil
}

// ClearToken nulls both token fields.
func (r *AppointmentRepository) ClearToken(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE appointments
		 SET confirmation_token_hash = NULL, token_expires_at = NULL
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to clear confirmation token", err)
	}
	return nil
}

// MarkReminderSent flags the appointment so it is no longer selected as due.
func (r *AppointmentRepository) MarkReminderSent(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE appointments SET reminder_sent = TRUE WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark reminder sent", err)
	}
	return nil
}

// ConfirmWithToken sets status=confirmed and confirmed_at and clears both
// token fields in one statement. The update only applies while the stored
// hash still equals expectedHash, so of two concurrent confirmations with the
// same token exactly one wins; the loser gets ErrCodeTokenMissing.
func (r *AppointmentRepository) ConfirmWithToken(ctx context.Context, id, expectedHash string, at time.Time) (*types.Appointment, error) {
	a, err := scanAppointment(r.db.QueryRow(ctx,
		`UPDATE appointments a
		 SET status = 'confirmed',
		     confirmed_at = $3,
		     confirmation_token_hash = NULL,
		     token_expires_at = NULL
		 WHERE a.id = $1 AND a.confirmation_token_hash = $2
		 RETURNING `+appointmentColumns,
		id, expectedHash, at,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeTokenMissing, "No confirmation token found for this appointment", nil)
		}
		if isMalformedID(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAppointment, "Appointment not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to confirm appointment", err)
	}
	return a, nil
}
