package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sphyra/internal/types"
)

var tomorrow = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func appointmentValues(id string, hash any, expires any) []any {
	return []any{
		id, "cust-1", "svc-1", "staff-1", tomorrow, "10:30", "11:30",
		"scheduled", false, hash, expires, nil,
	}
}

func detailsValues(id string) []any {
	return append(appointmentValues(id, nil, nil),
		"Giulia", "Rossi", "giulia@example.com", "+393331234567",
		true, false,
		"Massaggio Rilassante", 60,
		"Marta", "Bianchi",
	)
}

func TestAppointmentRepository_FindDue(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAppointmentRepository(db)
	ctx := context.Background()

	rows := newMockRows([][]any{detailsValues("appt-1"), detailsValues("appt-2")})
	db.On("Query", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "a.reminder_sent = FALSE") &&
			strings.Contains(sql, "a.status IN ('scheduled', 'confirmed')") &&
			strings.Contains(sql, "ORDER BY a.start_time")
	}), []any{tomorrow}).Return(rows, nil)

	due, err := repo.FindDue(ctx, tomorrow)
	require.NoError(t, err)
	require.Len(t, due, 2)

	first := due[0]
	assert.Equal(t, "appt-1", first.ID)
	assert.Equal(t, types.AppointmentScheduled, first.Status)
	assert.Equal(t, "10:30", first.StartTime)
	assert.Nil(t, first.ConfirmationTokenHash)
	assert.Equal(t, "Giulia Rossi", first.Customer.FullName())
	assert.Equal(t, "cust-1", first.Customer.ID)
	assert.True(t, first.Customer.EmailReminderConsent)
	assert.False(t, first.Customer.SMSReminderConsent)
	assert.Equal(t, "Massaggio Rilassante", first.Service.Name)
	assert.Equal(t, "Marta Bianchi", first.Staff.FullName())
	assert.True(t, rows.closed, "rows must be closed")
	db.AssertExpectations(t)
}

func TestAppointmentRepository_FindDue_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAppointmentRepository(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("connection refused"))

	_, err := repo.FindDue(ctx, tomorrow)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestAppointmentRepository_FindDue_IterationError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAppointmentRepository(db)
	ctx := context.Background()

	rows := newMockRows(nil)
	rows.errVal = errors.New("stream reset")
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	_, err := repo.FindDue(ctx, tomorrow)
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
}

func TestAppointmentRepository_GetDetails_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAppointmentRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"missing"}).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetDetails(ctx, "missing")
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundAppointment))
}

func TestAppointmentRepository_MalformedIDIsNotFound(t *testing.T) {
	invalid := &pgconn.PgError{Code: "22P02", Message: `invalid input syntax for type uuid: "not-a-uuid"`}
	ctx := context.Background()

	t.Run("GetByID", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"not-a-uuid"}).
			Return(&mockRow{scanErr: invalid})

		_, err := NewAppointmentRepository(db).GetByID(ctx, "not-a-uuid")
		assert.True(t, types.HasCode(err, types.ErrCodeNotFoundAppointment), "got %v", err)
	})

	t.Run("GetDetails", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"not-a-uuid"}).
			Return(&mockRow{scanErr: invalid})

		_, err := NewAppointmentRepository(db).GetDetails(ctx, "not-a-uuid")
		assert.True(t, types.HasCode(err, types.ErrCodeNotFoundAppointment), "got %v", err)
	})

	t.Run("SetToken", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
			Return(pgconn.CommandTag{}, invalid)

		err := NewAppointmentRepository(db).SetToken(ctx, "not-a-uuid", "hash", tomorrow)
		assert.True(t, types.HasCode(err, types.ErrCodeNotFoundAppointment), "got %v", err)
	})

	t.Run("other errors stay internal", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"appt-1"}).
			Return(&mockRow{scanErr: &pgconn.PgError{Code: "57P01"}})

		_, err := NewAppointmentRepository(db).GetByID(ctx, "appt-1")
		assert.True(t, types.HasCode(err, types.ErrCodeInternalDB), "got %v", err)
	})
}

func TestAppointmentRepository_GetByID_WithToken(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAppointmentRepository(db)
	ctx := context.Background()

	expires := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"appt-1"}).
		Return(&mockRow{values: appointmentValues("appt-1", "$2a$12$hash", expires)})

	appt, err := repo.GetByID(ctx, "appt-1")
	require.NoError(t, err)
	require.True(t, appt.HasToken())
	assert.Equal(t, "$2a$12$hash", *appt.ConfirmationTokenHash)
	assert.Equal(t, expires, *appt.TokenExpiresAt)
}

func TestAppointmentRepository_SetToken(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAppointmentRepository(db)
	ctx := context.Background()
	expires := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)

	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "confirmation_token_hash = $2") && strings.Contains(sql, "token_expires_at = $3")
	}), []any{"appt-1", "hash", expires}).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.SetToken(ctx, "appt-1", "hash", expires))
	db.AssertExpectations(t)
}

func TestAppointmentRepository_SetToken_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAppointmentRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.SetToken(ctx, "gone", "hash", time.Now())
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundAppointment))
}

func TestAppointmentRepository_ClearToken_NullsBothFields(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAppointmentRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "confirmation_token_hash = NULL") && strings.Contains(sql, "token_expires_at = NULL")
	}), []any{"appt-1"}).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.ClearToken(ctx, "appt-1"))
	db.AssertExpectations(t)
}

func TestAppointmentRepository_MarkReminderSent_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAppointmentRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"appt-1"}).
		Return(pgconn.CommandTag{}, errors.New("deadlock detected"))

	err := repo.MarkReminderSent(ctx, "appt-1")
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
}

func TestAppointmentRepository_ConfirmWithToken(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAppointmentRepository(db)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	confirmed := appointmentValues("appt-1", nil, nil)
	confirmed[7] = "confirmed"
	confirmed[11] = at

	db.On("QueryRow", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "status = 'confirmed'") &&
			strings.Contains(sql, "a.confirmation_token_hash = $2") &&
			strings.Contains(sql, "RETURNING")
	}), []any{"appt-1", "hash", at}).Return(&mockRow{values: confirmed})

	appt, err := repo.ConfirmWithToken(ctx, "appt-1", "hash", at)
	require.NoError(t, err)
	assert.Equal(t, types.AppointmentConfirmed, appt.Status)
	assert.Equal(t, at, *appt.ConfirmedAt)
	assert.False(t, appt.HasToken())
}

func TestAppointmentRepository_ConfirmWithToken_LostRace(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAppointmentRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.ConfirmWithToken(ctx, "appt-1", "hash", time.Now())
	assert.True(t, types.HasCode(err, types.ErrCodeTokenMissing))
}

func TestAppointmentRepository_FindUpcomingForSMS(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAppointmentRepository(db)
	ctx := context.Background()
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	db.On("Query", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "c.sms_reminder_consent = TRUE") &&
			strings.Contains(sql, "NOT EXISTS")
	}), []any{from, tomorrow}).Return(newMockRows([][]any{detailsValues("appt-9")}), nil)

	out, err := repo.FindUpcomingForSMS(ctx, from, tomorrow)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "+393331234567", out[0].Customer.Phone)
}
