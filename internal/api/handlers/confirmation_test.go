package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sphyra/internal/reminders"
	"sphyra/internal/types"
)

type fakeConfirmer struct {
	result    reminders.ConfirmResult
	gotID     string
	gotToken  string
	callCount int
}

func (f *fakeConfirmer) Confirm(_ context.Context, id, token string) reminders.ConfirmResult {
	f.callCount++
	f.gotID, f.gotToken = id, token
	return f.result
}

func confirmed() reminders.ConfirmResult {
	return reminders.ConfirmResult{
		Success:     true,
		Message:     reminders.MsgConfirmed,
		Appointment: &types.Appointment{ID: "appt-1", Status: types.AppointmentConfirmed},
	}
}

func rejected(code types.ErrorCode, msg string) reminders.ConfirmResult {
	return reminders.ConfirmResult{Error: msg, Code: code}
}

func TestConfirmationHandler_Post(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		result     reminders.ConfirmResult
		wantStatus int
		wantCalls  int
	}{
		{"confirmed", `{"token":"abc"}`, confirmed(), http.StatusOK, 1},
		{"token rejected", `{"token":"abc"}`, rejected(types.ErrCodeTokenExpired, reminders.MsgCouldNotConfirm), http.StatusBadRequest, 1},
		{"unknown appointment", `{"token":"abc"}`, rejected(types.ErrCodeNotFoundAppointment, reminders.MsgNotFound), http.StatusNotFound, 1},
		{"storage failure", `{"token":"abc"}`, rejected(types.ErrCodeInternalDB, reminders.MsgConfirmFailed), http.StatusInternalServerError, 1},
		{"missing token", `{}`, confirmed(), http.StatusBadRequest, 0},
		{"malformed body", `{"token":`, confirmed(), http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow := &fakeConfirmer{result: tt.result}
			h := NewConfirmationHandler(flow, "https://book.sphyra.it", testValidator(), testLogger())

			rec := serve(t, h, http.MethodPost, "/appointments/appt-1/confirm", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCalls, flow.callCount)
			if tt.wantCalls == 0 {
				return
			}
			assert.Equal(t, "appt-1", flow.gotID)
			assert.Equal(t, "abc", flow.gotToken)

			var got reminders.ConfirmResult
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.result.Success, got.Success)
			assert.Equal(t, tt.result.Error, got.Error)
		})
	}
}

func TestConfirmationHandler_PostHidesWhichTokenCheckFailed(t *testing.T) {
	var bodies []string
	for _, code := range []types.ErrorCode{types.ErrCodeTokenMismatch, types.ErrCodeTokenMissing, types.ErrCodeTokenExpired} {
		flow := &fakeConfirmer{result: rejected(code, reminders.MsgCouldNotConfirm)}
		h := NewConfirmationHandler(flow, "https://book.sphyra.it", testValidator(), testLogger())

		rec := serve(t, h, http.MethodPost, "/appointments/appt-1/confirm", `{"token":"abc"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code, code)
		assert.NotContains(t, rec.Body.String(), "confirmation_token", code)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
		assert.NotContains(t, raw, "code", code)
		bodies = append(bodies, rec.Body.String())
	}
	assert.Equal(t, bodies[0], bodies[1])
	assert.Equal(t, bodies[0], bodies[2])
}

func TestConfirmationHandler_LinkRedirectsToSuccess(t *testing.T) {
	flow := &fakeConfirmer{result: confirmed()}
	h := NewConfirmationHandler(flow, "https://book.sphyra.it/", testValidator(), testLogger())

	rec := serve(t, h, http.MethodGet, "/appointments/appt-1/confirm/tok123", "")

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://book.sphyra.it/confirm-appointment/success?appointmentId=appt-1", rec.Header().Get("Location"))
	assert.Equal(t, "tok123", flow.gotToken)
}

func TestConfirmationHandler_LinkRedirectsToErrorWithGenericMessage(t *testing.T) {
	flow := &fakeConfirmer{result: rejected(types.ErrCodeTokenMismatch, reminders.MsgCouldNotConfirm)}
	h := NewConfirmationHandler(flow, "https://book.sphyra.it", testValidator(), testLogger())

	rec := serve(t, h, http.MethodGet, "/appointments/appt-1/confirm/tok123", "")

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/confirm-appointment/error", loc.Path)
	assert.Equal(t, reminders.MsgCouldNotConfirm, loc.Query().Get("message"))
}
