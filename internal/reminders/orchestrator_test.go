package reminders

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sphyra/internal/notifications/core"
	"sphyra/internal/types"
)

type orchestratorFixture struct {
	appts     *memAppointments
	reminders *memReminders
	email     *fakeChannel
	sms       *fakeChannel
	metrics   *recordingMetrics
	events    *recordingPublisher
	clock     *testClock
	orch      *Orchestrator
}

func newOrchestratorFixture(t *testing.T, settings types.ReminderSettings, appts ...*types.AppointmentDetails) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		appts:     newMemAppointments(appts...),
		reminders: &memReminders{},
		email:     &fakeChannel{typ: types.ReminderEmail},
		sms:       &fakeChannel{typ: types.ReminderSMS},
		metrics:   &recordingMetrics{},
		events:    &recordingPublisher{},
		clock:     newTestClock(time.Date(2024, 3, 1, 10, 0, 5, 0, time.UTC)),
	}
	tokens := NewTokenService(TokenServiceConfig{Store: f.appts, Hasher: &countingHasher{}, Clock: f.clock})
	f.orch = NewOrchestrator(OrchestratorConfig{
		Appointments: f.appts,
		Reminders:    f.reminders,
		Settings:     staticSettings(settings),
		Tokens:       tokens,
		Channels:     []core.Channel{f.email, f.sms},
		FrontendURL:  "https://book.sphyra.it/",
		Metrics:      f.metrics,
		Events:       f.events,
		Clock:        f.clock,
	})
	return f
}

func TestSendAllDueReminders_TomorrowEmailScenario(t *testing.T) {
	f := newOrchestratorFixture(t, types.DefaultReminderSettings(), testAppointment("appt-1", day(2024, 3, 2)))

	batch, err := f.orch.SendAllDueReminders(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, batch.Total)
	assert.Equal(t, 1, batch.Sent)
	require.Len(t, f.reminders.records, 1)
	rec := f.reminders.records[0]
	assert.True(t, rec.Sent)
	assert.Equal(t, types.ReminderEmail, rec.Type)
	require.NotNil(t, rec.SentAt)
	assert.Nil(t, rec.ErrorMessage)
	assert.True(t, f.appts.get("appt-1").ReminderSent)

	require.Len(t, f.email.msgs, 1)
	link := f.email.msgs[0].ConfirmationURL
	prefix := "https://book.sphyra.it/confirm-appointment/appt-1/"
	require.True(t, strings.HasPrefix(link, prefix))
	assert.GreaterOrEqual(t, len(strings.TrimPrefix(link, prefix)), 64)
	assert.Equal(t, "giulia@example.com", f.email.sentTo[0].Email)
}

func TestSendAllDueReminders_BatchAccounting(t *testing.T) {
	tomorrow := day(2024, 3, 2)
	f := newOrchestratorFixture(t, types.DefaultReminderSettings(),
		testAppointment("appt-1", tomorrow),
		testAppointment("appt-2", tomorrow),
		testAppointment("appt-3", tomorrow),
		testAppointment("appt-4", tomorrow),
	)
	f.email.fail = map[string]core.DeliveryResult{
		"appt-2": {Error: "SendGrid error (400): bad request", Code: types.ErrCodeUpstreamEmailProvider},
		"appt-4": {Error: "upstream returned 503 after retries", Code: types.ErrCodeUpstreamUnavailable, Transient: true},
	}

	batch, err := f.orch.SendAllDueReminders(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, batch.Total)
	assert.Equal(t, 2, batch.Sent)
	assert.Equal(t, 2, batch.Failed)
	require.Len(t, batch.Results, 4)
	for i, id := range []string{"appt-1", "appt-2", "appt-3", "appt-4"} {
		assert.Equal(t, id, batch.Results[i].AppointmentID, "processed in query order")
	}
	assert.Equal(t, "SendGrid error (400): bad request", batch.Results[1].Error)

	assert.Len(t, f.reminders.records, 4)
	assert.False(t, f.appts.get("appt-2").ReminderSent, "failed sends are retried in a later run")
	assert.True(t, f.appts.get("appt-3").ReminderSent)

	assert.Equal(t, [][3]int{{4, 2, 2}}, f.metrics.batches)
	assert.Equal(t, 2, f.metrics.deliveries[core.MetricSuccess])
	require.Len(t, f.events.events, 1)
	assert.Equal(t, core.EventReminderBatchCompleted, f.events.events[0].Type)
}

func TestSendAllDueReminders_EmptyRun(t *testing.T) {
	f := newOrchestratorFixture(t, types.DefaultReminderSettings())

	batch, err := f.orch.SendAllDueReminders(context.Background())
	require.NoError(t, err)

	assert.Equal(t, BatchResult{Results: []SendResult{}}, batch)
	assert.Empty(t, f.events.events)
}

func TestSendAllDueReminders_QueryFailure(t *testing.T) {
	f := newOrchestratorFixture(t, types.DefaultReminderSettings())
	f.appts.findErr = errStorage

	_, err := f.orch.SendAllDueReminders(context.Background())

	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
}

func TestAppointmentsNeedingReminders_UsesDaysBeforeAndFilters(t *testing.T) {
	settings := types.DefaultReminderSettings()
	settings.ReminderDaysBefore = 2

	cancelled := testAppointment("cancelled", day(2024, 3, 3))
	cancelled.Status = types.AppointmentCancelled
	reminded := testAppointment("reminded", day(2024, 3, 3))
	reminded.ReminderSent = true
	confirmed := testAppointment("confirmed", day(2024, 3, 3))
	confirmed.Status = types.AppointmentConfirmed

	f := newOrchestratorFixture(t, settings,
		testAppointment("tomorrow", day(2024, 3, 2)),
		cancelled, reminded, confirmed,
	)

	got, err := f.orch.AppointmentsNeedingReminders(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "confirmed", got[0].ID)
	assert.Equal(t, []time.Time{day(2024, 3, 3)}, f.appts.dueDays)
	assert.Empty(t, f.reminders.records, "read-only")
}

func TestDueDay_UsesStudioTimezone(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	require.NoError(t, err)
	f := newOrchestratorFixture(t, types.DefaultReminderSettings())
	f.orch.location = rome
	// 23:30 UTC on Mar 1 is already Mar 2 in Rome.
	f.clock.now = time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC)

	assert.Equal(t, day(2024, 3, 3), f.orch.DueDay(context.Background()))
}

func TestSendReminder_ConsentGate(t *testing.T) {
	appt := testAppointment("appt-1", day(2024, 3, 2))
	appt.Customer.SMSReminderConsent = false
	f := newOrchestratorFixture(t, types.DefaultReminderSettings(), appt)

	res := f.orch.SendReminderForAppointment(context.Background(), "appt-1", types.ReminderSMS)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "consented")
	assert.Equal(t, types.ErrCodeConsentMissing, res.Code)
	assert.Zero(t, f.sms.calls)
	assert.Zero(t, f.appts.setToken, "no token issued")
	assert.False(t, f.appts.get("appt-1").HasToken())

	require.Len(t, f.reminders.records, 1)
	rec := f.reminders.records[0]
	assert.False(t, rec.Sent)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "Customer has not consented to SMS reminders (GDPR)", *rec.ErrorMessage)
	assert.Equal(t, rec.ID, res.ReminderID)
}

func TestSendReminder_PreSendValidation(t *testing.T) {
	tests := []struct {
		name   string
		typ    types.ReminderType
		mutate func(c *types.Customer)
		code   types.ErrorCode
		errMsg string
	}{
		{"no email", types.ReminderEmail, func(c *types.Customer) { c.Email = "" }, types.ErrCodeContactMissing, "Customer email not found (Giulia Rossi)"},
		{"no email consent", types.ReminderEmail, func(c *types.Customer) { c.EmailReminderConsent = false }, types.ErrCodeConsentMissing, "Customer has not consented to email reminders (GDPR)"},
		{"no phone", types.ReminderSMS, func(c *types.Customer) { c.Phone = "" }, types.ErrCodeContactMissing, "Customer phone not found (Giulia Rossi)"},
		{"bad phone", types.ReminderSMS, func(c *types.Customer) { c.Phone = "12ab" }, types.ErrCodePhoneFormatInvalid, "Invalid phone number format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appt := testAppointment("appt-1", day(2024, 3, 2))
			tt.mutate(&appt.Customer)
			f := newOrchestratorFixture(t, types.DefaultReminderSettings(), appt)

			res := f.orch.SendReminderForAppointment(context.Background(), "appt-1", tt.typ)

			assert.False(t, res.Success)
			assert.Equal(t, tt.code, res.Code)
			assert.Contains(t, res.Error, tt.errMsg)
			assert.Zero(t, f.email.calls+f.sms.calls)
			assert.Zero(t, f.appts.setToken)
			assert.Len(t, f.reminders.records, 1)
		})
	}
}

func TestSendReminder_SMSUsesNormalizedPhone(t *testing.T) {
	f := newOrchestratorFixture(t, types.DefaultReminderSettings(), testAppointment("appt-1", day(2024, 3, 2)))

	res := f.orch.SendReminderForAppointment(context.Background(), "appt-1", types.ReminderSMS)

	require.True(t, res.Success)
	assert.Equal(t, "+393331234567", f.sms.sentTo[0].Phone)
	assert.Zero(t, f.email.calls)
}

func TestSendReminder_ResendRotatesToken(t *testing.T) {
	f := newOrchestratorFixture(t, types.DefaultReminderSettings(), testAppointment("appt-1", day(2024, 3, 2)))

	require.True(t, f.orch.SendReminderForAppointment(context.Background(), "appt-1", types.ReminderEmail).Success)
	require.True(t, f.orch.SendReminderForAppointment(context.Background(), "appt-1", types.ReminderEmail).Success)

	require.Len(t, f.email.msgs, 2)
	first := f.email.msgs[0].ConfirmationURL
	second := f.email.msgs[1].ConfirmationURL
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, f.appts.setToken)
}

func TestSendReminder_UnknownAppointment(t *testing.T) {
	f := newOrchestratorFixture(t, types.DefaultReminderSettings())

	res := f.orch.SendReminderForAppointment(context.Background(), "missing", types.ReminderEmail)

	assert.False(t, res.Success)
	assert.Equal(t, "Appointment not found", res.Error)
	assert.Empty(t, f.reminders.records)
}

func TestSendReminder_UnsupportedType(t *testing.T) {
	f := newOrchestratorFixture(t, types.DefaultReminderSettings(), testAppointment("appt-1", day(2024, 3, 2)))

	res := f.orch.SendReminderForAppointment(context.Background(), "appt-1", types.ReminderType("fax"))

	assert.Equal(t, types.ErrCodeValidationInvalidChannel, res.Code)
	assert.Empty(t, f.reminders.records)
}

func TestSendReminder_RecordFailureDoesNotHideDelivery(t *testing.T) {
	f := newOrchestratorFixture(t, types.DefaultReminderSettings(), testAppointment("appt-1", day(2024, 3, 2)))
	f.reminders.err = errStorage

	res := f.orch.SendReminderForAppointment(context.Background(), "appt-1", types.ReminderEmail)

	assert.True(t, res.Success)
	assert.Empty(t, res.ReminderID)
	assert.True(t, f.appts.get("appt-1").ReminderSent)
}

func TestRevokeToken_InvalidatesSentLink(t *testing.T) {
	f := newOrchestratorFixture(t, types.DefaultReminderSettings(), testAppointment("appt-1", day(2024, 3, 2)))
	require.True(t, f.orch.SendReminderForAppointment(context.Background(), "appt-1", types.ReminderEmail).Success)
	require.True(t, f.appts.get("appt-1").HasToken())

	require.NoError(t, f.orch.RevokeToken(context.Background(), "appt-1"))

	assert.False(t, f.appts.get("appt-1").HasToken())
	assert.True(t, types.HasCode(f.orch.RevokeToken(context.Background(), "missing"), types.ErrCodeNotFoundAppointment))
}

func TestBuildConfirmationLink(t *testing.T) {
	assert.Equal(t,
		"https://book.sphyra.it/confirm-appointment/appt%201/abc",
		BuildConfirmationLink("https://book.sphyra.it/", "appt 1", "abc"),
	)
}
