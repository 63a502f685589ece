package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"sphyra/internal/notifications/core"
	"sphyra/internal/types"
)

var errStorage = types.NewAppError(types.ErrCodeInternalDB, "connection reset", errors.New("conn reset"))

// testClock is a settable clock shared by a test and the code under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{now: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// --- settings ---

type fakeSettingsStore struct {
	mu      sync.Mutex
	values  map[string]json.RawMessage
	err     error
	reads   int
	written map[string]any
}

func (s *fakeSettingsStore) GetValues(_ context.Context, keys []string) (map[string]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]json.RawMessage)
	for _, k := range keys {
		if v, ok := s.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *fakeSettingsStore) UpsertValues(_ context.Context, values map[string]any, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.values == nil {
		s.values = make(map[string]json.RawMessage)
	}
	s.written = values
	for k, v := range values {
		b, _ := json.Marshal(v)
		s.values[k] = b
	}
	return nil
}

type staticSettings types.ReminderSettings

func (s staticSettings) Get(context.Context) types.ReminderSettings { return types.ReminderSettings(s) }

// --- lock ---

// memLockStore applies the same conditional upsert as the SQL repository
// under a mutex.
type memLockStore struct {
	mu         sync.Mutex
	rows       map[string]*types.CronLock
	acquireErr error
	releaseErr error
	getErr     error
	releases   int
}

func newMemLockStore() *memLockStore {
	return &memLockStore{rows: make(map[string]*types.CronLock)}
}

func (s *memLockStore) Acquire(_ context.Context, jobName, instanceID string, now time.Time, lease time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquireErr != nil {
		return false, s.acquireErr
	}
	row, ok := s.rows[jobName]
	if ok && now.Before(row.ExpiresAt) {
		return false, nil
	}
	if !ok {
		row = &types.CronLock{JobName: jobName}
		s.rows[jobName] = row
	}
	row.LockedBy = instanceID
	row.LockedAt = now
	row.ExpiresAt = now.Add(lease)
	return true, nil
}

func (s *memLockStore) Release(_ context.Context, jobName string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases++
	if s.releaseErr != nil {
		return s.releaseErr
	}
	if row, ok := s.rows[jobName]; ok {
		row.ExpiresAt = now
		at := now
		row.LastRunAt = &at
	}
	return nil
}

func (s *memLockStore) Get(_ context.Context, jobName string) (*types.CronLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	row, ok := s.rows[jobName]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

// --- appointments ---

// memAppointments implements AppointmentStore, TokenStore, ConfirmStore and
// MobileAppointments.
type memAppointments struct {
	mu       sync.Mutex
	byID     map[string]*types.AppointmentDetails
	order    []string
	dueDays  []time.Time
	setToken int
	findErr  error
}

func newMemAppointments(appts ...*types.AppointmentDetails) *memAppointments {
	m := &memAppointments{byID: make(map[string]*types.AppointmentDetails)}
	for _, a := range appts {
		m.byID[a.ID] = a
		m.order = append(m.order, a.ID)
	}
	return m
}

func (m *memAppointments) get(id string) *types.AppointmentDetails {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id]
}

func (m *memAppointments) FindDue(_ context.Context, day time.Time) ([]*types.AppointmentDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dueDays = append(m.dueDays, day)
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []*types.AppointmentDetails
	for _, id := range m.order {
		a := m.byID[id]
		if a.Date.Equal(day) && a.Status.Remindable() && !a.ReminderSent {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memAppointments) FindUpcomingForSMS(_ context.Context, fromDay, toDay time.Time) ([]*types.AppointmentDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []*types.AppointmentDetails
	for _, id := range m.order {
		a := m.byID[id]
		if a.Date.Before(fromDay) || a.Date.After(toDay) {
			continue
		}
		if a.Status.Remindable() && !a.ReminderSent && a.Customer.SMSReminderConsent && a.Customer.Phone != "" {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memAppointments) GetDetails(_ context.Context, id string) (*types.AppointmentDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundAppointment, "Appointment not found", nil)
	}
	cp := *a
	return &cp, nil
}

func (m *memAppointments) GetByID(ctx context.Context, id string) (*types.Appointment, error) {
	d, err := m.GetDetails(ctx, id)
	if err != nil {
		return nil, err
	}
	return &d.Appointment, nil
}

func (m *memAppointments) MarkReminderSent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id].ReminderSent = true
	return nil
}

func (m *memAppointments) SetToken(_ context.Context, id, hash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundAppointment, "Appointment not found", nil)
	}
	m.setToken++
	a.ConfirmationTokenHash = &hash
	a.TokenExpiresAt = &expiresAt
	return nil
}

func (m *memAppointments) ClearToken(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.byID[id]; ok {
		a.ConfirmationTokenHash = nil
		a.TokenExpiresAt = nil
	}
	return nil
}

func (m *memAppointments) ConfirmWithToken(_ context.Context, id, expectedHash string, at time.Time) (*types.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok || a.ConfirmationTokenHash == nil || *a.ConfirmationTokenHash != expectedHash {
		return nil, types.NewAppError(types.ErrCodeTokenMissing, "No confirmation token found for this appointment", nil)
	}
	a.Status = types.AppointmentConfirmed
	a.ConfirmedAt = &at
	a.ConfirmationTokenHash = nil
	a.TokenExpiresAt = nil
	cp := a.Appointment
	return &cp, nil
}

// --- reminders ---

type memReminders struct {
	mu      sync.Mutex
	records []*types.Reminder
	err     error
}

func (m *memReminders) Create(_ context.Context, rem *types.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	rem.ID = fmt.Sprintf("rem-%d", len(m.records)+1)
	m.records = append(m.records, rem)
	return nil
}

func (m *memReminders) ListByAppointment(_ context.Context, appointmentID string) ([]*types.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Reminder
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].AppointmentID == appointmentID {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

func (m *memReminders) HasSent(_ context.Context, appointmentID string, typ types.ReminderType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.AppointmentID == appointmentID && r.Type == typ && r.Sent {
			return true, nil
		}
	}
	return false, nil
}

// --- channels, hashing, events ---

type fakeChannel struct {
	typ    types.ReminderType
	fail   map[string]core.DeliveryResult
	calls  int
	sentTo []core.Recipient
	msgs   []core.Message
}

func (c *fakeChannel) Type() types.ReminderType { return c.typ }

func (c *fakeChannel) Send(_ context.Context, to core.Recipient, msg core.Message) core.DeliveryResult {
	c.calls++
	c.sentTo = append(c.sentTo, to)
	c.msgs = append(c.msgs, msg)
	if r, ok := c.fail[msg.AppointmentID]; ok {
		return r
	}
	return core.Delivered("msg-" + msg.AppointmentID)
}

// countingHasher is bcrypt at minimum cost with a comparison counter.
type countingHasher struct {
	mu       sync.Mutex
	compares int
}

func (h *countingHasher) Hash(token string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	return string(b), err
}

func (h *countingHasher) Compare(hash, token string) error {
	h.mu.Lock()
	h.compares++
	h.mu.Unlock()
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token))
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []core.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt core.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

type recordingMetrics struct {
	deliveries map[core.MetricResult]int
	batches    [][3]int
}

func (m *recordingMetrics) RecordDelivery(_ context.Context, _ types.ReminderType, r core.MetricResult) {
	if m.deliveries == nil {
		m.deliveries = make(map[core.MetricResult]int)
	}
	m.deliveries[r]++
}

func (m *recordingMetrics) RecordLatency(context.Context, types.ReminderType, time.Duration) {}

func (m *recordingMetrics) RecordBatch(_ context.Context, total, sent, failed int) {
	m.batches = append(m.batches, [3]int{total, sent, failed})
}

// --- fixtures ---

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testAppointment(id string, date time.Time) *types.AppointmentDetails {
	return &types.AppointmentDetails{
		Appointment: types.Appointment{
			ID:        id,
			Date:      date,
			StartTime: "14:30",
			EndTime:   "15:30",
			Status:    types.AppointmentScheduled,
		},
		Customer: types.Customer{
			ID:                   "cust-" + id,
			FirstName:            "Giulia",
			LastName:             "Rossi",
			Email:                "giulia@example.com",
			Phone:                "333 123 4567",
			EmailReminderConsent: true,
			SMSReminderConsent:   true,
		},
		Service: types.Service{ID: "svc-1", Name: "Massaggio", Duration: 60},
		Staff:   types.Staff{ID: "staff-1", FirstName: "Anna", LastName: "Bianchi"},
	}
}
