package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sphyra/internal/core"
	"sphyra/internal/reminders"
	"sphyra/internal/types"
)

// ReminderService is the orchestrator surface used by operators.
type ReminderService interface {
	SendReminderForAppointment(ctx context.Context, appointmentID string, typ types.ReminderType) reminders.SendResult
	AppointmentsNeedingReminders(ctx context.Context) ([]*types.AppointmentDetails, error)
	History(ctx context.Context, appointmentID string) ([]*types.Reminder, error)
	RevokeToken(ctx context.Context, appointmentID string) error
}

// BatchTrigger runs the daily batch on demand.
type BatchTrigger interface {
	TriggerNow(ctx context.Context) (reminders.BatchResult, error)
}

// ReminderHandler exposes manual sends, the due list and reminder history.
type ReminderHandler struct {
	service ReminderService
	trigger BatchTrigger
	logger  *slog.Logger
}

// NewReminderHandler creates a ReminderHandler.
func NewReminderHandler(service ReminderService, trigger BatchTrigger, l *slog.Logger) *ReminderHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ReminderHandler{service: service, trigger: trigger, logger: l}
}

// RegisterRoutes mounts the reminder routes. The caller applies
// core.Server.RequireOperator.
func (h *ReminderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/reminders/send/{appointmentId}", h.Send)
	r.Post("/reminders/send-all", h.SendAll)
	r.Get("/reminders/due", h.Due)
	r.Get("/reminders/appointments/{appointmentId}", h.History)
	r.Delete("/reminders/appointments/{appointmentId}/token", h.RevokeToken)
}

// Send handles POST /v1/reminders/send/{appointmentId}?type=email|sms.
// The type defaults to email. The body is the SendResult in both outcomes.
func (h *ReminderHandler) Send(w http.ResponseWriter, r *http.Request) {
	typ := types.ReminderType(r.URL.Query().Get("type"))
	if typ == "" {
		typ = types.ReminderEmail
	}

	res := h.service.SendReminderForAppointment(r.Context(), chi.URLParam(r, "appointmentId"), typ)
	h.audit(r, "manual reminder send", "appointment_id", res.AppointmentID, "type", typ, "success", res.Success)

	status := http.StatusOK
	if !res.Success {
		status = res.Code.HTTPStatus()
	}
	core.JSON(w, r, status, res)
}

// SendAll handles POST /v1/reminders/send-all.
func (h *ReminderHandler) SendAll(w http.ResponseWriter, r *http.Request) {
	h.audit(r, "manual reminder batch")
	res, err := h.trigger.TriggerNow(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, res)
}

// Due handles GET /v1/reminders/due.
func (h *ReminderHandler) Due(w http.ResponseWriter, r *http.Request) {
	appts, err := h.service.AppointmentsNeedingReminders(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if appts == nil {
		appts = []*types.AppointmentDetails{}
	}
	core.Data(w, r, http.StatusOK, appts)
}

// History handles GET /v1/reminders/appointments/{appointmentId}.
func (h *ReminderHandler) History(w http.ResponseWriter, r *http.Request) {
	recs, err := h.service.History(r.Context(), chi.URLParam(r, "appointmentId"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if recs == nil {
		recs = []*types.Reminder{}
	}
	core.Data(w, r, http.StatusOK, recs)
}

// RevokeToken handles DELETE /v1/reminders/appointments/{appointmentId}/token.
func (h *ReminderHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "appointmentId")
	if err := h.service.RevokeToken(r.Context(), id); err != nil {
		core.Error(w, r, err)
		return
	}
	h.audit(r, "confirmation token revoked", "appointment_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// audit logs an operator action with the operator's subject.
func (h *ReminderHandler) audit(r *http.Request, msg string, args ...any) {
	if op, ok := types.GetOperator(r.Context()); ok {
		args = append(args, "operator", op.Subject)
	}
	h.logger.Info(msg, args...)
}
