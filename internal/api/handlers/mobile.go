package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sphyra/internal/core"
	"sphyra/internal/reminders"
)

// MobileService backs the phone app that sends SMS from the studio SIM.
type MobileService interface {
	Pending(ctx context.Context) ([]reminders.PendingSMS, error)
	MarkSent(ctx context.Context, appointmentID string) (alreadySent bool, err error)
	MarkFailed(ctx context.Context, appointmentID, reason string) error
}

// MarkFailedRequest is the body of POST .../{appointmentId}/failed.
type MarkFailedRequest struct {
	Error string `json:"error" validate:"max=500"`
}

// MarkSentResponse reports whether the call changed anything.
type MarkSentResponse struct {
	Success     bool `json:"success"`
	AlreadySent bool `json:"already_sent"`
}

// MobileHandler serves the SMS gateway endpoints.
type MobileHandler struct {
	queue     MobileService
	validator *core.Validator
	logger    *slog.Logger
}

// NewMobileHandler creates a MobileHandler.
func NewMobileHandler(queue MobileService, v *core.Validator, l *slog.Logger) *MobileHandler {
	if l == nil {
		l = slog.Default()
	}
	return &MobileHandler{queue: queue, validator: v, logger: l}
}

// RegisterRoutes mounts the mobile gateway routes. The caller applies
// core.Server.RequireOperator.
func (h *MobileHandler) RegisterRoutes(r chi.Router) {
	r.Get("/mobile/reminders/pending", h.Pending)
	r.Post("/mobile/reminders/{appointmentId}/sent", h.MarkSent)
	r.Post("/mobile/reminders/{appointmentId}/failed", h.MarkFailed)
}

// Pending handles GET /v1/mobile/reminders/pending.
func (h *MobileHandler) Pending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.queue.Pending(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, pending)
}

// MarkSent handles POST /v1/mobile/reminders/{appointmentId}/sent.
// Repeated calls succeed without writing a second record.
func (h *MobileHandler) MarkSent(w http.ResponseWriter, r *http.Request) {
	already, err := h.queue.MarkSent(r.Context(), chi.URLParam(r, "appointmentId"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, MarkSentResponse{Success: true, AlreadySent: already})
}

// MarkFailed handles POST /v1/mobile/reminders/{appointmentId}/failed. The
// body is optional.
func (h *MobileHandler) MarkFailed(w http.ResponseWriter, r *http.Request) {
	var req MarkFailedRequest
	if r.ContentLength != 0 {
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
		if err := h.validator.ValidateStruct(req); err != nil {
			core.Error(w, r, err)
			return
		}
	}

	if err := h.queue.MarkFailed(r.Context(), chi.URLParam(r, "appointmentId"), req.Error); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, MarkSentResponse{Success: true})
}
