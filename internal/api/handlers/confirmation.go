// Package handlers contains the HTTP handlers of the Sphyra reminder API.
// Each handler owns a RegisterRoutes method; the caller mounts it under /v1
// and applies authentication and rate limiting to the group.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"sphyra/internal/core"
	"sphyra/internal/reminders"
	"sphyra/internal/types"
)

// Confirmer is the confirmation flow behind the public links.
type Confirmer interface {
	Confirm(ctx context.Context, appointmentID, token string) reminders.ConfirmResult
}

// ConfirmRequest is the body of POST /v1/appointments/{id}/confirm.
type ConfirmRequest struct {
	Token string `json:"token" validate:"required"`
}

// ConfirmationHandler serves the customer-facing confirmation endpoints.
type ConfirmationHandler struct {
	flow        Confirmer
	frontendURL string
	validator   *core.Validator
	logger      *slog.Logger
}

// NewConfirmationHandler creates a ConfirmationHandler. frontendURL is the
// base of the redirect targets of the GET link.
func NewConfirmationHandler(flow Confirmer, frontendURL string, v *core.Validator, l *slog.Logger) *ConfirmationHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ConfirmationHandler{
		flow:        flow,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		validator:   v,
		logger:      l,
	}
}

// RegisterRoutes mounts the public confirmation routes. The caller applies
// the per-IP rate limit.
func (h *ConfirmationHandler) RegisterRoutes(r chi.Router) {
	r.Post("/appointments/{id}/confirm", h.Confirm)
	r.Get("/appointments/{id}/confirm/{token}", h.ConfirmLink)
}

// Confirm handles POST /v1/appointments/{id}/confirm.
func (h *ConfirmationHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	res := h.flow.Confirm(r.Context(), id, req.Token)
	status := http.StatusOK
	if !res.Success {
		status = res.Code.HTTPStatus()
		h.logger.Info("confirmation rejected",
			"appointment_id", id,
			"code", res.Code,
			"request_id", types.GetRequestID(r.Context()),
		)
	}
	core.JSON(w, r, status, res)
}

// ConfirmLink handles GET /v1/appointments/{id}/confirm/{token}, the target
// of the link in reminder messages. It always redirects to the frontend.
func (h *ConfirmationHandler) ConfirmLink(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res := h.flow.Confirm(r.Context(), id, chi.URLParam(r, "token"))

	var target string
	if res.Success {
		target = h.frontendURL + "/confirm-appointment/success?" + url.Values{"appointmentId": {id}}.Encode()
	} else {
		h.logger.Info("confirmation link rejected",
			"appointment_id", id,
			"code", res.Code,
			"request_id", types.GetRequestID(r.Context()),
		)
		target = h.frontendURL + "/confirm-appointment/error?" + url.Values{"message": {res.Error}}.Encode()
	}
	http.Redirect(w, r, target, http.StatusFound)
}
