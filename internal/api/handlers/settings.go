package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sphyra/internal/core"
	"sphyra/internal/types"
)

// SettingsService reads and writes the reminder settings.
type SettingsService interface {
	Get(ctx context.Context) types.ReminderSettings
	Update(ctx context.Context, s types.ReminderSettings) error
}

// UpdateSettingsRequest is the body of PUT /v1/settings/reminders. Omitted
// fields keep their current value.
type UpdateSettingsRequest struct {
	ReminderHour        *int  `json:"reminder_hour,omitempty" validate:"omitempty,min=0,max=23"`
	ReminderMinute      *int  `json:"reminder_minute,omitempty" validate:"omitempty,min=0,max=59"`
	ReminderDaysBefore  *int  `json:"reminder_days_before,omitempty" validate:"omitempty,min=1,max=30"`
	EnableAutoReminders *bool `json:"enable_auto_reminders,omitempty"`
}

func (req UpdateSettingsRequest) apply(s types.ReminderSettings) types.ReminderSettings {
	if req.ReminderHour != nil {
		s.ReminderHour = *req.ReminderHour
	}
	if req.ReminderMinute != nil {
		s.ReminderMinute = *req.ReminderMinute
	}
	if req.ReminderDaysBefore != nil {
		s.ReminderDaysBefore = *req.ReminderDaysBefore
	}
	if req.EnableAutoReminders != nil {
		s.EnableAutoReminders = *req.EnableAutoReminders
	}
	return s
}

// SettingsHandler exposes the reminder timing settings.
type SettingsHandler struct {
	settings  SettingsService
	validator *core.Validator
	logger    *slog.Logger
}

// NewSettingsHandler creates a SettingsHandler.
func NewSettingsHandler(settings SettingsService, v *core.Validator, l *slog.Logger) *SettingsHandler {
	if l == nil {
		l = slog.Default()
	}
	return &SettingsHandler{settings: settings, validator: v, logger: l}
}

// RegisterRoutes mounts the settings routes. The caller applies
// core.Server.RequireOperator.
func (h *SettingsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/settings/reminders", h.Get)
	r.Put("/settings/reminders", h.Update)
}

// Get handles GET /v1/settings/reminders.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	core.Data(w, r, http.StatusOK, h.settings.Get(r.Context()))
}

// Update handles PUT /v1/settings/reminders. The new values take effect on
// the next scheduler tick.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	next := req.apply(h.settings.Get(r.Context()))
	if err := h.settings.Update(r.Context(), next); err != nil {
		core.Error(w, r, err)
		return
	}

	attrs := []any{
		"hour", next.ReminderHour,
		"minute", next.ReminderMinute,
		"days_before", next.ReminderDaysBefore,
		"enabled", next.EnableAutoReminders,
	}
	if op, ok := types.GetOperator(r.Context()); ok {
		attrs = append(attrs, "operator", op.Subject)
	}
	h.logger.Info("reminder settings updated", attrs...)
	core.Data(w, r, http.StatusOK, next)
}
