// Package core provides the HTTP chassis for the Sphyra reminder service:
// the chi router, the middleware chain, response helpers, request validation
// and the health endpoint. Domain handlers register their routes through
// V1RouteRegistrars so core never imports them.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sphyra/internal/config"
)

// Server encapsulates the dependencies of the HTTP API.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// Authenticator resolves operator bearer tokens. Nil disables operator
	// authentication (tests only).
	Authenticator Authenticator
	HealthProbes  []HealthProbe

	// V1RouteRegistrars mount domain routes under /v1.
	V1RouteRegistrars []func(r chi.Router)

	router *chi.Mux
}

// NewServer creates a Server. Routes are mounted separately with
// MountRoutes so tests can customize registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// HTTPServer builds the net/http server listening on the configured port.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              ":" + s.Config.Server.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.Logger.Handler(), slog.LevelWarn),
	}
}

// Shutdown gracefully stops srv, waiting for in-flight requests until ctx
// ends.
func (s *Server) Shutdown(ctx context.Context, srv *http.Server) error {
	s.Logger.Info("server shutdown initiated")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.Logger.Info("server shutdown complete")
	return nil
}
