// Package main is the entry point for the Sphyra reminder API.
//
// It loads configuration, wires the reminder pipeline, serves the HTTP API
// and, unless SCHEDULER_ENABLED=false, runs the in-process minute scheduler
// that dispatches the daily reminder batch.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"sphyra/internal/app"
	"sphyra/internal/config"
	"sphyra/internal/core"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("sphyra API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"timezone", cfg.Reminder.Timezone,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("wiring application: %w", err)
	}
	defer a.Close()

	limiters := app.NewLimiters(cfg.Security)
	srv, err := a.Server(limiters)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return serve(ctx, a, srv, limiters, logger)
}

// serve runs the HTTP server, the scheduler and the limiter sweepers until
// ctx is cancelled or one of them fails.
func serve(ctx context.Context, a *app.App, srv *core.Server, limiters app.Limiters, logger *slog.Logger) error {
	httpServer := srv.HTTPServer()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		limiters.Confirm.Run(gctx)
		return nil
	})
	g.Go(func() error {
		limiters.Send.Run(gctx)
		return nil
	})

	if a.Config.Reminder.SchedulerEnabled {
		if err := a.Scheduler.Start(); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
	} else {
		logger.Info("in-process scheduler disabled")
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := a.Scheduler.Stop(shutdownCtx); err != nil {
			logger.Error("scheduler stop error", "error", err)
		}
		return srv.Shutdown(shutdownCtx, httpServer)
	})

	return g.Wait()
}
