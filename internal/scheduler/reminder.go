package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"sphyra/internal/reminders"
	"sphyra/internal/types"
)

// minuteSpec fires at second zero of every minute.
const minuteSpec = "* * * * *"

// BatchRunner is the part of reminders.Orchestrator the scheduler calls.
type BatchRunner interface {
	SendAllDueReminders(ctx context.Context) (reminders.BatchResult, error)
}

// SettingsSource provides the current reminder settings.
type SettingsSource interface {
	Get(ctx context.Context) types.ReminderSettings
}

// JobLock is the cross-instance mutex guarding a run.
type JobLock interface {
	Acquire(ctx context.Context, jobName, instanceID string, lease time.Duration) bool
	Release(ctx context.Context, jobName string)
	HasRunInWindow(ctx context.Context, jobName string, hour, minute int) bool
}

// ReminderScheduler decides on every minute tick whether this instance
// should run the daily reminder batch. One instance exists per process.
type ReminderScheduler struct {
	runner     BatchRunner
	settings   SettingsSource
	lock       JobLock
	jobName    string
	instanceID string
	lease      time.Duration
	location   *time.Location
	clock      types.Clock
	logger     *slog.Logger

	// run serializes ticks and manual triggers within the process.
	run sync.Mutex

	stateMu sync.RWMutex
	state   State

	cron *cron.Cron
}

// Config holds the dependencies for a ReminderScheduler.
type Config struct {
	Runner     BatchRunner
	Settings   SettingsSource
	Lock       JobLock
	JobName    string
	InstanceID string
	Lease      time.Duration
	// Location is the studio time zone the configured hour and minute are
	// expressed in. Defaults to UTC.
	Location *time.Location
	Clock    types.Clock
	Logger   *slog.Logger
}

// New creates a ReminderScheduler in the idle state.
func New(cfg Config) *ReminderScheduler {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lease := cfg.Lease
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	return &ReminderScheduler{
		runner:     cfg.Runner,
		settings:   cfg.Settings,
		lock:       cfg.Lock,
		jobName:    cfg.JobName,
		instanceID: cfg.InstanceID,
		lease:      lease,
		location:   loc,
		clock:      clock,
		logger:     logger.With("job", cfg.JobName, "instance", cfg.InstanceID),
		state:      StateIdle,
	}
}

// State returns the current state.
func (s *ReminderScheduler) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *ReminderScheduler) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// Tick evaluates the current minute.
func (s *ReminderScheduler) Tick(ctx context.Context) TickOutcome {
	return s.TickAt(ctx, s.clock.Now())
}

// TickAt evaluates the minute containing now. A tick that arrives while
// another tick or a manual trigger is running is skipped.
func (s *ReminderScheduler) TickAt(ctx context.Context, now time.Time) TickOutcome {
	if !s.run.TryLock() {
		return OutcomeSkippedBusy
	}
	defer s.run.Unlock()
	defer s.setState(StateIdle)

	s.setState(StateCheckingTime)
	settings := s.settings.Get(ctx)
	if !settings.EnableAutoReminders {
		return OutcomeSkippedDisabled
	}

	local := now.In(s.location)
	if local.Hour() != settings.ReminderHour || local.Minute() != settings.ReminderMinute {
		return OutcomeSkippedTime
	}
	if s.lock.HasRunInWindow(ctx, s.jobName, settings.ReminderHour, settings.ReminderMinute) {
		s.logger.Info("reminder job already ran this minute")
		return OutcomeSkippedAlreadyRan
	}

	s.setState(StateAcquiringLock)
	if !s.lock.Acquire(ctx, s.jobName, s.instanceID, s.lease) {
		return OutcomeSkippedLocked
	}
	// Another holder may have finished and released inside this minute
	// between the check above and the acquire.
	if s.lock.HasRunInWindow(ctx, s.jobName, settings.ReminderHour, settings.ReminderMinute) {
		s.setState(StateReleasingLock)
		s.lock.Release(context.WithoutCancel(ctx), s.jobName)
		s.logger.Info("reminder job ran on another instance while acquiring the lock")
		return OutcomeSkippedAlreadyRan
	}

	s.logger.Info("daily reminder time reached",
		"time", fmt.Sprintf("%02d:%02d", settings.ReminderHour, settings.ReminderMinute),
	)
	if _, err := s.runLocked(ctx); err != nil {
		return OutcomeFailed
	}
	return OutcomeRan
}

// runLocked runs the batch while the job lock is held and always releases it,
// including when the batch panics.
func (s *ReminderScheduler) runLocked(ctx context.Context) (res reminders.BatchResult, err error) {
	defer func() {
		s.setState(StateReleasingLock)
		s.lock.Release(context.WithoutCancel(ctx), s.jobName)
	}()
	return s.runBatch(ctx)
}

// runBatch calls the runner, converting a panic into an error.
func (s *ReminderScheduler) runBatch(ctx context.Context) (res reminders.BatchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reminder batch panic: %v", r)
			s.logger.Error("reminder batch panicked", "panic", fmt.Sprint(r))
		}
	}()

	s.setState(StateRunning)
	start := s.clock.Now()
	res, err = s.runner.SendAllDueReminders(ctx)
	if err != nil {
		s.logger.Error("reminder batch failed", "error", err)
		return res, err
	}
	s.logger.Info("reminder batch finished",
		"total", res.Total,
		"sent", res.Sent,
		"failed", res.Failed,
		"duration", s.clock.Now().Sub(start),
	)
	return res, nil
}

// TriggerNow runs the batch immediately for an operator, without the time
// match or the job lock. It waits for an in-flight tick to finish first.
func (s *ReminderScheduler) TriggerNow(ctx context.Context) (reminders.BatchResult, error) {
	s.run.Lock()
	defer s.run.Unlock()
	defer s.setState(StateIdle)

	s.logger.Info("manual reminder trigger")
	return s.runBatch(ctx)
}

// Start registers the minute tick on an in-process cron and starts it.
func (s *ReminderScheduler) Start() error {
	if s.cron != nil {
		return errors.New("scheduler already started")
	}
	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(minuteSpec, func() { s.Tick(context.Background()) }); err != nil {
		return fmt.Errorf("register reminder tick: %w", err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("daily reminder scheduler started (checking every minute)")
	return nil
}

// Stop stops the cron and waits for a running tick, or for ctx to end.
func (s *ReminderScheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("daily reminder scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger routes robfig/cron logs through slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
