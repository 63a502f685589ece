package reminders

import (
	"context"
	"log/slog"
	"time"

	"sphyra/internal/types"
)

// LockStore persists the lease rows behind DistributedLock. Acquire must be
// atomic: of two concurrent callers that both find the row absent or
// expired, exactly one may succeed.
type LockStore interface {
	Acquire(ctx context.Context, jobName, instanceID string, now time.Time, lease time.Duration) (bool, error)
	Release(ctx context.Context, jobName string, now time.Time) error
	Get(ctx context.Context, jobName string) (*types.CronLock, error)
}

// DistributedLock is a named lease shared by every instance of the service.
type DistributedLock struct {
	store    LockStore
	clock    types.Clock
	location *time.Location
	logger   *slog.Logger
}

// NewDistributedLock creates a DistributedLock. location is the zone in which
// HasRunInWindow compares wall-clock hour and minute; nil means UTC.
func NewDistributedLock(store LockStore, clock types.Clock, location *time.Location, logger *slog.Logger) *DistributedLock {
	if clock == nil {
		clock = types.RealClock{}
	}
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DistributedLock{store: store, clock: clock, location: location, logger: logger}
}

// Acquire reports whether this call made instanceID the holder of jobName
// for lease. Storage errors count as not acquired.
func (l *DistributedLock) Acquire(ctx context.Context, jobName, instanceID string, lease time.Duration) bool {
	ok, err := l.store.Acquire(ctx, jobName, instanceID, l.clock.Now(), lease)
	if err != nil {
		l.logger.Error("job lock acquire failed, skipping run",
			"job", jobName,
			"instance", instanceID,
			"error", err,
		)
		return false
	}
	if !ok {
		l.logger.Info("job lock held by another instance", "job", jobName, "instance", instanceID)
	}
	return ok
}

// Release ends the lease now and stamps the run time. Errors are logged only;
// an unreleased lease expires on its own.
func (l *DistributedLock) Release(ctx context.Context, jobName string) {
	if err := l.store.Release(ctx, jobName, l.clock.Now()); err != nil {
		l.logger.Warn("job lock release failed, lease will expire", "job", jobName, "error", err)
	}
}

// HasRunInWindow reports whether the job last ran today at exactly
// hour:minute. A storage error reports true so the tick is skipped.
func (l *DistributedLock) HasRunInWindow(ctx context.Context, jobName string, hour, minute int) bool {
	lock, err := l.store.Get(ctx, jobName)
	if err != nil {
		l.logger.Error("job lock read failed, skipping run", "job", jobName, "error", err)
		return true
	}
	if lock == nil || lock.LastRunAt == nil {
		return false
	}

	last := lock.LastRunAt.In(l.location)
	now := l.clock.Now().In(l.location)
	ly, lm, ld := last.Date()
	ny, nm, nd := now.Date()
	return ly == ny && lm == nm && ld == nd && last.Hour() == hour && last.Minute() == minute
}
