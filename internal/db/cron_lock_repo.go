package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"sphyra/internal/types"
)

// CronLockRepository provides the lease rows behind the distributed job
// lock. There is exactly one row per job name.
type CronLockRepository struct {
	db DBTX
}

// NewCronLockRepository creates a new CronLockRepository.
func NewCronLockRepository(db DBTX) *CronLockRepository {
	return &CronLockRepository{db: db}
}

// Acquire claims the lease for jobName. Returns true iff this call made
// instanceID the holder.
//
// SQL pattern:
//
//	INSERT INTO cron_locks (job_name, locked_by, locked_at, expires_at)
//	VALUES ($1, $2, $3, $4)
//	ON CONFLICT (job_name) DO UPDATE
//	  SET locked_by = EXCLUDED.locked_by, ...
//	  WHERE cron_locks.expires_at <= $3
//
// The statement runs as one implicit transaction. Concurrent inserts of the
// same key serialize on the primary key index and ON CONFLICT DO UPDATE takes
// a row lock before re-evaluating the WHERE clause, so two instances can
// never both observe "absent or expired" and both write a lease.
// RowsAffected is 1 for a fresh row or a reclaimed expired lease and 0 while
// another holder's lease is live.
func (r *CronLockRepository) Acquire(ctx context.Context, jobName, instanceID string, now time.Time, lease time.Duration) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO cron_locks (job_name, locked_by, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (job_name) DO UPDATE
		   SET locked_by = EXCLUDED.locked_by,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE cron_locks.expires_at <= $3`,
		jobName,
		instanceID,
		now,
		now.Add(lease),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire job lock", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Release ends the lease immediately and records the run time. Releasing a
// job that has no row is a no-op.
func (r *CronLockRepository) Release(ctx context.Context, jobName string, now time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE cron_locks
		 SET expires_at = $2, last_run_at = $2
		 WHERE job_name = $1`,
		jobName, now,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release job lock", err)
	}
	return nil
}

// Get returns the lock row, or nil when the job has never been locked.
func (r *CronLockRepository) Get(ctx context.Context, jobName string) (*types.CronLock, error) {
	var l types.CronLock
	err := r.db.QueryRow(ctx,
		`SELECT job_name, locked_by, locked_at, expires_at, last_run_at
		 FROM cron_locks
		 WHERE job_name = $1`,
		jobName,
	).Scan(&l.JobName, &l.LockedBy, &l.LockedAt, &l.ExpiresAt, &l.LastRunAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read job lock", err)
	}
	return &l, nil
}
