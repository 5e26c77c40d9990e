package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scm-sync/logbook/internal/domain"
)

// LockStore implements scm.sync_locks: a per-(repo_id, job_type) advisory
// lock row for adapters that must serialize across job types for one repo.
type LockStore struct {
	pool *pgxpool.Pool
}

func NewLockStore(pool *pgxpool.Pool) *LockStore {
	return &LockStore{pool: pool}
}

func (s *LockStore) TryAcquire(ctx context.Context, repoID int, jobType domain.JobType, owner string, leaseSeconds int) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO scm.sync_locks (repo_id, job_type, locked_by, locked_at, lease_seconds)
		VALUES ($1, $2, $3, NOW(), $4)
		ON CONFLICT (repo_id, job_type) DO UPDATE
		SET locked_by = EXCLUDED.locked_by, locked_at = NOW(), lease_seconds = EXCLUDED.lease_seconds
		WHERE scm.sync_locks.locked_by IS NULL
		   OR scm.sync_locks.locked_at < NOW() - (scm.sync_locks.lease_seconds || ' seconds')::interval`,
		repoID, jobType, owner, leaseSeconds)
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *LockStore) Release(ctx context.Context, repoID int, jobType domain.JobType, owner string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scm.sync_locks SET locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE repo_id = $1 AND job_type = $2 AND locked_by = $3`, repoID, jobType, owner)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func (s *LockStore) ReapExpired(ctx context.Context, limit int) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scm.sync_locks
		SET locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE lock_id IN (
			SELECT lock_id FROM scm.sync_locks
			WHERE locked_by IS NOT NULL
			  AND locked_at < NOW() - (lease_seconds || ' seconds')::interval
			ORDER BY locked_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)`, limit)
	if err != nil {
		return 0, fmt.Errorf("reap expired locks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
