package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scm-sync/logbook/internal/domain"
	"github.com/scm-sync/logbook/internal/errcat"
	"github.com/scm-sync/logbook/internal/keys"
)

// JobStore implements the scm.sync_jobs lease protocol, grounded on the
// JobRepository.Claim/Complete/Reschedule FOR-UPDATE-SKIP-LOCKED pattern:
// every state transition is one short statement or, in RescheduleExpired,
// one short transaction, never a held transaction spanning an adapter call
// (spec.md §9 "Lease discipline").
type JobStore struct {
	pool *pgxpool.Pool
}

func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

const jobColumns = `job_id, repo_id, job_type, mode, priority, status, attempts,
	max_attempts, not_before, locked_by, locked_at, lease_seconds,
	last_error, last_run_id, payload_json, created_at, updated_at`

func (s *JobStore) Enqueue(ctx context.Context, job *domain.SyncJob) (*domain.SyncJob, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO scm.sync_jobs (
			repo_id, job_type, mode, priority, status, attempts,
			max_attempts, not_before, lease_seconds, payload_json
		) VALUES ($1, $2, $3, $4, 'pending', 0, $5, $6, $7, $8)
		RETURNING `+jobColumns,
		job.RepoID, job.JobType, job.Mode, job.Priority,
		job.MaxAttempts, job.NotBefore, job.LeaseSeconds, job.PayloadJSON,
	)
	created, err := scanJob(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrAlreadyLocked
		}
		return nil, err
	}
	return created, nil
}

func (s *JobStore) Claim(ctx context.Context, workerID string, jobTypes []domain.JobType, limit int) ([]*domain.SyncJob, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE scm.sync_jobs
		SET    status       = 'running',
		       locked_by    = $1,
		       locked_at    = NOW(),
		       updated_at   = NOW()
		WHERE job_id IN (
			SELECT candidate.job_id FROM scm.sync_jobs candidate
			WHERE  candidate.status     = 'pending'
			  AND  candidate.not_before <= NOW()
			  AND  ($2::text[] IS NULL OR candidate.job_type = ANY($2))
			  AND  NOT EXISTS (
			        SELECT 1 FROM scm.sync_jobs running
			        WHERE running.repo_id  = candidate.repo_id
			          AND running.job_type = candidate.job_type
			          AND running.status   = 'running'
			          AND running.job_id  <> candidate.job_id
			  )
			ORDER BY candidate.priority ASC, candidate.created_at ASC
			LIMIT $3
			FOR UPDATE OF candidate SKIP LOCKED
		)
		RETURNING `+jobColumns,
		workerID, jobTypeStrings(jobTypes), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var out []*domain.SyncJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *JobStore) Heartbeat(ctx context.Context, jobID, workerID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scm.sync_jobs SET locked_at = NOW(), updated_at = NOW()
		WHERE job_id = $1 AND status = 'running' AND locked_by = $2`, jobID, workerID)
	if err != nil {
		return fmt.Errorf("heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (s *JobStore) Complete(ctx context.Context, jobID, runID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scm.sync_jobs
		SET status = 'completed', last_run_id = $2, locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE job_id = $1`, jobID, runID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

func (s *JobStore) Retry(ctx context.Context, jobID string, lastError string, notBefore time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scm.sync_jobs
		SET status = 'pending', attempts = attempts + 1, last_error = $2,
		    not_before = $3, locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE job_id = $1`, jobID, lastError, notBefore)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	return nil
}

func (s *JobStore) Dead(ctx context.Context, jobID string, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scm.sync_jobs
		SET status = 'dead', last_error = $2, locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE job_id = $1`, jobID, lastError)
	if err != nil {
		return fmt.Errorf("kill job: %w", err)
	}
	return nil
}

// RescheduleExpired reclaims jobs whose lease has lapsed past
// lease_seconds+grace. Each row's last_error is classified (spec.md §4.6):
// a permanent category (auth/404/permission) goes straight to dead
// regardless of attempts; a transient or unknown category goes back to
// pending with attempts++ and a category-based backoff delay, unless
// attempts are already exhausted, in which case it's killed too. Every
// touched row's last_error is overwritten with a redacted "Reaped: ..."
// message so an operator can tell a reaper-driven transition from a
// worker-reported one at a glance.
func (s *JobStore) RescheduleExpired(ctx context.Context, graceSeconds int, limit int) (requeued int, killed int, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("reschedule expired jobs: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT job_id, attempts, max_attempts, last_error
		FROM scm.sync_jobs
		WHERE  status = 'running'
		  AND  locked_at < NOW() - ($1 || ' seconds')::interval - (lease_seconds || ' seconds')::interval
		ORDER BY locked_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, graceSeconds, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("reschedule expired jobs: select: %w", err)
	}

	type expiredJob struct {
		jobID       string
		attempts    int
		maxAttempts int
		lastError   *string
	}
	var expired []expiredJob
	for rows.Next() {
		var j expiredJob
		if err := rows.Scan(&j.jobID, &j.attempts, &j.maxAttempts, &j.lastError); err != nil {
			rows.Close()
			return 0, 0, fmt.Errorf("reschedule expired jobs: scan: %w", err)
		}
		expired = append(expired, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("reschedule expired jobs: %w", err)
	}

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	for _, j := range expired {
		message := ""
		if j.lastError != nil {
			message = *j.lastError
		}
		category := errcat.Unknown
		if message != "" {
			category = errcat.Classify(0, message)
		}

		if errcat.IsPermanent(category) || j.attempts+1 >= j.maxAttempts {
			reason := "Reaped: max attempts exceeded"
			if errcat.IsPermanent(category) {
				reason = fmt.Sprintf("Reaped: permanent error (%s)", category)
			}
			if _, err := tx.Exec(ctx, `
				UPDATE scm.sync_jobs
				SET status = 'dead', attempts = attempts + 1, last_error = $2,
				    locked_by = NULL, locked_at = NULL, updated_at = NOW()
				WHERE job_id = $1`, j.jobID, reason); err != nil {
				return requeued, killed, fmt.Errorf("reschedule expired jobs: kill: %w", err)
			}
			killed++
			continue
		}

		delay := errcat.Backoff(category, j.attempts+1, 10, errcat.DefaultMaxBackoff, rnd)
		notBefore := time.Now().Add(delay)
		if _, err := tx.Exec(ctx, `
			UPDATE scm.sync_jobs
			SET status = 'pending', attempts = attempts + 1,
			    last_error = $2, not_before = $3,
			    locked_by = NULL, locked_at = NULL, updated_at = NOW()
			WHERE job_id = $1`, j.jobID, fmt.Sprintf("Reaped: lease expired, worker unresponsive (%s)", category), notBefore); err != nil {
			return requeued, killed, fmt.Errorf("reschedule expired jobs: requeue: %w", err)
		}
		requeued++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("reschedule expired jobs: commit: %w", err)
	}
	return requeued, killed, nil
}

func (s *JobStore) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM scm.sync_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	defer rows.Close()

	out := map[domain.JobStatus]int{}
	for rows.Next() {
		var status domain.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (s *JobStore) CountRunningByInstance(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.url, COUNT(*)
		FROM scm.sync_jobs j JOIN scm.repos r ON r.repo_id = j.repo_id
		WHERE j.status = 'running' AND r.repo_type = 'git'
		GROUP BY r.url`)
	if err != nil {
		return nil, fmt.Errorf("count running by instance: %w", err)
	}
	defer rows.Close()
	byURL, err := scanStringCounts(rows)
	if err != nil {
		return nil, err
	}
	out := map[string]int{}
	for url, n := range byURL {
		if instance := keys.NormalizeInstanceKey(url); instance != "" {
			out[instance] += n
		}
	}
	return out, nil
}

func (s *JobStore) CountRunningByTenant(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT split_part(r.project_key, '/', 1), COUNT(*)
		FROM scm.sync_jobs j JOIN scm.repos r ON r.repo_id = j.repo_id
		WHERE j.status = 'running'
		GROUP BY 1`)
	if err != nil {
		return nil, fmt.Errorf("count running by tenant: %w", err)
	}
	defer rows.Close()
	return scanStringCounts(rows)
}

func (s *JobStore) IsQueued(ctx context.Context, repoID int, jobType domain.JobType) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM scm.sync_jobs
			WHERE repo_id = $1 AND job_type = $2 AND status IN ('pending','running')
		)`, repoID, jobType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check queued: %w", err)
	}
	return exists, nil
}

func scanStringCounts(rows pgx.Rows) (map[string]int, error) {
	out := map[string]int{}
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, rows.Err()
}

func scanJob(row rowScanner) (*domain.SyncJob, error) {
	var j domain.SyncJob
	err := row.Scan(
		&j.JobID, &j.RepoID, &j.JobType, &j.Mode, &j.Priority, &j.Status, &j.Attempts,
		&j.MaxAttempts, &j.NotBefore, &j.LockedBy, &j.LockedAt, &j.LeaseSeconds,
		&j.LastError, &j.LastRunID, &j.PayloadJSON, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan sync job: %w", err)
	}
	return &j, nil
}

func jobTypeStrings(jts []domain.JobType) []string {
	if jts == nil {
		return nil
	}
	out := make([]string, len(jts))
	for i, jt := range jts {
		out[i] = string(jt)
	}
	return out
}
