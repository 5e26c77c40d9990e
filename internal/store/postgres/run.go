package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scm-sync/logbook/internal/domain"
	"github.com/scm-sync/logbook/internal/store"
)

// RunStore implements the append-only scm.sync_runs ledger: rows are
// inserted by Start and finished at most once, either by Finish or by the
// reaper's RescheduleExpired; both only touch rows whose finished_at is
// still NULL (spec.md §8 invariant: a finished run is immutable).
type RunStore struct {
	pool *pgxpool.Pool
}

func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

func (s *RunStore) Start(ctx context.Context, run *domain.SyncRun) (*domain.SyncRun, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO scm.sync_runs (repo_id, job_type, mode, status, started_at, cursor_before, counts)
		VALUES ($1, $2, $3, 'running', NOW(), $4, $5)
		RETURNING run_id, repo_id, job_type, mode, status, started_at, finished_at,
		          cursor_before, cursor_after, counts, error_summary_json, degradation_json, meta_json`,
		run.RepoID, run.JobType, run.Mode, run.CursorBefore, emptyCounts(),
	)
	return scanRun(row)
}

func (s *RunStore) Finish(ctx context.Context, runID string, status domain.RunStatus, counts domain.Counts, errSummary *domain.ErrorSummary, degradation *domain.Degradation) error {
	var errJSON, degJSON []byte
	var err error
	if errSummary != nil {
		if errJSON, err = json.Marshal(errSummary); err != nil {
			return fmt.Errorf("marshal error summary: %w", err)
		}
	}
	if degradation != nil {
		if degJSON, err = json.Marshal(degradation); err != nil {
			return fmt.Errorf("marshal degradation: %w", err)
		}
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE scm.sync_runs
		SET status = $2, finished_at = NOW(), counts = $3,
		    error_summary_json = $4, degradation_json = $5
		WHERE run_id = $1 AND finished_at IS NULL`,
		runID, status, counts, nullableJSON(errJSON), nullableJSON(degJSON),
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func (s *RunStore) GetByID(ctx context.Context, runID string) (*domain.SyncRun, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT run_id, repo_id, job_type, mode, status, started_at, finished_at,
		       cursor_before, cursor_after, counts, error_summary_json, degradation_json, meta_json
		FROM scm.sync_runs WHERE run_id = $1`, runID)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRunNotFound
	}
	return run, err
}

func (s *RunStore) RescheduleExpired(ctx context.Context, graceSeconds int, limit int) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scm.sync_runs
		SET status = 'failed', finished_at = NOW(),
		    error_summary_json = '{"error_type":"lease_expired","message":"worker unresponsive"}'::jsonb
		WHERE run_id IN (
			SELECT run_id FROM scm.sync_runs
			WHERE status = 'running'
			  AND started_at < NOW() - ($1 || ' seconds')::interval
			ORDER BY started_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`, graceSeconds, limit)
	if err != nil {
		return 0, fmt.Errorf("reschedule expired runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *RunStore) RecentStatsForRepo(ctx context.Context, repoID int, jobType domain.JobType, window time.Duration) (runCount, failedCount int, err error) {
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'failed')
		FROM scm.sync_runs
		WHERE repo_id = $1 AND job_type = $2 AND started_at > NOW() - ($3 || ' seconds')::interval`,
		repoID, jobType, int(window.Seconds()))
	if err := row.Scan(&runCount, &failedCount); err != nil {
		return 0, 0, fmt.Errorf("recent run stats: %w", err)
	}
	return runCount, failedCount, nil
}

func (s *RunStore) StatusSummary(ctx context.Context) (store.Summary, error) {
	summary := store.Summary{GeneratedAt: time.Now().UTC(), ByInstance: map[string]int{}, ByTenant: map[string]int{}}

	row := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM scm.sync_jobs WHERE status = 'pending'),
			(SELECT COUNT(*) FROM scm.sync_jobs WHERE status = 'running'),
			(SELECT COUNT(*) FROM scm.sync_jobs WHERE status = 'dead'),
			(SELECT COUNT(*) FROM scm.sync_runs WHERE started_at > NOW() - interval '24 hours'),
			(SELECT COUNT(*) FROM scm.sync_runs WHERE status = 'failed' AND started_at > NOW() - interval '24 hours')`)
	if err := row.Scan(&summary.PendingJobs, &summary.RunningJobs, &summary.DeadJobs, &summary.RunsLast24h, &summary.FailedLast24h); err != nil {
		return summary, fmt.Errorf("status summary: %w", err)
	}
	return summary, nil
}

func scanRun(row rowScanner) (*domain.SyncRun, error) {
	var r domain.SyncRun
	var errJSON, degJSON, metaJSON []byte
	err := row.Scan(
		&r.RunID, &r.RepoID, &r.JobType, &r.Mode, &r.Status, &r.StartedAt, &r.FinishedAt,
		&r.CursorBefore, &r.CursorAfter, &r.Counts, &errJSON, &degJSON, &metaJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("scan sync run: %w", err)
	}
	if len(errJSON) > 0 {
		r.ErrorSummaryJSON = &domain.ErrorSummary{}
		if err := json.Unmarshal(errJSON, r.ErrorSummaryJSON); err != nil {
			return nil, fmt.Errorf("unmarshal error summary: %w", err)
		}
	}
	if len(degJSON) > 0 {
		r.DegradationJSON = &domain.Degradation{}
		if err := json.Unmarshal(degJSON, r.DegradationJSON); err != nil {
			return nil, fmt.Errorf("unmarshal degradation: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &r.MetaJSON); err != nil {
			return nil, fmt.Errorf("unmarshal run meta: %w", err)
		}
	}
	if n, ok := r.Counts.SyncedCount(); ok {
		r.SyncedCount = n
	}
	return &r, nil
}

func emptyCounts() domain.Counts { return domain.Counts{} }

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
