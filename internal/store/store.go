// Package store defines the persistence contracts the scheduler, queue,
// worker harness, and reaper depend on. Concrete implementations live in
// internal/store/postgres; everything above this package talks only to
// these interfaces, mirroring the teacher's repository.JobRepository split
// (spec.md §3, §9).
package store

import (
	"context"
	"time"

	"github.com/scm-sync/logbook/internal/domain"
	"github.com/scm-sync/logbook/internal/pause"
)

// RepoStore reads the set of repositories under sync management.
type RepoStore interface {
	GetByID(ctx context.Context, repoID int) (*domain.Repo, error)
	ListActive(ctx context.Context) ([]*domain.Repo, error)
}

// JobStore is the sync_jobs lease protocol: enqueue, claim, heartbeat,
// finish (spec.md §4.1/§4.3).
type JobStore interface {
	Enqueue(ctx context.Context, job *domain.SyncJob) (*domain.SyncJob, error)
	Claim(ctx context.Context, workerID string, jobTypes []domain.JobType, limit int) ([]*domain.SyncJob, error)
	Heartbeat(ctx context.Context, jobID string, workerID string) error
	Complete(ctx context.Context, jobID string, runID string) error
	Retry(ctx context.Context, jobID string, lastError string, notBefore time.Time) error
	Dead(ctx context.Context, jobID string, lastError string) error
	// RescheduleExpired reclaims jobs whose lease has lapsed, returning any
	// still under max_attempts to pending and killing the rest.
	RescheduleExpired(ctx context.Context, graceSeconds int, limit int) (requeued int, killed int, err error)
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)
	CountRunningByInstance(ctx context.Context) (map[string]int, error)
	CountRunningByTenant(ctx context.Context) (map[string]int, error)
	IsQueued(ctx context.Context, repoID int, jobType domain.JobType) (bool, error)
}

// LockStore manages scm.sync_locks, the cross-job-type per-repo lock used
// by adapters that must serialize all work against one repo (spec.md §4.1).
type LockStore interface {
	TryAcquire(ctx context.Context, repoID int, jobType domain.JobType, owner string, leaseSeconds int) (bool, error)
	Release(ctx context.Context, repoID int, jobType domain.JobType, owner string) error
	ReapExpired(ctx context.Context, limit int) (int, error)
}

// RunStore is the append-only sync_runs ledger (spec.md §4.1, §8 invariant:
// a run is immutable once finalized).
type RunStore interface {
	Start(ctx context.Context, run *domain.SyncRun) (*domain.SyncRun, error)
	Finish(ctx context.Context, runID string, status domain.RunStatus, counts domain.Counts, errSummary *domain.ErrorSummary, degradation *domain.Degradation) error
	GetByID(ctx context.Context, runID string) (*domain.SyncRun, error)
	RescheduleExpired(ctx context.Context, graceSeconds int, limit int) (int, error)
	RecentStatsForRepo(ctx context.Context, repoID int, jobType domain.JobType, window time.Duration) (runCount, failedCount int, err error)
	StatusSummary(ctx context.Context) (Summary, error)
}

// Summary mirrors original_source/db.py's get_sync_status_summary: the
// admin-facing rollup of queue depth, running counts, and recent failures.
type Summary struct {
	GeneratedAt    time.Time
	PendingJobs    int
	RunningJobs    int
	DeadJobs       int
	RunsLast24h    int
	FailedLast24h  int
	PausedPairs    int
	OpenBreakers   int
	ByInstance     map[string]int
	ByTenant       map[string]int
}

// BucketStore is the per-instance rate-limit bucket table (spec.md §4.5).
type BucketStore interface {
	Get(ctx context.Context, instanceKey string) (*domain.RateLimitBucket, error)
	Upsert(ctx context.Context, bucket *domain.RateLimitBucket) error
	ListAll(ctx context.Context) ([]*domain.RateLimitBucket, error)
}

// CursorStore persists the opaque per-(repo,job_type) cursor JSON blob
// (spec.md §4.7).
type CursorStore interface {
	Get(ctx context.Context, repoID int, jobType domain.JobType) (map[string]any, bool, error)
	Set(ctx context.Context, repoID int, jobType domain.JobType, cursor map[string]any) error
}

// KVStore is the generic namespaced key/value table backing circuit
// breaker state and (repo, job_type) pause records (spec.md §9 "KV namespaces").
type KVStore interface {
	Get(ctx context.Context, namespace, key string) (map[string]any, bool, error)
	Set(ctx context.Context, namespace, key string, value map[string]any) error
	Delete(ctx context.Context, namespace, key string) error
	ListByNamespace(ctx context.Context, namespace string) (map[string]map[string]any, error)
}

// PauseStore is a thin, typed wrapper over KVStore for the
// scm.sync_pauses namespace, grounded in original_source/db.py's
// RepoPauseRecord helpers.
type PauseStore interface {
	Get(ctx context.Context, repoID int, jobType string) (*pause.Record, bool, error)
	Set(ctx context.Context, record pause.Record) error
	Clear(ctx context.Context, repoID int, jobType string) error
	ListActive(ctx context.Context, now float64) ([]pause.Record, error)
}

// PatchBlobStore persists the materialized diff/patch bodies a review or
// commit sync job produces, keyed by content hash so repeated syncs of an
// unchanged diff never store it twice (spec.md SUPPLEMENTED FEATURES:
// patch-blob materialization, grounded in original_source/db.py's blob
// dedup table).
type PatchBlobStore interface {
	Put(ctx context.Context, contentHash string, body []byte) error
	Get(ctx context.Context, contentHash string) ([]byte, bool, error)
	Exists(ctx context.Context, contentHash string) (bool, error)
}
