// Package worker implements the claim-loop harness: poll for pending
// jobs, claim a batch, run each through its adapter while heartbeating the
// lease, and finalize the result. Grounded in the ticker+waitgroup+
// heartbeat-goroutine shape of the job scheduler's scheduler.Worker, but
// rebuilt around the sync_jobs/sync_runs domain instead of HTTP jobs
// (spec.md §4.1, §4.3).
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/scm-sync/logbook/internal/adapter"
	"github.com/scm-sync/logbook/internal/cursor"
	"github.com/scm-sync/logbook/internal/domain"
	"github.com/scm-sync/logbook/internal/errcat"
	"github.com/scm-sync/logbook/internal/redact"
	"github.com/scm-sync/logbook/internal/store"
)

// Worker claims and executes sync_jobs rows for a fixed set of job types.
type Worker struct {
	id           string
	jobs         store.JobStore
	runs         store.RunStore
	repos        store.RepoStore
	cursors      store.CursorStore
	registry     adapter.Registry
	log          *slog.Logger
	pollInterval time.Duration
	concurrency  int
	jobTypes     []domain.JobType
	heartbeatEvery time.Duration
	maxBackoff   time.Duration
	rnd          *rand.Rand
}

type Config struct {
	PollInterval   time.Duration
	Concurrency    int
	JobTypes       []domain.JobType
	HeartbeatEvery time.Duration
	MaxBackoff     time.Duration
}

func New(jobs store.JobStore, runs store.RunStore, repos store.RepoStore, cursors store.CursorStore, registry adapter.Registry, log *slog.Logger, cfg Config) *Worker {
	hostname, _ := os.Hostname()
	if cfg.HeartbeatEvery == 0 {
		cfg.HeartbeatEvery = 10 * time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = errcat.DefaultMaxBackoff
	}
	return &Worker{
		id:             fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		jobs:           jobs,
		runs:           runs,
		repos:          repos,
		cursors:        cursors,
		registry:       registry,
		log:            log,
		pollInterval:   cfg.PollInterval,
		concurrency:    cfg.Concurrency,
		jobTypes:       cfg.JobTypes,
		heartbeatEvery: cfg.HeartbeatEvery,
		maxBackoff:     cfg.MaxBackoff,
		rnd:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start runs the poll loop until ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.log.Info("worker started", "worker_id", w.id, "concurrency", w.concurrency, "job_types", w.jobTypes)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker shut down", "worker_id", w.id)
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	jobs, err := w.jobs.Claim(ctx, w.id, w.jobTypes, w.concurrency)
	if err != nil {
		w.log.Error("claim failed", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}
	w.log.Info("claimed jobs", "count", len(jobs))

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(job *domain.SyncJob) {
			defer wg.Done()
			w.runJob(ctx, job)
		}(j)
	}
	wg.Wait()
}

func (w *Worker) runJob(ctx context.Context, job *domain.SyncJob) {
	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go w.heartbeat(heartbeatCtx, job.JobID)

	log := w.log.With("job_id", job.JobID, "repo_id", job.RepoID, "job_type", job.JobType, "worker_id", w.id)

	a, ok := w.registry.For(job.JobType)
	if !ok {
		log.Error("no adapter registered for job type")
		w.fail(ctx, job, errcat.Validation, fmt.Sprintf("no adapter registered for job_type %q", job.JobType), log)
		return
	}

	repo, err := w.repos.GetByID(ctx, job.RepoID)
	if err != nil {
		log.Error("repo lookup failed", "error", err)
		w.fail(ctx, job, errcat.Unknown, redact.String(err.Error()), log)
		return
	}

	cur, hasCursor, err := w.cursors.Get(ctx, job.RepoID, job.JobType)
	if err != nil {
		log.Error("cursor lookup failed", "error", err)
		w.fail(ctx, job, errcat.Unknown, redact.String(err.Error()), log)
		return
	}

	run, err := w.runs.Start(ctx, &domain.SyncRun{RepoID: job.RepoID, JobType: job.JobType, Mode: job.Mode, CursorBefore: cur})
	if err != nil {
		log.Error("start run failed", "error", err)
		w.fail(ctx, job, errcat.Unknown, redact.String(err.Error()), log)
		return
	}

	result, runErr := a.Run(ctx, adapter.Request{Repo: *repo, JobType: job.JobType, Mode: job.Mode, Cursor: cur})

	if runErr != nil {
		category := result.ErrorCategory
		if category == "" {
			category = errcat.Unknown
		}
		message := redact.String(runErr.Error())
		finishErr := w.runs.Finish(ctx, run.RunID, domain.RunStatusFailed, result.Counts, &domain.ErrorSummary{ErrorType: string(category), Message: message}, result.Degradation)
		if finishErr != nil {
			log.Error("finish failed run failed", "error", finishErr)
		}
		w.retryOrKill(ctx, job, category, message, log)
		return
	}

	curWatermark, _ := cur["watermark"].(map[string]any)
	newWatermark, _ := result.CursorAfter["watermark"].(map[string]any)
	if cursor.ShouldAdvance(job.JobType, newWatermark, curWatermark, hasCursor) {
		if err := w.cursors.Set(ctx, job.RepoID, job.JobType, result.CursorAfter); err != nil {
			log.Error("cursor persist failed", "error", err)
		}
	} else {
		log.Warn("cursor regression detected, skipping watermark update",
			"new_watermark", redact.Dict(newWatermark), "cur_watermark", redact.Dict(curWatermark))
	}
	if err := w.runs.Finish(ctx, run.RunID, result.Status, result.Counts, nil, result.Degradation); err != nil {
		log.Error("finish run failed", "error", err)
	}
	if err := w.jobs.Complete(ctx, job.JobID, run.RunID); err != nil {
		log.Error("complete job failed", "error", err)
		return
	}
	log.Info("job completed", "run_id", run.RunID, "status", result.Status)
}

func (w *Worker) retryOrKill(ctx context.Context, job *domain.SyncJob, category errcat.Category, message string, log *slog.Logger) {
	if errcat.IsPermanent(category) {
		w.fail(ctx, job, category, message, log)
		return
	}
	if job.Attempts+1 >= job.MaxAttempts {
		w.fail(ctx, job, category, message, log)
		return
	}
	delay := errcat.Backoff(category, job.Attempts+1, 10, w.maxBackoff, w.rnd)
	notBefore := time.Now().Add(delay)
	if err := w.jobs.Retry(ctx, job.JobID, message, notBefore); err != nil {
		log.Error("retry job failed", "error", err)
		return
	}
	log.Warn("job failed, retrying", "category", category, "attempt", job.Attempts+1, "retry_at", notBefore)
}

func (w *Worker) fail(ctx context.Context, job *domain.SyncJob, category errcat.Category, message string, log *slog.Logger) {
	if err := w.jobs.Dead(ctx, job.JobID, message); err != nil {
		log.Error("kill job failed", "error", err)
		return
	}
	log.Warn("job dead", "category", category)
}

func (w *Worker) heartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(w.heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.jobs.Heartbeat(ctx, jobID, w.id); err != nil {
				w.log.Warn("heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}
