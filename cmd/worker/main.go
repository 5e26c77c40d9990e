// Command worker runs the three long-lived loops of the sync control
// plane in one process: the scheduler scan, the claim-loop worker, and
// the reaper. Grounded in the job scheduler's cmd/scheduler/main.go
// wiring (config → logger → pool → metrics → health → goroutines →
// graceful shutdown), rebuilt against the sync_jobs/sync_runs domain.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/scm-sync/logbook/config"
	"github.com/scm-sync/logbook/internal/adapter"
	"github.com/scm-sync/logbook/internal/breaker"
	"github.com/scm-sync/logbook/internal/domain"
	"github.com/scm-sync/logbook/internal/health"
	ctxlog "github.com/scm-sync/logbook/internal/log"
	"github.com/scm-sync/logbook/internal/metrics"
	"github.com/scm-sync/logbook/internal/policy"
	"github.com/scm-sync/logbook/internal/reaper"
	"github.com/scm-sync/logbook/internal/scheduler"
	"github.com/scm-sync/logbook/internal/store/postgres"
	"github.com/scm-sync/logbook/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()
	logger.Info("db connected")

	metrics.Register()
	checker := health.NewChecker(pool, logger, prometheus.DefaultRegisterer)

	repos := postgres.NewRepoStore(pool)
	jobs := postgres.NewJobStore(pool)
	runs := postgres.NewRunStore(pool)
	locks := postgres.NewLockStore(pool)
	buckets := postgres.NewBucketStore(pool)
	cursors := postgres.NewCursorStore(pool)
	kv := postgres.NewKVStore(pool)
	pauses := postgres.NewPauseStore(kv)
	_ = postgres.NewPatchBlobStore(pool) // wired for adapters that persist raw diffs; unused by the coordination core itself

	jobTypes := []domain.JobType{domain.JobTypeCommits, domain.JobTypeMRs, domain.JobTypeReviews, domain.JobTypeSVN}

	// Concrete GitLab/SVN adapters are out of scope for the coordination
	// core: the harness only needs the Run(ctx, Request) (RunResult, error)
	// contract satisfied. An empty registry means every claimed job fails
	// fast with a validation error rather than panicking; a deployment
	// wires its adapters in here.
	registry := adapter.Registry{}

	w := worker.New(jobs, runs, repos, cursors, registry, logger, worker.Config{
		PollInterval:   time.Duration(cfg.PollIntervalSec) * time.Second,
		Concurrency:    cfg.WorkerConcurrency,
		JobTypes:       jobTypes,
		HeartbeatEvery: 10 * time.Second,
	})
	go w.Start(ctx)

	rp := reaper.New(jobs, runs, locks, logger, reaper.Config{
		Interval:     time.Duration(cfg.ReaperIntervalSec) * time.Second,
		GraceSeconds: cfg.LeaseGraceSeconds,
	})
	go rp.Start(ctx)

	sc, err := scheduler.New(repos, jobs, runs, buckets, kv, pauses, logger, scheduler.Config{
		Spec:            cfg.Scheduler.Spec,
		SchedulerConfig: toSchedulerConfig(cfg),
		BreakerConfig:   toBreakerConfig(cfg),
		JobTypes:        jobTypes,
	})
	if err != nil {
		stop()
		log.Fatalf("scheduler: %v", err)
	}
	go sc.Start(ctx)

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("worker process shut down")
}

func toSchedulerConfig(cfg *config.Config) policy.SchedulerConfig {
	sc := cfg.Scheduler
	out := policy.DefaultSchedulerConfig()
	out.CursorAgeThresholdSeconds = sc.CursorAgeThresholdSeconds
	out.ErrorBudgetThreshold = sc.ErrorBudgetThreshold
	out.MinSamples = sc.MinSamples
	out.RateLimitHitThreshold = sc.RateLimitHitThreshold
	out.MaxRunning = sc.MaxRunning
	out.MaxQueueDepth = sc.MaxQueueDepth
	out.PerInstanceConcurrency = sc.PerInstanceConcurrency
	out.PerTenantConcurrency = sc.PerTenantConcurrency
	out.MaxEnqueuePerScan = sc.MaxEnqueuePerScan
	out.EnableTenantFairness = sc.EnableTenantFairness
	out.TenantFairnessMaxPerRound = sc.TenantFairnessMaxPerRound
	out.MVPModeEnabled = sc.MVPModeEnabled
	if len(sc.MVPJobTypeAllowlist) > 0 {
		out.MVPJobTypeAllowlist = make(map[domain.JobType]bool, len(sc.MVPJobTypeAllowlist))
		for _, jt := range sc.MVPJobTypeAllowlist {
			out.MVPJobTypeAllowlist[domain.JobType(jt)] = true
		}
	}
	out.SkipOnBucketPause = sc.SkipOnBucketPause
	out.BackfillRepairWindowHours = sc.BackfillRepairWindowHours
	out.MaxBackfillWindowHours = sc.MaxBackfillWindowHours
	return out
}

func toBreakerConfig(cfg *config.Config) breaker.Config {
	bc := cfg.CircuitBreaker
	out := breaker.DefaultConfig()
	out.FailureRateThreshold = bc.FailureRateThreshold
	out.RateLimitThreshold = bc.RateLimitThreshold
	out.TimeoutRateThreshold = bc.TimeoutRateThreshold
	out.MinSamples = bc.MinSamples
	out.OpenDurationSeconds = bc.OpenDurationSeconds
	out.HalfOpenMaxRequests = bc.HalfOpenMaxRequests
	out.RecoverySuccessCount = bc.RecoverySuccessCount
	out.EnableSmoothing = bc.EnableSmoothing
	out.SmoothingAlpha = bc.SmoothingAlpha
	out.BackfillOnlyMode = bc.BackfillOnlyMode
	out.DegradedBatchSize = bc.DegradedBatchSize
	out.ProbeBudgetPerInterval = bc.ProbeBudgetPerInterval
	return out
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
