// Package scheduler runs the periodic scan loop: hydrate circuit breaker
// state from KV, build a RepoSyncState per (repo, job_type) from the
// store, run internal/policy's pure selection pipeline, and enqueue the
// admitted candidates. Grounded in the teacher's Dispatcher ticker loop,
// with robfig/cron's interval parser repurposed for the scan cadence
// instead of per-schedule cron expressions (spec.md §4.2).
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/scm-sync/logbook/internal/breaker"
	"github.com/scm-sync/logbook/internal/domain"
	"github.com/scm-sync/logbook/internal/keys"
	"github.com/scm-sync/logbook/internal/policy"
	"github.com/scm-sync/logbook/internal/store"
)

// NamespaceBreakers is the logbook.kv namespace circuit breaker state is
// persisted under.
const NamespaceBreakers = "scm.sync_health"

type Scanner struct {
	repos    store.RepoStore
	jobs     store.JobStore
	runs     store.RunStore
	buckets  store.BucketStore
	kv       store.KVStore
	pauses   store.PauseStore
	log      *slog.Logger

	schedule cron.Schedule
	cfg      policy.SchedulerConfig
	breakerCfg breaker.Config
	jobTypes []domain.JobType
}

type Config struct {
	// Spec is a robfig/cron "@every <duration>" expression, e.g. "@every 30s".
	Spec          string
	SchedulerConfig policy.SchedulerConfig
	BreakerConfig   breaker.Config
	JobTypes        []domain.JobType
}

func New(repos store.RepoStore, jobs store.JobStore, runs store.RunStore, buckets store.BucketStore, kv store.KVStore, pauses store.PauseStore, log *slog.Logger, cfg Config) (*Scanner, error) {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(cfg.Spec)
	if err != nil {
		return nil, err
	}
	return &Scanner{
		repos: repos, jobs: jobs, runs: runs, buckets: buckets, kv: kv, pauses: pauses,
		log: log.With("component", "scheduler"),
		schedule: schedule, cfg: cfg.SchedulerConfig, breakerCfg: cfg.BreakerConfig, jobTypes: cfg.JobTypes,
	}, nil
}

func (s *Scanner) Start(ctx context.Context) {
	next := s.schedule.Next(time.Now())
	s.log.Info("scheduler started", "next_scan", next)

	for {
		wait := time.Until(next)
		select {
		case <-ctx.Done():
			s.log.Info("scheduler shut down")
			return
		case <-time.After(wait):
			s.Scan(ctx)
			next = s.schedule.Next(time.Now())
		}
	}
}

// Scan runs exactly one pass: hydrate breakers, build states, select
// candidates, admit by budget, enqueue.
func (s *Scanner) Scan(ctx context.Context) {
	now := time.Now().UTC()

	repos, err := s.repos.ListActive(ctx)
	if err != nil {
		s.log.Error("list repos failed", "error", err)
		return
	}

	bucketSnapshots, err := s.snapshotBuckets(ctx, now)
	if err != nil {
		s.log.Error("snapshot buckets failed", "error", err)
		return
	}

	pausedPairs, err := s.pausedPairSet(ctx, now)
	if err != nil {
		s.log.Error("load paused pairs failed", "error", err)
		return
	}

	scopeKeys := func(instance, tenant string) []string {
		out := []string{keys.BuildCircuitBreakerKey("default", keys.ScopeGlobal)}
		if instance != "" {
			out = append(out, keys.BuildCircuitBreakerKey("default", keys.Instance(instance)))
		}
		if tenant != "" {
			out = append(out, keys.BuildCircuitBreakerKey("default", keys.Tenant(tenant)))
		}
		return out
	}

	globalKey := keys.BuildCircuitBreakerKey("default", keys.ScopeGlobal)
	seenKeys := map[string]bool{globalKey: true}
	runsByScope := map[string]int{}
	failedByScope := map[string]int{}

	states := make([]policy.RepoSyncState, 0, len(repos)*len(s.jobTypes))
	for _, repo := range repos {
		instance := repo.GitLabInstance(keys.NormalizeInstanceKey)
		tenant := repo.TenantID()
		for _, jt := range s.jobTypes {
			queued, err := s.jobs.IsQueued(ctx, repo.RepoID, jt)
			if err != nil {
				s.log.Error("is-queued check failed", "repo_id", repo.RepoID, "job_type", jt, "error", err)
				continue
			}
			runCount, failedCount, err := s.runs.RecentStatsForRepo(ctx, repo.RepoID, jt, 24*time.Hour)
			if err != nil {
				s.log.Error("recent stats failed", "repo_id", repo.RepoID, "job_type", jt, "error", err)
			}
			states = append(states, policy.RepoSyncState{
				RepoID: repo.RepoID, RepoType: string(repo.RepoType), JobType: jt,
				IsQueued: queued, RecentRunCount: runCount, RecentFailedCount: failedCount,
				GitLabInstance: instance, TenantID: tenant,
			})
			for _, k := range scopeKeys(instance, tenant) {
				seenKeys[k] = true
				runsByScope[k] += runCount
				failedByScope[k] += failedCount
			}
		}
	}

	healthByScope := make(map[string]breaker.HealthStats, len(seenKeys))
	for k := range seenKeys {
		runs := runsByScope[k]
		rate := 0.0
		if runs > 0 {
			rate = float64(failedByScope[k]) / float64(runs)
		}
		healthByScope[k] = breaker.HealthStats{TotalRuns: runs, FailedRate: rate}
	}

	breakersByKey, err := s.hydrateBreakers(ctx, seenKeys)
	if err != nil {
		s.log.Error("hydrate breakers failed", "error", err)
		return
	}

	decisionsByScope := map[string][]breaker.Decision{}
	for scopeKey, ctl := range breakersByKey {
		decisionsByScope[scopeKey] = []breaker.Decision{ctl.Check(now, healthByScope[scopeKey])}
	}

	candidates := policy.SelectJobsToEnqueue(states, s.jobTypes, s.cfg, float64(now.Unix()), nil, pausedPairs, bucketSnapshots, decisionsByScope, scopeKeys)

	budget, err := s.buildBudgetSnapshot(ctx)
	if err != nil {
		s.log.Error("build budget snapshot failed", "error", err)
		return
	}
	admitted := policy.AdmitByBudget(candidates, s.cfg, budget)

	maxAttempts := s.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	leaseSeconds := s.cfg.LeaseSeconds
	if leaseSeconds <= 0 {
		leaseSeconds = 600
	}

	enqueued := 0
	for _, c := range admitted {
		_, err := s.jobs.Enqueue(ctx, &domain.SyncJob{
			RepoID: c.RepoID, JobType: c.JobType, Mode: c.Mode, Priority: c.Priority,
			MaxAttempts: maxAttempts, LeaseSeconds: leaseSeconds,
		})
		if err != nil {
			s.log.Error("enqueue failed", "repo_id", c.RepoID, "job_type", c.JobType, "error", err)
			continue
		}
		enqueued++
	}
	if enqueued > 0 {
		s.log.Info("scan enqueued jobs", "count", enqueued, "candidates", len(candidates))
	}

	if err := s.persistBreakers(ctx, breakersByKey); err != nil {
		s.log.Error("persist breakers failed", "error", err)
	}
}

// hydrateBreakers loads (or creates) a Controller for every scope key this
// scan touches — global plus every instance:/tenant: scope any active repo
// falls under (spec.md §4.4 "Scope isolation") — so a tripped non-global
// scope actually gates its repos instead of only ever evaluating "global".
func (s *Scanner) hydrateBreakers(ctx context.Context, wantKeys map[string]bool) (map[string]*breaker.Controller, error) {
	raw, err := s.kv.ListByNamespace(ctx, NamespaceBreakers)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*breaker.Controller, len(wantKeys))
	for key := range wantKeys {
		if dict, ok := raw[key]; ok {
			out[key] = breaker.LoadStateDict(key, s.breakerCfg, decodeStateDict(dict))
		} else {
			out[key] = breaker.New(key, s.breakerCfg)
		}
	}
	return out, nil
}

func (s *Scanner) persistBreakers(ctx context.Context, byKey map[string]*breaker.Controller) error {
	for key, ctl := range byKey {
		d := ctl.GetStateDict()
		if err := s.kv.Set(ctx, NamespaceBreakers, key, encodeStateDict(d)); err != nil {
			return err
		}
	}
	return nil
}

func decodeStateDict(m map[string]any) breaker.StateDict {
	var d breaker.StateDict
	if v, ok := m["state"].(string); ok {
		d.State = breaker.State(v)
	}
	d.OpenedAt, _ = m["opened_at"].(float64)
	d.SmoothedFailure, _ = m["smoothed_failure_rate"].(float64)
	d.SmoothedRateLimit, _ = m["smoothed_rate_limit_rate"].(float64)
	d.SmoothedTimeout, _ = m["smoothed_timeout_rate"].(float64)
	if v, ok := m["half_open_attempts"].(float64); ok {
		d.HalfOpenAttempts = int(v)
	}
	if v, ok := m["half_open_successes"].(float64); ok {
		d.HalfOpenSuccesses = int(v)
	}
	if v, ok := m["probes_used"].(float64); ok {
		d.ProbesUsed = int(v)
	}
	if v, ok := m["current_batch_size"].(float64); ok {
		d.CurrentBatchSize = int(v)
	}
	d.TriggerReason, _ = m["trigger_reason"].(string)
	return d
}

func encodeStateDict(d breaker.StateDict) map[string]any {
	return map[string]any{
		"state":                     string(d.State),
		"opened_at":                 d.OpenedAt,
		"smoothed_failure_rate":     d.SmoothedFailure,
		"smoothed_rate_limit_rate":  d.SmoothedRateLimit,
		"smoothed_timeout_rate":     d.SmoothedTimeout,
		"half_open_attempts":        d.HalfOpenAttempts,
		"half_open_successes":       d.HalfOpenSuccesses,
		"probes_used":               d.ProbesUsed,
		"current_batch_size":        d.CurrentBatchSize,
		"trigger_reason":            d.TriggerReason,
	}
}

func (s *Scanner) snapshotBuckets(ctx context.Context, now time.Time) (map[string]domain.InstanceBucketStatus, error) {
	buckets, err := s.buckets.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.InstanceBucketStatus, len(buckets))
	for _, b := range buckets {
		out[b.InstanceKey] = b.Snapshot(now)
	}
	return out, nil
}

func (s *Scanner) pausedPairSet(ctx context.Context, now time.Time) (map[string]bool, error) {
	records, err := s.pauses.ListActive(ctx, float64(now.Unix()))
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(records))
	for _, r := range records {
		out[policy.PairKey(r.RepoID, domain.JobType(r.JobType))] = true
	}
	return out, nil
}

func (s *Scanner) buildBudgetSnapshot(ctx context.Context) (policy.BudgetSnapshot, error) {
	byStatus, err := s.jobs.CountByStatus(ctx)
	if err != nil {
		return policy.BudgetSnapshot{}, err
	}
	byInstance, err := s.jobs.CountRunningByInstance(ctx)
	if err != nil {
		return policy.BudgetSnapshot{}, err
	}
	byTenant, err := s.jobs.CountRunningByTenant(ctx)
	if err != nil {
		return policy.BudgetSnapshot{}, err
	}
	running := byStatus[domain.JobStatusRunning]
	pending := byStatus[domain.JobStatusPending]
	return policy.BudgetSnapshot{
		GlobalRunning: running,
		GlobalPending: pending,
		GlobalActive:  running + pending,
		ByInstance:    byInstance,
		ByTenant:      byTenant,
	}, nil
}
