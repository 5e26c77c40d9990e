package policy

import (
	"sort"
	"strconv"
	"strings"

	"github.com/scm-sync/logbook/internal/breaker"
	"github.com/scm-sync/logbook/internal/domain"
)

// ScopeKeyFunc resolves the circuit-breaker scope keys applicable to one
// candidate (global, pool, instance, tenant — spec.md §4.4 "Scope
// isolation"), most-specific-first is not required: SelectJobsToEnqueue
// combines every returned decision with most-restrictive-wins.
type ScopeKeyFunc func(instance, tenant string) []string

// SelectJobsToEnqueue runs the full scheduler pipeline for one scan:
// MVP-mode filtering -> eligibility -> bucket treatment -> circuit-breaker
// gating -> priority scoring -> tenant-fairness interleaving -> budget
// admission (spec.md §4.2). jobTypes restricts which job types this scan
// considers at all; states outside that set are ignored.
//
// queuedPairs/pausedPairs hold "<repo_id>:<job_type>" keys already known to
// be queued or administratively paused, independent of each state's own
// IsQueued flag (the caller may have fresher information than the read
// model states were built from).
func SelectJobsToEnqueue(
	states []RepoSyncState,
	jobTypes []domain.JobType,
	cfg SchedulerConfig,
	nowEpoch float64,
	queuedPairs map[string]bool,
	pausedPairs map[string]bool,
	bucketStatuses map[string]domain.InstanceBucketStatus,
	breakerDecisions map[string][]breaker.Decision,
	scopeKeys ScopeKeyFunc,
) []SyncJobCandidate {
	allowedJobTypes := jobTypes
	if cfg.MVPModeEnabled {
		allowedJobTypes = nil
		for _, jt := range jobTypes {
			if cfg.MVPJobTypeAllowlist[jt] {
				allowedJobTypes = append(allowedJobTypes, jt)
			}
		}
		if len(allowedJobTypes) == 0 {
			return nil
		}
	}
	allowedSet := make(map[domain.JobType]bool, len(allowedJobTypes))
	for _, jt := range allowedJobTypes {
		allowedSet[jt] = true
	}

	candidates := make([]SyncJobCandidate, 0, len(states))
	probeBudgetRemaining := map[string]int{}
	for _, s := range states {
		if !allowedSet[s.JobType] {
			continue
		}
		pairKey := pairKey(s.RepoID, s.JobType)
		if queuedPairs[pairKey] {
			s.IsQueued = true
		}

		should, reason, adjustment := ShouldScheduleRepo(s, cfg, nowEpoch)
		if !should {
			continue
		}
		if pausedPairs[pairKey] {
			continue
		}

		mode := domain.ModeIncremental
		bucketPaused := false
		penaltyReason := ""
		penalty := 0
		suggestedBatch := 0
		suggestedDiff := ""
		isProbe := false

		if s.GitLabInstance != "" {
			if status, ok := bucketStatuses[s.GitLabInstance]; ok {
				bucketPaused = status.IsPaused
				if ShouldSkipDueToBucketPause(bucketPaused, cfg) {
					continue
				}
				penalty, penaltyReason = CalculateBucketPriorityPenalty(status.IsPaused, status.CurrentTokens, status.Burst)
			}
		}

		if scopeKeys != nil {
			keys := scopeKeys(s.GitLabInstance, s.TenantID)
			allow, backfillOnly, batch, diffMode, probe, probeBudget, probeAllowlist := combineBreakerDecisions(breakerDecisions, keys)
			if !allow {
				continue
			}
			if probe {
				if len(probeAllowlist) > 0 && !jobTypeAllowed(probeAllowlist, s.JobType) {
					continue
				}
				scopeID := strings.Join(keys, "|")
				if _, seen := probeBudgetRemaining[scopeID]; !seen {
					probeBudgetRemaining[scopeID] = probeBudget
				}
				if probeBudgetRemaining[scopeID] <= 0 {
					continue
				}
				probeBudgetRemaining[scopeID]--
			}
			if backfillOnly {
				mode = domain.ModeBackfill
			}
			suggestedBatch = batch
			suggestedDiff = diffMode
			isProbe = probe
		}

		priority := ComputeJobPriority(s, cfg, adjustment, penalty)

		candidates = append(candidates, SyncJobCandidate{
			RepoID:              s.RepoID,
			JobType:             s.JobType,
			Priority:            priority,
			Reason:              reason,
			Mode:                mode,
			GitLabInstance:      s.GitLabInstance,
			TenantID:            s.TenantID,
			BucketPaused:        bucketPaused,
			BucketPenaltyReason: penaltyReason,
			BucketPenaltyValue:  penalty,
			SuggestedBatchSize:  suggestedBatch,
			SuggestedDiffMode:   suggestedDiff,
			IsProbe:             isProbe,
		})
	}

	ordered := orderCandidates(candidates, cfg)
	return admitByBudget(ordered, cfg, BudgetSnapshot{})
}

// AdmitByBudget applies budget enforcement to an already-ordered candidate
// list against a real BudgetSnapshot, mutating counters as it admits each
// candidate. Exported separately from SelectJobsToEnqueue so the
// orchestrator can re-run admission against a live snapshot without
// recomputing eligibility/priority every time (e.g. after a partial
// enqueue failure).
func AdmitByBudget(ordered []SyncJobCandidate, cfg SchedulerConfig, snapshot BudgetSnapshot) []SyncJobCandidate {
	return admitByBudget(ordered, cfg, snapshot)
}

func admitByBudget(ordered []SyncJobCandidate, cfg SchedulerConfig, snapshot BudgetSnapshot) []SyncJobCandidate {
	if snapshot.GlobalRunning >= cfg.MaxRunning {
		return nil
	}
	active := snapshot.GlobalActive
	if active == 0 {
		active = snapshot.GlobalRunning + snapshot.GlobalPending
	}
	if active >= cfg.MaxQueueDepth {
		return nil
	}

	byInstance := cloneCounts(snapshot.ByInstance)
	byTenant := cloneCounts(snapshot.ByTenant)

	admitted := make([]SyncJobCandidate, 0, len(ordered))
	for _, c := range ordered {
		if cfg.MaxEnqueuePerScan > 0 && len(admitted) >= cfg.MaxEnqueuePerScan {
			break
		}
		if active >= cfg.MaxQueueDepth {
			break
		}
		if c.GitLabInstance != "" && cfg.PerInstanceConcurrency > 0 && byInstance[c.GitLabInstance] >= cfg.PerInstanceConcurrency {
			continue
		}
		if c.TenantID != "" && cfg.PerTenantConcurrency > 0 && byTenant[c.TenantID] >= cfg.PerTenantConcurrency {
			continue
		}
		admitted = append(admitted, c)
		active++
		if c.GitLabInstance != "" {
			byInstance[c.GitLabInstance]++
		}
		if c.TenantID != "" {
			byTenant[c.TenantID]++
		}
	}
	return admitted
}

func cloneCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// orderCandidates sorts by priority, then, if tenant fairness is enabled,
// interleaves round-robin across tenants so no single tenant's backlog can
// starve the others out of a scan (spec.md §4.2 "Tenant fairness").
func orderCandidates(candidates []SyncJobCandidate, cfg SchedulerConfig) []SyncJobCandidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority < candidates[j].Priority
	})
	if !cfg.EnableTenantFairness {
		return candidates
	}

	byTenant := map[string][]SyncJobCandidate{}
	order := []string{}
	for _, c := range candidates {
		key := c.TenantID
		if _, ok := byTenant[key]; !ok {
			order = append(order, key)
		}
		byTenant[key] = append(byTenant[key], c)
	}

	perRound := cfg.TenantFairnessMaxPerRound
	if perRound <= 0 {
		perRound = 1
	}

	var interleaved []SyncJobCandidate
	for {
		progressed := false
		for _, tenant := range order {
			bucket := byTenant[tenant]
			if len(bucket) == 0 {
				continue
			}
			take := perRound
			if take > len(bucket) {
				take = len(bucket)
			}
			interleaved = append(interleaved, bucket[:take]...)
			byTenant[tenant] = bucket[take:]
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return interleaved
}

// combineBreakerDecisions applies most-restrictive-wins across every breaker
// scope a candidate falls under (spec.md §4.4). probeBudget is the tightest
// (minimum) remaining HALF_OPEN budget among the probing scopes; probeAllowlist
// is the union of their job_type allowlists — the caller must enforce both
// during admission rather than trust IsProbe alone (spec.md §4.2).
func combineBreakerDecisions(byKey map[string][]breaker.Decision, keys []string) (allow, backfillOnly bool, batch int, diffMode string, probe bool, probeBudget int, probeAllowlist []string) {
	allow = true
	batch = 0
	probeBudget = -1
	for _, key := range keys {
		for _, d := range byKey[key] {
			if !d.AllowSync {
				allow = false
			}
			if d.IsBackfillOnly {
				backfillOnly = true
			}
			if d.IsProbeMode {
				probe = true
				if probeBudget < 0 || d.ProbeBudget < probeBudget {
					probeBudget = d.ProbeBudget
				}
				probeAllowlist = append(probeAllowlist, d.ProbeJobTypesAllowlist...)
			}
			if d.SuggestedBatchSize > 0 && (batch == 0 || d.SuggestedBatchSize < batch) {
				batch = d.SuggestedBatchSize
			}
			if d.SuggestedDiffMode != "" {
				diffMode = d.SuggestedDiffMode
			}
		}
	}
	if probeBudget < 0 {
		probeBudget = 0
	}
	return
}

func jobTypeAllowed(allowlist []string, jt domain.JobType) bool {
	for _, a := range allowlist {
		if a == string(jt) {
			return true
		}
	}
	return false
}

// PairKey is the canonical "<repo_id>:<job_type>" membership key used for
// the queuedPairs/pausedPairs sets SelectJobsToEnqueue accepts.
func PairKey(repoID int, jobType domain.JobType) string {
	return strconv.Itoa(repoID) + ":" + string(jobType)
}

func pairKey(repoID int, jobType domain.JobType) string { return PairKey(repoID, jobType) }
