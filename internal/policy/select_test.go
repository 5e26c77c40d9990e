package policy

import (
	"testing"

	"github.com/scm-sync/logbook/internal/breaker"
	"github.com/scm-sync/logbook/internal/domain"
)

func neverSynced(repoID int, jobType domain.JobType, instance, tenant string) RepoSyncState {
	return RepoSyncState{
		RepoID:         repoID,
		JobType:        jobType,
		GitLabInstance: instance,
		TenantID:       tenant,
	}
}

// TestPerInstanceConcurrencyCapsEnqueued mirrors spec.md's per-instance
// concurrency boundary example: 5 eligible repos on one instance,
// per_instance_concurrency=2 yields exactly 2 admitted candidates.
func TestPerInstanceConcurrencyCapsEnqueued(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.PerInstanceConcurrency = 2
	cfg.MaxQueueDepth = 10
	cfg.EnableTenantFairness = false

	var states []RepoSyncState
	for i := 1; i <= 5; i++ {
		states = append(states, neverSynced(i, domain.JobTypeCommits, "gitlab.example.com", "acme"))
	}

	got := SelectJobsToEnqueue(states, []domain.JobType{domain.JobTypeCommits}, cfg, 1000,
		map[string]bool{}, map[string]bool{}, nil, nil, nil)

	if len(got) != 2 {
		t.Fatalf("expected exactly 2 admitted candidates, got %d", len(got))
	}
	for _, c := range got {
		if c.GitLabInstance != "gitlab.example.com" {
			t.Fatalf("unexpected instance in result: %+v", c)
		}
	}
}

// TestBucketPausedPriorityDemotion mirrors spec.md's bucket-paused
// priority demotion example: with skip_on_bucket_pause=false, the healthy
// repo sorts before the paused one, and the paused one carries the pinned
// penalty reason/value.
func TestBucketPausedPriorityDemotion(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.SkipOnBucketPause = false
	cfg.EnableTenantFairness = false

	states := []RepoSyncState{
		neverSynced(1, domain.JobTypeCommits, "paused.gitlab.com", "acme"),
		neverSynced(2, domain.JobTypeCommits, "healthy.gitlab.com", "acme"),
	}
	buckets := map[string]domain.InstanceBucketStatus{
		"paused.gitlab.com":  {InstanceKey: "paused.gitlab.com", IsPaused: true},
		"healthy.gitlab.com": {InstanceKey: "healthy.gitlab.com", IsPaused: false, CurrentTokens: 100, Burst: 100},
	}

	got := SelectJobsToEnqueue(states, []domain.JobType{domain.JobTypeCommits}, cfg, 1000,
		map[string]bool{}, map[string]bool{}, buckets, nil, nil)

	if len(got) != 2 {
		t.Fatalf("expected both candidates admitted (skip_on_bucket_pause=false), got %d", len(got))
	}
	if got[0].GitLabInstance != "healthy.gitlab.com" || got[1].GitLabInstance != "paused.gitlab.com" {
		t.Fatalf("expected healthy repo first, got order %+v", got)
	}
	if got[1].BucketPenaltyReason != "bucket_paused" || got[1].BucketPenaltyValue != BucketPausedPriorityPenalty {
		t.Fatalf("expected paused candidate to carry the pinned penalty, got %+v", got[1])
	}
}

func TestSkipOnBucketPauseDropsCandidateEntirely(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.SkipOnBucketPause = true

	states := []RepoSyncState{neverSynced(1, domain.JobTypeCommits, "paused.gitlab.com", "acme")}
	buckets := map[string]domain.InstanceBucketStatus{
		"paused.gitlab.com": {InstanceKey: "paused.gitlab.com", IsPaused: true},
	}
	got := SelectJobsToEnqueue(states, []domain.JobType{domain.JobTypeCommits}, cfg, 1000,
		map[string]bool{}, map[string]bool{}, buckets, nil, nil)
	if len(got) != 0 {
		t.Fatalf("expected the paused candidate to be dropped, got %+v", got)
	}
}

func TestAlreadyQueuedPairIsExcluded(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	states := []RepoSyncState{neverSynced(7, domain.JobTypeCommits, "gitlab.example.com", "acme")}
	queued := map[string]bool{PairKey(7, domain.JobTypeCommits): true}

	got := SelectJobsToEnqueue(states, []domain.JobType{domain.JobTypeCommits}, cfg, 1000,
		queued, map[string]bool{}, nil, nil, nil)
	if len(got) != 0 {
		t.Fatalf("expected queued pair to be excluded, got %+v", got)
	}
}

func TestPausedPairIsExcluded(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	states := []RepoSyncState{neverSynced(7, domain.JobTypeCommits, "gitlab.example.com", "acme")}
	paused := map[string]bool{PairKey(7, domain.JobTypeCommits): true}

	got := SelectJobsToEnqueue(states, []domain.JobType{domain.JobTypeCommits}, cfg, 1000,
		map[string]bool{}, paused, nil, nil, nil)
	if len(got) != 0 {
		t.Fatalf("expected administratively-paused pair to be excluded, got %+v", got)
	}
}

func TestMVPModeFiltersToAllowlist(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.MVPModeEnabled = true
	cfg.MVPJobTypeAllowlist = map[domain.JobType]bool{domain.JobTypeCommits: true}

	states := []RepoSyncState{
		neverSynced(1, domain.JobTypeCommits, "gitlab.example.com", "acme"),
		neverSynced(2, domain.JobTypeReviews, "gitlab.example.com", "acme"),
	}
	got := SelectJobsToEnqueue(states, []domain.JobType{domain.JobTypeCommits, domain.JobTypeReviews}, cfg, 1000,
		map[string]bool{}, map[string]bool{}, nil, nil, nil)
	if len(got) != 1 || got[0].JobType != domain.JobTypeCommits {
		t.Fatalf("expected only the allow-listed job type, got %+v", got)
	}
}

func TestTenantFairnessInterleavesAcrossTenants(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.EnableTenantFairness = true
	cfg.TenantFairnessMaxPerRound = 1

	states := []RepoSyncState{
		neverSynced(1, domain.JobTypeCommits, "gitlab.example.com", "tenant-a"),
		neverSynced(2, domain.JobTypeCommits, "gitlab.example.com", "tenant-a"),
		neverSynced(3, domain.JobTypeCommits, "gitlab.example.com", "tenant-b"),
	}
	got := SelectJobsToEnqueue(states, []domain.JobType{domain.JobTypeCommits}, cfg, 1000,
		map[string]bool{}, map[string]bool{}, nil, nil, nil)
	if len(got) != 3 {
		t.Fatalf("expected all 3 candidates admitted, got %d", len(got))
	}
	// tenant-b's single repo must not be starved to the back by tenant-a's backlog.
	if got[1].TenantID != "tenant-b" {
		t.Fatalf("expected round-robin interleaving to surface tenant-b by the second slot, got order %+v", got)
	}
}

// TestHalfOpenProbeBudgetCapsAdmittedCandidates mirrors spec.md's HALF_OPEN
// probe semantics: even though every candidate clears eligibility, only
// probe_budget of them may be admitted for the scope in one scan.
func TestHalfOpenProbeBudgetCapsAdmittedCandidates(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.EnableTenantFairness = false

	var states []RepoSyncState
	for i := 1; i <= 5; i++ {
		states = append(states, neverSynced(i, domain.JobTypeCommits, "gitlab.example.com", "acme"))
	}
	decisions := map[string][]breaker.Decision{
		"global": {{
			Key: "global", State: breaker.HalfOpen, AllowSync: true,
			IsProbeMode: true, ProbeBudget: 2,
			ProbeJobTypesAllowlist: []string{string(domain.JobTypeCommits)},
		}},
	}
	scopeKeys := func(instance, tenant string) []string { return []string{"global"} }

	got := SelectJobsToEnqueue(states, []domain.JobType{domain.JobTypeCommits}, cfg, 1000,
		map[string]bool{}, map[string]bool{}, nil, decisions, scopeKeys)
	if len(got) != 2 {
		t.Fatalf("expected probe_budget=2 to cap admitted candidates at 2, got %d: %+v", len(got), got)
	}
	for _, c := range got {
		if !c.IsProbe {
			t.Fatalf("expected every admitted candidate to be marked IsProbe, got %+v", c)
		}
	}
}

// TestHalfOpenProbeAllowlistExcludesOtherJobTypes mirrors spec.md's
// probe_job_types_allowlist restriction: a job type outside the allowlist
// never gets admitted while the scope is HALF_OPEN, regardless of budget.
func TestHalfOpenProbeAllowlistExcludesOtherJobTypes(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.EnableTenantFairness = false

	states := []RepoSyncState{
		neverSynced(1, domain.JobTypeCommits, "gitlab.example.com", "acme"),
		neverSynced(2, domain.JobTypeReviews, "gitlab.example.com", "acme"),
	}
	decisions := map[string][]breaker.Decision{
		"global": {{
			Key: "global", State: breaker.HalfOpen, AllowSync: true,
			IsProbeMode: true, ProbeBudget: 5,
			ProbeJobTypesAllowlist: []string{string(domain.JobTypeCommits)},
		}},
	}
	scopeKeys := func(instance, tenant string) []string { return []string{"global"} }

	got := SelectJobsToEnqueue(states, []domain.JobType{domain.JobTypeCommits, domain.JobTypeReviews}, cfg, 1000,
		map[string]bool{}, map[string]bool{}, nil, decisions, scopeKeys)
	if len(got) != 1 || got[0].JobType != domain.JobTypeCommits {
		t.Fatalf("expected only the allow-listed job type admitted during HALF_OPEN, got %+v", got)
	}
}

func TestMaxEnqueuePerScanCapsTotalAdmitted(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.MaxEnqueuePerScan = 2
	cfg.EnableTenantFairness = false

	var states []RepoSyncState
	for i := 1; i <= 10; i++ {
		states = append(states, neverSynced(i, domain.JobTypeCommits, "gitlab.example.com", "acme"))
	}
	got := SelectJobsToEnqueue(states, []domain.JobType{domain.JobTypeCommits}, cfg, 1000,
		map[string]bool{}, map[string]bool{}, nil, nil, nil)
	if len(got) != 2 {
		t.Fatalf("expected max_enqueue_per_scan to cap admitted candidates at 2, got %d", len(got))
	}
}
