package policy

import "github.com/scm-sync/logbook/internal/domain"

// RepoSyncState is the read model the scheduler builds per (repo, job_type)
// from the store before each scan (spec.md §4.2). A nil CursorUpdatedAt
// means the pair has never completed a sync.
type RepoSyncState struct {
	RepoID   int
	RepoType string
	JobType  domain.JobType

	IsQueued bool

	CursorUpdatedAt *float64 // epoch seconds, nil if never synced

	RecentRunCount       int
	RecentFailedCount    int
	Recent429Hits        int
	RecentTotalRequests  int

	GitLabInstance string
	TenantID       string
}

// CalculateFailureRate returns RecentFailedCount/RecentRunCount, or 0 when
// there have been no runs yet.
func CalculateFailureRate(s RepoSyncState) float64 {
	if s.RecentRunCount == 0 {
		return 0
	}
	return float64(s.RecentFailedCount) / float64(s.RecentRunCount)
}

// CalculateRateLimitRate returns Recent429Hits/RecentTotalRequests, or 0
// when there have been no requests yet.
func CalculateRateLimitRate(s RepoSyncState) float64 {
	if s.RecentTotalRequests == 0 {
		return 0
	}
	return float64(s.Recent429Hits) / float64(s.RecentTotalRequests)
}

// CalculateCursorAge returns now-CursorUpdatedAt in seconds. Callers must
// not call this when CursorUpdatedAt is nil (check first).
func CalculateCursorAge(s RepoSyncState, nowEpoch float64) float64 {
	if s.CursorUpdatedAt == nil {
		return 0
	}
	return nowEpoch - *s.CursorUpdatedAt
}

// SyncJobCandidate is one (repo_id, job_type) pair the scheduler is
// considering enqueuing, after eligibility and priority scoring but before
// budget admission (spec.md §4.2).
type SyncJobCandidate struct {
	RepoID   int
	JobType  domain.JobType
	Priority int
	Reason   string
	Mode     domain.JobMode

	GitLabInstance string
	TenantID       string

	BucketPaused        bool
	BucketPenaltyReason string
	BucketPenaltyValue  int

	SuggestedBatchSize int
	SuggestedDiffMode  string
	IsProbe            bool
}

// BudgetSnapshot is the running-job census the scheduler consults before
// admitting new candidates (spec.md §4.2 "Budget enforcement").
type BudgetSnapshot struct {
	GlobalRunning int
	GlobalPending int
	GlobalActive  int // Running + Pending, tracked separately so callers
	// that already know the sum can pass it directly.
	ByInstance map[string]int
	ByTenant   map[string]int
}

func (b BudgetSnapshot) instanceCount(instance string) int {
	if b.ByInstance == nil {
		return 0
	}
	return b.ByInstance[instance]
}

func (b BudgetSnapshot) tenantCount(tenant string) int {
	if b.ByTenant == nil {
		return 0
	}
	return b.ByTenant[tenant]
}
