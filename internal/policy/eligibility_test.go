package policy

import (
	"testing"

	"github.com/scm-sync/logbook/internal/domain"
)

func epoch(f float64) *float64 { return &f }

func TestShouldScheduleRepoAlreadyQueued(t *testing.T) {
	s := RepoSyncState{IsQueued: true}
	should, reason, _ := ShouldScheduleRepo(s, DefaultSchedulerConfig(), 1000)
	if should || reason != ReasonAlreadyQueued {
		t.Fatalf("got should=%v reason=%q", should, reason)
	}
}

func TestShouldScheduleRepoNeverSynced(t *testing.T) {
	s := RepoSyncState{CursorUpdatedAt: nil}
	should, reason, adj := ShouldScheduleRepo(s, DefaultSchedulerConfig(), 1000)
	if !should || reason != ReasonNeverSynced || adj >= 0 {
		t.Fatalf("got should=%v reason=%q adj=%d", should, reason, adj)
	}
}

func TestShouldScheduleRepoWithinThreshold(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.CursorAgeThresholdSeconds = 3600
	s := RepoSyncState{CursorUpdatedAt: epoch(1000)}
	should, reason, _ := ShouldScheduleRepo(s, cfg, 1000+1800)
	if should || reason != ReasonWithinThreshold {
		t.Fatalf("got should=%v reason=%q", should, reason)
	}
}

func TestShouldScheduleRepoErrorBudgetExceeded(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.CursorAgeThresholdSeconds = 3600
	cfg.MinSamples = 5
	cfg.ErrorBudgetThreshold = 0.3
	s := RepoSyncState{
		CursorUpdatedAt:   epoch(0),
		RecentRunCount:    10,
		RecentFailedCount: 5,
	}
	should, reason, _ := ShouldScheduleRepo(s, cfg, float64(cfg.CursorAgeThresholdSeconds)+1)
	if should || reason != ReasonErrorBudgetExceeded {
		t.Fatalf("got should=%v reason=%q", should, reason)
	}
}

func TestShouldScheduleRepoErrorBudgetIgnoredBelowMinSamples(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.CursorAgeThresholdSeconds = 3600
	cfg.MinSamples = 5
	cfg.ErrorBudgetThreshold = 0.3
	s := RepoSyncState{
		CursorUpdatedAt:   epoch(0),
		RecentRunCount:    2,
		RecentFailedCount: 2, // 100% failure, but too few samples to trust
	}
	should, reason, _ := ShouldScheduleRepo(s, cfg, float64(cfg.CursorAgeThresholdSeconds)+1)
	if !should || reason != ReasonCursorAgeExceeded {
		t.Fatalf("expected eligibility to ignore an untrustworthy failure rate, got should=%v reason=%q", should, reason)
	}
}

func TestShouldScheduleRepoRateLimitedStillEligibleButDeprioritized(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.CursorAgeThresholdSeconds = 3600
	cfg.RateLimitHitThreshold = 0.1
	s := RepoSyncState{
		CursorUpdatedAt:     epoch(0),
		Recent429Hits:       5,
		RecentTotalRequests: 10,
	}
	should, reason, adj := ShouldScheduleRepo(s, cfg, float64(cfg.CursorAgeThresholdSeconds)+1)
	if !should || reason != ReasonRateLimited || adj <= 0 {
		t.Fatalf("got should=%v reason=%q adj=%d", should, reason, adj)
	}
}

func TestComputeJobPriorityOrdersJobTypeBandsApart(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	commits := RepoSyncState{JobType: domain.JobTypeCommits}
	reviews := RepoSyncState{JobType: domain.JobTypeReviews}
	pCommits := ComputeJobPriority(commits, cfg, 0, 0)
	pReviews := ComputeJobPriority(reviews, cfg, 0, 0)
	if pCommits >= pReviews {
		t.Fatalf("expected commits to sort before reviews: commits=%d reviews=%d", pCommits, pReviews)
	}
}

func TestCalculateBucketPriorityPenalty(t *testing.T) {
	penalty, reason := CalculateBucketPriorityPenalty(true, 0, 100)
	if penalty != BucketPausedPriorityPenalty || reason != "bucket_paused" {
		t.Fatalf("got penalty=%d reason=%q", penalty, reason)
	}

	penalty, reason = CalculateBucketPriorityPenalty(false, 10, 100)
	if penalty != BucketLowTokensPriorityPenalty || reason != "low_tokens" {
		t.Fatalf("got penalty=%d reason=%q", penalty, reason)
	}

	penalty, reason = CalculateBucketPriorityPenalty(false, 50, 100)
	if penalty != 0 || reason != "" {
		t.Fatalf("expected no penalty for a healthy bucket, got penalty=%d reason=%q", penalty, reason)
	}
}
