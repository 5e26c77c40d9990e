package policy

import "math"

// Eligibility reasons, returned verbatim so callers (and tests) can assert
// on them (spec.md §4.2).
const (
	ReasonAlreadyQueued       = "already_queued"
	ReasonNeverSynced         = "never_synced"
	ReasonWithinThreshold     = "within_threshold"
	ReasonErrorBudgetExceeded = "error_budget_exceeded"
	ReasonRateLimited         = "rate_limited"
	ReasonCursorAgeExceeded   = "cursor_age_exceeded"
)

// ShouldScheduleRepo decides whether one (repo, job_type) pair is eligible
// to be enqueued this scan, and the priority_adjustment a caller should add
// on top of ComputeJobPriority's base score. nowEpoch is epoch seconds
// (spec.md §9 "Time & randomness" — always pass `now` in, never read the
// clock here).
//
// Rule order (spec.md §4.2 "Eligibility"):
//  1. already queued -> never re-enqueue
//  2. never synced -> always eligible, pushed to the front (large negative
//     adjustment)
//  3. within the cursor-age threshold -> not yet due
//  4. error budget exceeded (with enough samples to trust the rate) -> held
//     back entirely, independent of cursor age
//  5. rate-limit-hit rate over threshold -> still eligible, but
//     deprioritized relative to healthy repos
//  6. otherwise: cursor age exceeded the threshold -> eligible
func ShouldScheduleRepo(s RepoSyncState, cfg SchedulerConfig, nowEpoch float64) (should bool, reason string, priorityAdjustment int) {
	if s.IsQueued {
		return false, ReasonAlreadyQueued, 0
	}
	if s.CursorUpdatedAt == nil {
		return true, ReasonNeverSynced, -100
	}

	age := CalculateCursorAge(s, nowEpoch)
	if age < float64(cfg.CursorAgeThresholdSeconds) {
		return false, ReasonWithinThreshold, 0
	}

	if s.RecentRunCount >= cfg.MinSamples {
		if CalculateFailureRate(s) >= cfg.ErrorBudgetThreshold {
			return false, ReasonErrorBudgetExceeded, 0
		}
	}

	if CalculateRateLimitRate(s) >= cfg.RateLimitHitThreshold {
		return true, ReasonRateLimited, 50
	}

	return true, ReasonCursorAgeExceeded, 0
}

// ComputeJobPriority scores a candidate. Lower is scheduled first. The base
// term separates job types into well-spaced bands (commits/svn < mrs <
// reviews) so that the eligibility and rate adjustments never cross a band;
// on top of that sits, when applicable, a bucket penalty, and the
// paused-bucket penalty (BucketPausedPriorityPenalty) equals one full band
// at the default PriorityScale (spec.md §4.2, §4.5).
func ComputeJobPriority(s RepoSyncState, cfg SchedulerConfig, priorityAdjustment int, bucketPenalty int) int {
	base := cfg.JobTypePriority[s.JobType] * cfg.PriorityScale
	base += int(math.Round(CalculateFailureRate(s) * 100))
	base += int(math.Round(CalculateRateLimitRate(s) * 100))
	return base + priorityAdjustment + bucketPenalty
}

// CalculateBucketPriorityPenalty returns the fixed penalty (and its reason)
// for a candidate whose GitLab instance bucket is paused or low on tokens,
// per the boundary pinned in spec.md §8: a bucket below
// BucketLowTokensFraction of its burst size (but not yet paused) is merely
// deprioritized, a paused bucket goes to the very back.
func CalculateBucketPriorityPenalty(paused bool, currentTokens, burst float64) (penalty int, reason string) {
	if paused {
		return BucketPausedPriorityPenalty, "bucket_paused"
	}
	if burst > 0 && currentTokens < BucketLowTokensFraction*burst {
		return BucketLowTokensPriorityPenalty, "low_tokens"
	}
	return 0, ""
}

// ShouldSkipDueToBucketPause reports whether a candidate on a paused bucket
// must be dropped outright rather than merely deprioritized, per
// cfg.SkipOnBucketPause.
func ShouldSkipDueToBucketPause(paused bool, cfg SchedulerConfig) bool {
	return paused && cfg.SkipOnBucketPause
}
