// Package policy holds the scheduler's decision logic as pure functions
// over plain data (spec.md §4.2): no Postgres, no clock reads, no I/O.
// The scheduler orchestrator hydrates the inputs these functions need
// (repo/job state, circuit breaker decisions, bucket status, a running
// budget snapshot) and then calls SelectJobsToEnqueue once per scan.
package policy

import "github.com/scm-sync/logbook/internal/domain"

// SchedulerConfig is the full set of tunables spec.md §4.2 names.
type SchedulerConfig struct {
	CursorAgeThresholdSeconds int
	ErrorBudgetThreshold      float64
	MinSamples                int
	RateLimitHitThreshold     float64

	JobTypePriority map[domain.JobType]int
	PriorityScale   int

	MaxRunning              int
	MaxQueueDepth           int
	PerInstanceConcurrency int
	PerTenantConcurrency   int
	MaxEnqueuePerScan      int
	MaxAttempts            int
	LeaseSeconds           int

	EnableTenantFairness      bool
	TenantFairnessMaxPerRound int

	MVPModeEnabled      bool
	MVPJobTypeAllowlist map[domain.JobType]bool

	SkipOnBucketPause bool

	BackfillRepairWindowHours int
	MaxBackfillWindowHours    int
}

// BucketPausedPriorityPenalty/BucketLowTokensPriorityPenalty are the fixed
// priority penalties spec.md §8's boundary tests pin: a fully paused bucket
// is pushed to the very back, a low-but-unpaused bucket is merely
// deprioritized.
const (
	BucketPausedPriorityPenalty    = 1000
	BucketLowTokensPriorityPenalty = 100
	// BucketLowTokensFraction is the burst fraction below which a bucket
	// counts as "low" even though it isn't paused (spec.md §8).
	BucketLowTokensFraction = 0.2
)

// DefaultSchedulerConfig returns reasonable defaults for every tunable,
// matching the orders of magnitude spec.md §8's examples exercise.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		CursorAgeThresholdSeconds: 3600,
		ErrorBudgetThreshold:      0.3,
		MinSamples:                5,
		RateLimitHitThreshold:     0.1,
		JobTypePriority: map[domain.JobType]int{
			domain.JobTypeCommits: 0,
			domain.JobTypeSVN:     0,
			domain.JobTypeMRs:     1,
			domain.JobTypeReviews: 2,
		},
		PriorityScale:             1000,
		MaxRunning:                50,
		MaxQueueDepth:             200,
		PerInstanceConcurrency:    5,
		PerTenantConcurrency:      10,
		MaxEnqueuePerScan:         100,
		MaxAttempts:               3,
		LeaseSeconds:              600,
		EnableTenantFairness:      true,
		TenantFairnessMaxPerRound: 1,
		MVPModeEnabled:            false,
		BackfillRepairWindowHours: 24,
		MaxBackfillWindowHours:    24 * 14,
		SkipOnBucketPause:         true,
	}
}
