// Package adapter defines the contract a per-job-type sync adapter
// implements (GitLab commits/MRs/reviews, SVN revisions — spec.md §5).
// The worker harness is adapter-agnostic: it only knows how to claim a
// job, call Run, and persist whatever RunResult comes back.
package adapter

import (
	"context"
	"time"

	"github.com/scm-sync/logbook/internal/domain"
	"github.com/scm-sync/logbook/internal/errcat"
)

// Request is everything an adapter needs to execute one job: the repo, the
// job's current cursor, and the batch/diff-mode hints a circuit breaker in
// HALF_OPEN or OPEN state may have attached (spec.md §4.4).
type Request struct {
	Repo       domain.Repo
	JobType    domain.JobType
	Mode       domain.JobMode
	Cursor     map[string]any
	BatchSize  int
	DiffMode   string
	IsProbe    bool
}

// RunResult is everything the worker harness needs to finalize a run:
// status, the updated cursor, the counts contract, and, on failure, an
// error classified into the taxonomy of spec.md §7.
type RunResult struct {
	Status       domain.RunStatus
	Counts       domain.Counts
	CursorAfter  map[string]any
	ErrorCategory errcat.Category
	ErrorMessage string
	Degradation  *domain.Degradation

	// RateLimited/RetryAfterSeconds let the worker harness feed the token
	// bucket and circuit breaker without every adapter re-implementing
	// GitLab's 429 header parsing.
	RateLimited       bool
	RetryAfterSeconds int
	RequestCount      int
}

// Adapter is the contract every job-type-specific sync implementation
// satisfies.
type Adapter interface {
	Run(ctx context.Context, req Request) (RunResult, error)
}

// Registry dispatches by JobType, following the teacher's simple
// map-of-handlers style rather than a reflection-based plugin system.
type Registry map[domain.JobType]Adapter

func (r Registry) For(jobType domain.JobType) (Adapter, bool) {
	a, ok := r[jobType]
	return a, ok
}

// Clock abstracts time.Now so adapters and the harness can be driven by
// injected time in tests (spec.md §9 "Time & randomness").
type Clock func() time.Time

func RealClock() time.Time { return time.Now().UTC() }
