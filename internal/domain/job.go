package domain

import (
	"errors"
	"time"
)

var (
	ErrJobNotFound = errors.New("sync job not found")
)

// JobStatus is the lifecycle state of a sync_jobs row.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusDead      JobStatus = "dead"
)

// JobMode distinguishes a normal incremental pull from a backfill pass.
type JobMode string

const (
	ModeIncremental JobMode = "incremental"
	ModeBackfill    JobMode = "backfill"
)

// JobType is one of the closed, per-repo-type set of sync job kinds.
// The core treats these as opaque strings; adapters give them meaning.
type JobType string

const (
	JobTypeCommits JobType = "commits"
	JobTypeMRs     JobType = "mrs"
	JobTypeReviews JobType = "reviews"
	JobTypeSVN     JobType = "svn"
)

// SyncJob is a row of scm.sync_jobs, the work queue.
//
// Invariant (enforced by scheduler logic, not a DB constraint — see
// spec.md §9 Open Question): at most one row with
// (repo_id, job_type, status IN ('pending','running')).
type SyncJob struct {
	JobID        string    `json:"jobID"`
	RepoID       int       `json:"repoID"`
	JobType      JobType   `json:"jobType"`
	Mode         JobMode   `json:"mode"`
	Priority     int       `json:"priority"`
	Status       JobStatus `json:"status"`
	Attempts     int       `json:"attempts"`
	MaxAttempts  int       `json:"maxAttempts"`
	NotBefore    time.Time `json:"notBefore"`

	LockedBy     *string    `json:"lockedBy,omitempty"`
	LockedAt     *time.Time `json:"lockedAt,omitempty"`
	LeaseSeconds int        `json:"leaseSeconds"`

	LastError *string `json:"lastError,omitempty"`
	LastRunID *string `json:"lastRunID,omitempty"`

	PayloadJSON map[string]any `json:"payloadJSON,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LeaseExpired reports whether the job's lease is past its expiry at `now`,
// i.e. locked_at + (lease_seconds+grace) < now. A job with no lock is never
// expired.
func (j *SyncJob) LeaseExpired(now time.Time, graceSeconds int) bool {
	if j.LockedAt == nil {
		return false
	}
	deadline := j.LockedAt.Add(time.Duration(j.LeaseSeconds+graceSeconds) * time.Second)
	return deadline.Before(now)
}

// SyncLock is a row of scm.sync_locks: one per (repo_id, job_type), mirroring
// the lock columns carried directly on sync_jobs, used for coordination that
// spans job types for the same repo.
type SyncLock struct {
	LockID       int        `json:"lockID"`
	RepoID       int        `json:"repoID"`
	JobType      JobType    `json:"jobType"`
	LockedBy     *string    `json:"lockedBy,omitempty"`
	LockedAt     *time.Time `json:"lockedAt,omitempty"`
	LeaseSeconds int        `json:"leaseSeconds"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (l *SyncLock) IsLocked() bool { return l.LockedBy != nil }

func (l *SyncLock) IsExpired(now time.Time) bool {
	if l.LockedAt == nil {
		return false
	}
	return now.Sub(*l.LockedAt) > time.Duration(l.LeaseSeconds)*time.Second
}
