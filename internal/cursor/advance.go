package cursor

import (
	"time"

	"github.com/scm-sync/logbook/internal/domain"
)

// MRWatermark is the watermark shape for mrs/reviews job types.
type MRWatermark struct {
	LastMRUpdatedAt time.Time
	LastMRIID       int
	LastEventTS     *time.Time
}

// AdvanceMR reports whether (newTS,newIID) is strictly ahead of
// (curTS,curIID) under the composite order spec.md §4.1 defines:
// new_ts > cur_ts, OR new_ts == cur_ts AND new_iid > cur_iid.
// hasCursor=false (first sync) always advances.
func AdvanceMR(newTS time.Time, newIID int, curTS time.Time, curIID int, hasCursor bool) bool {
	if !hasCursor {
		return true
	}
	nt, ct := newTS.UTC(), curTS.UTC()
	if nt.After(ct) {
		return true
	}
	return nt.Equal(ct) && newIID > curIID
}

// CommitWatermark is the watermark shape for the commits job type.
type CommitWatermark struct {
	LastCommitSHA string
	LastCommitTS  time.Time
}

// AdvanceCommit mirrors AdvanceMR with sha as the lexicographic tiebreaker.
func AdvanceCommit(newTS time.Time, newSHA string, curTS time.Time, curSHA string, hasCursor bool) bool {
	if !hasCursor {
		return true
	}
	nt, ct := newTS.UTC(), curTS.UTC()
	if nt.After(ct) {
		return true
	}
	return nt.Equal(ct) && newSHA > curSHA
}

// SVNWatermark is the watermark shape for the svn job type.
type SVNWatermark struct {
	LastRev int
}

// AdvanceSVN is a strictly-increasing revision check.
func AdvanceSVN(newRev, curRev int, hasCursor bool) bool {
	if !hasCursor {
		return true
	}
	return newRev > curRev
}

// ShouldAdvance applies the job-type-appropriate monotonicity predicate to
// a pair of watermark maps (spec.md §4.1, §4.7): the caller must skip the
// cursor write and log when this returns false, rather than let a
// regressing adapter result overwrite a higher watermark. newWatermark or
// curWatermark may be nil; a job type outside the known set always
// advances, since the core treats adapter-specific watermark shapes as
// opaque beyond these three known contracts.
func ShouldAdvance(jobType domain.JobType, newWatermark, curWatermark map[string]any, hasCursor bool) bool {
	switch jobType {
	case domain.JobTypeCommits:
		newTS, _ := ParseTimestamp(stringField(newWatermark, "last_commit_ts"))
		curTS, _ := ParseTimestamp(stringField(curWatermark, "last_commit_ts"))
		return AdvanceCommit(newTS, stringField(newWatermark, "last_commit_sha"), curTS, stringField(curWatermark, "last_commit_sha"), hasCursor)
	case domain.JobTypeMRs, domain.JobTypeReviews:
		newTS, _ := ParseTimestamp(stringField(newWatermark, "last_mr_updated_at"))
		curTS, _ := ParseTimestamp(stringField(curWatermark, "last_mr_updated_at"))
		return AdvanceMR(newTS, asInt(newWatermark["last_mr_iid"]), curTS, asInt(curWatermark["last_mr_iid"]), hasCursor)
	case domain.JobTypeSVN:
		return AdvanceSVN(asInt(newWatermark["last_rev"]), asInt(curWatermark["last_rev"]), hasCursor)
	default:
		return true
	}
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
