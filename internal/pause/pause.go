// Package pause implements the (repo,job_type) pause record stored in
// logbook.kv[namespace="scm.sync_pauses"], grounded in
// original_source/db.py's RepoPauseRecord dataclass.
package pause

import (
	"encoding/json"
	"strconv"

	"github.com/scm-sync/logbook/internal/keys"
)

// ReasonCode enumerates why a pair was paused.
type ReasonCode string

const (
	ReasonErrorBudget      ReasonCode = "error_budget"
	ReasonRateLimitBucket  ReasonCode = "rate_limit_bucket"
	ReasonCircuitOpen      ReasonCode = "circuit_open"
	ReasonManual           ReasonCode = "manual"
)

// Record is the pause record value: {paused_until, reason, paused_at,
// reason_code, failure_rate}. Epoch-seconds float fields match the
// original Python dataclass's `time.time()`-based timestamps exactly so
// the JSON shape round-trips byte-for-byte.
type Record struct {
	RepoID      int        `json:"repo_id"`
	JobType     string     `json:"job_type"`
	PausedUntil float64    `json:"paused_until"`
	Reason      string     `json:"reason"`
	PausedAt    float64    `json:"paused_at"`
	FailureRate float64    `json:"failure_rate"`
	ReasonCode  ReasonCode `json:"reason_code,omitempty"`
}

// IsExpired reports whether the pause has lapsed as of `now` (epoch seconds).
func (r Record) IsExpired(now float64) bool {
	return now >= r.PausedUntil
}

// RemainingSeconds returns how long the pause still has to run, floored at 0.
func (r Record) RemainingSeconds(now float64) float64 {
	if rem := r.PausedUntil - now; rem > 0 {
		return rem
	}
	return 0
}

// ToDict/FromDict round-trip through the exact JSON shape persisted in KV,
// named to match the original dataclass methods this is grounded on and to
// satisfy spec.md §8's `RepoPauseRecord.from_dict(r.to_dict()) == r` law.
func (r Record) ToDict() map[string]any {
	return map[string]any{
		"repo_id":      r.RepoID,
		"job_type":     r.JobType,
		"paused_until": r.PausedUntil,
		"reason":       r.Reason,
		"paused_at":    r.PausedAt,
		"failure_rate": r.FailureRate,
		"reason_code":  string(r.ReasonCode),
	}
}

func FromDict(repoID int, jobType string, data map[string]any) Record {
	r := Record{RepoID: repoID, JobType: jobType}
	if data == nil {
		return r
	}
	r.PausedUntil = asFloat(data["paused_until"])
	r.Reason, _ = data["reason"].(string)
	r.PausedAt = asFloat(data["paused_at"])
	r.FailureRate = asFloat(data["failure_rate"])
	if rc, ok := data["reason_code"].(string); ok {
		r.ReasonCode = ReasonCode(rc)
	}
	return r
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToDict())
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}

// BuildKey returns the canonical "repo:<repo_id>:<job_type>" pause key.
// Delegates to keys.BuildPauseKey, the single source of truth for key
// construction (spec.md §9 "Key construction").
func BuildKey(repoID int, jobType string) string {
	return keys.BuildPauseKey(repoID, jobType)
}

// ParseKey recovers (repoID, jobType) from a key built by BuildKey. Used by
// admin tooling that only has the KV key on hand.
func ParseKey(key string) (repoID int, jobType string, ok bool) {
	return keys.ParsePauseKey(key)
}
