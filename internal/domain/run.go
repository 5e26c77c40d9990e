package domain

import (
	"time"
)

// RunStatus is the terminal or in-flight state of a sync_runs row.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusNoData    RunStatus = "no_data"
)

// Counts is the sync_runs.counts JSON contract (spec.md §3 "Counts contract").
// "synced_count" is required; everything else is optional and preserved
// verbatim on round-trip even if this program doesn't recognize the key —
// Counts is therefore a plain map with typed accessors, not a fixed struct.
type Counts map[string]any

// KnownCountFields lists every optional field spec.md documents, purely so
// validators and the admin CLI can distinguish "known but zero" from
// "unrecognized extra field" when reporting on a counts blob.
var KnownCountFields = []string{
	"diff_count", "bulk_count", "degraded_count", "scanned_count",
	"inserted_count", "skipped_count", "synced_mr_count", "synced_event_count",
	"patch_success", "patch_failed",
	"total_requests", "total_429_hits", "timeout_count", "avg_wait_time_ms",
}

// SyncedCount returns the required synced_count field as an int. ok is
// false if it is missing, not an integer, or negative; the int is 0 when
// the field is missing or not an integer, and the negative value otherwise.
func (c Counts) SyncedCount() (int, bool) {
	return c.intField("synced_count")
}

func (c Counts) intField(key string) (int, bool) {
	v, ok := c[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, n >= 0
	case int64:
		return int(n), n >= 0
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), n >= 0
	default:
		return 0, false
	}
}

// ValidateCountsSchema checks that synced_count is present and that every
// present field is a non-negative integer. It mirrors the original
// `validate_counts_schema(counts) -> (ok, errors, warnings)` contract: errors
// are schema violations, warnings name unrecognized-but-harmless fields.
func ValidateCountsSchema(c Counts) (ok bool, errs []string, warnings []string) {
	if _, present := c.SyncedCount(); !present {
		errs = append(errs, "synced_count is required and must be a non-negative integer")
	}
	known := make(map[string]struct{}, len(KnownCountFields)+1)
	known["synced_count"] = struct{}{}
	for _, f := range KnownCountFields {
		known[f] = struct{}{}
	}
	for k := range c {
		if _, isKnown := known[k]; !isKnown {
			warnings = append(warnings, "unrecognized field: "+k)
			continue
		}
		if k == "synced_count" {
			continue
		}
		if _, valid := c.intField(k); !valid {
			errs = append(errs, k+" must be a non-negative integer")
		}
	}
	return len(errs) == 0, errs, warnings
}

// ErrorSummary is the sync_runs.error_summary_json shape for run-fatal
// errors (spec.md §7). Message passes through the redactor before storage.
type ErrorSummary struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

// DegradationReasons is sync_runs.degradation_json.reasons: a histogram of
// per-item degradation causes (e.g. content_too_large) keyed by reason kind.
type DegradationReasons map[string]int

type Degradation struct {
	Reasons    DegradationReasons `json:"reasons"`
	Suggestion string             `json:"suggestion,omitempty"`
}

// SyncRun is an append-only row of scm.sync_runs — one execution attempt.
type SyncRun struct {
	RunID      string    `json:"runID"`
	RepoID     int       `json:"repoID"`
	JobType    JobType   `json:"jobType"`
	Mode       JobMode   `json:"mode"`
	Status     RunStatus `json:"status"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	CursorBefore map[string]any `json:"cursorBefore,omitempty"`
	CursorAfter  map[string]any `json:"cursorAfter,omitempty"`

	Counts            Counts         `json:"counts"`
	ErrorSummaryJSON  *ErrorSummary  `json:"errorSummaryJSON,omitempty"`
	DegradationJSON   *Degradation   `json:"degradationJSON,omitempty"`
	MetaJSON          map[string]any `json:"metaJSON,omitempty"`

	// SyncedCount mirrors the generated `synced_count` column: derived from
	// Counts, kept here for convenience after a scan.
	SyncedCount int `json:"syncedCount"`
}
