package policy

import "time"

// BackfillWindow is a bounded [Start, End) repair range, widened on each
// consecutive miss but never past MaxBackfillWindowHours (spec.md §4.6
// "Backfill windows").
type BackfillWindow struct {
	Start time.Time
	End   time.Time
}

// ComputeTimeBackfillWindow returns the repair window for a timestamp-keyed
// source (commits, MRs): it reaches back RepairWindowHours from the known
// cursor watermark, doubling per consecutive empty attempt up to
// MaxBackfillWindowHours, and always ends at `now`.
func ComputeTimeBackfillWindow(cursorWatermark time.Time, cfg SchedulerConfig, consecutiveEmptyAttempts int, now time.Time) BackfillWindow {
	hours := cfg.BackfillRepairWindowHours
	if hours <= 0 {
		hours = 24
	}
	for i := 0; i < consecutiveEmptyAttempts; i++ {
		hours *= 2
		if hours >= cfg.MaxBackfillWindowHours && cfg.MaxBackfillWindowHours > 0 {
			hours = cfg.MaxBackfillWindowHours
			break
		}
	}
	start := cursorWatermark.Add(-time.Duration(hours) * time.Hour)
	if cursorWatermark.IsZero() {
		start = now.Add(-time.Duration(hours) * time.Hour)
	}
	return BackfillWindow{Start: start, End: now}
}

// ComputeSVNBackfillWindow returns the [fromRevision, toRevision] repair
// range for a revision-keyed source, widening the same way as the
// time-based window but in revision-count units instead of hours.
func ComputeSVNBackfillWindow(knownRevision, headRevision, baseSpanRevisions, maxSpanRevisions, consecutiveEmptyAttempts int) (from, to int) {
	span := baseSpanRevisions
	if span <= 0 {
		span = 1000
	}
	for i := 0; i < consecutiveEmptyAttempts; i++ {
		span *= 2
		if maxSpanRevisions > 0 && span >= maxSpanRevisions {
			span = maxSpanRevisions
			break
		}
	}
	from = knownRevision - span
	if from < 0 {
		from = 0
	}
	return from, headRevision
}

// ShouldGenerateBackfill reports whether a gap between the last known-good
// cursor and the present is wide enough to warrant a dedicated backfill job
// rather than relying on the next incremental scan to close it naturally
// (spec.md §4.6): the gap must exceed the repair window, and a backfill for
// this pair must not already be in flight.
func ShouldGenerateBackfill(gapSeconds float64, cfg SchedulerConfig, backfillAlreadyQueued bool) bool {
	if backfillAlreadyQueued {
		return false
	}
	threshold := float64(cfg.BackfillRepairWindowHours) * 3600
	return gapSeconds > threshold
}
