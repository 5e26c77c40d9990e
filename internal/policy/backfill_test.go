package policy

import (
	"testing"
	"time"
)

func TestComputeTimeBackfillWindowDoublesPerEmptyAttempt(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.BackfillRepairWindowHours = 24
	cfg.MaxBackfillWindowHours = 1000
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	watermark := now.Add(-48 * time.Hour)

	w0 := ComputeTimeBackfillWindow(watermark, cfg, 0, now)
	w1 := ComputeTimeBackfillWindow(watermark, cfg, 1, now)
	w2 := ComputeTimeBackfillWindow(watermark, cfg, 2, now)

	if got := w0.Start; !got.Equal(watermark.Add(-24 * time.Hour)) {
		t.Fatalf("0 attempts: got start %v", got)
	}
	if got := w1.Start; !got.Equal(watermark.Add(-48 * time.Hour)) {
		t.Fatalf("1 attempt should double the window to 48h, got start %v", got)
	}
	if w2.Start.After(w1.Start) {
		t.Fatalf("window must widen (start earlier) with more consecutive empty attempts")
	}
}

func TestComputeTimeBackfillWindowCapsAtMax(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.BackfillRepairWindowHours = 24
	cfg.MaxBackfillWindowHours = 72
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	watermark := now.Add(-24 * time.Hour)

	w := ComputeTimeBackfillWindow(watermark, cfg, 10, now)
	maxStart := watermark.Add(-72 * time.Hour)
	if !w.Start.Equal(maxStart) {
		t.Fatalf("expected window capped at max_backfill_window_hours=72h, got start %v want %v", w.Start, maxStart)
	}
}

func TestComputeSVNBackfillWindowWidensAndFloorsAtZero(t *testing.T) {
	from, to := ComputeSVNBackfillWindow(500, 1000, 100, 10000, 0)
	if from != 400 || to != 1000 {
		t.Fatalf("got from=%d to=%d", from, to)
	}

	from, _ = ComputeSVNBackfillWindow(500, 1000, 100, 10000, 3)
	if from >= 400 {
		t.Fatalf("expected widened span to reach further back than the base span, got from=%d", from)
	}

	from, _ = ComputeSVNBackfillWindow(50, 1000, 100, 10000, 0)
	if from != 0 {
		t.Fatalf("expected from floored at 0 when span exceeds known_revision, got %d", from)
	}
}

func TestShouldGenerateBackfill(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.BackfillRepairWindowHours = 1
	threshold := 3600.0

	if ShouldGenerateBackfill(threshold-1, cfg, false) {
		t.Fatal("gap under threshold should not warrant a backfill")
	}
	if !ShouldGenerateBackfill(threshold+1, cfg, false) {
		t.Fatal("gap over threshold should warrant a backfill")
	}
	if ShouldGenerateBackfill(threshold+1, cfg, true) {
		t.Fatal("an already-queued backfill should not be duplicated")
	}
}
