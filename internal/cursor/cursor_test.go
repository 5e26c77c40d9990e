package cursor

import (
	"testing"
	"time"
)

func TestUpgradeV1LiftsFlatKeysIntoWatermark(t *testing.T) {
	raw := map[string]any{
		"last_commit_sha": "deadbeef",
		"last_sync_at":    "2026-01-01T00:00:00Z",
		"last_sync_count": 10,
	}
	c := Upgrade(raw)
	if c.Version != CurrentVersion {
		t.Fatalf("expected upgraded version %d, got %d", CurrentVersion, c.Version)
	}
	if c.Watermark["last_commit_sha"] != "deadbeef" {
		t.Fatalf("watermark field dropped: %v", c.Watermark)
	}
	if c.Stats.LastSyncCount != 10 {
		t.Fatalf("stats.last_sync_count = %d, want 10", c.Stats.LastSyncCount)
	}
	if _, ok := c.Watermark["last_sync_count"]; ok {
		t.Fatal("stats fields must not leak into watermark")
	}
}

func TestUpgradeV2PassesThrough(t *testing.T) {
	raw := map[string]any{
		"version":   2,
		"watermark": map[string]any{"last_rev": 7},
		"stats":     map[string]any{"last_sync_count": 3},
	}
	c := Upgrade(raw)
	if c.Watermark["last_rev"] != 7 {
		t.Fatalf("v2 watermark not preserved: %v", c.Watermark)
	}
	if c.Stats.LastSyncCount != 3 {
		t.Fatalf("v2 stats not preserved: %d", c.Stats.LastSyncCount)
	}
}

func TestUpgradeNilIsEmptyV2(t *testing.T) {
	c := Upgrade(nil)
	if c.Version != CurrentVersion || len(c.Watermark) != 0 {
		t.Fatalf("expected empty v2 cursor for nil input, got %+v", c)
	}
}

func TestTimestampZAndOffsetAreEquivalent(t *testing.T) {
	a, err := ParseTimestamp("2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	b, err := ParseTimestamp("2026-01-01T00:00:00+00:00")
	if err != nil {
		t.Fatal(err)
	}
	if !a.Equal(b) {
		t.Fatalf("Z and +00:00 should parse to the same instant: %v != %v", a, b)
	}
}

func TestAdvanceMR(t *testing.T) {
	base := mustParse(t, "2026-01-01T00:00:00Z")
	later := mustParse(t, "2026-01-01T01:00:00Z")

	if !AdvanceMR(base, 1, base, 1, false) {
		t.Error("first sync (hasCursor=false) must always advance")
	}
	if AdvanceMR(base, 1, base, 2, true) {
		t.Error("same timestamp, lower iid must not advance")
	}
	if !AdvanceMR(base, 3, base, 2, true) {
		t.Error("same timestamp, higher iid must advance")
	}
	if !AdvanceMR(later, 1, base, 99, true) {
		t.Error("later timestamp must advance regardless of iid")
	}
}

func TestAdvanceSVNStrictlyIncreasing(t *testing.T) {
	if AdvanceSVN(5, 5, true) {
		t.Error("equal revision must not advance")
	}
	if !AdvanceSVN(6, 5, true) {
		t.Error("strictly greater revision must advance")
	}
	if !AdvanceSVN(1, 0, false) {
		t.Error("first sync must always advance")
	}
}

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := ParseTimestamp(s)
	if err != nil {
		t.Fatal(err)
	}
	return tm
}
