package breaker

import (
	"testing"
	"time"
)

func TestCheckClosedBelowMinSamplesAllowsSync(t *testing.T) {
	c := New("global:default", DefaultConfig())
	d := c.Check(time.Now(), HealthStats{TotalRuns: 1, FailedRate: 1.0})
	if d.State != Closed || !d.AllowSync {
		t.Fatalf("expected closed+allow below min_samples, got %+v", d)
	}
}

func TestCheckClosedTripsOpenOnFailureRate(t *testing.T) {
	cfg := DefaultConfig()
	c := New("global:default", cfg)
	now := time.Now()
	d := c.Check(now, HealthStats{TotalRuns: 10, FailedRate: 0.9})
	if d.State != Open {
		t.Fatalf("expected trip to open, got %s (decision state was reported before trip: %+v)", c.State(), d)
	}
	if c.State() != Open {
		t.Fatalf("controller should be open after tripping, got %s", c.State())
	}
}

func TestOpenTransitionsToHalfOpenAfterDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OpenDurationSeconds = 60
	c := New("global:default", cfg)
	now := time.Now()
	c.Check(now, HealthStats{TotalRuns: 10, FailedRate: 0.9})
	if c.State() != Open {
		t.Fatalf("expected open, got %s", c.State())
	}

	later := now.Add(61 * time.Second)
	d := c.Check(later, HealthStats{TotalRuns: 10, FailedRate: 0.9})
	if d.State != HalfOpen {
		t.Fatalf("expected half_open after open_duration_seconds elapsed, got %s", d.State)
	}
}

func TestHalfOpenRecoversAfterRecoverySuccessCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OpenDurationSeconds = 1
	cfg.RecoverySuccessCount = 2
	c := New("global:default", cfg)
	now := time.Now()
	c.Check(now, HealthStats{TotalRuns: 10, FailedRate: 0.9})

	later := now.Add(2 * time.Second)
	c.Check(later, HealthStats{})
	if c.State() != HalfOpen {
		t.Fatalf("expected half_open, got %s", c.State())
	}

	c.RecordResult(later, true, "")
	if c.State() != HalfOpen {
		t.Fatalf("one success should not yet close, got %s", c.State())
	}
	c.RecordResult(later, true, "")
	if c.State() != Closed {
		t.Fatalf("recovery_success_count successes should close the breaker, got %s", c.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OpenDurationSeconds = 1
	c := New("global:default", cfg)
	now := time.Now()
	c.Check(now, HealthStats{TotalRuns: 10, FailedRate: 0.9})
	later := now.Add(2 * time.Second)
	c.Check(later, HealthStats{})

	c.RecordResult(later, false, "timeout")
	if c.State() != Open {
		t.Fatalf("a half-open failure must re-trip to open, got %s", c.State())
	}
}

func TestLoadStateDictPreservesCallerKey(t *testing.T) {
	saved := New("acme:instance:gitlab.example.com", DefaultConfig())
	saved.Check(time.Now(), HealthStats{TotalRuns: 10, FailedRate: 0.9})
	dict := saved.GetStateDict()

	restored := LoadStateDict("different-key", DefaultConfig(), dict)
	if restored.Key != "different-key" {
		t.Fatalf("LoadStateDict must keep the caller's own Key, got %q", restored.Key)
	}
	if restored.State() != Open {
		t.Fatalf("expected restored state open, got %s", restored.State())
	}
}

// TestTripOpenUsesInjectedClock pins the opened_at a trip records to the
// `now` Check was called with, not the wall clock: OpenDurationSeconds
// elapsed relative to a `now` far in the past must already show expired.
func TestTripOpenUsesInjectedClock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OpenDurationSeconds = 60
	c := New("global:default", cfg)

	past := time.Now().Add(-1 * time.Hour)
	c.Check(past, HealthStats{TotalRuns: 10, FailedRate: 0.9})
	if c.State() != Open {
		t.Fatalf("expected open after tripping, got %s", c.State())
	}

	d := c.Check(past.Add(61*time.Second), HealthStats{TotalRuns: 10, FailedRate: 0.9})
	if d.State != HalfOpen {
		t.Fatalf("opened_at must track the injected now, not wall-clock time: expected half_open, got %s", d.State)
	}
}

func TestOpenAllowSyncFollowsBackfillOnlyMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BackfillOnlyMode = false
	c := New("global:default", cfg)
	now := time.Now()
	c.Check(now, HealthStats{TotalRuns: 10, FailedRate: 0.9})
	d := c.Check(now.Add(1*time.Second), HealthStats{TotalRuns: 10, FailedRate: 0.9})
	if d.AllowSync {
		t.Fatal("backfill_only_mode=false should block sync entirely while open")
	}
}
