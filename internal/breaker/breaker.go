// Package breaker implements the per-scope CLOSED/OPEN/HALF_OPEN circuit
// breaker of spec.md §4.4. Controllers are pure in the sense that they
// take `now` as an argument (spec.md §9 "Time & randomness" — inject a
// Clock) and never touch Postgres directly; persistence is a plain
// Go struct the caller loads/saves through logbook.kv.
package breaker

import "time"

// State is one of the three breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Config holds every tunable spec.md §4.4 names.
type Config struct {
	FailureRateThreshold         float64
	RateLimitThreshold           float64
	TimeoutRateThreshold         float64
	WindowCount                  int
	WindowMinutes                int
	OpenDurationSeconds          float64
	HalfOpenMaxRequests          int
	RecoverySuccessCount         int
	MinSamples                   int
	EnableSmoothing              bool
	SmoothingAlpha               float64
	BackfillOnlyMode             bool
	DegradedBatchSize            int
	DegradedForwardWindowSeconds int
	ProbeBudgetPerInterval       int
	ProbeJobTypesAllowlist       []string
}

// DefaultConfig matches the defaults implied by spec.md §8's boundary
// examples (min_samples=5, smoothing_alpha=0.5).
func DefaultConfig() Config {
	return Config{
		FailureRateThreshold:         0.5,
		RateLimitThreshold:           0.3,
		TimeoutRateThreshold:         0.3,
		WindowCount:                  1,
		WindowMinutes:                15,
		OpenDurationSeconds:          60,
		HalfOpenMaxRequests:          5,
		RecoverySuccessCount:         2,
		MinSamples:                   5,
		EnableSmoothing:              false,
		SmoothingAlpha:               0.5,
		BackfillOnlyMode:             true,
		DegradedBatchSize:            10,
		DegradedForwardWindowSeconds: 3600,
		ProbeBudgetPerInterval:       3,
	}
}

// HealthStats is the windowed aggregate a scan feeds into Check.
type HealthStats struct {
	TotalRuns         int
	FailedRate        float64
	RateLimitRate     float64
	TotalRequests     int
	TotalTimeoutCount int
}

// Decision is what the scheduler consumes after Check (spec.md §4.2/§4.4).
type Decision struct {
	Key                   string
	State                 State
	AllowSync             bool
	IsBackfillOnly        bool
	IsProbeMode           bool
	ProbeBudget           int
	ProbeJobTypesAllowlist []string
	SuggestedBatchSize    int
	SuggestedDiffMode     string
	WaitSeconds           float64
	TriggerReason         string
}

// StateDict is the full persisted shape of a Controller, serialized
// to/from logbook.kv[namespace="scm.sync_health"]. `Key` is intentionally
// part of the dict only for transport; load_state_dict keeps the loading
// controller's own Key field (spec.md §4.4).
type StateDict struct {
	State             State   `json:"state"`
	OpenedAt          float64 `json:"opened_at"`
	SmoothedFailure   float64 `json:"smoothed_failure_rate"`
	SmoothedRateLimit float64 `json:"smoothed_rate_limit_rate"`
	SmoothedTimeout   float64 `json:"smoothed_timeout_rate"`
	HalfOpenAttempts  int     `json:"half_open_attempts"`
	HalfOpenSuccesses int     `json:"half_open_successes"`
	ProbesUsed        int     `json:"probes_used"`
	CurrentBatchSize  int     `json:"current_batch_size"`
	TriggerReason     string  `json:"trigger_reason,omitempty"`
}

// Controller is the per-key state machine. It is not safe for concurrent
// use from multiple goroutines without external locking; the scheduler
// holds one per key, re-hydrated from KV at the start of each scan
// (spec.md §4.4 "Scope isolation").
type Controller struct {
	Key    string
	Config Config

	state             State
	openedAt          time.Time
	smoothedFailure   float64
	smoothedRateLimit float64
	smoothedTimeout   float64
	halfOpenAttempts  int
	halfOpenSuccesses int
	probesUsed        int
	currentBatchSize  int
	triggerReason     string
	hasSmoothed       bool
}

// New returns a fresh CLOSED controller for key.
func New(key string, cfg Config) *Controller {
	return &Controller{Key: key, Config: cfg, state: Closed, currentBatchSize: 0}
}

// GetStateDict serializes the full controller state.
func (c *Controller) GetStateDict() StateDict {
	return StateDict{
		State:             c.state,
		OpenedAt:          float64(c.openedAt.Unix()),
		SmoothedFailure:   c.smoothedFailure,
		SmoothedRateLimit: c.smoothedRateLimit,
		SmoothedTimeout:   c.smoothedTimeout,
		HalfOpenAttempts:  c.halfOpenAttempts,
		HalfOpenSuccesses: c.halfOpenSuccesses,
		ProbesUsed:        c.probesUsed,
		CurrentBatchSize:  c.currentBatchSize,
		TriggerReason:     c.triggerReason,
	}
}

// LoadStateDict restores a controller from a previously persisted dict.
// The controller's own Key is never overwritten by the dict (spec.md §4.4).
func LoadStateDict(key string, cfg Config, d StateDict) *Controller {
	c := New(key, cfg)
	c.state = d.State
	if d.OpenedAt > 0 {
		c.openedAt = time.Unix(int64(d.OpenedAt), 0)
	}
	c.smoothedFailure = d.SmoothedFailure
	c.smoothedRateLimit = d.SmoothedRateLimit
	c.smoothedTimeout = d.SmoothedTimeout
	c.halfOpenAttempts = d.HalfOpenAttempts
	c.halfOpenSuccesses = d.HalfOpenSuccesses
	c.probesUsed = d.ProbesUsed
	c.currentBatchSize = d.CurrentBatchSize
	c.triggerReason = d.TriggerReason
	c.hasSmoothed = d.State != Closed || d.SmoothedFailure != 0 || d.SmoothedRateLimit != 0 || d.SmoothedTimeout != 0
	if c.state == Closed {
		c.state = Closed
	}
	return c
}

func (c *Controller) State() State { return c.state }

// Check evaluates health_stats against the current state and returns the
// resulting Decision, applying any state transition spec.md §4.4 requires
// along the way (OPEN -> HALF_OPEN on elapsed open_duration_seconds).
func (c *Controller) Check(now time.Time, stats HealthStats) Decision {
	if c.state == Open && c.elapsedOpen(now) >= c.Config.OpenDurationSeconds {
		c.transitionToHalfOpen()
	}

	switch c.state {
	case Closed:
		return c.checkClosed(now, stats)
	case HalfOpen:
		return c.decisionHalfOpen()
	default: // Open
		return c.decisionOpen(now)
	}
}

func (c *Controller) elapsedOpen(now time.Time) float64 {
	if c.openedAt.IsZero() {
		return 0
	}
	return now.Sub(c.openedAt).Seconds()
}

func (c *Controller) checkClosed(now time.Time, stats HealthStats) Decision {
	failureRate := stats.FailedRate
	rateLimitRate := stats.RateLimitRate
	timeoutRate := 0.0
	if stats.TotalRequests > 0 {
		timeoutRate = float64(stats.TotalTimeoutCount) / float64(stats.TotalRequests)
	}

	if c.Config.EnableSmoothing {
		failureRate = c.smooth(&c.smoothedFailure, failureRate)
		rateLimitRate = c.smooth(&c.smoothedRateLimit, rateLimitRate)
		if stats.TotalRequests > 0 {
			timeoutRate = c.smooth(&c.smoothedTimeout, timeoutRate)
		}
	}

	if stats.TotalRuns < c.Config.MinSamples {
		return Decision{Key: c.Key, State: Closed, AllowSync: true}
	}

	trigger := ""
	switch {
	case failureRate >= c.Config.FailureRateThreshold:
		trigger = "failure_rate"
	case rateLimitRate >= c.Config.RateLimitThreshold:
		trigger = "rate_limit_rate"
	case stats.TotalRequests > 0 && timeoutRate >= c.Config.TimeoutRateThreshold:
		trigger = "timeout_rate"
	}

	if trigger != "" {
		c.tripOpen(now, trigger)
		return c.decisionOpen(now)
	}
	return Decision{Key: c.Key, State: c.state, AllowSync: true}
}

func (c *Controller) smooth(prev *float64, raw float64) float64 {
	if !c.hasSmoothed {
		*prev = raw
	} else {
		alpha := c.Config.SmoothingAlpha
		*prev = alpha*raw + (1-alpha)*(*prev)
	}
	return *prev
}

func (c *Controller) tripOpen(now time.Time, reason string) {
	c.state = Open
	c.openedAt = now
	c.triggerReason = reason
	c.halfOpenAttempts = 0
	c.halfOpenSuccesses = 0
	c.probesUsed = 0
	c.currentBatchSize = c.Config.DegradedBatchSize
}

func (c *Controller) transitionToHalfOpen() {
	c.state = HalfOpen
	c.halfOpenAttempts = 0
	c.halfOpenSuccesses = 0
	c.probesUsed = 0
	if c.currentBatchSize == 0 {
		c.currentBatchSize = c.Config.DegradedBatchSize
	}
}

func (c *Controller) decisionHalfOpen() Decision {
	return Decision{
		Key:                    c.Key,
		State:                  HalfOpen,
		AllowSync:              true,
		IsProbeMode:            true,
		ProbeBudget:            max(0, c.Config.ProbeBudgetPerInterval-c.probesUsed),
		ProbeJobTypesAllowlist: c.Config.ProbeJobTypesAllowlist,
		IsBackfillOnly:         true,
		SuggestedBatchSize:     c.currentBatchSize,
		SuggestedDiffMode:      "none",
	}
}

func (c *Controller) decisionOpen(now time.Time) Decision {
	wait := c.Config.OpenDurationSeconds - c.elapsedOpen(now)
	if wait < 0 {
		wait = 0
	}
	return Decision{
		Key:            c.Key,
		State:          Open,
		AllowSync:      c.Config.BackfillOnlyMode,
		IsBackfillOnly: c.Config.BackfillOnlyMode,
		WaitSeconds:    wait,
		TriggerReason:  c.triggerReason,
	}
}

// RecordResult applies the outcome of one completed run to the breaker
// (spec.md §4.4 record_result). In CLOSED this is a no-op for state
// (threshold checks happen in Check); in OPEN it is a no-op for state too.
func (c *Controller) RecordResult(now time.Time, success bool, errorCategory string) {
	if c.state != HalfOpen {
		return
	}
	c.probesUsed++
	c.halfOpenAttempts++
	if success {
		c.halfOpenSuccesses++
		// Grow the suggested batch size geometrically toward the closed
		// baseline on each recorded success.
		if c.currentBatchSize > 0 {
			c.currentBatchSize = min(c.currentBatchSize*2, c.Config.DegradedBatchSize*8)
		}
		if c.halfOpenSuccesses >= c.Config.RecoverySuccessCount {
			c.state = Closed
			c.hasSmoothed = false
			c.smoothedFailure = 0
			c.smoothedRateLimit = 0
			c.smoothedTimeout = 0
			c.triggerReason = ""
		}
		return
	}
	c.tripOpen(now, errorCategory)
}
