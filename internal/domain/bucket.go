package domain

import (
	"errors"
	"time"
)

var ErrBucketNotFound = errors.New("rate limit bucket not found")

// RateLimitBucket is a row of scm.sync_rate_limits: a token bucket per
// GitLab instance. Tokens are advanced continuously by rate*Δt up to burst;
// PausedUntil is set on HTTP 429 and cleared by expiry or admin action.
type RateLimitBucket struct {
	InstanceKey string         `json:"instanceKey"`
	Tokens      float64        `json:"tokens"`
	Rate        float64        `json:"rate"`  // tokens/sec
	Burst       float64        `json:"burst"` // capacity
	PausedUntil *time.Time     `json:"pausedUntil,omitempty"`
	MetaJSON    map[string]any `json:"metaJSON,omitempty"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// IsPaused reports whether the bucket is paused at `now`.
func (b *RateLimitBucket) IsPaused(now time.Time) bool {
	return b.PausedUntil != nil && b.PausedUntil.After(now)
}

// PauseRemaining returns how much longer the bucket stays paused at `now`,
// or 0 if not paused.
func (b *RateLimitBucket) PauseRemaining(now time.Time) time.Duration {
	if !b.IsPaused(now) {
		return 0
	}
	return b.PausedUntil.Sub(now)
}

// InstanceBucketStatus is the read-only snapshot the scheduler consumes —
// no tokens are deducted when building one (spec.md §4.5).
type InstanceBucketStatus struct {
	InstanceKey          string  `json:"instanceKey"`
	IsPaused             bool    `json:"isPaused"`
	PauseRemainingSeconds float64 `json:"pauseRemainingSeconds"`
	CurrentTokens        float64 `json:"currentTokens"`
	Rate                  float64 `json:"rate"`
	Burst                 float64 `json:"burst"`
}

// Snapshot projects a RateLimitBucket (after advancing tokens to `now`, but
// without consuming any) into the scheduler-facing status type.
func (b *RateLimitBucket) Snapshot(now time.Time) InstanceBucketStatus {
	tokens := b.Tokens
	if !b.UpdatedAt.IsZero() {
		elapsed := now.Sub(b.UpdatedAt).Seconds()
		if elapsed > 0 {
			tokens = min(b.Burst, tokens+b.Rate*elapsed)
		}
	}
	return InstanceBucketStatus{
		InstanceKey:           b.InstanceKey,
		IsPaused:              b.IsPaused(now),
		PauseRemainingSeconds: b.PauseRemaining(now).Seconds(),
		CurrentTokens:         tokens,
		Rate:                  b.Rate,
		Burst:                 b.Burst,
	}
}
