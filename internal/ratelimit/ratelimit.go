// Package ratelimit implements the per-GitLab-instance token bucket of
// spec.md §4.5, grounded in original_source/db.py's rate-limit bucket
// columns (tokens, rate, burst, paused_until).
package ratelimit

import (
	"time"

	"github.com/scm-sync/logbook/internal/domain"
)

// Advance returns a copy of bucket with tokens advanced to `now` (capped at
// burst), without consuming any. Safe to call repeatedly; idempotent for a
// fixed `now`.
func Advance(bucket domain.RateLimitBucket, now time.Time) domain.RateLimitBucket {
	if bucket.UpdatedAt.IsZero() {
		bucket.UpdatedAt = now
		return bucket
	}
	elapsed := now.Sub(bucket.UpdatedAt).Seconds()
	if elapsed <= 0 {
		return bucket
	}
	bucket.Tokens = min(bucket.Burst, bucket.Tokens+bucket.Rate*elapsed)
	bucket.UpdatedAt = now
	return bucket
}

// Acquire advances the bucket to `now` and, if enough tokens are available
// and the bucket is not paused, deducts `cost` tokens and reports success.
// On insufficient tokens it leaves the bucket untouched and returns the wait
// time until `cost` tokens would be available.
func Acquire(bucket domain.RateLimitBucket, now time.Time, cost float64) (updated domain.RateLimitBucket, ok bool, wait time.Duration) {
	if bucket.IsPaused(now) {
		return bucket, false, bucket.PauseRemaining(now)
	}
	advanced := Advance(bucket, now)
	if advanced.Tokens >= cost {
		advanced.Tokens -= cost
		return advanced, true, 0
	}
	deficit := cost - advanced.Tokens
	waitSeconds := deficit / advanced.Rate
	if advanced.Rate <= 0 {
		waitSeconds = 0
	}
	return bucket, false, time.Duration(waitSeconds * float64(time.Second))
}

// RecordRateLimited pauses the bucket after an upstream 429, for
// pauseDuration, and zeros its tokens so the next Advance starts from empty
// rather than the stale pre-429 balance (spec.md §4.5 "On 429").
func RecordRateLimited(bucket domain.RateLimitBucket, now time.Time, pauseDuration time.Duration) domain.RateLimitBucket {
	until := now.Add(pauseDuration)
	bucket.PausedUntil = &until
	bucket.Tokens = 0
	bucket.UpdatedAt = now
	return bucket
}

// RetryAfterToPauseDuration converts a GitLab `Retry-After` header value
// (seconds, as a non-negative integer) into a pause duration, floored at
// minPause so a bucket never "pauses" for less time than it takes the
// scheduler's next scan to notice.
func RetryAfterToPauseDuration(retryAfterSeconds int, minPause time.Duration) time.Duration {
	d := time.Duration(retryAfterSeconds) * time.Second
	if d < minPause {
		return minPause
	}
	return d
}
