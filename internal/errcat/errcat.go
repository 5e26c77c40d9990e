// Package errcat classifies adapter/job failures into the error taxonomy
// of spec.md §7, grounded in original_source/.../engram_step1/scm_sync_errors.py.
package errcat

import (
	"math"
	"math/rand"
	"strings"
	"time"
)

// Category is one of the closed set of error categories spec.md §7 names.
type Category string

const (
	AuthError        Category = "auth_error"
	RepoNotFound     Category = "repo_not_found"
	PermissionDenied Category = "permission_denied"
	RateLimited      Category = "rate_limited"
	Timeout          Category = "timeout"
	Network          Category = "network"
	ServerError      Category = "server_error"
	ContentTooLarge  Category = "content_too_large"
	Validation       Category = "validation"
	Unknown          Category = "unknown"
)

// Permanent categories go straight to "dead" with no retry.
var permanent = map[Category]bool{
	AuthError:        true,
	RepoNotFound:     true,
	PermissionDenied: true,
}

// IsPermanent reports whether a category skips backoff and escalates
// directly to the job's dead state.
func IsPermanent(c Category) bool { return permanent[c] }

// IsTransient is simply "not permanent, and not validation" — validation
// errors are fatal for the run but are not retried by the same transient
// backoff ladder.
func IsTransient(c Category) bool {
	return !permanent[c] && c != Validation
}

// transientBackoffBase gives the base delay for each transient category,
// per spec.md §4.3/§7.
var transientBackoffBase = map[Category]time.Duration{
	RateLimited: 30 * time.Second,
	Timeout:     15 * time.Second,
	Network:     10 * time.Second,
	ServerError: 10 * time.Second,
}

// DefaultMaxBackoff is the ceiling applied to every computed backoff delay.
const DefaultMaxBackoff = 30 * time.Minute

// Classify maps an HTTP status code / message fragment to a Category. It is
// intentionally small and conservative: callers with more specific
// knowledge (e.g. the adapter itself) should set Category directly instead
// of relying on text sniffing.
func Classify(httpStatus int, message string) Category {
	lower := strings.ToLower(message)
	switch {
	case httpStatus == 401:
		return AuthError
	case httpStatus == 403:
		return PermissionDenied
	case httpStatus == 404:
		return RepoNotFound
	case httpStatus == 429:
		return RateLimited
	case httpStatus >= 500 && httpStatus < 600:
		return ServerError
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		return Timeout
	case strings.Contains(lower, "connection reset") || strings.Contains(lower, "no such host") || strings.Contains(lower, "dns"):
		return Network
	case strings.Contains(lower, "too large") || strings.Contains(lower, "diff too big"):
		return ContentTooLarge
	case strings.Contains(lower, "invalid cursor") || strings.Contains(lower, "validation"):
		return Validation
	default:
		return Unknown
	}
}

// Backoff computes `delay = min(max_backoff, base*2^(attempts-1) + jitter)`,
// where base depends on category, per spec.md §4.3. attempts is the
// 1-indexed attempt number that just failed. retryDelaySeconds is the
// configured fallback base for the "unknown" category.
//
// rnd is an injectable randomness source (spec.md §9 "Time & randomness"),
// so tests can pin jitter deterministically.
func Backoff(category Category, attempts int, retryDelaySeconds int, maxBackoff time.Duration, rnd *rand.Rand) time.Duration {
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}
	base, ok := transientBackoffBase[category]
	if !ok {
		base = time.Duration(retryDelaySeconds) * time.Second
		if base <= 0 {
			base = 10 * time.Second
		}
	}
	if attempts < 1 {
		attempts = 1
	}
	exp := math.Pow(2, float64(attempts-1))
	delay := time.Duration(float64(base) * exp)
	if delay > maxBackoff {
		delay = maxBackoff
	}

	if rnd == nil {
		rnd = rand.New(rand.NewSource(1))
	}
	// +/- 25% jitter, matching the teacher's retryDelay jitter shape.
	jitterSpan := int64(delay / 2)
	if jitterSpan <= 0 {
		return delay
	}
	jitter := time.Duration(rnd.Int63n(jitterSpan)) - delay/4
	result := delay + jitter
	if result < 0 {
		result = 0
	}
	if result > maxBackoff {
		result = maxBackoff
	}
	return result
}
