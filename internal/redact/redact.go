// Package redact masks token-shaped substrings out of user-origin strings
// before they reach sync_jobs.last_error, sync_locks.locked_by,
// error_summary_json.message, or any log line (spec.md §7, §6).
package redact

import "regexp"

// tokenPatterns match known secret shapes: a recognizable prefix followed
// by an opaque tail, plus the generic "PRIVATE-TOKEN: ..." GitLab header.
var tokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bglpat-[A-Za-z0-9_-]{10,}\b`),
	regexp.MustCompile(`(?i)\bgh[ps]_[A-Za-z0-9]{20,}\b`),
	regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._~+/=-]{10,}`),
	regexp.MustCompile(`(?i)\bPRIVATE-TOKEN:\s*\S+`),
	regexp.MustCompile(`(?i)\b[A-Za-z0-9]{32,}\b`),
}

const mask = "***REDACTED***"

// String redacts every token-shaped substring in s. It is idempotent:
// String(String(s)) == String(s) (spec.md §8 invariant 6), since the
// output never contains a pattern match (the mask is shorter than the
// 32-char bare-token pattern threshold and contains no digits).
func String(s string) string {
	out := s
	for _, pat := range tokenPatterns {
		out = pat.ReplaceAllString(out, mask)
	}
	return out
}

// Dict redacts every string value in a shallow map, leaving keys and
// non-string values untouched. Nested maps are redacted recursively.
func Dict(m map[string]any) map[string]any {
	if m == nil {
		return m
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out[k] = String(val)
		case map[string]any:
			out[k] = Dict(val)
		default:
			out[k] = v
		}
	}
	return out
}
