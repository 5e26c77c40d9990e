// Package keys centralizes every stable key-construction rule the
// coordination layer relies on (spec.md §9 "Key construction"): the
// circuit-breaker scope key, the (repo,job_type) pause key, and GitLab
// instance-hostname normalization. Nothing else in the module should
// format these keys by hand.
package keys

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Scope is the circuit breaker's unit of isolation (spec.md GLOSSARY).
type Scope string

const (
	ScopeGlobal Scope = "global"
)

// Pool returns the "pool:<name>" scope for a named worker pool.
func Pool(name string) Scope { return Scope("pool:" + name) }

// Instance returns the "instance:<hostname>" scope for a normalized
// GitLab instance hostname.
func Instance(hostname string) Scope { return Scope("instance:" + hostname) }

// Tenant returns the "tenant:<tenant_id>" scope.
func Tenant(tenantID string) Scope { return Scope("tenant:" + tenantID) }

// BuildCircuitBreakerKey returns the canonical "<project_key>:<scope>" form.
// Writes must always use this. project_key defaults to "default" and scope
// to "global" when empty, matching the original db.build_circuit_breaker_key
// defaults.
func BuildCircuitBreakerKey(projectKey string, scope Scope) string {
	if projectKey == "" {
		projectKey = "default"
	}
	if scope == "" {
		scope = ScopeGlobal
	}
	return fmt.Sprintf("%s:%s", projectKey, scope)
}

// LegacyCircuitBreakerKeys returns the fallback keys a reader should try, in
// order, when the canonical key has no value in KV yet: the bare scope with
// no project prefix (spec.md §3 "On read the resolver also tries legacy
// short keys"). Writers must never produce these forms.
func LegacyCircuitBreakerKeys(scope Scope) []string {
	return []string{string(scope)}
}

// BuildPauseKey returns the canonical "repo:<repo_id>:<job_type>" key.
func BuildPauseKey(repoID int, jobType string) string {
	return fmt.Sprintf("repo:%d:%s", repoID, jobType)
}

// ParsePauseKey recovers (repoID, jobType) from a key built by BuildPauseKey.
func ParsePauseKey(key string) (repoID int, jobType string, ok bool) {
	if !strings.HasPrefix(key, "repo:") {
		return 0, "", false
	}
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 {
		return 0, "", false
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, "", false
	}
	return id, parts[2], true
}

// NormalizeInstanceKey reduces a repo URL to a lower-cased hostname,
// preserving a non-default port, for use as a rate-limit bucket key and as
// the circuit breaker's "instance:<hostname>" scope. Returns "" for URLs
// that don't parse to a host.
func NormalizeInstanceKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		// Not a URL (e.g. an svn:// path without a scheme prefix parse
		// failure) — fall back to treating the whole string as a
		// scheme-less host:port.
		u2, err2 := url.Parse("//" + strings.TrimPrefix(rawURL, "//"))
		if err2 != nil || u2.Host == "" {
			return ""
		}
		u = u2
	}
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" || isDefaultPort(u.Scheme, port) {
		return host
	}
	return host + ":" + port
}

func isDefaultPort(scheme, port string) bool {
	switch strings.ToLower(scheme) {
	case "https", "":
		return port == "443"
	case "http":
		return port == "80"
	default:
		return false
	}
}
