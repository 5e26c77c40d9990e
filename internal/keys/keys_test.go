package keys

import "testing"

func TestBuildCircuitBreakerKeyDefaults(t *testing.T) {
	if got := BuildCircuitBreakerKey("", ""); got != "default:global" {
		t.Errorf("empty project/scope = %q, want default:global", got)
	}
	if got := BuildCircuitBreakerKey("acme", Instance("gitlab.example.com")); got != "acme:instance:gitlab.example.com" {
		t.Errorf("got %q", got)
	}
}

func TestLegacyCircuitBreakerKeysIsBareScope(t *testing.T) {
	got := LegacyCircuitBreakerKeys(Pool("workers"))
	if len(got) != 1 || got[0] != "pool:workers" {
		t.Errorf("got %v", got)
	}
}

func TestPauseKeyRoundTrip(t *testing.T) {
	key := BuildPauseKey(42, "commits")
	if key != "repo:42:commits" {
		t.Fatalf("got %q", key)
	}
	repoID, jobType, ok := ParsePauseKey(key)
	if !ok || repoID != 42 || jobType != "commits" {
		t.Fatalf("round trip failed: repoID=%d jobType=%q ok=%v", repoID, jobType, ok)
	}
}

func TestParsePauseKeyRejectsForeignFormat(t *testing.T) {
	if _, _, ok := ParsePauseKey("42:commits"); ok {
		t.Fatal("expected policy.PairKey-shaped key to be rejected, not silently accepted")
	}
}

func TestNormalizeInstanceKeyStripsDefaultPort(t *testing.T) {
	cases := map[string]string{
		"https://GitLab.Example.com/foo/bar": "gitlab.example.com",
		"https://gitlab.example.com:443/x":   "gitlab.example.com",
		"https://gitlab.example.com:8443/x":  "gitlab.example.com:8443",
		"http://gitlab.example.com:80":       "gitlab.example.com",
	}
	for in, want := range cases {
		if got := NormalizeInstanceKey(in); got != want {
			t.Errorf("NormalizeInstanceKey(%q) = %q, want %q", in, got, want)
		}
	}
}
