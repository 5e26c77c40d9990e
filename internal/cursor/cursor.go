// Package cursor implements the versioned (watermark, stats) cursor
// contract of spec.md §3/§4.1: pure, DB-free functions for upgrading
// legacy values and deciding whether a new watermark may replace the
// stored one.
package cursor

import "time"

const CurrentVersion = 2

// Stats is the cursor's "stats" field: bookkeeping about the last sync,
// not used for any scheduling decision beyond cursor age.
type Stats struct {
	LastSyncAt    time.Time `json:"last_sync_at"`
	LastSyncCount int       `json:"last_sync_count"`
}

// Watermark is the job-type-specific "up to here is synced" map.
type Watermark = map[string]any

// Cursor is the full (version, watermark, stats) value that CursorStore
// persists per (repo_id, job_type).
type Cursor struct {
	Version   int       `json:"version"`
	Watermark Watermark `json:"watermark"`
	Stats     Stats     `json:"stats"`
}

// Upgrade converts a raw decoded KV value into a v2 Cursor. Version-1
// values stored their watermark fields as flat top-level keys with no
// "version"/"watermark"/"stats" wrapper; this function lifts every such
// key into the watermark map unchanged. A value that is already v2 passes
// through unmodified. The caller must never write the upgraded value back
// in place of an untouched v1 row (spec.md §3): Upgrade only affects the
// in-memory representation used by callers.
func Upgrade(raw map[string]any) Cursor {
	if raw == nil {
		return Cursor{Version: CurrentVersion, Watermark: Watermark{}}
	}

	if v, ok := raw["version"]; ok && asInt(v) >= 2 {
		return fromV2(raw)
	}

	// v1: every key except the well-known stats fields is a watermark field.
	wm := Watermark{}
	stats := Stats{}
	for k, val := range raw {
		switch k {
		case "last_sync_at":
			if s, ok := val.(string); ok {
				if t, err := ParseTimestamp(s); err == nil {
					stats.LastSyncAt = t
				}
			}
		case "last_sync_count":
			stats.LastSyncCount = asInt(val)
		default:
			wm[k] = val
		}
	}
	return Cursor{Version: CurrentVersion, Watermark: wm, Stats: stats}
}

func fromV2(raw map[string]any) Cursor {
	c := Cursor{Version: asInt(raw["version"]), Watermark: Watermark{}}
	if wm, ok := raw["watermark"].(map[string]any); ok {
		c.Watermark = wm
	}
	if st, ok := raw["stats"].(map[string]any); ok {
		if s, ok := st["last_sync_at"].(string); ok {
			if t, err := ParseTimestamp(s); err == nil {
				c.Stats.LastSyncAt = t
			}
		}
		c.Stats.LastSyncCount = asInt(st["last_sync_count"])
	}
	return c
}

// ToMap renders a Cursor back into the v2 KV wire shape.
func (c Cursor) ToMap() map[string]any {
	return map[string]any{
		"version":   CurrentVersion,
		"watermark": c.Watermark,
		"stats": map[string]any{
			"last_sync_at":    c.Stats.LastSyncAt.UTC().Format(time.RFC3339),
			"last_sync_count": c.Stats.LastSyncCount,
		},
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// ParseTimestamp parses an ISO-8601 instant, treating "Z" and "+00:00"
// suffixes as equivalent (spec.md §4.1, §8 round-trip law): both parse to
// the same time.Time in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, err
		}
	}
	return t.UTC(), nil
}
