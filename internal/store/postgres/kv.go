package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// KVStore implements the generic namespaced logbook.kv table: circuit
// breaker state and (repo, job_type) pause records are both plain JSON blobs
// keyed by (namespace, key), per spec.md §9 "KV namespaces".
type KVStore struct {
	pool *pgxpool.Pool
}

func NewKVStore(pool *pgxpool.Pool) *KVStore {
	return &KVStore{pool: pool}
}

func (s *KVStore) Get(ctx context.Context, namespace, key string) (map[string]any, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT value_json FROM logbook.kv WHERE namespace = $1 AND key = $2`, namespace, key).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get kv %s/%s: %w", namespace, key, err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, fmt.Errorf("unmarshal kv %s/%s: %w", namespace, key, err)
	}
	return out, true, nil
}

func (s *KVStore) Set(ctx context.Context, namespace, key string, value map[string]any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal kv %s/%s: %w", namespace, key, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO logbook.kv (namespace, key, value_json, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (namespace, key) DO UPDATE SET value_json = EXCLUDED.value_json, updated_at = NOW()`,
		namespace, key, raw,
	)
	if err != nil {
		return fmt.Errorf("set kv %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM logbook.kv WHERE namespace = $1 AND key = $2`, namespace, key)
	if err != nil {
		return fmt.Errorf("delete kv %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (s *KVStore) ListByNamespace(ctx context.Context, namespace string) (map[string]map[string]any, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value_json FROM logbook.kv WHERE namespace = $1`, namespace)
	if err != nil {
		return nil, fmt.Errorf("list kv namespace %s: %w", namespace, err)
	}
	defer rows.Close()

	out := map[string]map[string]any{}
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		var val map[string]any
		if err := json.Unmarshal(raw, &val); err != nil {
			return nil, fmt.Errorf("unmarshal kv %s/%s: %w", namespace, key, err)
		}
		out[key] = val
	}
	return out, rows.Err()
}
