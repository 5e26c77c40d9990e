package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scm-sync/logbook/internal/cursor"
	"github.com/scm-sync/logbook/internal/domain"
)

// CursorStore implements scm.sync_cursors: one JSON blob per (repo_id,
// job_type), upgraded to the current cursor version on read but never
// rewritten in the old version (spec.md §4.7).
type CursorStore struct {
	pool *pgxpool.Pool
}

func NewCursorStore(pool *pgxpool.Pool) *CursorStore {
	return &CursorStore{pool: pool}
}

func (s *CursorStore) Get(ctx context.Context, repoID int, jobType domain.JobType) (map[string]any, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT cursor_json FROM scm.sync_cursors WHERE repo_id = $1 AND job_type = $2`,
		repoID, jobType).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cursor: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, false, fmt.Errorf("unmarshal cursor: %w", err)
	}
	upgraded := cursor.Upgrade(data)
	return upgraded.ToMap(), true, nil
}

func (s *CursorStore) Set(ctx context.Context, repoID int, jobType domain.JobType, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO scm.sync_cursors (repo_id, job_type, cursor_json, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (repo_id, job_type) DO UPDATE SET cursor_json = EXCLUDED.cursor_json, updated_at = NOW()`,
		repoID, jobType, raw,
	)
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}
