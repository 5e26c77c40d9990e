package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PatchBlobStore implements scm.sync_patch_blobs: content-addressed diff
// bodies, deduplicated by hash so a repeatedly-unchanged MR diff is stored
// once regardless of how many review-sync runs reference it (spec.md
// SUPPLEMENTED FEATURES, grounded in original_source/db.py's blob dedup
// table).
type PatchBlobStore struct {
	pool *pgxpool.Pool
}

func NewPatchBlobStore(pool *pgxpool.Pool) *PatchBlobStore {
	return &PatchBlobStore{pool: pool}
}

func (s *PatchBlobStore) Put(ctx context.Context, contentHash string, body []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scm.sync_patch_blobs (content_hash, body, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (content_hash) DO NOTHING`, contentHash, body)
	if err != nil {
		return fmt.Errorf("put patch blob: %w", err)
	}
	return nil
}

func (s *PatchBlobStore) Get(ctx context.Context, contentHash string) ([]byte, bool, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM scm.sync_patch_blobs WHERE content_hash = $1`, contentHash).Scan(&body)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get patch blob: %w", err)
	}
	return body, true, nil
}

func (s *PatchBlobStore) Exists(ctx context.Context, contentHash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM scm.sync_patch_blobs WHERE content_hash = $1)`, contentHash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check patch blob exists: %w", err)
	}
	return exists, nil
}
