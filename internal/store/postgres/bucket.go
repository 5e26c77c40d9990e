package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scm-sync/logbook/internal/domain"
)

// BucketStore implements scm.sync_rate_limits, one row per GitLab instance
// key (spec.md §4.5).
type BucketStore struct {
	pool *pgxpool.Pool
}

func NewBucketStore(pool *pgxpool.Pool) *BucketStore {
	return &BucketStore{pool: pool}
}

func (s *BucketStore) Get(ctx context.Context, instanceKey string) (*domain.RateLimitBucket, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT instance_key, tokens, rate, burst, paused_until, meta_json, updated_at, created_at
		FROM scm.sync_rate_limits WHERE instance_key = $1`, instanceKey)
	b, err := scanBucket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrBucketNotFound
	}
	return b, err
}

func (s *BucketStore) Upsert(ctx context.Context, b *domain.RateLimitBucket) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scm.sync_rate_limits (instance_key, tokens, rate, burst, paused_until, meta_json, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (instance_key) DO UPDATE
		SET tokens = EXCLUDED.tokens, rate = EXCLUDED.rate, burst = EXCLUDED.burst,
		    paused_until = EXCLUDED.paused_until, meta_json = EXCLUDED.meta_json, updated_at = NOW()`,
		b.InstanceKey, b.Tokens, b.Rate, b.Burst, b.PausedUntil, b.MetaJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert rate limit bucket: %w", err)
	}
	return nil
}

func (s *BucketStore) ListAll(ctx context.Context) ([]*domain.RateLimitBucket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT instance_key, tokens, rate, burst, paused_until, meta_json, updated_at, created_at
		FROM scm.sync_rate_limits`)
	if err != nil {
		return nil, fmt.Errorf("list rate limit buckets: %w", err)
	}
	defer rows.Close()

	var out []*domain.RateLimitBucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBucket(row rowScanner) (*domain.RateLimitBucket, error) {
	var b domain.RateLimitBucket
	if err := row.Scan(&b.InstanceKey, &b.Tokens, &b.Rate, &b.Burst, &b.PausedUntil, &b.MetaJSON, &b.UpdatedAt, &b.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan rate limit bucket: %w", err)
	}
	return &b, nil
}
