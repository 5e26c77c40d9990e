// Package postgres implements the store interfaces against a real
// Postgres database via pgx, following the connection-pool setup and
// query/scan style of internal/infrastructure/postgres in the job
// scheduler this module grew out of.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool opens and health-checks a connection pool tuned for a long-lived
// scheduler/worker process: modest connection counts, short idle recycling
// so a failed-over read replica doesn't linger in the pool.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 1 * time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.ConnConfig.ConnectTimeout = 5 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return pool, nil
}

// rowScanner lets scan helpers accept either pgx.Row or pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
