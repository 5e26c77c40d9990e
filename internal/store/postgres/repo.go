package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scm-sync/logbook/internal/domain"
)

// RepoStore reads scm.repos, a table this system never writes to.
type RepoStore struct {
	pool *pgxpool.Pool
}

func NewRepoStore(pool *pgxpool.Pool) *RepoStore {
	return &RepoStore{pool: pool}
}

func (s *RepoStore) GetByID(ctx context.Context, repoID int) (*domain.Repo, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT repo_id, repo_type, url, project_key, default_branch, created_at
		FROM scm.repos WHERE repo_id = $1`, repoID)
	r, err := scanRepo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRepoNotFound
	}
	return r, err
}

func (s *RepoStore) ListActive(ctx context.Context) ([]*domain.Repo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT repo_id, repo_type, url, project_key, default_branch, created_at
		FROM scm.repos ORDER BY repo_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	defer rows.Close()

	var out []*domain.Repo
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRepo(row rowScanner) (*domain.Repo, error) {
	var r domain.Repo
	var defaultBranch *string
	if err := row.Scan(&r.RepoID, &r.RepoType, &r.URL, &r.ProjectKey, &defaultBranch, &r.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan repo: %w", err)
	}
	if defaultBranch != nil {
		r.DefaultBranch = *defaultBranch
	}
	return &r, nil
}
