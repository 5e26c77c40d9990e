// Package domain holds the core row-shaped types of the scm/logbook schema.
// Nothing here talks to Postgres; infrastructure/postgres scans into these.
package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrRepoNotFound  = errors.New("repo not found")
	ErrRunNotFound   = errors.New("sync run not found")
	ErrLockNotFound  = errors.New("sync lock not found")
	ErrAlreadyLocked = errors.New("repo/job_type pair already has a running job")
)

// RepoType is the source-control system a repo lives in.
type RepoType string

const (
	RepoTypeGit RepoType = "git"
	RepoTypeSVN RepoType = "svn"
)

// Repo is a row of scm.repos. It is created by an external registry
// process; this system only ever reads it.
type Repo struct {
	RepoID        int       `json:"repoID"`
	RepoType      RepoType  `json:"repoType"`
	URL           string    `json:"url"`
	ProjectKey    string    `json:"projectKey"`
	DefaultBranch string    `json:"defaultBranch,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// TenantID returns the first "/"-delimited segment of ProjectKey, the unit
// of scheduler fairness (spec GLOSSARY: Tenant). A project key with no
// slash is its own tenant; only repos with an empty project key have no
// tenant and share the fairness bucket.
func (r Repo) TenantID() string {
	if r.ProjectKey == "" {
		return ""
	}
	if idx := strings.IndexByte(r.ProjectKey, '/'); idx >= 0 {
		return r.ProjectKey[:idx]
	}
	return r.ProjectKey
}

// GitLabInstance extracts the normalized hostname from a git repo's URL,
// or "" for svn repos and URLs that don't parse. See keys.NormalizeInstanceKey
// for the exact normalization rule.
func (r Repo) GitLabInstance(normalize func(string) string) string {
	if r.RepoType != RepoTypeGit {
		return ""
	}
	return normalize(r.URL)
}
