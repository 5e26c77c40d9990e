package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/scm-sync/logbook/internal/breaker"
	"github.com/scm-sync/logbook/internal/domain"
	"github.com/scm-sync/logbook/internal/pause"
	"github.com/scm-sync/logbook/internal/policy"
	"github.com/scm-sync/logbook/internal/store"
)

type fakeRepoStore struct{ repos []*domain.Repo }

func (f *fakeRepoStore) GetByID(ctx context.Context, repoID int) (*domain.Repo, error) { return nil, nil }
func (f *fakeRepoStore) ListActive(ctx context.Context) ([]*domain.Repo, error)        { return f.repos, nil }

type fakeJobStore struct {
	store.JobStore
	enqueued []*domain.SyncJob
}

func (f *fakeJobStore) Enqueue(ctx context.Context, job *domain.SyncJob) (*domain.SyncJob, error) {
	f.enqueued = append(f.enqueued, job)
	return job, nil
}
func (f *fakeJobStore) IsQueued(ctx context.Context, repoID int, jobType domain.JobType) (bool, error) {
	return false, nil
}
func (f *fakeJobStore) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	return map[domain.JobStatus]int{}, nil
}
func (f *fakeJobStore) CountRunningByInstance(ctx context.Context) (map[string]int, error) {
	return map[string]int{}, nil
}
func (f *fakeJobStore) CountRunningByTenant(ctx context.Context) (map[string]int, error) {
	return map[string]int{}, nil
}

type fakeRunStore struct{ store.RunStore }

func (f *fakeRunStore) RecentStatsForRepo(ctx context.Context, repoID int, jobType domain.JobType, window time.Duration) (int, int, error) {
	return 0, 0, nil
}

type fakeBucketStore struct{}

func (f *fakeBucketStore) Get(ctx context.Context, instanceKey string) (*domain.RateLimitBucket, error) {
	return nil, nil
}
func (f *fakeBucketStore) Upsert(ctx context.Context, bucket *domain.RateLimitBucket) error {
	return nil
}
func (f *fakeBucketStore) ListAll(ctx context.Context) ([]*domain.RateLimitBucket, error) {
	return nil, nil
}

type fakeKVStore struct {
	data map[string]map[string]map[string]any
}

func newFakeKVStore() *fakeKVStore { return &fakeKVStore{data: map[string]map[string]map[string]any{}} }

func (f *fakeKVStore) Get(ctx context.Context, namespace, key string) (map[string]any, bool, error) {
	ns, ok := f.data[namespace]
	if !ok {
		return nil, false, nil
	}
	v, ok := ns[key]
	return v, ok, nil
}
func (f *fakeKVStore) Set(ctx context.Context, namespace, key string, value map[string]any) error {
	if f.data[namespace] == nil {
		f.data[namespace] = map[string]map[string]any{}
	}
	f.data[namespace][key] = value
	return nil
}
func (f *fakeKVStore) Delete(ctx context.Context, namespace, key string) error {
	delete(f.data[namespace], key)
	return nil
}
func (f *fakeKVStore) ListByNamespace(ctx context.Context, namespace string) (map[string]map[string]any, error) {
	return f.data[namespace], nil
}

type fakePauseStore struct{}

func (f *fakePauseStore) Get(ctx context.Context, repoID int, jobType string) (*pause.Record, bool, error) {
	return nil, false, nil
}
func (f *fakePauseStore) Set(ctx context.Context, record pause.Record) error { return nil }
func (f *fakePauseStore) Clear(ctx context.Context, repoID int, jobType string) error { return nil }
func (f *fakePauseStore) ListActive(ctx context.Context, now float64) ([]pause.Record, error) {
	return nil, nil
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScanEnqueuesEligibleRepo(t *testing.T) {
	repos := &fakeRepoStore{repos: []*domain.Repo{
		{RepoID: 1, RepoType: domain.RepoTypeGit, URL: "https://gitlab.example.com/acme/widgets.git", ProjectKey: "acme/widgets"},
	}}
	jobs := &fakeJobStore{}
	cfg := Config{
		Spec:            "@every 1h",
		SchedulerConfig: policy.DefaultSchedulerConfig(),
		BreakerConfig:   breaker.DefaultConfig(),
		JobTypes:        []domain.JobType{domain.JobTypeCommits},
	}
	s, err := New(repos, jobs, &fakeRunStore{}, &fakeBucketStore{}, newFakeKVStore(), &fakePauseStore{}, silentLogger(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	s.Scan(context.Background())

	if len(jobs.enqueued) != 1 {
		t.Fatalf("expected exactly one job enqueued for a never-synced repo, got %d", len(jobs.enqueued))
	}
	if jobs.enqueued[0].RepoID != 1 || jobs.enqueued[0].JobType != domain.JobTypeCommits {
		t.Fatalf("got %+v", jobs.enqueued[0])
	}
}

func TestScanSkipsAlreadyQueuedPair(t *testing.T) {
	repos := &fakeRepoStore{repos: []*domain.Repo{
		{RepoID: 1, RepoType: domain.RepoTypeGit, URL: "https://gitlab.example.com/acme/widgets.git", ProjectKey: "acme/widgets"},
	}}
	jobs := &queuedJobStore{fakeJobStore: &fakeJobStore{}}
	cfg := Config{
		Spec:            "@every 1h",
		SchedulerConfig: policy.DefaultSchedulerConfig(),
		BreakerConfig:   breaker.DefaultConfig(),
		JobTypes:        []domain.JobType{domain.JobTypeCommits},
	}
	s, err := New(repos, jobs, &fakeRunStore{}, &fakeBucketStore{}, newFakeKVStore(), &fakePauseStore{}, silentLogger(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	s.Scan(context.Background())

	if len(jobs.enqueued) != 0 {
		t.Fatalf("expected no job enqueued for an already-queued pair, got %d", len(jobs.enqueued))
	}
}

type queuedJobStore struct {
	*fakeJobStore
}

func (q *queuedJobStore) IsQueued(ctx context.Context, repoID int, jobType domain.JobType) (bool, error) {
	return true, nil
}
