package reaper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/scm-sync/logbook/internal/domain"
	"github.com/scm-sync/logbook/internal/store"
)

type fakeJobStore struct {
	store.JobStore
	requeued, killed int
	err              error
	called           bool
}

func (f *fakeJobStore) RescheduleExpired(ctx context.Context, graceSeconds, limit int) (int, int, error) {
	f.called = true
	return f.requeued, f.killed, f.err
}

type fakeRunStore struct {
	store.RunStore
	n      int
	err    error
	called bool
}

func (f *fakeRunStore) RescheduleExpired(ctx context.Context, graceSeconds, limit int) (int, error) {
	f.called = true
	return f.n, f.err
}

type fakeLockStore struct {
	n      int
	err    error
	called bool
}

func (f *fakeLockStore) TryAcquire(ctx context.Context, repoID int, jobType domain.JobType, owner string, leaseSeconds int) (bool, error) {
	return true, nil
}
func (f *fakeLockStore) Release(ctx context.Context, repoID int, jobType domain.JobType, owner string) error {
	return nil
}
func (f *fakeLockStore) ReapExpired(ctx context.Context, limit int) (int, error) {
	f.called = true
	return f.n, f.err
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweepRunsAllThreeReapsEvenIfOneFails(t *testing.T) {
	jobs := &fakeJobStore{requeued: 2, killed: 1}
	runs := &fakeRunStore{err: errors.New("db unavailable")}
	locks := &fakeLockStore{n: 3}

	r := New(jobs, runs, locks, silentLogger(), Config{Interval: time.Hour, GraceSeconds: 30, BatchLimit: 50})
	r.Sweep(context.Background())

	if !jobs.called {
		t.Fatal("expected job sweep to run")
	}
	if !runs.called {
		t.Fatal("expected run sweep to run even though job sweep succeeded")
	}
	if !locks.called {
		t.Fatal("a failing run sweep must not prevent the lock sweep from running")
	}
}

func TestNewDefaultsBatchLimit(t *testing.T) {
	r := New(&fakeJobStore{}, &fakeRunStore{}, &fakeLockStore{}, silentLogger(), Config{Interval: time.Minute})
	if r.cfg.BatchLimit != 100 {
		t.Fatalf("expected default batch limit of 100, got %d", r.cfg.BatchLimit)
	}
}
