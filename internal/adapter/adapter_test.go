package adapter

import (
	"context"
	"testing"

	"github.com/scm-sync/logbook/internal/domain"
)

type stubAdapter struct {
	result RunResult
	err    error
}

func (s stubAdapter) Run(ctx context.Context, req Request) (RunResult, error) {
	return s.result, s.err
}

func TestRegistryForReturnsRegisteredAdapter(t *testing.T) {
	reg := Registry{
		domain.JobTypeCommits: stubAdapter{result: RunResult{Status: domain.RunStatusCompleted}},
	}

	got, ok := reg.For(domain.JobTypeCommits)
	if !ok {
		t.Fatal("expected commits adapter to be registered")
	}
	res, err := got.Run(context.Background(), Request{JobType: domain.JobTypeCommits})
	if err != nil || res.Status != domain.RunStatusCompleted {
		t.Fatalf("got res=%+v err=%v", res, err)
	}
}

func TestRegistryForMissingJobType(t *testing.T) {
	reg := Registry{}
	_, ok := reg.For(domain.JobTypeSVN)
	if ok {
		t.Fatal("expected no adapter registered for an empty registry")
	}
}
