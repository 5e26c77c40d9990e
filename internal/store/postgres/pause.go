package postgres

import (
	"context"

	"github.com/scm-sync/logbook/internal/keys"
	"github.com/scm-sync/logbook/internal/pause"
)

// NamespacePauses is the logbook.kv namespace repo/job-type pause records
// live under (original_source/db.py's `scm.sync_pauses` equivalent).
const NamespacePauses = "scm.sync_pauses"

// PauseStore is a thin typed wrapper over KVStore for pause records.
type PauseStore struct {
	kv *KVStore
}

func NewPauseStore(kv *KVStore) *PauseStore {
	return &PauseStore{kv: kv}
}

func (s *PauseStore) Get(ctx context.Context, repoID int, jobType string) (*pause.Record, bool, error) {
	key := keys.BuildPauseKey(repoID, jobType)
	data, ok, err := s.kv.Get(ctx, NamespacePauses, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	rec := pause.FromDict(repoID, jobType, data)
	return &rec, true, nil
}

func (s *PauseStore) Set(ctx context.Context, record pause.Record) error {
	key := pause.BuildKey(record.RepoID, record.JobType)
	return s.kv.Set(ctx, NamespacePauses, key, record.ToDict())
}

func (s *PauseStore) Clear(ctx context.Context, repoID int, jobType string) error {
	return s.kv.Delete(ctx, NamespacePauses, keys.BuildPauseKey(repoID, jobType))
}

func (s *PauseStore) ListActive(ctx context.Context, now float64) ([]pause.Record, error) {
	all, err := s.kv.ListByNamespace(ctx, NamespacePauses)
	if err != nil {
		return nil, err
	}
	var out []pause.Record
	for key, data := range all {
		repoID, jobType, ok := keys.ParsePauseKey(key)
		if !ok {
			continue
		}
		rec := pause.FromDict(repoID, jobType, data)
		if !rec.IsExpired(now) {
			out = append(out, rec)
		}
	}
	return out, nil
}
