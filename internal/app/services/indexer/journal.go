package indexer

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/arbiterfabric/cogrt/infrastructure/errors"
	"github.com/arbiterfabric/cogrt/infrastructure/logging"
	"github.com/arbiterfabric/cogrt/infrastructure/state"
	indexdom "github.com/arbiterfabric/cogrt/internal/app/domain/indexer"
)

const journalKey = "indexer:journal"

// journal is the in-memory path->FileState map backing idempotent scans,
// snapshotted to the configured backend on demand rather than per-write
// (a scan touches thousands of paths; per-write persistence would thrash).
type journal struct {
	mu      sync.RWMutex
	entries map[string]indexdom.FileState
	backend state.PersistenceBackend
	log     *logging.Logger
}

func newJournal(backend state.PersistenceBackend, log *logging.Logger) *journal {
	return &journal{
		entries: make(map[string]indexdom.FileState),
		backend: backend,
		log:     log,
	}
}

func (j *journal) get(path string) (indexdom.FileState, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	fs, ok := j.entries[path]
	return fs, ok
}

func (j *journal) put(fs indexdom.FileState) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[fs.Path] = fs
}

func (j *journal) delete(path string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, path)
}

// pathSet returns every path currently journaled, used to detect deletions
// after a walk: any journaled path absent from the fresh walk was unlinked.
func (j *journal) pathSet() map[string]struct{} {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make(map[string]struct{}, len(j.entries))
	for p := range j.entries {
		out[p] = struct{}{}
	}
	return out
}

func (j *journal) snapshot() []indexdom.FileState {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]indexdom.FileState, 0, len(j.entries))
	for _, fs := range j.entries {
		out = append(out, fs)
	}
	return out
}

func (j *journal) size() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

func (j *journal) persist(ctx context.Context) error {
	if j.backend == nil {
		return nil
	}
	data, err := json.Marshal(j.snapshot())
	if err != nil {
		return err
	}
	if err := j.backend.Save(ctx, journalKey, data); err != nil {
		return errors.PersistFailed(journalKey, err)
	}
	return nil
}

func (j *journal) load(ctx context.Context) error {
	if j.backend == nil {
		return nil
	}
	data, err := j.backend.Load(ctx, journalKey)
	if err != nil {
		if err == state.ErrNotFound {
			return nil
		}
		return err
	}
	var entries []indexdom.FileState
	if err := json.Unmarshal(data, &entries); err != nil {
		j.quarantine()
		return nil
	}
	j.mu.Lock()
	for _, fs := range entries {
		j.entries[fs.Path] = fs
	}
	j.mu.Unlock()
	return nil
}

func (j *journal) quarantine() {
	type quarantiner interface {
		Quarantine(key, subdir string) error
	}
	q, ok := j.backend.(quarantiner)
	if !ok {
		return
	}
	if err := q.Quarantine(journalKey, ".corrupted"); err != nil && j.log != nil {
		j.log.WithError(err).Warn("indexer: failed to quarantine corrupted journal")
	}
}
