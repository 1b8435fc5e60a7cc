package indexer

import (
	"context"
	"encoding/json"

	"github.com/arbiterfabric/cogrt/infrastructure/state"
	indexdom "github.com/arbiterfabric/cogrt/internal/app/domain/indexer"
)

const scanStateKey = "indexer:scan"

// persistScanState snapshots progress so a deep scan can resume from
// LastPath after a restart instead of starting over at the root.
func persistScanState(ctx context.Context, backend state.PersistenceBackend, st indexdom.ScanState) error {
	if backend == nil {
		return nil
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return backend.Save(ctx, scanStateKey, data)
}

func loadScanState(ctx context.Context, backend state.PersistenceBackend) (indexdom.ScanState, bool) {
	var st indexdom.ScanState
	if backend == nil {
		return st, false
	}
	data, err := backend.Load(ctx, scanStateKey)
	if err != nil {
		return st, false
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, false
	}
	return st, true
}

func clearScanState(ctx context.Context, backend state.PersistenceBackend) {
	if backend == nil {
		return
	}
	_ = backend.Delete(ctx, scanStateKey)
}
