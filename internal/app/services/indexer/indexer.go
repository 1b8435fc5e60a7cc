// Package indexer watches a rooted filesystem tree, extracts plain-text
// content from supported files through a small worker pool, and journals
// fingerprints so repeated scans are idempotent and interrupted deep
// scans can resume (spec §4.M).
package indexer

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/arbiterfabric/cogrt/infrastructure/logging"
	"github.com/arbiterfabric/cogrt/infrastructure/metrics"
	"github.com/arbiterfabric/cogrt/infrastructure/state"
	indexdom "github.com/arbiterfabric/cogrt/internal/app/domain/indexer"
)

const (
	defaultPollInterval = 5 * time.Second
	checkpointEvery     = 200
)

// Config wires an Indexer to its root, its persistence backend, and the
// callbacks the nighttime orchestrator (or any caller) hooks into for
// downstream consumption of events and extracted content.
type Config struct {
	Root         string
	PollInterval time.Duration
	Workers      int
	SkipDirs     map[string]bool
	Backend      state.PersistenceBackend
	Extractor    Extractor
	OnEvent      func(indexdom.Event)
	OnExtracted  func(indexdom.ExtractedDoc)
	Metrics      *metrics.Metrics
	Logger       *logging.Logger

	// ScanFilesPerSecond throttles extraction so a deep scan doesn't
	// starve the host's disk/CPU; zero disables throttling.
	ScanFilesPerSecond float64
	ScanBurst          int
}

// Indexer is the crawler: a journal of known paths, a dedupe set of seen
// content hashes, and the scan loop that keeps both current.
type Indexer struct {
	cfg     Config
	log     *logging.Logger
	journal *journal
	dedupe  *dedupeSet
	limiter *rate.Limiter

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(cfg Config) (*Indexer, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("indexer: root is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.SkipDirs == nil {
		cfg.SkipDirs = defaultSkipDirs
	}
	if cfg.Extractor == nil {
		cfg.Extractor = PlainTextExtractor{}
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	var limiter *rate.Limiter
	if cfg.ScanFilesPerSecond > 0 {
		burst := cfg.ScanBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.ScanFilesPerSecond), burst)
	}
	idx := &Indexer{
		cfg:     cfg,
		log:     log,
		journal: newJournal(cfg.Backend, log),
		dedupe:  newDedupeSet(),
		limiter: limiter,
		stopCh:  make(chan struct{}),
	}
	if err := idx.journal.load(context.Background()); err != nil {
		return nil, fmt.Errorf("indexer: load journal: %w", err)
	}
	return idx, nil
}

// Watch repeatedly scans the root at cfg.PollInterval, emitting add/change/
// delete events through cfg.OnEvent, until ctx is canceled or Stop is
// called. Each pass is the same idempotent scanPass DeepScan uses, so a
// quiet tree costs a cheap stat-only walk with nothing to extract.
func (idx *Indexer) Watch(ctx context.Context) {
	idx.wg.Add(1)
	go func() {
		defer idx.wg.Done()
		ticker := time.NewTicker(idx.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-idx.stopCh:
				return
			case <-ticker.C:
				if _, err := idx.scanPass(ctx, ""); err != nil {
					idx.log.WithError(err).Warn("indexer: watch pass failed")
				}
			}
		}
	}()
}

// DeepScan runs one full pass over the root, resuming from a previously
// persisted ScanState's LastPath if an incomplete scan was interrupted,
// and checkpoints its own progress so it can resume again if interrupted.
func (idx *Indexer) DeepScan(ctx context.Context) (indexdom.ScanState, error) {
	resumeFrom := ""
	if prior, ok := loadScanState(ctx, idx.cfg.Backend); ok && !prior.Completed && prior.Root == idx.cfg.Root {
		resumeFrom = prior.LastPath
		idx.log.WithFields(map[string]interface{}{"lastPath": resumeFrom}).Info("indexer: resuming deep scan")
	}
	return idx.scanPass(ctx, resumeFrom)
}

func (idx *Indexer) scanPass(ctx context.Context, resumeFrom string) (indexdom.ScanState, error) {
	start := time.Now()
	st := indexdom.ScanState{Root: idx.cfg.Root, StartedAt: start}

	entries, err := walkTree(idx.cfg.Root, idx.cfg.SkipDirs)
	if err != nil {
		return st, fmt.Errorf("indexer: walk %s: %w", idx.cfg.Root, err)
	}

	seen := make(map[string]struct{}, len(entries))
	var pending []walkEntry
	for _, e := range entries {
		seen[e.Path] = struct{}{}
		if resumeFrom != "" && e.Path <= resumeFrom {
			continue
		}
		pending = append(pending, e)
	}

	workers := poolSize(idx.cfg.Workers)
	lastProcessed := resumeFrom
	interrupted := false

	flush := func(batch []walkEntry) {
		var toExtract []walkEntry
		for _, e := range batch {
			st.FilesScanned++
			cheap := indexdom.Fingerprint(e.Size, e.ModTime)
			prior, existed := idx.journal.get(e.Path)
			if existed && prior.Fingerprint == cheap {
				continue // idempotent skip: unchanged since last journaled
			}
			kind := indexdom.EventAdd
			if existed {
				kind = indexdom.EventChange
			}
			idx.emit(indexdom.Event{Kind: kind, Path: e.Path})
			toExtract = append(toExtract, e)
		}
		if idx.cfg.Metrics != nil {
			idx.cfg.Metrics.SetIndexerQueueDepth(len(toExtract))
		}
		paths := make([]string, len(toExtract))
		byPath := make(map[string]walkEntry, len(toExtract))
		for i, e := range toExtract {
			paths[i] = e.Path
			byPath[e.Path] = e
		}
		var mu sync.Mutex
		runPool(workers, paths, func(path string) {
			if idx.limiter != nil {
				_ = idx.limiter.Wait(ctx)
			}
			e := byPath[path]
			indexed, skipped := idx.extractOne(e)
			mu.Lock()
			if indexed {
				st.FilesIndexed++
			}
			if skipped {
				st.FilesSkipped++
			}
			mu.Unlock()
		})
	}

	var batch []walkEntry
	for _, e := range pending {
		select {
		case <-ctx.Done():
			interrupted = true
		default:
		}
		if interrupted {
			break
		}
		batch = append(batch, e)
		lastProcessed = e.Path
		if len(batch) >= checkpointEvery {
			flush(batch)
			batch = nil
			st.LastPath = lastProcessed
			st.UpdatedAt = time.Now()
			_ = idx.journal.persist(ctx)
			_ = persistScanState(ctx, idx.cfg.Backend, st)
		}
	}
	if !interrupted {
		flush(batch)
	}

	if !interrupted {
		st.LastPath = lastProcessed
	} else if st.LastPath == "" {
		// Nothing was checkpointed in this pass; keep the prior resume point.
		st.LastPath = resumeFrom
	}
	st.UpdatedAt = time.Now()

	if interrupted {
		st.Completed = false
		_ = idx.journal.persist(ctx)
		_ = persistScanState(ctx, idx.cfg.Backend, st)
		if idx.cfg.Metrics != nil {
			idx.cfg.Metrics.RecordIndexerScan(st.FilesScanned, time.Since(start))
		}
		return st, ctx.Err()
	}

	for prevPath := range idx.journal.pathSet() {
		if _, stillPresent := seen[prevPath]; stillPresent {
			continue
		}
		if fs, ok := idx.journal.get(prevPath); ok && fs.ContentHash != "" {
			idx.dedupe.forget(fs.ContentHash)
		}
		idx.journal.delete(prevPath)
		idx.emit(indexdom.Event{Kind: indexdom.EventDelete, Path: prevPath})
	}

	st.Completed = true
	if err := idx.journal.persist(ctx); err != nil {
		idx.log.WithError(err).Warn("indexer: failed to persist journal")
	}
	clearScanState(ctx, idx.cfg.Backend)

	if idx.cfg.Metrics != nil {
		idx.cfg.Metrics.RecordIndexerScan(st.FilesScanned, time.Since(start))
	}
	return st, nil
}

// extractOne reads and extracts one file, updating the journal either way:
// a binary/unsupported file is journaled with ContentIndexed false so the
// next pass's fingerprint match still skips re-reading it.
func (idx *Indexer) extractOne(e walkEntry) (indexed bool, skipped bool) {
	content, err := os.ReadFile(e.Path)
	fs := indexdom.FileState{
		Path:        e.Path,
		Fingerprint: indexdom.Fingerprint(e.Size, e.ModTime),
		LastSeen:    time.Now(),
	}
	if err != nil {
		idx.log.WithError(err).WithFields(map[string]interface{}{"path": e.Path}).Debug("indexer: read failed")
		idx.journal.put(fs)
		return false, true
	}

	text, ok, err := idx.cfg.Extractor.Extract(e.Path, content)
	if err != nil || !ok {
		idx.journal.put(fs)
		return false, true
	}

	hash := indexdom.ContentHash(text)
	fs.ContentHash = hash
	if original, duplicate := idx.dedupe.check(hash, e.Path); duplicate && original != e.Path {
		idx.journal.put(fs)
		return false, false
	}

	fs.ContentIndexed = true
	idx.journal.put(fs)
	if idx.cfg.OnExtracted != nil {
		idx.cfg.OnExtracted(indexdom.ExtractedDoc{Path: e.Path, ContentHash: hash, Text: text})
	}
	return true, false
}

func (idx *Indexer) emit(ev indexdom.Event) {
	if idx.cfg.OnEvent != nil {
		idx.cfg.OnEvent(ev)
	}
}

// JournalSize reports how many paths are currently journaled.
func (idx *Indexer) JournalSize() int { return idx.journal.size() }

// Snapshot returns every journaled FileState.
func (idx *Indexer) Snapshot() []indexdom.FileState { return idx.journal.snapshot() }

// DedupeSize reports how many distinct content hashes have been seen.
func (idx *Indexer) DedupeSize() int { return idx.dedupe.size() }

// Stop halts the watch loop and waits for it to exit.
func (idx *Indexer) Stop() {
	idx.stopOnce.Do(func() { close(idx.stopCh) })
	idx.wg.Wait()
}
