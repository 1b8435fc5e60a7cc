// Package outcome implements the append-only outcome log queried by the
// strategy selector's warm start and by operators auditing agent behavior
// (spec §4.I).
package outcome

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arbiterfabric/cogrt/infrastructure/logging"
	"github.com/arbiterfabric/cogrt/infrastructure/metrics"
	"github.com/arbiterfabric/cogrt/infrastructure/state"
	outcomedom "github.com/arbiterfabric/cogrt/internal/app/domain/outcome"
)

// Filter narrows a Query. A nil field is unconstrained.
type Filter struct {
	Agent      *string
	Action     *string
	Success    *bool
	MinReward  *float64
	MaxReward  *float64
	Start      *time.Time
	End        *time.Time
}

// Config configures a Store.
type Config struct {
	Name             string
	Capacity         int
	Backend          state.PersistenceBackend
	SnapshotInterval time.Duration
	KeepSnapshots    int
	Metrics          *metrics.Metrics
	Logger           *logging.Logger

	// Archive is an optional secondary SQL-backed durability path (see
	// archive.go). Nil disables it; Append then only ever touches the
	// in-memory ring buffer and its file snapshots.
	Archive *Archive
}

// Store is an append-only outcome log with agent/action secondary indices
// and timestamp-ordered eviction.
type Store struct {
	cfg Config
	log *logging.Logger

	mu sync.Mutex
	// sequence is a ring buffer of outcomes in append (== timestamp) order.
	sequence []outcomedom.Outcome
	head     int
	size     int

	byID       map[string]outcomedom.Outcome
	byAgent    map[string]map[string]struct{}
	byAction   map[string]map[string]struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Store, loading the newest valid snapshot from cfg.Backend
// if present.
func New(cfg Config) (*Store, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 50000
	}
	if cfg.Name == "" {
		cfg.Name = "outcome"
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 5 * time.Minute
	}
	if cfg.KeepSnapshots <= 0 {
		cfg.KeepSnapshots = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	s := &Store{
		cfg:      cfg,
		log:      cfg.Logger,
		sequence: make([]outcomedom.Outcome, cfg.Capacity),
		byID:     make(map[string]outcomedom.Outcome),
		byAgent:  make(map[string]map[string]struct{}),
		byAction: make(map[string]map[string]struct{}),
		stopCh:   make(chan struct{}),
	}
	if cfg.Backend != nil {
		if err := s.loadNewestValidSnapshot(context.Background()); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Append adds an Outcome, assigning it an ID and timestamp if unset. At
// capacity the oldest entry is evicted and its index entries removed.
func (s *Store) Append(o outcomedom.Outcome) outcomedom.Outcome {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size == len(s.sequence) {
		evicted := s.sequence[s.head]
		s.removeFromIndicesLocked(evicted)
	}
	s.sequence[s.head] = o
	s.head = (s.head + 1) % len(s.sequence)
	if s.size < len(s.sequence) {
		s.size++
	}

	s.byID[o.ID] = o
	s.addToIndexLocked(s.byAgent, o.Agent, o.ID)
	s.addToIndexLocked(s.byAction, o.Action, o.ID)

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SetOutcomeLogSize(s.cfg.Name, s.size)
	}
	s.archiveAsync(o)
	return o
}

// archiveAsync fires the archive insert off the hot append path: the
// archive is a durability add-on, not a dependency Append should ever
// block or fail on.
func (s *Store) archiveAsync(o outcomedom.Outcome) {
	if s.cfg.Archive == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.cfg.Archive.Insert(ctx, o); err != nil {
			s.log.WithError(err).Warn("outcome: archive insert failed")
		}
	}()
}

func (s *Store) addToIndexLocked(index map[string]map[string]struct{}, key, id string) {
	if key == "" {
		return
	}
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[id] = struct{}{}
}

func (s *Store) removeFromIndicesLocked(o outcomedom.Outcome) {
	delete(s.byID, o.ID)
	if set, ok := s.byAgent[o.Agent]; ok {
		delete(set, o.ID)
		if len(set) == 0 {
			delete(s.byAgent, o.Agent)
		}
	}
	if set, ok := s.byAction[o.Action]; ok {
		delete(set, o.ID)
		if len(set) == 0 {
			delete(s.byAction, o.Action)
		}
	}
}

// orderedLocked returns every live outcome oldest-first. Caller holds s.mu.
func (s *Store) orderedLocked() []outcomedom.Outcome {
	out := make([]outcomedom.Outcome, 0, s.size)
	start := (s.head - s.size + len(s.sequence)) % len(s.sequence)
	for i := 0; i < s.size; i++ {
		out = append(out, s.sequence[(start+i)%len(s.sequence)])
	}
	return out
}

// Query applies filter using a predicate-plus-index strategy: it picks the
// smallest candidate id set between the agent and action indices (when
// either is constrained), then applies remaining predicates by scanning
// that candidate set; with neither index constrained it scans the full
// timestamp-ordered sequence, which lets Start/End narrow via the natural
// chronological order.
func (s *Store) Query(filter Filter) []outcomedom.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidateIDs map[string]struct{}
	hasIndex := false

	if filter.Agent != nil {
		if set, ok := s.byAgent[*filter.Agent]; ok {
			candidateIDs = copySet(set)
		} else {
			candidateIDs = map[string]struct{}{}
		}
		hasIndex = true
	}
	if filter.Action != nil {
		actionSet := s.byAction[*filter.Action]
		if !hasIndex {
			candidateIDs = copySet(actionSet)
			hasIndex = true
		} else if len(actionSet) < len(candidateIDs) {
			// action index is more selective; intersect starting from it
			candidateIDs = intersect(actionSet, candidateIDs)
		} else {
			candidateIDs = intersect(candidateIDs, actionSet)
		}
	}

	var rows []outcomedom.Outcome
	if hasIndex {
		rows = make([]outcomedom.Outcome, 0, len(candidateIDs))
		for id := range candidateIDs {
			rows = append(rows, s.byID[id])
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })
	} else {
		rows = s.orderedLocked()
	}

	out := make([]outcomedom.Outcome, 0, len(rows))
	for _, o := range rows {
		if matchesFilter(o, filter) {
			out = append(out, o)
		}
	}
	return out
}

func matchesFilter(o outcomedom.Outcome, f Filter) bool {
	if f.Success != nil && o.Success != *f.Success {
		return false
	}
	if f.MinReward != nil && o.Reward < *f.MinReward {
		return false
	}
	if f.MaxReward != nil && o.Reward > *f.MaxReward {
		return false
	}
	if f.Start != nil && o.Timestamp.Before(*f.Start) {
		return false
	}
	if f.End != nil && o.Timestamp.After(*f.End) {
		return false
	}
	return true
}

func copySet(src map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(src))
	for k := range src {
		out[k] = struct{}{}
	}
	return out
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for k := range a {
		if _, ok := b[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out
}

// QueryArchive runs filter against the SQL archive instead of the in-memory
// ring buffer, when one is configured. Unlike Query, it is not bounded by
// cfg.Capacity's eviction window.
func (s *Store) QueryArchive(ctx context.Context, filter Filter) ([]outcomedom.Outcome, error) {
	if s.cfg.Archive == nil {
		return nil, fmt.Errorf("outcome: no archive configured")
	}
	return s.cfg.Archive.Query(ctx, filter)
}

// All returns every live outcome, oldest first, for warm-start replay
// (spec §4.J).
func (s *Store) All() []outcomedom.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderedLocked()
}

func (s *Store) snapshotKey(ts time.Time) string {
	return fmt.Sprintf("outcome:%s-%020d", s.cfg.Name, ts.UnixNano())
}

func (s *Store) snapshotPrefix() string {
	return fmt.Sprintf("outcome:%s-", s.cfg.Name)
}

// Persist writes a new timestamped snapshot and prunes all but the newest
// cfg.KeepSnapshots copies.
func (s *Store) Persist(ctx context.Context) error {
	if s.cfg.Backend == nil {
		return nil
	}
	s.mu.Lock()
	rows := s.orderedLocked()
	s.mu.Unlock()

	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("outcome: marshal snapshot: %w", err)
	}
	now := time.Now()
	if err := s.cfg.Backend.Save(ctx, s.snapshotKey(now), data); err != nil {
		return fmt.Errorf("outcome: save snapshot: %w", err)
	}
	return s.pruneOldSnapshots(ctx)
}

func (s *Store) pruneOldSnapshots(ctx context.Context) error {
	keys, err := s.cfg.Backend.List(ctx, s.snapshotPrefix())
	if err != nil {
		return err
	}
	sort.Strings(keys) // zero-padded unix-nano suffix sorts chronologically
	if len(keys) <= s.cfg.KeepSnapshots {
		return nil
	}
	for _, key := range keys[:len(keys)-s.cfg.KeepSnapshots] {
		if err := s.cfg.Backend.Delete(ctx, key); err != nil {
			s.log.WithError(err).Warn("outcome: failed to prune stale snapshot")
		}
	}
	return nil
}

// loadNewestValidSnapshot scans snapshot keys newest-first, quarantining
// and skipping any that fail to parse, and loads the first that succeeds.
func (s *Store) loadNewestValidSnapshot(ctx context.Context) error {
	keys, err := s.cfg.Backend.List(ctx, s.snapshotPrefix())
	if err != nil {
		return fmt.Errorf("outcome: list snapshots: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	for _, key := range keys {
		data, err := s.cfg.Backend.Load(ctx, key)
		if err != nil {
			continue
		}
		var rows []outcomedom.Outcome
		if err := json.Unmarshal(data, &rows); err != nil {
			s.quarantine(key)
			continue
		}
		for _, o := range rows {
			s.Append(o)
		}
		return nil
	}
	return nil
}

func (s *Store) quarantine(key string) {
	type quarantiner interface {
		Quarantine(key, subdir string) error
	}
	q, ok := s.cfg.Backend.(quarantiner)
	if !ok {
		return
	}
	if err := q.Quarantine(key, ".corrupted"); err != nil {
		s.log.WithError(err).Warn("outcome: failed to quarantine corrupted snapshot")
		return
	}
	s.log.WithFields(map[string]interface{}{"key": key}).Warn("outcome: quarantined corrupted snapshot")
}

// StartSnapshotLoop periodically persists the store every
// cfg.SnapshotInterval until Stop is called.
func (s *Store) StartSnapshotLoop(ctx context.Context) {
	if s.cfg.Backend == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.SnapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.Persist(ctx); err != nil {
					s.log.WithError(err).Warn("outcome: periodic snapshot failed")
				}
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the snapshot loop and waits for it to exit.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
