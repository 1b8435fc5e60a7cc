// Package experience implements the experience replay buffer: a bounded,
// persisted collection of transitions sampled by the strategy selector and
// goal planner via uniform, prioritized, stratified, or temporal draws
// (spec §4.H).
package experience

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/arbiterfabric/cogrt/infrastructure/logging"
	"github.com/arbiterfabric/cogrt/infrastructure/metrics"
	"github.com/arbiterfabric/cogrt/infrastructure/state"
	expdom "github.com/arbiterfabric/cogrt/internal/app/domain/experience"
)

// Strategy selects how Sample draws entries from the buffer.
type Strategy string

const (
	StrategyUniform     Strategy = "uniform"
	StrategyPrioritized Strategy = "prioritized"
	StrategyStratified  Strategy = "stratified"
	StrategyTemporal    Strategy = "temporal"
)

const (
	defaultEpsilon   = 1e-3
	defaultAlpha     = 0.6
	defaultBeta      = 0.4
	defaultDecay     = 0.99
	evictionFraction = 0.1
	maxSnapshotBytes = 30 << 20 // 30MB; larger snapshots are quarantined, not loaded
)

// Sink forwards newly added experiences to a downstream meta-learning
// consumer. A nil sink disables forwarding.
type Sink interface {
	Record(ctx context.Context, e expdom.Experience) error
}

// Sample is one draw returned by Sample, carrying its buffer index (for a
// later UpdatePriority call) and, for prioritized sampling, an importance
// weight.
type Sample struct {
	Index      int
	Experience expdom.Experience
	Weight     float64
}

// Config configures a Store.
type Config struct {
	Name       string // used as the metrics "store" label and persistence key prefix
	Capacity   int
	Epsilon    float64
	Alpha      float64 // priority exponent for prioritized sampling
	Beta       float64 // importance-sampling exponent for prioritized sampling
	Decay      float64 // per-unit-age decay for temporal sampling
	Backend    state.PersistenceBackend
	Sink       Sink
	Metrics    *metrics.Metrics
	Logger     *logging.Logger
}

// Store is a bounded, priority-indexed experience replay buffer.
type Store struct {
	cfg Config

	mu         sync.Mutex
	buffer     []expdom.Experience
	priorities []float64
	tree       *sumTree
	treeDirty  bool

	rewardSum float64
	count     int64

	log *logging.Logger
}

type snapshot struct {
	Buffer     []expdom.Experience `json:"buffer"`
	Priorities []float64           `json:"priorities"`
	RewardSum  float64             `json:"rewardSum"`
	Count      int64               `json:"count"`
}

// New constructs a Store and, if cfg.Backend is set, loads its prior
// snapshot (trimming to capacity and quarantining anything unreadable or
// oversize).
func New(cfg Config) (*Store, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10000
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = defaultEpsilon
	}
	if cfg.Alpha <= 0 {
		cfg.Alpha = defaultAlpha
	}
	if cfg.Beta <= 0 {
		cfg.Beta = defaultBeta
	}
	if cfg.Decay <= 0 || cfg.Decay >= 1 {
		cfg.Decay = defaultDecay
	}
	if cfg.Name == "" {
		cfg.Name = "experience"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	s := &Store{cfg: cfg, log: cfg.Logger}
	if cfg.Backend != nil {
		if err := s.load(context.Background()); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) key() string { return fmt.Sprintf("experience:%s", s.cfg.Name) }

// Len returns the number of entries currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Add appends an experience, clamping its reward and flooring its priority
// at epsilon. At capacity it evicts the oldest ceil(10% * capacity) entries
// before appending, amortizing the sum-tree rebuild over many Adds. If a
// sink is configured, the experience is forwarded best-effort in a
// goroutine; a sink failure never fails Add.
func (s *Store) Add(ctx context.Context, e expdom.Experience) {
	e.Reward = expdom.ClampReward(e.Reward)
	if e.Priority <= 0 {
		e.Priority = 1 // new entries without a priority start at 1
	}
	e.Priority = clampEpsilon(e.Priority, s.cfg.Epsilon)
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	s.mu.Lock()
	if len(s.buffer) >= s.cfg.Capacity {
		evict := int(math.Ceil(evictionFraction * float64(s.cfg.Capacity)))
		if evict > len(s.buffer) {
			evict = len(s.buffer)
		}
		s.buffer = append([]expdom.Experience(nil), s.buffer[evict:]...)
		s.priorities = append([]float64(nil), s.priorities[evict:]...)
		s.treeDirty = true
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RecordExperienceEviction(s.cfg.Name, evict)
		}
	}
	s.buffer = append(s.buffer, e)
	s.priorities = append(s.priorities, e.Priority)
	s.treeDirty = true
	s.rewardSum += e.Reward
	s.count++
	n := len(s.buffer)
	s.mu.Unlock()

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SetExperienceBufferSize(s.cfg.Name, n)
	}
	if s.cfg.Sink != nil {
		go func() {
			if err := s.cfg.Sink.Record(context.Background(), e); err != nil {
				s.log.WithError(err).WithFields(map[string]interface{}{"store": s.cfg.Name}).
					Warn("experience sink forward failed")
			}
		}()
	}
}

// UpdatePriority sets the priority of the entry at index (as returned by a
// prior Sample), flooring it at epsilon. It invalidates the sum tree.
func (s *Store) UpdatePriority(index int, priority float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.priorities) {
		return fmt.Errorf("experience: index %d out of range [0,%d)", index, len(s.priorities))
	}
	s.priorities[index] = clampEpsilon(priority, s.cfg.Epsilon)
	s.buffer[index].Priority = s.priorities[index]
	s.treeDirty = true
	return nil
}

// Sample draws k entries using strategy. k is capped at the current buffer
// length.
func (s *Store) Sample(strategy Strategy, k int) ([]Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buffer) == 0 || k <= 0 {
		return nil, nil
	}
	if k > len(s.buffer) {
		k = len(s.buffer)
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordExperienceSample(s.cfg.Name, string(strategy))
	}

	switch strategy {
	case StrategyPrioritized:
		return s.samplePrioritizedLocked(k), nil
	case StrategyStratified:
		return s.sampleStratifiedLocked(k), nil
	case StrategyTemporal:
		return s.sampleTemporalLocked(k), nil
	case StrategyUniform, "":
		return s.sampleUniformLocked(k), nil
	default:
		return nil, fmt.Errorf("experience: unknown sample strategy %q", strategy)
	}
}

func (s *Store) sampleUniformLocked(k int) []Sample {
	out := make([]Sample, k)
	for i := 0; i < k; i++ {
		idx := rand.Intn(len(s.buffer))
		out[i] = Sample{Index: idx, Experience: s.buffer[idx], Weight: 1}
	}
	return out
}

// rebuildTreeLocked lazily (re)builds the sum tree over priority^alpha,
// caller must hold s.mu.
func (s *Store) rebuildTreeLocked() {
	if !s.treeDirty && s.tree != nil {
		return
	}
	s.tree = newSumTree(len(s.priorities))
	for i, p := range s.priorities {
		s.tree.Update(i, math.Pow(p, s.cfg.Alpha))
	}
	s.treeDirty = false
}

func (s *Store) samplePrioritizedLocked(k int) []Sample {
	s.rebuildTreeLocked()
	total := s.tree.Total()
	n := float64(len(s.buffer))
	out := make([]Sample, 0, k)

	if total <= 0 {
		return s.sampleUniformLocked(k)
	}

	segment := total / float64(k)
	maxWeight := 0.0
	for i := 0; i < k; i++ {
		lo := segment * float64(i)
		hi := segment * float64(i+1)
		value := lo + rand.Float64()*(hi-lo)
		idx, leafPriority := s.tree.Get(value)
		if idx >= len(s.buffer) {
			idx = len(s.buffer) - 1
		}
		prob := leafPriority / total
		weight := math.Pow(n*prob, -s.cfg.Beta)
		if weight > maxWeight {
			maxWeight = weight
		}
		out = append(out, Sample{Index: idx, Experience: s.buffer[idx], Weight: weight})
	}
	if maxWeight > 0 {
		for i := range out {
			out[i].Weight /= maxWeight
		}
	}
	return out
}

// sampleStratifiedLocked partitions the buffer by category and draws
// floor(k / |categories|) per category, dealing the k - base*|categories|
// remainder round-robin across categories taken in sorted (stable) order.
func (s *Store) sampleStratifiedLocked(k int) []Sample {
	byCategory := make(map[expdom.Category][]int)
	for i, e := range s.buffer {
		byCategory[e.Category] = append(byCategory[e.Category], i)
	}
	if len(byCategory) == 0 {
		return nil
	}
	cats := make([]expdom.Category, 0, len(byCategory))
	for c := range byCategory {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })

	base := k / len(cats)
	remainder := k % len(cats)

	out := make([]Sample, 0, k)
	for i, cat := range cats {
		draws := base
		if i < remainder {
			draws++
		}
		indices := byCategory[cat]
		for d := 0; d < draws; d++ {
			idx := indices[rand.Intn(len(indices))]
			out = append(out, Sample{Index: idx, Experience: s.buffer[idx], Weight: 1})
		}
	}
	return out
}

// sampleTemporalLocked draws a roulette wheel weighted by decay^age, age
// measured in hours since the entry's timestamp.
func (s *Store) sampleTemporalLocked(k int) []Sample {
	now := time.Now()
	weights := make([]float64, len(s.buffer))
	total := 0.0
	for i, e := range s.buffer {
		age := now.Sub(e.Timestamp).Hours()
		if age < 0 {
			age = 0
		}
		w := math.Pow(s.cfg.Decay, age)
		weights[i] = w
		total += w
	}
	out := make([]Sample, 0, k)
	if total <= 0 {
		return s.sampleUniformLocked(k)
	}
	for i := 0; i < k; i++ {
		target := rand.Float64() * total
		cum := 0.0
		idx := len(weights) - 1
		for j, w := range weights {
			cum += w
			if target <= cum {
				idx = j
				break
			}
		}
		out = append(out, Sample{Index: idx, Experience: s.buffer[idx], Weight: 1})
	}
	return out
}

// MeanReward returns the running average reward across every Add ever
// observed (not just the currently retained window).
func (s *Store) MeanReward() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return 0
	}
	return s.rewardSum / float64(s.count)
}

// Persist writes the current buffer, priorities, and running stats to
// cfg.Backend as a single atomically-overwritten snapshot.
func (s *Store) Persist(ctx context.Context) error {
	if s.cfg.Backend == nil {
		return nil
	}
	s.mu.Lock()
	snap := snapshot{
		Buffer:     append([]expdom.Experience(nil), s.buffer...),
		Priorities: append([]float64(nil), s.priorities...),
		RewardSum:  s.rewardSum,
		Count:      s.count,
	}
	s.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("experience: marshal snapshot: %w", err)
	}
	return s.cfg.Backend.Save(ctx, s.key(), data)
}

// load restores a prior snapshot on construction. A snapshot larger than
// maxSnapshotBytes, or one that fails to parse, is quarantined rather than
// loaded, and the store starts empty.
func (s *Store) load(ctx context.Context) error {
	data, err := s.cfg.Backend.Load(ctx, s.key())
	if err != nil {
		if err == state.ErrNotFound {
			return nil
		}
		return fmt.Errorf("experience: load snapshot: %w", err)
	}
	if len(data) > maxSnapshotBytes {
		s.quarantine("oversize")
		return nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.quarantine("corrupted")
		return nil
	}

	if len(snap.Buffer) > s.cfg.Capacity {
		trim := len(snap.Buffer) - s.cfg.Capacity
		snap.Buffer = snap.Buffer[trim:]
		snap.Priorities = snap.Priorities[trim:]
	}

	s.mu.Lock()
	s.buffer = snap.Buffer
	s.priorities = snap.Priorities
	s.rewardSum = snap.RewardSum
	s.count = snap.Count
	s.treeDirty = true
	s.mu.Unlock()
	return nil
}

func (s *Store) quarantine(reason string) {
	type quarantiner interface {
		Quarantine(key, subdir string) error
	}
	q, ok := s.cfg.Backend.(quarantiner)
	if !ok {
		return
	}
	if err := q.Quarantine(s.key(), ".corrupted"); err != nil {
		s.log.WithError(err).Warn("experience: failed to quarantine unreadable snapshot")
		return
	}
	s.log.WithFields(map[string]interface{}{"store": s.cfg.Name, "reason": reason}).
		Warn("experience: quarantined unreadable snapshot, starting empty")
}
