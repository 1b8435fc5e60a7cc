package experience

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arbiterfabric/cogrt/infrastructure/state"
	expdom "github.com/arbiterfabric/cogrt/internal/app/domain/experience"
)

func newTestStore(t *testing.T, capacity int) *Store {
	t.Helper()
	s, err := New(Config{Name: "test", Capacity: capacity})
	require.NoError(t, err)
	return s
}

func TestAdd_ClampsRewardAndDefaultsPriority(t *testing.T) {
	s := newTestStore(t, 10)
	s.Add(context.Background(), expdom.Experience{Reward: 99, Category: expdom.CategorySuccess})

	require.Equal(t, 1, s.Len())
	samples, err := s.Sample(StrategyUniform, 1)
	require.NoError(t, err)
	require.Equal(t, 2.0, samples[0].Experience.Reward)
	require.Equal(t, 1.0, samples[0].Experience.Priority)
}

func TestAdd_EvictsOldestTenPercentAtCapacity(t *testing.T) {
	s := newTestStore(t, 10)
	for i := 0; i < 10; i++ {
		s.Add(context.Background(), expdom.Experience{Action: string(rune('a' + i)), Category: expdom.CategorySuccess})
	}
	require.Equal(t, 10, s.Len())

	s.Add(context.Background(), expdom.Experience{Action: "overflow", Category: expdom.CategorySuccess})

	require.Equal(t, 10, s.Len())
	require.Equal(t, "b", s.buffer[0].Action, "oldest entry should have been evicted")
	require.Equal(t, "overflow", s.buffer[len(s.buffer)-1].Action)
}

func TestSample_UniformReturnsWeightOne(t *testing.T) {
	s := newTestStore(t, 10)
	s.Add(context.Background(), expdom.Experience{Action: "a", Category: expdom.CategorySuccess})

	samples, err := s.Sample(StrategyUniform, 5)
	require.NoError(t, err)
	require.Len(t, samples, 5)
	for _, sample := range samples {
		require.Equal(t, 1.0, sample.Weight)
	}
}

func TestSample_PrioritizedFavorsHigherPriorityEntries(t *testing.T) {
	s := newTestStore(t, 10)
	s.Add(context.Background(), expdom.Experience{Action: "low", Category: expdom.CategorySuccess, Priority: 0.01})
	s.Add(context.Background(), expdom.Experience{Action: "high", Category: expdom.CategorySuccess, Priority: 100})

	highCount := 0
	for i := 0; i < 200; i++ {
		samples, err := s.Sample(StrategyPrioritized, 1)
		require.NoError(t, err)
		if samples[0].Experience.Action == "high" {
			highCount++
		}
	}
	require.Greater(t, highCount, 150, "high priority entry should dominate draws")
}

func TestSample_StratifiedDealsRemainderRoundRobinInSortedCategoryOrder(t *testing.T) {
	s := newTestStore(t, 10)
	s.Add(context.Background(), expdom.Experience{Action: "f1", Category: expdom.CategoryFailure})
	s.Add(context.Background(), expdom.Experience{Action: "s1", Category: expdom.CategorySuccess})

	samples, err := s.Sample(StrategyStratified, 3)
	require.NoError(t, err)
	require.Len(t, samples, 3)

	counts := map[expdom.Category]int{}
	for _, sample := range samples {
		counts[sample.Experience.Category]++
	}
	// "failure" sorts before "success"; the single remainder slot goes to
	// the first category in sorted order.
	require.Equal(t, 2, counts[expdom.CategoryFailure])
	require.Equal(t, 1, counts[expdom.CategorySuccess])
}

func TestSample_TemporalFavorsRecentEntries(t *testing.T) {
	s := newTestStore(t, 10)
	s.cfg.Decay = 0.5
	s.Add(context.Background(), expdom.Experience{Action: "old", Category: expdom.CategorySuccess, Timestamp: time.Now().Add(-48 * time.Hour)})
	s.Add(context.Background(), expdom.Experience{Action: "recent", Category: expdom.CategorySuccess, Timestamp: time.Now()})

	recentCount := 0
	for i := 0; i < 200; i++ {
		samples, err := s.Sample(StrategyTemporal, 1)
		require.NoError(t, err)
		if samples[0].Experience.Action == "recent" {
			recentCount++
		}
	}
	require.Greater(t, recentCount, 150)
}

func TestUpdatePriority_FloorsAtEpsilonAndInvalidatesTree(t *testing.T) {
	s := newTestStore(t, 10)
	s.cfg.Epsilon = 0.05
	s.Add(context.Background(), expdom.Experience{Action: "a", Category: expdom.CategorySuccess})

	require.NoError(t, s.UpdatePriority(0, 0))
	require.Equal(t, 0.05, s.priorities[0])
	require.True(t, s.treeDirty)
}

func TestUpdatePriority_RejectsOutOfRangeIndex(t *testing.T) {
	s := newTestStore(t, 10)
	require.Error(t, s.UpdatePriority(0, 1))
}

func TestPersistAndLoad_RoundTripsViaFileBackend(t *testing.T) {
	dir := t.TempDir()
	backend, err := state.NewFileBackend(dir)
	require.NoError(t, err)

	s, err := New(Config{Name: "roundtrip", Capacity: 10, Backend: backend})
	require.NoError(t, err)
	s.Add(context.Background(), expdom.Experience{Action: "a", Category: expdom.CategorySuccess, Reward: 1})
	require.NoError(t, s.Persist(context.Background()))

	reloaded, err := New(Config{Name: "roundtrip", Capacity: 10, Backend: backend})
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.Len())
	require.Equal(t, 1.0, reloaded.MeanReward())
}

func TestLoad_QuarantinesOversizeSnapshot(t *testing.T) {
	dir := t.TempDir()
	backend, err := state.NewFileBackend(dir)
	require.NoError(t, err)

	huge := strings.Repeat("x", maxSnapshotBytes+1)
	require.NoError(t, backend.Save(context.Background(), "experience:big", []byte(huge)))

	s, err := New(Config{Name: "big", Capacity: 10, Backend: backend})
	require.NoError(t, err)
	require.Equal(t, 0, s.Len())

	_, err = backend.Load(context.Background(), "experience:big")
	require.ErrorIs(t, err, state.ErrNotFound)
}

func TestLoad_TrimsSnapshotLargerThanCapacity(t *testing.T) {
	dir := t.TempDir()
	backend, err := state.NewFileBackend(dir)
	require.NoError(t, err)

	s, err := New(Config{Name: "trim", Capacity: 100, Backend: backend})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		s.Add(context.Background(), expdom.Experience{Action: string(rune('a' + i)), Category: expdom.CategorySuccess})
	}
	require.NoError(t, s.Persist(context.Background()))

	reloaded, err := New(Config{Name: "trim", Capacity: 3, Backend: backend})
	require.NoError(t, err)
	require.Equal(t, 3, reloaded.Len())
}
