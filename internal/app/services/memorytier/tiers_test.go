package memorytier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	memdom "github.com/arbiterfabric/cogrt/internal/app/domain/memorytier"
)

func tiersTestRecord(id string, age time.Duration, importance float64) memdom.ColdRecord {
	createdAt := time.Now().Add(age)
	return memdom.ColdRecord{
		ID: id, Content: id, CreatedAt: createdAt, AccessedAt: createdAt, Importance: importance,
	}
}

// hashEmbedder is a deterministic stand-in for a real embedding model: it
// turns each rune into a dimension so identical/near-identical strings land
// close together in cosine space, which is all these tests need.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, 26)
	for _, r := range text {
		if r >= 'a' && r <= 'z' {
			vec[r-'a']++
		}
	}
	return vec, nil
}

func newTestTiers(t *testing.T, embedder Embedder) *Tiers {
	t.Helper()
	tiers, err := New(Config{Embedder: embedder, CleanupInterval: time.Hour})
	require.NoError(t, err)
	return tiers
}

func TestRemember_WritesColdAndHot(t *testing.T) {
	tiers := newTestTiers(t, nil)
	id, err := tiers.Remember(context.Background(), "the rocket launches at dawn", nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, found, err := tiers.cold.Get(context.Background(), id)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "the rocket launches at dawn", rec.Content)
}

func TestRemember_NoEmbedderSkipsWarmTier(t *testing.T) {
	tiers := newTestTiers(t, nil)
	_, err := tiers.Remember(context.Background(), "no embedder available here", nil)
	require.NoError(t, err)
	require.Equal(t, 0, tiers.warm.Size())
}

func TestRemember_WithEmbedderPopulatesWarmTier(t *testing.T) {
	tiers := newTestTiers(t, hashEmbedder{})
	_, err := tiers.Remember(context.Background(), "rockets and rovers", nil)
	require.NoError(t, err)
	require.Equal(t, 1, tiers.warm.Size())
}

func TestRecall_HitsHotCacheOnLiteralQuery(t *testing.T) {
	tiers := newTestTiers(t, nil)
	ctx := context.Background()
	content := "the satellite completed its orbit"
	_, err := tiers.Remember(ctx, content, nil)
	require.NoError(t, err)

	results, err := tiers.Recall(ctx, content, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, content, results[0].Content)
}

func TestRecall_ImmediatelyAfterRememberHitsHotTierWithoutPriorRecall(t *testing.T) {
	tiers := newTestTiers(t, nil)
	ctx := context.Background()
	content := "alpha"
	_, err := tiers.Remember(ctx, content, nil)
	require.NoError(t, err)

	results, err := tiers.Recall(ctx, content, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, content, results[0].Content)
}

func TestRecall_FallsBackToColdSubstringSearch(t *testing.T) {
	tiers := newTestTiers(t, nil)
	ctx := context.Background()
	_, err := tiers.Remember(ctx, "comet trajectories shift near perihelion", nil)
	require.NoError(t, err)

	results, err := tiers.Recall(ctx, "perihelion", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestRecall_WarmTierHitPromotesToHot(t *testing.T) {
	tiers := newTestTiers(t, hashEmbedder{})
	ctx := context.Background()
	_, err := tiers.Remember(ctx, "abc abc abc", nil)
	require.NoError(t, err)
	// Drop the query key Remember wrote, so this recall has to go through warm.
	tiers.hot.Delete(ctx, hotQueryKey("abc abc abc"))

	results, err := tiers.Recall(ctx, "abc abc abc", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)

	_, hit := tiers.hot.Get(ctx, hotQueryKey("abc abc abc"))
	require.True(t, hit, "a warm hit should promote the result into hot")
}

func TestRecall_NoMatchReturnsEmpty(t *testing.T) {
	tiers := newTestTiers(t, nil)
	results, err := tiers.Recall(context.Background(), "nothing remembered matches this", 5)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestForget_RemovesFromAllTiers(t *testing.T) {
	tiers := newTestTiers(t, hashEmbedder{})
	ctx := context.Background()
	id, err := tiers.Remember(ctx, "forget me please", nil)
	require.NoError(t, err)
	require.Equal(t, 1, tiers.warm.Size())

	require.NoError(t, tiers.Forget(ctx, id))

	_, found, err := tiers.cold.Get(ctx, id)
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, 0, tiers.warm.Size())
	_, hit := tiers.hot.Get(ctx, hotIDKey(id))
	require.False(t, hit)
}

func TestCleanup_DeletesStaleLowImportanceEntries(t *testing.T) {
	tiers := newTestTiers(t, nil)
	ctx := context.Background()
	tiers.cold.Put(ctx, tiersTestRecord("stale-low", -40*24*time.Hour, 0.1))
	tiers.cold.Put(ctx, tiersTestRecord("stale-high", -40*24*time.Hour, 0.9))
	tiers.cold.Put(ctx, tiersTestRecord("recent-low", -time.Hour, 0.1))

	tiers.runCleanup(ctx)

	_, found, _ := tiers.cold.Get(ctx, "stale-low")
	require.False(t, found)
	_, found, _ = tiers.cold.Get(ctx, "stale-high")
	require.True(t, found)
	_, found, _ = tiers.cold.Get(ctx, "recent-low")
	require.True(t, found)
}
