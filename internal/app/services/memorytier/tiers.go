// Package memorytier implements the three-tier hot/warm/cold memory
// cascade with cross-tier promotion (spec §4.L).
package memorytier

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/arbiterfabric/cogrt/infrastructure/logging"
	"github.com/arbiterfabric/cogrt/infrastructure/metrics"
	memdom "github.com/arbiterfabric/cogrt/internal/app/domain/memorytier"
)

const (
	defaultCleanupInterval = time.Hour
	staleAfter              = 30 * 24 * time.Hour
	staleImportanceCeiling  = 0.3
	defaultRecallK          = 5
)

// Embedder produces a vector representation of text for the warm tier.
// The spec leaves the embedding model an external collaborator; no
// library in this codebase's dependency pack provides one, so Tiers
// treats it as optional: remember/recall degrade to hot+cold only when
// Embedder is nil, per the invariant that warm may be absent without
// losing data.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Config configures a Tiers cascade.
type Config struct {
	RedisClient     *redis.Client
	HotTTL          time.Duration
	WarmCapacity    int
	ColdDB          *sql.DB // nil uses the in-memory cold fallback
	Embedder        Embedder
	CleanupInterval time.Duration
	Metrics         *metrics.Metrics
	Logger          *logging.Logger
}

// Tiers is the hot/warm/cold memory cascade.
type Tiers struct {
	cfg  Config
	log  *logging.Logger
	hot  *hotCache
	warm *warmStore
	cold coldStore

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Tiers cascade. Cold defaults to an in-memory store when
// cfg.ColdDB is nil.
func New(cfg Config) (*Tiers, error) {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	var cold coldStore
	if cfg.ColdDB != nil {
		sc, err := newSQLColdStore(cfg.ColdDB)
		if err != nil {
			return nil, err
		}
		cold = sc
	} else {
		cold = newMemoryColdStore()
	}

	return &Tiers{
		cfg:    cfg,
		log:    cfg.Logger,
		hot:    newHotCache(cfg.RedisClient, cfg.HotTTL, cfg.Logger),
		warm:   newWarmStore(cfg.WarmCapacity),
		cold:   cold,
		stopCh: make(chan struct{}),
	}, nil
}

func hotIDKey(id string) string    { return "id:" + id }
func hotQueryKey(q string) string  { return "query:" + q }

// Remember writes content through the cascade: cold (authoritative), a
// short-TTL hot copy, and a warm vector entry if an embedding could be
// produced (spec §4.L).
func (t *Tiers) Remember(ctx context.Context, content string, meta map[string]interface{}) (string, error) {
	start := time.Now()
	id := memdom.ContentID(content)
	record := memdom.ColdRecord{
		ID: id, Content: content, Meta: meta,
		CreatedAt: start, AccessedAt: start, AccessCount: 0, Importance: importanceOf(meta),
	}
	if err := t.cold.Put(ctx, record); err != nil {
		return "", fmt.Errorf("memorytier: cold put: %w", err)
	}

	t.hot.Set(ctx, hotIDKey(id), content)
	t.hot.Set(ctx, hotQueryKey(content), id)

	if t.cfg.Embedder != nil {
		if vec, err := t.cfg.Embedder.Embed(ctx, content); err == nil {
			t.warm.Upsert(memdom.VectorEntry{ID: id, Vector: vec, Snippet: snippet(content), CreatedAt: start})
		} else {
			t.log.WithFields(map[string]interface{}{"id": id, "error": err.Error()}).
				Debug("memorytier: embedding failed, warm tier skipped for this entry")
		}
	}

	if t.cfg.Metrics != nil {
		t.cfg.Metrics.RecordMemorize("memorytier", time.Since(start))
		t.cfg.Metrics.SetMemoryWarmSize(t.warm.Size())
		t.cfg.Metrics.SetMemoryHotDegraded(t.hot.isDegraded())
	}
	return id, nil
}

func importanceOf(meta map[string]interface{}) float64 {
	if meta == nil {
		return 0.5
	}
	if v, ok := meta["importance"]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return 0.5
}

func snippet(content string) string {
	const maxLen = 200
	if len(content) <= maxLen {
		return content
	}
	return content[:maxLen]
}

// Recall implements the three-step cascade (spec §4.L): literal hot hit,
// then warm vector similarity (promoting to hot on hit), then cold
// substring/importance search (opportunistically embedding and promoting
// the results on hit).
func (t *Tiers) Recall(ctx context.Context, query string, k int) ([]memdom.ColdRecord, error) {
	start := time.Now()
	if k <= 0 {
		k = defaultRecallK
	}
	defer func() {
		if t.cfg.Metrics != nil {
			t.cfg.Metrics.RecordRecall("memorytier", time.Since(start))
		}
	}()

	if cached, ok := t.hot.Get(ctx, hotQueryKey(query)); ok {
		if rec, found, err := t.cold.Get(ctx, cached); err == nil && found {
			t.recordHit("hot")
			return []memdom.ColdRecord{rec}, nil
		}
	}

	if t.cfg.Embedder != nil {
		if vec, err := t.cfg.Embedder.Embed(ctx, query); err == nil {
			hits := t.warm.TopK(vec, k)
			if len(hits) > 0 {
				out := make([]memdom.ColdRecord, 0, len(hits))
				for _, hit := range hits {
					if rec, found, err := t.cold.Get(ctx, hit.ID); err == nil && found {
						_ = t.cold.Touch(ctx, hit.ID)
						out = append(out, rec)
					}
				}
				if len(out) > 0 {
					t.hot.Set(ctx, hotQueryKey(query), out[0].ID)
					t.recordHit("warm")
					return out, nil
				}
			}
		}
	}

	hits, err := t.cold.Search(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("memorytier: cold search: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}
	for _, rec := range hits {
		_ = t.cold.Touch(ctx, rec.ID)
	}
	t.hot.Set(ctx, hotQueryKey(query), hits[0].ID)
	if t.cfg.Embedder != nil {
		for _, rec := range hits {
			if vec, err := t.cfg.Embedder.Embed(ctx, rec.Content); err == nil {
				t.warm.Upsert(memdom.VectorEntry{ID: rec.ID, Vector: vec, Snippet: snippet(rec.Content), CreatedAt: rec.CreatedAt})
			}
		}
	}
	t.recordHit("cold")
	return hits, nil
}

func (t *Tiers) recordHit(tier string) {
	if t.cfg.Metrics != nil {
		t.cfg.Metrics.RecordMemoryTierHit(tier)
	}
}

// Forget removes id from every tier.
func (t *Tiers) Forget(ctx context.Context, id string) error {
	t.hot.Delete(ctx, hotIDKey(id))
	t.warm.Remove(id)
	return t.cold.Delete(ctx, id)
}

// StartCleanupLoop periodically deletes cold entries older than 30 days
// with importance below 0.3 (spec §4.L).
func (t *Tiers) StartCleanupLoop(ctx context.Context) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.runCleanup(ctx)
			case <-t.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (t *Tiers) runCleanup(ctx context.Context) {
	n, err := t.cold.DeleteStale(ctx, time.Now().Add(-staleAfter), staleImportanceCeiling)
	if err != nil {
		t.log.WithError(err).Warn("memorytier: cleanup pass failed")
		return
	}
	if n > 0 {
		t.log.WithFields(map[string]interface{}{"deleted": n}).Info("memorytier: cleaned up stale cold entries")
	}
}

// Stop halts the cleanup loop.
func (t *Tiers) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
}
