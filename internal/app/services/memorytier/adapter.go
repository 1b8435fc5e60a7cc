package memorytier

import (
	"context"

	"github.com/arbiterfabric/cogrt/internal/app/core/arbiter"
)

// Adapter satisfies arbiter.Base's MemoryBackend interface over a Tiers
// cascade: arbiter code speaks "remember/recall with tags and a score",
// Tiers speaks "remember/recall with metadata and a cold record" — this
// is the translation between the two.
type Adapter struct {
	tiers *Tiers
}

// NewAdapter wraps tiers for use as an arbiter.Base memory backend.
func NewAdapter(tiers *Tiers) *Adapter {
	return &Adapter{tiers: tiers}
}

// Remember stores content, folding tags into the metadata blob under the
// "tags" key so a future extension could round-trip them back out.
func (a *Adapter) Remember(ctx context.Context, content string, tags []string) (string, error) {
	var meta map[string]interface{}
	if len(tags) > 0 {
		meta = map[string]interface{}{"tags": tags}
	}
	return a.tiers.Remember(ctx, content, meta)
}

// Recall returns up to k matches, translating each ColdRecord into the
// (id, content, score) triple arbiter.RecallResult expects. Tiers.Recall
// has already resolved the winning tier by the time it returns records, so
// every match reports a flat high-confidence score; absence from the
// result set is the caller's real signal, not the score's magnitude.
func (a *Adapter) Recall(ctx context.Context, query string, k int) ([]arbiter.RecallResult, error) {
	records, err := a.tiers.Recall(ctx, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]arbiter.RecallResult, 0, len(records))
	for _, r := range records {
		out = append(out, arbiter.RecallResult{ID: r.ID, Content: r.Content, Score: 1.0})
	}
	return out, nil
}
