package experience

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	expdom "github.com/arbiterfabric/cogrt/internal/app/domain/experience"
)

// RedisSink forwards added experiences onto a capped Redis stream for
// downstream meta-learning consumers, per the nighttime orchestrator's
// training-data intake (spec §4.N).
type RedisSink struct {
	client    *redis.Client
	streamKey string
	maxLen    int64
}

// NewRedisSink builds a Sink backed by Redis stream streamKey, trimmed
// (approximately, for throughput) to maxLen entries.
func NewRedisSink(client *redis.Client, streamKey string, maxLen int64) *RedisSink {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &RedisSink{client: client, streamKey: streamKey, maxLen: maxLen}
}

// Record appends e to the stream as a single JSON-encoded field.
func (s *RedisSink) Record(ctx context.Context, e expdom.Experience) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("experience: marshal for redis sink: %w", err)
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.streamKey,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{"experience": string(data)},
	}).Err()
}
