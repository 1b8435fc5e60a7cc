package memorytier

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/arbiterfabric/cogrt/infrastructure/cache"
	"github.com/arbiterfabric/cogrt/infrastructure/logging"
)

const defaultHotTTL = time.Hour

// hotCache is the TTL key-value tier (spec §4.L). It prefers a Redis
// client (native TTL, matches "TTL key-value" exactly) and degrades to
// infrastructure/cache's TTLCache if Redis is unreachable, announcing the
// degradation once rather than on every call.
type hotCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logging.Logger

	mu         sync.Mutex
	degraded   bool
	warnedOnce bool
	local      *cache.TTLCache
}

func newHotCache(client *redis.Client, ttl time.Duration, log *logging.Logger) *hotCache {
	if ttl <= 0 {
		ttl = defaultHotTTL
	}
	h := &hotCache{client: client, ttl: ttl, log: log, local: cache.NewTTLCache(ttl)}
	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			h.markDegraded(err)
		}
	} else {
		h.markDegraded(nil)
	}
	return h
}

func (h *hotCache) markDegraded(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.degraded = true
	if !h.warnedOnce {
		h.warnedOnce = true
		fields := map[string]interface{}{}
		if err != nil {
			fields["error"] = err.Error()
		}
		h.log.WithFields(fields).Warn("memorytier: hot tier degraded, falling back to in-process cache")
	}
}

func (h *hotCache) Set(ctx context.Context, key, value string) {
	if !h.isDegraded() {
		if err := h.client.Set(ctx, key, value, h.ttl).Err(); err != nil {
			h.markDegraded(err)
		} else {
			return
		}
	}
	h.local.Set(ctx, key, value)
}

func (h *hotCache) Get(ctx context.Context, key string) (string, bool) {
	if !h.isDegraded() {
		v, err := h.client.Get(ctx, key).Result()
		if err == nil {
			return v, true
		}
		if err != redis.Nil {
			h.markDegraded(err)
		} else {
			return "", false
		}
	}
	v, ok := h.local.Get(ctx, key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (h *hotCache) Delete(ctx context.Context, key string) {
	if !h.isDegraded() {
		if err := h.client.Del(ctx, key).Err(); err != nil {
			h.markDegraded(err)
		}
	}
	h.local.Delete(ctx, key)
}

func (h *hotCache) isDegraded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.degraded || h.client == nil
}
