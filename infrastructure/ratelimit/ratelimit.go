// Package ratelimit implements per-key fixed-window quotas with an idle-key
// janitor (spec §4.C), used by arbiter base to guard memorize/recall/clone/
// spawn calls per caller key.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// window tracks one key's current fixed-window count.
type window struct {
	count      int
	limit      int
	periodMs   int64
	resetAt    time.Time
	lastTouch  time.Time
}

// Limiter is a per-key fixed-window rate limiter with a background janitor
// that drops windows idle for >= 2x their period.
type Limiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	poll     time.Duration
	janitor  *time.Ticker
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Limiter. pollInterval controls WaitForToken's polling
// granularity (spec calls for O(100ms)); it defaults to 100ms when zero.
func New(pollInterval time.Duration) *Limiter {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	l := &Limiter{
		windows: make(map[string]*window),
		poll:    pollInterval,
		stopCh:  make(chan struct{}),
	}
	l.janitor = time.NewTicker(60 * time.Second)
	go l.runJanitor()
	return l
}

func (l *Limiter) runJanitor() {
	for {
		select {
		case <-l.janitor.C:
			l.sweep()
		case <-l.stopCh:
			return
		}
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for key, w := range l.windows {
		idleFor := now.Sub(w.lastTouch)
		if idleFor >= 2*time.Duration(w.periodMs)*time.Millisecond {
			delete(l.windows, key)
		}
	}
}

// SetLimit configures key's quota: count requests per windowMs. Resets any
// in-flight window for key.
func (l *Limiter) SetLimit(key string, count int, windowMs int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.windows[key] = &window{
		count:     0,
		limit:     count,
		periodMs:  windowMs,
		resetAt:   now.Add(time.Duration(windowMs) * time.Millisecond),
		lastTouch: now,
	}
}

// Check reports whether key may proceed, consuming one slot if so. A key
// with no configured limit is always allowed.
func (l *Limiter) Check(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		return true
	}

	now := time.Now()
	w.lastTouch = now
	if now.After(w.resetAt) {
		w.count = 0
		w.resetAt = now.Add(time.Duration(w.periodMs) * time.Millisecond)
	}

	if w.count >= w.limit {
		return false
	}
	w.count++
	return true
}

// WaitForToken polls Check at the configured interval until it succeeds or
// ctx is cancelled.
func (l *Limiter) WaitForToken(ctx context.Context, key string) error {
	if l.Check(key) {
		return nil
	}
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.Check(key) {
				return nil
			}
		}
	}
}

// Destroy stops the janitor goroutine. Idempotent.
func (l *Limiter) Destroy() {
	l.stopOnce.Do(func() {
		l.janitor.Stop()
		close(l.stopCh)
	})
}
