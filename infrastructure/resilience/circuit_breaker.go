// Package resilience implements per-arbiter fault isolation (spec §4.B) and
// retry-with-backoff helpers (used by the nighttime orchestrator, §4.N).
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// State represents a circuit breaker's current state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Sentinel errors returned by Execute when the call is rejected outright.
var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// StateChange records one transition in the breaker's bounded history.
type StateChange struct {
	From State
	To   State
	At   time.Time
}

// Config controls breaker thresholds, reset jitter, and hooks.
type Config struct {
	MaxFailures      int           // consecutive failures before opening
	SuccessThreshold int           // half-open successes required to close
	ResetTimeout     time.Duration // base time spent in OPEN before a probe
	Jitter           float64       // fraction of ResetTimeout added as random delay, in [0,1]
	HistorySize      int           // bounded state-change history length
	OnStateChange    func(from, to State)
}

// DefaultConfig returns the spec's reference thresholds: 5 failures,
// 30s reset, 20% jitter, 3 half-open successes to close.
func DefaultConfig() Config {
	return Config{
		MaxFailures:      5,
		SuccessThreshold: 3,
		ResetTimeout:     30 * time.Second,
		Jitter:           0.2,
		HistorySize:      50,
	}
}

// CircuitBreaker implements the CLOSED/OPEN/HALF_OPEN state machine of
// spec §4.B, including the jittered reset window that prevents synchronized
// thundering-herd retries across an arbiter's clones.
type CircuitBreaker struct {
	mu              sync.Mutex
	config          Config
	state           State
	failures        int
	halfOpenSuccess int
	nextAttempt     time.Time
	history         []StateChange
}

// New creates a CircuitBreaker, filling in zero-valued fields from
// DefaultConfig. Jitter is the exception: zero is kept (no jitter) and only
// a negative Jitter is replaced by the default.
func New(cfg Config) *CircuitBreaker {
	def := DefaultConfig()
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = def.Jitter
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	return &CircuitBreaker{config: cfg, state: StateClosed}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// NextAttempt returns the time the breaker will allow its next probe, valid
// only while OPEN.
func (cb *CircuitBreaker) NextAttempt() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.nextAttempt
}

// History returns a copy of the bounded state-change history, oldest first.
func (cb *CircuitBreaker) History() []StateChange {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	out := make([]StateChange, len(cb.history))
	copy(out, cb.history)
	return out
}

// Execute runs fn under breaker protection. If the breaker rejects the call
// and fallback is non-nil, fallback's result is returned instead of
// ErrCircuitOpen.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error, fallback func() error) error {
	if err := cb.beforeRequest(); err != nil {
		if fallback != nil {
			return fallback()
		}
		return err
	}

	err := fn()
	cb.afterRequest(err == nil)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Now().Before(cb.nextAttempt) {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.halfOpenSuccess = 0
		return nil
	case StateHalfOpen:
		return nil
	}
	return nil
}

func (cb *CircuitBreaker) afterRequest(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.onSuccess()
	} else {
		cb.onFailure()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenSuccess++
		if cb.halfOpenSuccess >= cb.config.SuccessThreshold {
			cb.transition(StateClosed)
			cb.failures = 0
		}
	case StateClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) onFailure() {
	switch cb.state {
	case StateHalfOpen:
		cb.openWithJitter()
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.MaxFailures {
			cb.openWithJitter()
		}
	}
}

// openWithJitter transitions to OPEN and sets nextAttempt to
// now + resetTimeout + rand(0, jitter*resetTimeout), per spec §4.B.
func (cb *CircuitBreaker) openWithJitter() {
	cb.transition(StateOpen)
	jitterSpan := time.Duration(float64(cb.config.ResetTimeout) * cb.config.Jitter)
	extra := time.Duration(0)
	if jitterSpan > 0 {
		extra = time.Duration(rand.Int63n(int64(jitterSpan) + 1))
	}
	cb.nextAttempt = time.Now().Add(cb.config.ResetTimeout + extra)
	cb.failures = 0
	cb.halfOpenSuccess = 0
}

func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.history = append(cb.history, StateChange{From: from, To: to, At: time.Now()})
	if len(cb.history) > cb.config.HistorySize {
		cb.history = cb.history[len(cb.history)-cb.config.HistorySize:]
	}
	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(from, to)
	}
}
