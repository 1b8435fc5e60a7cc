package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{MaxFailures: 3, ResetTimeout: time.Minute})
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), func() error { return boom }, nil)
		require.ErrorIs(t, err, boom)
	}

	require.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_RejectsWhileOpen(t *testing.T) {
	cb := New(Config{MaxFailures: 1, ResetTimeout: time.Hour})
	_ = cb.Execute(context.Background(), func() error { return errors.New("boom") }, nil)
	require.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func() error { called = true; return nil }, nil)
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.False(t, called)
}

func TestCircuitBreaker_FallbackInvokedWhenOpen(t *testing.T) {
	cb := New(Config{MaxFailures: 1, ResetTimeout: time.Hour})
	_ = cb.Execute(context.Background(), func() error { return errors.New("boom") }, nil)

	fellBack := false
	err := cb.Execute(context.Background(), func() error { return nil }, func() error {
		fellBack = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, fellBack)
}

// Mirrors the spec's concrete reset-window scenario: threshold 5, reset
// 60s, jitter 0.2 — at t just under resetTimeout the breaker must still be
// OPEN, and nextAttempt must fall within [resetTimeout, resetTimeout*1.2].
func TestCircuitBreaker_NextAttemptWithinJitterBounds(t *testing.T) {
	cb := New(Config{MaxFailures: 5, ResetTimeout: 60 * time.Second, Jitter: 0.2})
	before := time.Now()
	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func() error { return errors.New("boom") }, nil)
	}
	require.Equal(t, StateOpen, cb.State())

	minNext := before.Add(60 * time.Second)
	maxNext := before.Add(72 * time.Second)
	next := cb.NextAttempt()
	require.False(t, next.Before(minNext))
	require.False(t, next.After(maxNext))
}

func TestCircuitBreaker_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	cb := New(Config{MaxFailures: 1, ResetTimeout: time.Millisecond, SuccessThreshold: 2})
	_ = cb.Execute(context.Background(), func() error { return errors.New("boom") }, nil)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(5 * time.Millisecond)

	err := cb.Execute(context.Background(), func() error { return nil }, nil)
	require.NoError(t, err)
	require.Equal(t, StateHalfOpen, cb.State())

	err = cb.Execute(context.Background(), func() error { return nil }, nil)
	require.NoError(t, err)
	require.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := New(Config{MaxFailures: 1, ResetTimeout: time.Millisecond, SuccessThreshold: 2})
	_ = cb.Execute(context.Background(), func() error { return errors.New("boom") }, nil)
	time.Sleep(5 * time.Millisecond)

	_ = cb.Execute(context.Background(), func() error { return nil }, nil)
	require.Equal(t, StateHalfOpen, cb.State())

	_ = cb.Execute(context.Background(), func() error { return errors.New("boom again") }, nil)
	require.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HistoryBounded(t *testing.T) {
	cb := New(Config{MaxFailures: 1, ResetTimeout: time.Nanosecond, HistorySize: 2})
	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func() error { return errors.New("boom") }, nil)
		time.Sleep(time.Millisecond)
		_ = cb.Execute(context.Background(), func() error { return nil }, nil)
	}
	require.LessOrEqual(t, len(cb.History()), 2)
}
