package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheck_AllowsUpToLimitThenRejects(t *testing.T) {
	l := New(10 * time.Millisecond)
	defer l.Destroy()
	l.SetLimit("agent-1", 2, 1000)

	require.True(t, l.Check("agent-1"))
	require.True(t, l.Check("agent-1"))
	require.False(t, l.Check("agent-1"))
}

func TestCheck_UnconfiguredKeyAlwaysAllowed(t *testing.T) {
	l := New(10 * time.Millisecond)
	defer l.Destroy()
	require.True(t, l.Check("unknown"))
}

func TestCheck_ResetsAfterWindow(t *testing.T) {
	l := New(10 * time.Millisecond)
	defer l.Destroy()
	l.SetLimit("agent-1", 1, 20)

	require.True(t, l.Check("agent-1"))
	require.False(t, l.Check("agent-1"))

	time.Sleep(30 * time.Millisecond)
	require.True(t, l.Check("agent-1"))
}

func TestWaitForToken_UnblocksWhenWindowResets(t *testing.T) {
	l := New(5 * time.Millisecond)
	defer l.Destroy()
	l.SetLimit("agent-1", 1, 15)
	require.True(t, l.Check("agent-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, l.WaitForToken(ctx, "agent-1"))
}

func TestWaitForToken_RespectsContextCancellation(t *testing.T) {
	l := New(50 * time.Millisecond)
	defer l.Destroy()
	l.SetLimit("agent-1", 1, time.Hour.Milliseconds())
	require.True(t, l.Check("agent-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.WaitForToken(ctx, "agent-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDestroy_StopsJanitorIdempotently(t *testing.T) {
	l := New(10 * time.Millisecond)
	l.Destroy()
	require.NotPanics(t, func() { l.Destroy() })
}
