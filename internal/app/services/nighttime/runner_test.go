package nighttime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	nightdom "github.com/arbiterfabric/cogrt/internal/app/domain/nighttime"
)

func TestRunTaskWithRetry_NonRetryableFailsFast(t *testing.T) {
	var calls int32
	runner := TaskRunnerFunc(func(ctx context.Context, task nightdom.TaskSpec) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	})

	result, err := runTaskWithRetry(context.Background(), runner, nightdom.TaskSpec{Name: "t1", Retryable: false})
	require.Error(t, err)
	require.False(t, result.Success)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	require.Equal(t, 0, result.Retries)
}

func TestRunTaskWithRetry_RetryableSucceedsAfterTransientFailures(t *testing.T) {
	var calls int32
	runner := TaskRunnerFunc(func(ctx context.Context, task nightdom.TaskSpec) error {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return errors.New("transient")
		}
		return nil
	})

	result, err := runTaskWithRetry(context.Background(), runner, nightdom.TaskSpec{Name: "t2", Retryable: true, MaxRetries: 5})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
	require.Equal(t, 2, result.Retries)
}

func TestRunTaskWithRetry_RetryableExhaustsBoundedAttempts(t *testing.T) {
	var calls int32
	runner := TaskRunnerFunc(func(ctx context.Context, task nightdom.TaskSpec) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("always fails")
	})

	result, err := runTaskWithRetry(context.Background(), runner, nightdom.TaskSpec{Name: "t3", Retryable: true, MaxRetries: 3})
	require.Error(t, err)
	require.False(t, result.Success)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
	require.Equal(t, 2, result.Retries)
}
