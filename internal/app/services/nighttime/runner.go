package nighttime

import (
	"context"
	"time"

	"github.com/arbiterfabric/cogrt/infrastructure/resilience"
	nightdom "github.com/arbiterfabric/cogrt/internal/app/domain/nighttime"
)

// TaskRunner dispatches one DAG task to its target arbiter and waits for
// the outcome. Production wiring sends a message.Envelope over the bus and
// awaits a response; tests substitute a stub.
type TaskRunner interface {
	RunTask(ctx context.Context, task nightdom.TaskSpec) error
}

// TaskRunnerFunc adapts a function to TaskRunner.
type TaskRunnerFunc func(ctx context.Context, task nightdom.TaskSpec) error

func (f TaskRunnerFunc) RunTask(ctx context.Context, task nightdom.TaskSpec) error {
	return f(ctx, task)
}

const defaultMaxRetries = 3

// runTaskWithRetry executes task through runner, retrying with bounded
// exponential backoff unless the task declares itself non-retryable (spec
// §4.N: "tasks declared non-retryable fail fast").
func runTaskWithRetry(ctx context.Context, runner TaskRunner, task nightdom.TaskSpec) (nightdom.TaskResult, error) {
	start := time.Now()
	result := nightdom.TaskResult{Task: task.Name}

	if !task.Retryable {
		err := runner.RunTask(ctx, task)
		result.Duration = time.Since(start)
		result.Success = err == nil
		if err != nil {
			result.Error = err.Error()
		}
		return result, err
	}

	maxAttempts := task.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxRetries
	}
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = maxAttempts

	attempts := 0
	err := resilience.Retry(ctx, cfg, func() error {
		attempts++
		return runner.RunTask(ctx, task)
	})

	result.Duration = time.Since(start)
	result.Success = err == nil
	result.Retries = attempts - 1
	if result.Retries < 0 {
		result.Retries = 0
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result, err
}
