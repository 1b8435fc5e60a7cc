package nighttime

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	nightdom "github.com/arbiterfabric/cogrt/internal/app/domain/nighttime"
)

func newTestOrchestrator(t *testing.T, runner TaskRunner) *Orchestrator {
	t.Helper()
	o, err := New(Config{Runner: runner})
	require.NoError(t, err)
	return o
}

func TestRunSession_AllPhasesSucceed(t *testing.T) {
	runner := TaskRunnerFunc(func(ctx context.Context, task nightdom.TaskSpec) error { return nil })
	o := newTestOrchestrator(t, runner)

	spec := nightdom.SessionSpec{
		Name: "nightly",
		Phases: []nightdom.PhaseSpec{
			{Name: "select_topics", Tasks: []nightdom.TaskSpec{{Name: "select", Arbiter: "planner", Type: "select_topics"}}},
			{Name: "deploy_crawlers", Tasks: []nightdom.TaskSpec{
				{Name: "crawler-1", Arbiter: "indexer", Type: "deploy_crawler"},
				{Name: "crawler-2", Arbiter: "indexer", Type: "deploy_crawler"},
			}},
		},
	}

	result := o.RunSession(context.Background(), spec)
	require.True(t, result.Success)
	require.False(t, result.Aborted)
	require.Len(t, result.Phases, 2)
	require.Len(t, result.Phases[1].Tasks, 2)
}

func TestRunSession_RequiredPhaseFailureAbortsRemainder(t *testing.T) {
	runner := TaskRunnerFunc(func(ctx context.Context, task nightdom.TaskSpec) error {
		if task.Name == "gather" {
			return errors.New("timed out")
		}
		return nil
	})
	o := newTestOrchestrator(t, runner)

	spec := nightdom.SessionSpec{
		Name: "nightly",
		Phases: []nightdom.PhaseSpec{
			{Name: "select_topics", Tasks: []nightdom.TaskSpec{{Name: "select"}}},
			{Name: "gather_external_data", Tasks: []nightdom.TaskSpec{{Name: "gather", Retryable: false}}},
			{Name: "process_data", Tasks: []nightdom.TaskSpec{{Name: "process"}}},
		},
	}

	result := o.RunSession(context.Background(), spec)
	require.False(t, result.Success)
	require.True(t, result.Aborted)
	require.Len(t, result.Phases, 2, "third phase should never run")
}

func TestRunSession_OptionalPhaseFailureDoesNotAbort(t *testing.T) {
	runner := TaskRunnerFunc(func(ctx context.Context, task nightdom.TaskSpec) error {
		if task.Name == "analyze" {
			return errors.New("no patterns found")
		}
		return nil
	})
	o := newTestOrchestrator(t, runner)

	spec := nightdom.SessionSpec{
		Name: "nightly",
		Phases: []nightdom.PhaseSpec{
			{Name: "analyze_patterns", Optional: true, Tasks: []nightdom.TaskSpec{{Name: "analyze"}}},
			{Name: "trigger_learning", Tasks: []nightdom.TaskSpec{{Name: "learn"}}},
		},
	}

	result := o.RunSession(context.Background(), spec)
	require.False(t, result.Success, "a failed phase still marks the session unsuccessful overall")
	require.False(t, result.Aborted, "but an optional phase's failure must not abort the remainder")
	require.Len(t, result.Phases, 2, "trigger_learning should still have run")
}

func TestRegisterSession_RejectsInvalidSchedule(t *testing.T) {
	o := newTestOrchestrator(t, TaskRunnerFunc(func(ctx context.Context, task nightdom.TaskSpec) error { return nil }))
	err := o.RegisterSession(nightdom.SessionSpec{Name: "bad", Schedule: "not a cron expression"})
	require.Error(t, err)
}

func TestRegisterSession_AcceptsValidSchedule(t *testing.T) {
	o := newTestOrchestrator(t, TaskRunnerFunc(func(ctx context.Context, task nightdom.TaskSpec) error { return nil }))
	err := o.RegisterSession(nightdom.SessionSpec{Name: "nightly", Schedule: "0 2 * * *"})
	require.NoError(t, err)
}

func TestHistory_RecordsCompletedSessions(t *testing.T) {
	o := newTestOrchestrator(t, TaskRunnerFunc(func(ctx context.Context, task nightdom.TaskSpec) error { return nil }))
	spec := nightdom.SessionSpec{Name: "nightly", Phases: []nightdom.PhaseSpec{{Name: "p1", Tasks: []nightdom.TaskSpec{{Name: "t1"}}}}}

	o.RunSession(context.Background(), spec)
	o.RunSession(context.Background(), spec)

	history := o.History()
	require.Len(t, history, 2)
	require.Equal(t, "nightly", history[0].Session)
}

func TestRunSession_ConcurrentTasksInAPhaseAllRun(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]bool)
	runner := TaskRunnerFunc(func(ctx context.Context, task nightdom.TaskSpec) error {
		mu.Lock()
		seen[task.Name] = true
		mu.Unlock()
		return nil
	})
	o := newTestOrchestrator(t, runner)

	spec := nightdom.SessionSpec{
		Name: "fanout",
		Phases: []nightdom.PhaseSpec{
			{Name: "process_data", Tasks: []nightdom.TaskSpec{
				{Name: "categorize"}, {Name: "summarize"}, {Name: "index"}, {Name: "relate"}, {Name: "quality"}, {Name: "dedupe"},
			}},
		},
	}
	o.RunSession(context.Background(), spec)

	require.Len(t, seen, 6)
}
