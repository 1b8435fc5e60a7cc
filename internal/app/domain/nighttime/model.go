// Package nighttime holds the nighttime orchestrator's plain data types:
// the DAG shape a session is declared with, and the result/progress types
// a run reports back.
package nighttime

import "time"

// TaskSpec is one DAG vertex: dispatch params bound for a named arbiter.
// Retryable false means a failure fails the task fast, no backoff.
type TaskSpec struct {
	Name       string                 `json:"name"`
	Arbiter    string                 `json:"arbiter"`
	Type       string                 `json:"type"`
	Params     map[string]interface{} `json:"params,omitempty"`
	Retryable  bool                   `json:"retryable"`
	MaxRetries int                    `json:"maxRetries,omitempty"`
}

// PhaseSpec groups tasks that fan out concurrently; the next phase only
// starts once every task in this one has finished (fan-in). Optional
// phases don't abort the session on failure.
type PhaseSpec struct {
	Name     string     `json:"name"`
	Tasks    []TaskSpec `json:"tasks"`
	Optional bool       `json:"optional,omitempty"`
}

// SessionSpec is a named, cron-scheduled DAG: a sequential list of phases,
// each an internally fan-out/fan-in set of tasks.
type SessionSpec struct {
	Name     string      `json:"name"`
	Schedule string      `json:"schedule"`
	Phases   []PhaseSpec `json:"phases"`
}

// TaskResult is one task's outcome, including how many retries it took.
type TaskResult struct {
	Task     string        `json:"task"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Retries  int           `json:"retries"`
	Duration time.Duration `json:"duration"`
}

// PhaseResult aggregates every task's outcome within one phase.
type PhaseResult struct {
	Name    string       `json:"name"`
	Success bool         `json:"success"`
	Tasks   []TaskResult `json:"tasks"`
}

// SessionResult is the orchestrator's summary event for one completed (or
// aborted) session run.
type SessionResult struct {
	Session    string        `json:"session"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Success    bool          `json:"success"`
	Aborted    bool          `json:"aborted"`
	Phases     []PhaseResult `json:"phases"`
}

// EventKind distinguishes the lifecycle points a progress event reports.
type EventKind string

const (
	EventSessionStarted  EventKind = "session_started"
	EventPhaseStarted    EventKind = "phase_started"
	EventTaskCompleted   EventKind = "task_completed"
	EventPhaseCompleted  EventKind = "phase_completed"
	EventSessionFinished EventKind = "session_finished"
)

// ProgressEvent is one streamed update, pushed to any connected websocket
// client — the orchestrator's outward feed contract, the dashboard itself
// is out of scope.
type ProgressEvent struct {
	Kind      EventKind              `json:"kind"`
	Session   string                 `json:"session"`
	Phase     string                 `json:"phase,omitempty"`
	Task      string                 `json:"task,omitempty"`
	Success   bool                   `json:"success,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
