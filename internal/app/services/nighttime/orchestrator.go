// Package nighttime owns cron-scheduled sessions, each a sequential DAG
// of phases whose tasks fan out and fan back in, and streams progress to
// any connected operator tool (spec §4.N).
package nighttime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/arbiterfabric/cogrt/infrastructure/logging"
	"github.com/arbiterfabric/cogrt/infrastructure/metrics"
	nightdom "github.com/arbiterfabric/cogrt/internal/app/domain/nighttime"
)

const maxHistory = 50

// Config wires an Orchestrator to its task dispatcher and telemetry.
type Config struct {
	Runner  TaskRunner
	Metrics *metrics.Metrics
	Logger  *logging.Logger
}

// Orchestrator owns the cron schedule, the progress-event hub, and the
// DAG engine that walks each registered session's phases.
type Orchestrator struct {
	cfg  Config
	log  *logging.Logger
	cron *cron.Cron
	hub  *hub

	mu       sync.Mutex
	sessions map[string]nightdom.SessionSpec
	entryIDs map[string]cron.EntryID
	active   int
	history  []nightdom.SessionResult
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("nighttime: runner is required")
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		log:      log,
		cron:     cron.New(),
		hub:      newHub(log),
		sessions: make(map[string]nightdom.SessionSpec),
		entryIDs: make(map[string]cron.EntryID),
	}, nil
}

// RegisterSession schedules spec under its cron descriptor. Re-registering
// a session by name replaces its prior schedule entry.
func (o *Orchestrator) RegisterSession(spec nightdom.SessionSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("nighttime: session name is required")
	}

	o.mu.Lock()
	if id, ok := o.entryIDs[spec.Name]; ok {
		o.cron.Remove(id)
	}
	o.mu.Unlock()

	id, err := o.cron.AddFunc(spec.Schedule, func() {
		o.RunSession(context.Background(), spec)
	})
	if err != nil {
		return fmt.Errorf("nighttime: invalid schedule %q for session %q: %w", spec.Schedule, spec.Name, err)
	}

	o.mu.Lock()
	o.sessions[spec.Name] = spec
	o.entryIDs[spec.Name] = id
	o.mu.Unlock()
	return nil
}

// Start begins the cron scheduler.
func (o *Orchestrator) Start() { o.cron.Start() }

// Stop halts the cron scheduler and waits for in-flight sessions it
// triggered to finish.
func (o *Orchestrator) Stop() {
	<-o.cron.Stop().Done()
}

// RunSession executes spec's phases sequentially, right now, independent
// of its cron schedule (used directly by tests and by an operator-invoked
// "run now").
func (o *Orchestrator) RunSession(ctx context.Context, spec nightdom.SessionSpec) nightdom.SessionResult {
	o.mu.Lock()
	o.active++
	activeNow := o.active
	o.mu.Unlock()
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.SetNighttimeActiveSessions(activeNow)
	}
	defer func() {
		o.mu.Lock()
		o.active--
		activeNow := o.active
		o.mu.Unlock()
		if o.cfg.Metrics != nil {
			o.cfg.Metrics.SetNighttimeActiveSessions(activeNow)
		}
	}()

	result := nightdom.SessionResult{Session: spec.Name, StartedAt: time.Now()}
	o.emit(nightdom.ProgressEvent{Kind: nightdom.EventSessionStarted, Session: spec.Name, Timestamp: time.Now()})

	for _, phase := range spec.Phases {
		phaseStart := time.Now()
		o.emit(nightdom.ProgressEvent{Kind: nightdom.EventPhaseStarted, Session: spec.Name, Phase: phase.Name, Timestamp: time.Now()})

		phaseResult := o.runPhase(ctx, spec.Name, phase)
		result.Phases = append(result.Phases, phaseResult)

		if o.cfg.Metrics != nil {
			o.cfg.Metrics.RecordNighttimePhase(phase.Name, time.Since(phaseStart))
		}
		o.emit(nightdom.ProgressEvent{
			Kind: nightdom.EventPhaseCompleted, Session: spec.Name, Phase: phase.Name,
			Success: phaseResult.Success, Timestamp: time.Now(),
		})

		// Failure semantics (spec §4.N): a failed required phase aborts the
		// remainder of the session; a failed optional phase does not, since
		// nothing later in a sequential DAG depends on it by declaration.
		if !phaseResult.Success && !phase.Optional {
			result.Aborted = true
			o.log.WithFields(map[string]interface{}{"session": spec.Name, "phase": phase.Name}).
				Warn("nighttime: aborting session after phase failure")
			break
		}
	}

	result.FinishedAt = time.Now()
	result.Success = !result.Aborted && allPhasesSucceeded(result.Phases)

	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordNighttimeSession(outcome)
	}
	o.emit(nightdom.ProgressEvent{Kind: nightdom.EventSessionFinished, Session: spec.Name, Success: result.Success, Timestamp: time.Now()})

	o.recordHistory(result)
	return result
}

func (o *Orchestrator) runPhase(ctx context.Context, session string, phase nightdom.PhaseSpec) nightdom.PhaseResult {
	results := make([]nightdom.TaskResult, len(phase.Tasks))
	var wg sync.WaitGroup
	for i, task := range phase.Tasks {
		wg.Add(1)
		go func(i int, task nightdom.TaskSpec) {
			defer wg.Done()
			tr, _ := runTaskWithRetry(ctx, o.cfg.Runner, task)
			results[i] = tr
			o.emit(nightdom.ProgressEvent{
				Kind: nightdom.EventTaskCompleted, Session: session, Phase: phase.Name, Task: task.Name,
				Success: tr.Success, Timestamp: time.Now(),
			})
		}(i, task)
	}
	wg.Wait()

	success := true
	for _, r := range results {
		if !r.Success {
			success = false
			break
		}
	}
	return nightdom.PhaseResult{Name: phase.Name, Success: success, Tasks: results}
}

func allPhasesSucceeded(phases []nightdom.PhaseResult) bool {
	for _, p := range phases {
		if !p.Success {
			return false
		}
	}
	return true
}

func (o *Orchestrator) emit(ev nightdom.ProgressEvent) {
	o.hub.broadcast(ev)
}

func (o *Orchestrator) recordHistory(r nightdom.SessionResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = append(o.history, r)
	if len(o.history) > maxHistory {
		o.history = o.history[len(o.history)-maxHistory:]
	}
}

// History returns the most recent session results, oldest first.
func (o *Orchestrator) History() []nightdom.SessionResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]nightdom.SessionResult, len(o.history))
	copy(out, o.history)
	return out
}

// ActiveSessions reports how many sessions are currently running.
func (o *Orchestrator) ActiveSessions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// ConnectedStreamClients reports how many websocket clients are attached
// to the progress feed.
func (o *Orchestrator) ConnectedStreamClients() int {
	return o.hub.clientCount()
}
