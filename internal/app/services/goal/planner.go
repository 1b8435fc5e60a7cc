// Package goal implements the goal planner: prioritization, deduplication,
// the autonomous-proposal reality-check gate, capacity enforcement, and
// bounded-retention persistence (spec §4.K).
package goal

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arbiterfabric/cogrt/infrastructure/errors"
	"github.com/arbiterfabric/cogrt/infrastructure/logging"
	"github.com/arbiterfabric/cogrt/infrastructure/metrics"
	"github.com/arbiterfabric/cogrt/infrastructure/state"
	goaldom "github.com/arbiterfabric/cogrt/internal/app/domain/goal"
)

const (
	defaultMaxActive            = 50
	defaultPlanningInterval     = 6 * time.Hour
	defaultStalledThresholdDays = 7
	defaultArchiveCap           = 500
	snapshotKey                 = "goals"
	retentionWindow             = 7 * 24 * time.Hour
	pruneAfter                  = 30 * 24 * time.Hour
	priorityChangeThreshold     = 5.0
)

// Config configures a Planner.
type Config struct {
	MaxActive            int
	PlanningInterval     time.Duration
	StalledThresholdDays int
	ArchiveCap           int
	Backend              state.PersistenceBackend
	Metrics              *metrics.Metrics
	Logger               *logging.Logger

	// RealityCheckFormula, if set, overrides the built-in friction/charge/
	// mass aggregate with a goja expression (spec §4.K's scoring rule made
	// operator-tunable). Empty uses the built-in mean.
	RealityCheckFormula string
}

// Planner tracks goals, their priority, and their lifecycle.
type Planner struct {
	cfg Config
	log *logging.Logger

	mu      sync.Mutex
	goals   map[string]*goaldom.Goal
	archive []goaldom.Goal // bounded LIFO terminal archive, most recent last

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type snapshot struct {
	Goals   []goaldom.Goal `json:"goals"`
	Archive []goaldom.Goal `json:"archive"`
}

// New constructs a Planner, loading and pruning a prior snapshot if
// cfg.Backend is set.
func New(cfg Config) (*Planner, error) {
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = defaultMaxActive
	}
	if cfg.PlanningInterval <= 0 {
		cfg.PlanningInterval = defaultPlanningInterval
	}
	if cfg.StalledThresholdDays <= 0 {
		cfg.StalledThresholdDays = defaultStalledThresholdDays
	}
	if cfg.ArchiveCap <= 0 {
		cfg.ArchiveCap = defaultArchiveCap
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	p := &Planner{
		cfg:    cfg,
		log:    cfg.Logger,
		goals:  make(map[string]*goaldom.Goal),
		stopCh: make(chan struct{}),
	}
	if cfg.Backend != nil {
		if err := p.load(context.Background()); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// CreateGoal admits an externally-requested goal unconditionally (no
// dedup or reality-check gate, both autonomous-only per spec §4.K),
// subject to capacity enforcement.
func (p *Planner) CreateGoal(g goaldom.Goal) (goaldom.Goal, error) {
	g.ID = uuid.NewString()
	g.CreatedAt = time.Now()
	g.Status = goaldom.StatusPending
	if g.DepsSatisfied() {
		g.Status = goaldom.StatusActive
		now := time.Now()
		g.StartedAt = &now
	}
	g.Priority = p.computePriority(g)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.enforceCapLocked()
	p.goals[g.ID] = &g
	return g, nil
}

// ProposeAutonomousGoal runs the dedup check and reality-check gate before
// admitting an autonomously-generated goal.
func (p *Planner) ProposeAutonomousGoal(g goaldom.Goal, proposal Proposal) (goaldom.Goal, error) {
	p.mu.Lock()
	existing := p.snapshotGoalsLocked()
	p.mu.Unlock()

	if existingGoalID, dup := IsDuplicate(g.Title, g.Category, existing); dup {
		return goaldom.Goal{}, fmt.Errorf("goal: duplicate of existing active goal %q in category %q", existingGoalID, g.Category)
	}

	score, _, accept, warn := RealityCheckWithFormula(proposal, p.cfg.RealityCheckFormula)
	if !accept {
		return goaldom.Goal{}, errors.NemesisRejected(score, "")
	}

	g.Autonomous = true
	g.NemesisWarning = warn
	created, err := p.CreateGoal(g)
	if err != nil {
		return goaldom.Goal{}, err
	}
	return created, nil
}

func (p *Planner) snapshotGoalsLocked() []goaldom.Goal {
	out := make([]goaldom.Goal, 0, len(p.goals))
	for _, g := range p.goals {
		out = append(out, *g)
	}
	return out
}

func (p *Planner) computePriority(g goaldom.Goal) float64 {
	return Priority(PriorityInputs{
		Type:              g.Type,
		Category:          g.Category,
		DueDate:           g.DueDate,
		DependencyCount:   len(g.Dependencies),
		PrerequisiteCount: len(g.Prerequisites),
		AssigneeCount:     len(g.AssignedTo),
	})
}

// enforceCapLocked defers the lowest-priority pending (then active) goals
// until the active count drops below cfg.MaxActive. Caller holds p.mu.
func (p *Planner) enforceCapLocked() {
	for p.activeCountLocked() >= p.cfg.MaxActive {
		victim := p.lowestPriorityDeferrableLocked()
		if victim == nil {
			return // nothing left that can be deferred; caller's add will still proceed over cap
		}
		victim.Status = goaldom.StatusDeferred
	}
}

func (p *Planner) activeCountLocked() int {
	n := 0
	for _, g := range p.goals {
		if goaldom.IsActive(g.Status) {
			n++
		}
	}
	return n
}

// lowestPriorityDeferrableLocked returns the lowest-priority pending goal,
// or if none, the lowest-priority active goal.
func (p *Planner) lowestPriorityDeferrableLocked() *goaldom.Goal {
	var best *goaldom.Goal
	for _, g := range p.goals {
		if g.Status != goaldom.StatusPending {
			continue
		}
		if best == nil || g.Priority < best.Priority {
			best = g
		}
	}
	if best != nil {
		return best
	}
	for _, g := range p.goals {
		if g.Status != goaldom.StatusActive {
			continue
		}
		if best == nil || g.Priority < best.Priority {
			best = g
		}
	}
	return best
}

// UpdateProgress sets a goal's progress, completing it at 100%.
func (p *Planner) UpdateProgress(id string, current, target float64, progressPercent float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, ok := p.goals[id]
	if !ok {
		return fmt.Errorf("goal: unknown goal %q", id)
	}

	g.Metrics.Current = current
	if target > 0 {
		g.Metrics.Target = target
	}
	g.Metrics.ProgressPercent = progressPercent
	g.LastProgressAt = time.Now()
	g.LastProgressValue = progressPercent

	if progressPercent >= 100 {
		return p.transitionLocked(g, goaldom.StatusCompleted)
	}
	return nil
}

// CompleteGoal explicitly marks a goal completed.
func (p *Planner) CompleteGoal(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.goals[id]
	if !ok {
		return fmt.Errorf("goal: unknown goal %q", id)
	}
	g.Metrics.ProgressPercent = 100
	return p.transitionLocked(g, goaldom.StatusCompleted)
}

// FailGoal explicitly marks a goal failed.
func (p *Planner) FailGoal(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.goals[id]
	if !ok {
		return fmt.Errorf("goal: unknown goal %q", id)
	}
	return p.transitionLocked(g, goaldom.StatusFailed)
}

// CancelGoal defers a pending or active goal on explicit request.
func (p *Planner) CancelGoal(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.goals[id]
	if !ok {
		return fmt.Errorf("goal: unknown goal %q", id)
	}
	return p.transitionLocked(g, goaldom.StatusDeferred)
}

// transitionLocked validates and applies a status change, archiving the
// goal if the new status is terminal. Caller holds p.mu.
func (p *Planner) transitionLocked(g *goaldom.Goal, to goaldom.Status) error {
	if !goaldom.ValidTransition(g.Status, to) {
		return fmt.Errorf("goal: invalid transition %s -> %s", g.Status, to)
	}
	g.Status = to
	if to == goaldom.StatusCompleted {
		now := time.Now()
		g.CompletedAt = &now
	}
	if goaldom.IsTerminal(to) {
		p.archiveLocked(*g)
		delete(p.goals, g.ID)
	}
	return nil
}

func (p *Planner) archiveLocked(g goaldom.Goal) {
	p.archive = append(p.archive, g)
	if len(p.archive) > p.cfg.ArchiveCap {
		p.archive = p.archive[len(p.archive)-p.cfg.ArchiveCap:]
	}
}

// QueryFilter narrows QueryGoals.
type QueryFilter struct {
	Status   *goaldom.Status
	Category *string
	Type     *goaldom.Type
	Metadata MetadataFilter
}

// QueryGoals returns every live goal matching filter.
func (p *Planner) QueryGoals(filter QueryFilter) []goaldom.Goal {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]goaldom.Goal, 0, len(p.goals))
	for _, g := range p.goals {
		if filter.Status != nil && g.Status != *filter.Status {
			continue
		}
		if filter.Category != nil && g.Category != *filter.Category {
			continue
		}
		if filter.Type != nil && g.Type != *filter.Type {
			continue
		}
		if !matchesMetadata(*g, filter.Metadata) {
			continue
		}
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// Get returns one goal by id.
func (p *Planner) Get(id string) (goaldom.Goal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.goals[id]
	if !ok {
		return goaldom.Goal{}, false
	}
	return *g, true
}

// RunPlanningCycle recomputes every live goal's priority (applying changes
// greater than priorityChangeThreshold) and returns the ids of goals
// flagged stalled: active with a daily progress rate under 1% sustained
// past cfg.StalledThresholdDays.
func (p *Planner) RunPlanningCycle() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var stalled []string
	now := time.Now()
	for _, g := range p.goals {
		newPriority := p.computePriority(*g)
		if math.Abs(newPriority-g.Priority) > priorityChangeThreshold {
			g.Priority = newPriority
		}

		if g.Status != goaldom.StatusActive || g.StartedAt == nil {
			continue
		}
		daysSinceStart := now.Sub(*g.StartedAt).Hours() / 24
		if daysSinceStart < float64(p.cfg.StalledThresholdDays) {
			continue
		}
		dailyRate := 0.0
		if daysSinceStart > 0 {
			dailyRate = g.Metrics.ProgressPercent / daysSinceStart
		}
		if dailyRate < 1.0 {
			stalled = append(stalled, g.ID)
			p.log.WithFields(map[string]interface{}{
				"goal": g.ID, "progress": g.Metrics.ProgressPercent, "daysSinceStart": daysSinceStart,
			}).Warn("goal: stalled")
		}
	}
	return stalled
}

// StartPlanningLoop runs RunPlanningCycle every cfg.PlanningInterval until
// Stop is called.
func (p *Planner) StartPlanningLoop(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.PlanningInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.RunPlanningCycle()
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the planning loop and waits for it to exit.
func (p *Planner) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// Persist writes goals.json: all active goals plus non-active goals
// younger than retentionWindow.
func (p *Planner) Persist(ctx context.Context) error {
	if p.cfg.Backend == nil {
		return nil
	}
	p.mu.Lock()
	now := time.Now()
	var goals []goaldom.Goal
	for _, g := range p.goals {
		if goaldom.IsActive(g.Status) || now.Sub(g.CreatedAt) < retentionWindow {
			goals = append(goals, *g)
		}
	}
	archive := append([]goaldom.Goal(nil), p.archive...)
	p.mu.Unlock()

	data, err := json.Marshal(snapshot{Goals: goals, Archive: archive})
	if err != nil {
		return fmt.Errorf("goal: marshal snapshot: %w", err)
	}
	if err := p.cfg.Backend.Save(ctx, snapshotKey, data); err != nil {
		return errors.PersistFailed(snapshotKey, err)
	}
	return nil
}

// load restores goals.json, pruning terminal goals older than pruneAfter
// and deferring any excess over cfg.MaxActive (keeping the highest
// priority active).
func (p *Planner) load(ctx context.Context) error {
	data, err := p.cfg.Backend.Load(ctx, snapshotKey)
	if err != nil {
		if err == state.ErrNotFound {
			return nil
		}
		return fmt.Errorf("goal: load snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		p.quarantine()
		return nil
	}

	now := time.Now()
	for _, g := range snap.Goals {
		g := g
		if goaldom.IsTerminal(g.Status) && now.Sub(g.CreatedAt) > pruneAfter {
			continue
		}
		p.goals[g.ID] = &g
	}
	for _, g := range snap.Archive {
		if now.Sub(g.CreatedAt) > pruneAfter {
			continue
		}
		p.archive = append(p.archive, g)
	}

	p.mu.Lock()
	p.enforceCapLocked()
	p.mu.Unlock()
	return nil
}

func (p *Planner) quarantine() {
	type quarantiner interface {
		Quarantine(key, subdir string) error
	}
	q, ok := p.cfg.Backend.(quarantiner)
	if !ok {
		return
	}
	if err := q.Quarantine(snapshotKey, ".corrupted"); err != nil {
		p.log.WithError(err).Warn("goal: failed to quarantine corrupted snapshot")
		return
	}
	p.log.Warn("goal: quarantined corrupted goals snapshot, starting empty")
}
