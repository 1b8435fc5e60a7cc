// Package goal holds the Goal record and its lifecycle rules, shared by
// the goal planner's handlers, scoring, and persistence (spec §3, §4.K).
package goal

import "time"

// Type classifies a goal's strategic weight, feeding the priority formula's
// impact term.
type Type string

const (
	TypeStrategic  Type = "strategic"
	TypeTactical   Type = "tactical"
	TypeOperational Type = "operational"
)

// Status is a goal's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDeferred  Status = "deferred"
)

// ValidTransition reports whether from -> to is an allowed lifecycle
// transition (spec §4.K's state machine).
func ValidTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusActive || to == StatusDeferred
	case StatusActive:
		return to == StatusCompleted || to == StatusFailed || to == StatusDeferred
	case StatusDeferred:
		return to == StatusPending || to == StatusActive
	case StatusCompleted, StatusFailed:
		return false
	default:
		return false
	}
}

// IsTerminal reports whether status ends the goal's lifecycle.
func IsTerminal(status Status) bool {
	return status == StatusCompleted || status == StatusFailed
}

// IsActive reports whether status counts against maxActive (spec §3:
// "at most maxActive goals have status in {pending, active}").
func IsActive(status Status) bool {
	return status == StatusPending || status == StatusActive
}

// Metrics tracks a goal's measurable progress.
type Metrics struct {
	Target          float64 `json:"target,omitempty"`
	Current         float64 `json:"current,omitempty"`
	ProgressPercent float64 `json:"progressPercent"`
}

// Goal is one unit of planned or autonomously-proposed work.
type Goal struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	Category      string                 `json:"category"`
	Title         string                 `json:"title"`
	Description   string                 `json:"description"`
	Status        Status                 `json:"status"`
	Priority      float64                `json:"priority"`
	Metrics       Metrics                `json:"metrics"`
	Dependencies  []string               `json:"dependencies,omitempty"`
	Prerequisites []string               `json:"prerequisites,omitempty"`
	AssignedTo    []string               `json:"assignedTo,omitempty"`
	Tasks         []string               `json:"tasks,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
	StartedAt     *time.Time             `json:"startedAt,omitempty"`
	CompletedAt   *time.Time             `json:"completedAt,omitempty"`
	DueDate       *time.Time             `json:"dueDate,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`

	// Autonomous marks a goal proposed by the system rather than an
	// external create_goal message; it gates dedup and the reality-check.
	Autonomous     bool   `json:"autonomous,omitempty"`
	NemesisWarning bool   `json:"nemesisWarning,omitempty"`

	// LastProgressAt and LastProgressValue let the planning loop detect a
	// stalled goal (spec §4.K: daily progress rate < 1%).
	LastProgressAt    time.Time `json:"lastProgressAt,omitempty"`
	LastProgressValue float64   `json:"lastProgressValue,omitempty"`
}

// DepsSatisfied reports whether goal has no outstanding dependencies or
// prerequisites, the condition for pending -> active (spec §3).
func (g Goal) DepsSatisfied() bool {
	return len(g.Dependencies) == 0 && len(g.Prerequisites) == 0
}
