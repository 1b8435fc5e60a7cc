// Package arbiterdom holds the arbiter identity and status enums shared
// across the runtime: registry, supervisor, and base arbiter all speak
// this vocabulary.
package arbiterdom

import "time"

// Role is a closed set of arbiter roles. Validators reject unknown values
// at any boundary (construction, loaded snapshot, inbound message).
type Role string

const (
	RolePlanner      Role = "planner"
	RoleIndexer      Role = "indexer"
	RoleCrawler      Role = "crawler"
	RoleProcessor    Role = "processor"
	RoleOrchestrator Role = "orchestrator"
	RoleGeneral      Role = "general"
)

// Capability is a closed set of advertised arbiter abilities.
type Capability string

const (
	CapabilityMemorize    Capability = "memorize"
	CapabilityRecall      Capability = "recall"
	CapabilityCrawl       Capability = "crawl"
	CapabilityIndex       Capability = "index"
	CapabilityPlan        Capability = "plan"
	CapabilityOrchestrate Capability = "orchestrate"
)

// Status is the arbiter lifecycle state. Transitions form a DAG except for
// the active <-> shutting_down oscillation the supervisor drives during a
// graceful drain-and-resume, and the error -> initializing retry after a
// failed initialization.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusInitializing   Status = "initializing"
	StatusActive         Status = "active"
	StatusShuttingDown   Status = "shutting_down"
	StatusOffline        Status = "offline"
	StatusError          Status = "error"
)

// ValidTransition reports whether from -> to is an allowed status
// transition.
func ValidTransition(from, to Status) bool {
	switch from {
	case StatusIdle:
		return to == StatusInitializing || to == StatusOffline
	case StatusInitializing:
		return to == StatusActive || to == StatusError
	case StatusActive:
		return to == StatusShuttingDown || to == StatusError
	case StatusShuttingDown:
		return to == StatusOffline || to == StatusActive || to == StatusError
	case StatusError:
		return to == StatusOffline || to == StatusInitializing
	case StatusOffline:
		return false
	default:
		return false
	}
}

// Identity is the immutable portion of an arbiter's identity, fixed at
// construction.
type Identity struct {
	Name         string
	Role         Role
	Capabilities []Capability
	Generation   int
	ParentID     string
	DNA          [32]byte
	CreatedAt    time.Time
}

// HasCapability reports whether id advertises capability c.
func (id Identity) HasCapability(c Capability) bool {
	for _, have := range id.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// RestartPolicy controls supervisor behavior when an arbiter's message loop
// exits (spec §4.G).
type RestartPolicy string

const (
	RestartPermanent RestartPolicy = "permanent"
	RestartTransient RestartPolicy = "transient"
	RestartTemporary RestartPolicy = "temporary"
)
