package goal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	goaldom "github.com/arbiterfabric/cogrt/internal/app/domain/goal"
)

func TestPriority_StrategicUrgentUnblockedWeighsHighest(t *testing.T) {
	now := time.Now()
	due := now.Add(12 * time.Hour)
	strategic := Priority(PriorityInputs{Type: goaldom.TypeStrategic, Category: "security", DueDate: &due, Now: now})
	operational := Priority(PriorityInputs{Type: goaldom.TypeOperational, Category: "misc", Now: now})
	require.Greater(t, strategic, operational)
	require.LessOrEqual(t, strategic, 100.0)
	require.GreaterOrEqual(t, operational, 0.0)
}

func TestPriority_NoDueDateUsesDefaultUrgency(t *testing.T) {
	now := time.Now()
	withDue := Priority(PriorityInputs{Type: goaldom.TypeTactical, DueDate: ptrTime(now.Add(2 * 24 * time.Hour)), Now: now})
	withoutDue := Priority(PriorityInputs{Type: goaldom.TypeTactical, Now: now})
	require.Greater(t, withDue, withoutDue)
}

func TestPriority_MoreDependenciesLowerFeasibility(t *testing.T) {
	now := time.Now()
	unblocked := Priority(PriorityInputs{Type: goaldom.TypeOperational, Now: now})
	blocked := Priority(PriorityInputs{Type: goaldom.TypeOperational, Now: now, DependencyCount: 5, PrerequisiteCount: 2})
	require.Greater(t, unblocked, blocked)
}

func TestPriority_MoreAssigneesLowerResourceCost(t *testing.T) {
	now := time.Now()
	solo := Priority(PriorityInputs{Type: goaldom.TypeOperational, Now: now, AssigneeCount: 0})
	staffed := Priority(PriorityInputs{Type: goaldom.TypeOperational, Now: now, AssigneeCount: 4})
	require.Greater(t, solo, staffed)
}

func ptrTime(t time.Time) *time.Time { return &t }

func TestRealityCheck_VagueLowEffortProposalRejected(t *testing.T) {
	p := Proposal{
		Title:       "improve things",
		Description: "do better",
		Priority:    20,
		Confidence:  0.3,
	}
	score, tag, accept, _ := RealityCheck(p)
	require.Less(t, score, 0.5)
	require.Contains(t, []RealityTag{TagKill, TagMutate}, tag)
	require.False(t, accept)
}

func TestRealityCheck_WellGroundedProposalAccepted(t *testing.T) {
	p := Proposal{
		Title:           "reduce p99 latency on the ingest path",
		Description:     "profile the ingest path and cut allocation overhead in the hot loop",
		Priority:        80,
		Confidence:      0.9,
		HasTargetMetric: true,
		HasDueDate:      true,
		HasRationale:    true,
	}
	score, tag, accept, _ := RealityCheck(p)
	require.GreaterOrEqual(t, score, 0.7)
	require.Contains(t, []RealityTag{TagAllow, TagPromote}, tag)
	require.True(t, accept)
}

func TestRealityCheck_BorderlineProposalAcceptedWithWarning(t *testing.T) {
	p := Proposal{
		Title:        "clean up the retry path",
		Description:  "retry logic has accumulated some cruft over the last few releases",
		Priority:     55,
		Confidence:   0.6,
		HasDueDate:   true,
		HasRationale: true,
	}
	score, _, accept, warn := RealityCheck(p)
	require.GreaterOrEqual(t, score, 0.5)
	require.Less(t, score, 0.7)
	require.True(t, accept)
	require.True(t, warn)
}

func TestIsDuplicate_MajorityTokenOverlapSameCategoryRejected(t *testing.T) {
	existing := []goaldom.Goal{
		{ID: "goal-1", Title: "reduce memory usage in the cache layer", Category: "performance", Status: goaldom.StatusActive},
	}
	id, dup := IsDuplicate("reduce memory usage in cache layer further", "performance", existing)
	require.True(t, dup)
	require.Equal(t, "goal-1", id)
}

func TestIsDuplicate_DifferentCategoryNotDuplicate(t *testing.T) {
	existing := []goaldom.Goal{
		{ID: "goal-1", Title: "reduce memory usage in the cache layer", Category: "performance", Status: goaldom.StatusActive},
	}
	_, dup := IsDuplicate("reduce memory usage in cache layer further", "reliability", existing)
	require.False(t, dup)
}

func TestIsDuplicate_IgnoresNonActiveGoals(t *testing.T) {
	existing := []goaldom.Goal{
		{ID: "goal-1", Title: "reduce memory usage in the cache layer", Category: "performance", Status: goaldom.StatusCompleted},
	}
	_, dup := IsDuplicate("reduce memory usage in cache layer further", "performance", existing)
	require.False(t, dup)
}

func TestIsDuplicate_LowOverlapNotDuplicate(t *testing.T) {
	existing := []goaldom.Goal{
		{ID: "goal-1", Title: "rotate audit log credentials", Category: "security", Status: goaldom.StatusPending},
	}
	_, dup := IsDuplicate("migrate the billing database schema", "security", existing)
	require.False(t, dup)
}

func TestMediate_HighOpportunityLowRiskApprovesProgressive(t *testing.T) {
	require.Equal(t, MediationApproveProgressive, Mediate(0.2, 0.9))
}

func TestMediate_HighRiskLowOpportunityApprovesConservative(t *testing.T) {
	require.Equal(t, MediationApproveConservative, Mediate(0.8, 0.1))
}

func TestMediate_MixedSignalsCompromises(t *testing.T) {
	require.Equal(t, MediationCompromise, Mediate(0.6, 0.6))
}
