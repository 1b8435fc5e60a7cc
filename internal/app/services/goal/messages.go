package goal

import (
	"context"
	"fmt"
	"time"

	"github.com/arbiterfabric/cogrt/internal/app/domain/message"
	goaldom "github.com/arbiterfabric/cogrt/internal/app/domain/goal"
)

func payloadString(payload map[string]interface{}, key string) (string, bool) {
	v, ok := payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func payloadFloat(payload map[string]interface{}, key string) (float64, bool) {
	v, ok := payload[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func payloadTime(payload map[string]interface{}, key string) (*time.Time, bool) {
	s, ok := payloadString(payload, key)
	if !ok {
		return nil, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, false
	}
	return &t, true
}

// HandleMessage dispatches a bus envelope to the planner operation its
// type names (spec §4.K, §6). Unrecognized types are acknowledged without
// effect, the same non-fatal acknowledgement arbiter.Base's dispatcher gives
// types that have no registered handler.
func (p *Planner) HandleMessage(ctx context.Context, msg message.Envelope) (map[string]interface{}, error) {
	switch msg.Type {
	case message.TypeCreateGoal:
		return p.handleCreateGoal(msg)
	case message.TypeUpdateGoalProgress:
		return p.handleUpdateGoalProgress(msg)
	case message.TypeQueryGoals:
		return p.handleQueryGoals(msg)
	case message.TypeCancelGoal:
		return p.handleCancelGoal(msg)
	case message.TypeGoalConcern, message.TypeGoalEnhancementSuggestion:
		return p.handleMediation(msg)
	case
		message.TypeVelocityReport,
		message.TypeCodeAnalysisComplete,
		message.TypeMemoryMetrics,
		message.TypeFitnessScoreUpdate,
		message.TypeDiscoveryComplete,
		message.TypeContradictionDetected,
		message.TypePracticeReminder,
		message.TypeSkillDegraded,
		message.TypeResourcePressureCritical:
		return p.handleSystemObservation(msg)
	case message.TypePlanningPulse, message.TypeTimePulse:
		stalled := p.RunPlanningCycle()
		return map[string]interface{}{"stalledGoals": stalled}, nil
	default:
		return map[string]interface{}{"acknowledged": true}, nil
	}
}

func (p *Planner) handleCreateGoal(msg message.Envelope) (map[string]interface{}, error) {
	g := goalFromPayload(msg.Payload)
	created, err := p.CreateGoal(g)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"goalId": created.ID, "status": string(created.Status), "priority": created.Priority}, nil
}

func goalFromPayload(payload map[string]interface{}) goaldom.Goal {
	g := goaldom.Goal{Metadata: payload}
	if v, ok := payloadString(payload, "title"); ok {
		g.Title = v
	}
	if v, ok := payloadString(payload, "description"); ok {
		g.Description = v
	}
	if v, ok := payloadString(payload, "category"); ok {
		g.Category = v
	}
	if v, ok := payloadString(payload, "type"); ok {
		g.Type = goaldom.Type(v)
	} else {
		g.Type = goaldom.TypeOperational
	}
	if v, ok := payloadFloat(payload, "priority"); ok {
		g.Priority = v
	}
	if v, ok := payloadTime(payload, "dueDate"); ok {
		g.DueDate = v
	}
	return g
}

func (p *Planner) handleUpdateGoalProgress(msg message.Envelope) (map[string]interface{}, error) {
	id, ok := payloadString(msg.Payload, "goalId")
	if !ok {
		return nil, fmt.Errorf("goal: update_goal_progress missing goalId")
	}
	progress, _ := payloadFloat(msg.Payload, "progressPercent")
	current, _ := payloadFloat(msg.Payload, "current")
	target, _ := payloadFloat(msg.Payload, "target")
	if err := p.UpdateProgress(id, current, target, progress); err != nil {
		return nil, err
	}
	return map[string]interface{}{"goalId": id, "progressPercent": progress}, nil
}

func (p *Planner) handleQueryGoals(msg message.Envelope) (map[string]interface{}, error) {
	var filter QueryFilter
	if v, ok := payloadString(msg.Payload, "status"); ok {
		status := goaldom.Status(v)
		filter.Status = &status
	}
	if v, ok := payloadString(msg.Payload, "category"); ok {
		filter.Category = &v
	}
	if v, ok := payloadString(msg.Payload, "metadataPath"); ok {
		filter.Metadata.Path = v
		filter.Metadata.Equal = msg.Payload["metadataEquals"]
	} else if v, ok := payloadString(msg.Payload, "metadataExpr"); ok {
		filter.Metadata.Expr = v
		filter.Metadata.Equal = msg.Payload["metadataEquals"]
	} else if v, ok := payloadString(msg.Payload, "metadataPredicate"); ok {
		filter.Metadata.Predicate = v
	}
	goals := p.QueryGoals(filter)
	return map[string]interface{}{"goals": goals}, nil
}

func (p *Planner) handleCancelGoal(msg message.Envelope) (map[string]interface{}, error) {
	id, ok := payloadString(msg.Payload, "goalId")
	if !ok {
		return nil, fmt.Errorf("goal: cancel_goal missing goalId")
	}
	if err := p.CancelGoal(id); err != nil {
		return nil, err
	}
	return map[string]interface{}{"goalId": id, "status": string(goaldom.StatusDeferred)}, nil
}

// handleSystemObservation translates an autonomous system-event message
// into a goal proposal when the payload carries enough to ground one
// (title at minimum); otherwise it is logged and acknowledged without
// creating a goal.
func (p *Planner) handleSystemObservation(msg message.Envelope) (map[string]interface{}, error) {
	title, ok := payloadString(msg.Payload, "title")
	if !ok || title == "" {
		p.log.WithFields(map[string]interface{}{"type": msg.Type, "from": msg.From}).
			Debug("goal: system observation carried no proposable title, acknowledging only")
		return map[string]interface{}{"acknowledged": true}, nil
	}

	description, _ := payloadString(msg.Payload, "description")
	category, _ := payloadString(msg.Payload, "category")
	priority, hasPriority := payloadFloat(msg.Payload, "priority")
	if !hasPriority {
		priority = 30
	}
	_, hasTargetMetric := msg.Payload["targetMetric"]
	dueDate, hasDueDate := payloadTime(msg.Payload, "dueDate")
	rationale, hasRationale := payloadString(msg.Payload, "rationale")
	confidence, _ := payloadFloat(msg.Payload, "confidence")

	g := goaldom.Goal{
		Title:       title,
		Description: description,
		Category:    category,
		Type:        goaldom.TypeOperational,
		DueDate:     dueDate,
		Priority:    priority,
		Metadata:    map[string]interface{}{"sourceEvent": msg.Type, "rationale": rationale},
	}

	proposal := Proposal{
		Title:           title,
		Description:     description,
		Category:        category,
		Priority:        priority,
		Confidence:      confidence,
		HasTargetMetric: hasTargetMetric,
		HasDueDate:      hasDueDate,
		HasRationale:    hasRationale,
	}

	created, err := p.ProposeAutonomousGoal(g, proposal)
	if err != nil {
		p.log.WithError(err).WithFields(map[string]interface{}{"type": msg.Type}).
			Warn("goal: autonomous proposal rejected")
		return nil, err
	}
	return map[string]interface{}{
		"goalId":         created.ID,
		"priority":       created.Priority,
		"nemesisWarning": created.NemesisWarning,
	}, nil
}

func (p *Planner) handleMediation(msg message.Envelope) (map[string]interface{}, error) {
	risk, _ := payloadFloat(msg.Payload, "risk")
	opportunity, _ := payloadFloat(msg.Payload, "opportunity")
	outcome := Mediate(risk, opportunity)
	return map[string]interface{}{"outcome": string(outcome)}, nil
}
