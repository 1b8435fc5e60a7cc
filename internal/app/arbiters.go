package app

import (
	"context"
	"fmt"

	"github.com/arbiterfabric/cogrt/internal/app/core/arbiter"
	"github.com/arbiterfabric/cogrt/internal/app/domain/arbiterdom"
	"github.com/arbiterfabric/cogrt/internal/app/domain/message"
	"github.com/arbiterfabric/cogrt/internal/app/services/memorytier"
)

// registerArbiters builds one arbiter.Base per role the nightly session
// (and the message-typed API surface) addresses, registers each with the
// bus and the supervisor, and wires its message handlers to the
// corresponding domain service. Every arbiter shares the memory cascade as
// its MemoryBackend (spec §4.E/§4.L).
func (a *Application) registerArbiters() error {
	mem := memorytier.NewAdapter(a.Tiers)

	roles := []struct {
		name     string
		role     arbiterdom.Role
		caps     []arbiterdom.Capability
		handlers map[string]arbiter.MessageHandler
	}{
		{"planner", arbiterdom.RolePlanner, []arbiterdom.Capability{arbiterdom.CapabilityPlan}, plannerHandlers(a)},
		{"indexer", arbiterdom.RoleIndexer, []arbiterdom.Capability{arbiterdom.CapabilityIndex, arbiterdom.CapabilityCrawl}, indexerHandlers(a)},
		{"memory", arbiterdom.RoleGeneral, []arbiterdom.Capability{arbiterdom.CapabilityMemorize, arbiterdom.CapabilityRecall}, memoryHandlers(a)},
		{"analysis", arbiterdom.RoleGeneral, nil, analysisHandlers(a)},
		{"processor", arbiterdom.RoleProcessor, nil, nil},
	}

	for _, r := range roles {
		b, err := arbiter.New(arbiter.Options{
			Identity:     arbiterdom.Identity{Name: r.name, Role: r.role, Capabilities: r.caps},
			Memory:       mem,
			Metrics:      a.metrics,
			Logger:       a.log,
		})
		if err != nil {
			return fmt.Errorf("app: construct %s arbiter: %w", r.name, err)
		}
		for msgType, h := range r.handlers {
			b.RegisterHandler(msgType, h)
		}
		if err := b.Initialize(context.Background()); err != nil {
			return fmt.Errorf("app: initialize %s arbiter: %w", r.name, err)
		}
		if err := a.Bus.Register(r.name, b, map[string]interface{}{"role": string(r.role)}); err != nil {
			return fmt.Errorf("app: register %s with bus: %w", r.name, err)
		}
		if err := a.Supervisor.Register(b, arbiterdom.RestartTransient, nil); err != nil {
			return fmt.Errorf("app: register %s with supervisor: %w", r.name, err)
		}
	}
	return nil
}

// plannerHandlers forwards the wire-contract message types (spec §6) to
// the goal planner's own dispatcher, and maps the nightly session's
// select_topics/trigger_learning task types onto a planning cycle pass.
func plannerHandlers(a *Application) map[string]arbiter.MessageHandler {
	forward := func(ctx context.Context, msg message.Envelope) (map[string]interface{}, error) {
		return a.Planner.HandleMessage(ctx, msg)
	}
	planningCycle := func(ctx context.Context, msg message.Envelope) (map[string]interface{}, error) {
		stalled := a.Planner.RunPlanningCycle()
		return map[string]interface{}{"stalledGoals": stalled}, nil
	}
	return map[string]arbiter.MessageHandler{
		message.TypeCreateGoal:              forward,
		message.TypeUpdateGoalProgress:      forward,
		message.TypeQueryGoals:              forward,
		message.TypeCancelGoal:              forward,
		message.TypeGoalConcern:             forward,
		message.TypeGoalEnhancementSuggestion: forward,
		message.TypeVelocityReport:           forward,
		message.TypeCodeAnalysisComplete:     forward,
		message.TypeMemoryMetrics:            forward,
		message.TypeFitnessScoreUpdate:       forward,
		message.TypeDiscoveryComplete:        forward,
		message.TypeContradictionDetected:    forward,
		message.TypePracticeReminder:         forward,
		message.TypeSkillDegraded:            forward,
		message.TypeResourcePressureCritical: forward,
		message.TypePlanningPulse:            forward,
		message.TypeTimePulse:                forward,
		"select_topics":                      planningCycle,
		"trigger_learning":                   planningCycle,
	}
}

// indexerHandlers maps the nightly session's crawl/gather/index task types
// onto the content indexer's deep scan (spec §4.M). deploy_crawlers and
// gather_external_data have no external crawler in this codebase's
// dependency pack, so both settle for the same deep scan pass a real
// crawler deployment would eventually feed.
func indexerHandlers(a *Application) map[string]arbiter.MessageHandler {
	scan := func(ctx context.Context, msg message.Envelope) (map[string]interface{}, error) {
		st, err := a.Indexer.DeepScan(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"filesScanned": st.FilesScanned,
			"filesIndexed": st.FilesIndexed,
			"filesSkipped": st.FilesSkipped,
			"completed":    st.Completed,
		}, nil
	}
	return map[string]arbiter.MessageHandler{
		"deploy_crawlers":      scan,
		"gather_external_data": scan,
		"index":                scan,
	}
}

// memoryHandlers stores the nightly session's processed content through
// the memory cascade (spec §4.L's store_in_tiers step).
func memoryHandlers(a *Application) map[string]arbiter.MessageHandler {
	mem := memorytier.NewAdapter(a.Tiers)
	store := func(ctx context.Context, msg message.Envelope) (map[string]interface{}, error) {
		content, _ := msg.Payload["content"].(string)
		if content == "" {
			return map[string]interface{}{"acknowledged": true}, nil
		}
		var tags []string
		if raw, ok := msg.Payload["tags"].([]string); ok {
			tags = raw
		}
		id, err := mem.Remember(ctx, content, tags)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"id": id}, nil
	}
	return map[string]arbiter.MessageHandler{"store_in_tiers": store}
}

// analysisHandlers reports the strategy selector's learned (domain,
// strategy) statistics as the nightly session's pattern-analysis step
// (spec §4.J, §4.N).
func analysisHandlers(a *Application) map[string]arbiter.MessageHandler {
	analyze := func(ctx context.Context, msg message.Envelope) (map[string]interface{}, error) {
		return map[string]interface{}{"stats": a.Selector.Stats()}, nil
	}
	return map[string]arbiter.MessageHandler{"analyze_patterns": analyze}
}
