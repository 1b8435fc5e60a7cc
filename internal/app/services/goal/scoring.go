package goal

import (
	"strings"
	"time"

	"github.com/dop251/goja"

	goaldom "github.com/arbiterfabric/cogrt/internal/app/domain/goal"
)

// RealityTag is the reality-check gate's coarse verdict bucket.
type RealityTag string

const (
	TagKill       RealityTag = "KILL"
	TagMutate     RealityTag = "MUTATE"
	TagQuarantine RealityTag = "QUARANTINE"
	TagAllow      RealityTag = "ALLOW"
	TagPromote    RealityTag = "PROMOTE"
)

// PriorityInputs carries everything Priority needs besides the goal's own
// Type/Category/DueDate fields.
type PriorityInputs struct {
	Type              goaldom.Type
	Category          string
	DueDate           *time.Time
	Now               time.Time
	DependencyCount   int
	PrerequisiteCount int
	AssigneeCount     int
}

// highImpactCategories blends into the impact term alongside goal type;
// spec §4.K names no fixed list, so operational categories judged to carry
// outsized blast radius if neglected are curated here.
var highImpactCategories = map[string]bool{
	"security":    true,
	"reliability": true,
	"compliance":  true,
}

func typeWeight(t goaldom.Type) float64 {
	switch t {
	case goaldom.TypeStrategic:
		return 1.0
	case goaldom.TypeTactical:
		return 0.7
	case goaldom.TypeOperational:
		return 0.5
	default:
		return 0.5
	}
}

func impact(t goaldom.Type, category string) float64 {
	categoryWeight := 0.5
	if highImpactCategories[strings.ToLower(category)] {
		categoryWeight = 1.0
	}
	return 0.85*typeWeight(t) + 0.15*categoryWeight
}

func urgency(dueDate *time.Time, now time.Time) float64 {
	if dueDate == nil {
		return 0.3
	}
	days := dueDate.Sub(now).Hours() / 24
	switch {
	case days < 1:
		return 1.0
	case days < 3:
		return 0.9
	case days < 7:
		return 0.7
	case days < 30:
		return 0.5
	default:
		return 0.3
	}
}

func feasibility(deps, prereqs int) float64 {
	f := 1 - (0.1*float64(deps) + 0.15*float64(prereqs))
	if f < 0.3 {
		return 0.3
	}
	return f
}

// resourceCost is, per spec §4.K, "inversely proportional to assignee
// count": a goal with no assignees yet carries the maximal resourceCost
// term (1.0), tapering toward 0 as more workers are already committed to it.
func resourceCost(assignees int) float64 {
	return 1.0 / (1.0 + float64(assignees))
}

// Priority computes the 0-100 priority score (spec §4.K).
func Priority(in PriorityInputs) float64 {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	score := 100 * (0.35*impact(in.Type, in.Category) +
		0.25*urgency(in.DueDate, now) +
		0.25*feasibility(in.DependencyCount, in.PrerequisiteCount) +
		0.15*resourceCost(in.AssigneeCount))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Proposal is the input to the reality-check gate and deduplication:
// an autonomous goal before it is admitted into the planner.
type Proposal struct {
	Title         string
	Description   string
	Category      string
	Priority      float64
	Confidence    float64
	HasTargetMetric bool
	HasDueDate    bool
	HasRationale  bool
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// friction scores how concretely grounded a proposal is: a vague one-liner
// with no metric, date, or rationale scores near zero.
func friction(p Proposal) float64 {
	score := 0.1
	if len(strings.TrimSpace(p.Description)) > 20 {
		score += 0.3
	}
	if p.HasTargetMetric {
		score += 0.25
	}
	if p.HasDueDate {
		score += 0.2
	}
	if p.HasRationale {
		score += 0.15
	}
	return clamp01(score)
}

// charge scores ambition as the proposal's own normalized priority.
func charge(p Proposal) float64 {
	return clamp01(p.Priority / 100)
}

// mass scores confidence-weighted priority.
func mass(p Proposal) float64 {
	confidence := p.Confidence
	if confidence <= 0 {
		confidence = 0.5
	}
	return clamp01(confidence * (p.Priority / 100))
}

// RealityCheck scores an autonomous proposal across friction/charge/mass
// and maps the aggregate to a tag and accept/warn decision (spec §4.K).
func RealityCheck(p Proposal) (score float64, tag RealityTag, accept bool, warn bool) {
	return RealityCheckWithFormula(p, "")
}

// RealityCheckWithFormula scores p the same way RealityCheck does, except
// the friction/charge/mass aggregate can be overridden by a goja
// expression (operator-tunable without a rebuild, the same mechanism
// arbiter config predicates use). The expression sees "friction",
// "charge", and "mass" as bound numbers and must evaluate to one. An
// empty formula or a script error falls back to the built-in mean.
func RealityCheckWithFormula(p Proposal, formula string) (score float64, tag RealityTag, accept bool, warn bool) {
	f, c, m := friction(p), charge(p), mass(p)
	score = (f + c + m) / 3

	if formula != "" {
		if evaluated, ok := evalScoreFormula(formula, f, c, m); ok {
			score = evaluated
		}
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	switch {
	case score < 0.3:
		tag = TagKill
	case score < 0.5:
		tag = TagMutate
	case score < 0.7:
		tag = TagQuarantine
	case score < 0.85:
		tag = TagAllow
	default:
		tag = TagPromote
	}

	accept = score >= 0.5
	warn = score >= 0.5 && score < 0.7
	return score, tag, accept, warn
}

// evalScoreFormula runs formula in a fresh VM with friction/charge/mass
// bound. Any construction or type error is treated as "no override".
func evalScoreFormula(formula string, friction, charge, mass float64) (float64, bool) {
	vm := goja.New()
	if err := vm.Set("friction", friction); err != nil {
		return 0, false
	}
	if err := vm.Set("charge", charge); err != nil {
		return 0, false
	}
	if err := vm.Set("mass", mass); err != nil {
		return 0, false
	}
	result, err := vm.RunString(formula)
	if err != nil {
		return 0, false
	}
	// goja exports integral numbers as int64 and the rest as float64.
	switch n := result.Export().(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// titleTokens lowercases and splits a title into tokens longer than 3
// characters, the unit spec §4.K's dedup check compares.
func titleTokens(title string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(title)) {
		word = strings.Trim(word, ".,!?:;\"'()[]")
		if len(word) > 3 {
			tokens[word] = struct{}{}
		}
	}
	return tokens
}

// IsDuplicate reports whether proposal's title shares more than half of
// its tokens with an existing active goal in the same category. When it
// does, it also returns that goal's id so the caller can identify which
// goal the proposal collided with.
func IsDuplicate(proposalTitle, proposalCategory string, existing []goaldom.Goal) (string, bool) {
	proposed := titleTokens(proposalTitle)
	if len(proposed) == 0 {
		return "", false
	}
	for _, g := range existing {
		if !goaldom.IsActive(g.Status) || g.Category != proposalCategory {
			continue
		}
		existingTokens := titleTokens(g.Title)
		shared := 0
		for tok := range proposed {
			if _, ok := existingTokens[tok]; ok {
				shared++
			}
		}
		if float64(shared)/float64(len(proposed)) > 0.5 {
			return g.ID, true
		}
	}
	return "", false
}

// MediationOutcome is a risk/opportunity matrix's verdict on a conflict
// between a conservative concern and a progressive enhancement.
type MediationOutcome string

const (
	MediationApproveProgressive MediationOutcome = "approve_progressive"
	MediationApproveConservative MediationOutcome = "approve_conservative"
	MediationCompromise         MediationOutcome = "compromise"
)

// Mediate resolves a goal_concern vs goal_enhancement_suggestion conflict
// (spec §4.K).
func Mediate(risk, opportunity float64) MediationOutcome {
	switch {
	case opportunity > 0.7 && risk < 0.5:
		return MediationApproveProgressive
	case risk > 0.7 && opportunity < 0.5:
		return MediationApproveConservative
	default:
		return MediationCompromise
	}
}
