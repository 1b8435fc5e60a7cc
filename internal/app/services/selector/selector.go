// Package selector implements the UCB1 multi-armed bandit that chooses a
// strategy per domain, warm-started from the outcome store's history
// (spec §4.J).
package selector

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/arbiterfabric/cogrt/infrastructure/logging"
	"github.com/arbiterfabric/cogrt/infrastructure/metrics"
	"github.com/arbiterfabric/cogrt/internal/app/core/stats"
	outcomedom "github.com/arbiterfabric/cogrt/internal/app/domain/outcome"
	selectordom "github.com/arbiterfabric/cogrt/internal/app/domain/selector"
)

const (
	defaultEpsilon                 = 0.1
	defaultExplorationConstant     = 1.4 // standard sqrt(2) ballpark used by UCB1 implementations
	defaultMinTrialsBeforeExploit  = 3
	defaultRewardDecay             = 0.2 // EWMA weight given to the newest reward
	defaultRewardWindow            = 100
)

// OutcomeSource supplies the recorded outcome history used for warm start.
type OutcomeSource interface {
	All() []outcomedom.Outcome
}

// Config configures a Selector.
type Config struct {
	Epsilon                float64
	ExplorationConstant    float64 // UCB1's "c"
	MinTrialsBeforeExploit int64
	RewardDecay            float64
	RewardWindow           int
	OutcomeStore           OutcomeSource
	Metrics                *metrics.Metrics
	Logger                 *logging.Logger
	Rand                   *rand.Rand
}

type arm struct {
	stats   selectordom.Stats
	rewards *stats.Rolling
}

// Selector is a UCB1 bandit over (domain, strategy) pairs.
type Selector struct {
	cfg Config
	log *logging.Logger
	mu  sync.Mutex
	// domains[domain][strategy] tracks one arm's accumulated stats.
	domains map[string]map[string]*arm
	rng     *rand.Rand
}

// New constructs a Selector and, if cfg.OutcomeStore is set, replays its
// history to rebuild every (domain, strategy) arm.
func New(cfg Config) *Selector {
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = defaultEpsilon
	}
	if cfg.ExplorationConstant <= 0 {
		cfg.ExplorationConstant = defaultExplorationConstant
	}
	if cfg.MinTrialsBeforeExploit <= 0 {
		cfg.MinTrialsBeforeExploit = defaultMinTrialsBeforeExploit
	}
	if cfg.RewardDecay <= 0 || cfg.RewardDecay > 1 {
		cfg.RewardDecay = defaultRewardDecay
	}
	if cfg.RewardWindow <= 0 {
		cfg.RewardWindow = defaultRewardWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	s := &Selector{
		cfg:     cfg,
		log:     cfg.Logger,
		domains: make(map[string]map[string]*arm),
		rng:     cfg.Rand,
	}
	if cfg.OutcomeStore != nil {
		s.warmStart()
	}
	return s
}

// warmStart replays every recorded outcome, deriving (domain, strategy)
// from Agent and Outcome.Strategy()'s metadata fallback chain. Outcome
// carries no explicit domain field, so the agent that produced it is
// treated as its domain for replay purposes.
func (s *Selector) warmStart() {
	for _, o := range s.cfg.OutcomeStore.All() {
		strategy, ok := o.Strategy()
		if !ok {
			continue
		}
		s.Record(o.Agent, strategy, o)
	}
}

func (s *Selector) armLocked(domain, strategy string) *arm {
	strategies, ok := s.domains[domain]
	if !ok {
		strategies = make(map[string]*arm)
		s.domains[domain] = strategies
	}
	a, ok := strategies[strategy]
	if !ok {
		a = &arm{
			stats:   selectordom.Stats{Domain: domain, Strategy: strategy},
			rewards: stats.NewRolling(s.cfg.RewardWindow),
		}
		strategies[strategy] = a
	}
	return a
}

// Record updates domain/strategy's arm with the result of one execution.
func (s *Selector) Record(domain, strategy string, o outcomedom.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.armLocked(domain, strategy)
	a.stats.Trials++
	if o.Success {
		a.stats.Successes++
	} else {
		a.stats.Failures++
	}
	a.stats.TotalReward += o.Reward
	a.rewards.Add(o.Reward)
	// EWMA: the newest reward always carries RewardDecay weight, so recent
	// outcomes dominate avgReward even as trials accumulate.
	a.stats.AvgReward = s.cfg.RewardDecay*o.Reward + (1-s.cfg.RewardDecay)*a.stats.AvgReward
	a.stats.LastUsed = time.Now()

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordSelectorTrial(domain, strategy)
	}
}

// Select chooses a strategy for domain. candidates, if non-empty, restricts
// the arms considered; unknown candidates are treated as zero-trial arms.
// context is accepted for interface compatibility with richer future
// selection policies; UCB1 itself is context-free.
func (s *Selector) Select(domain string, context map[string]interface{}, candidates []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := candidates
	if len(names) == 0 {
		for name := range s.domains[domain] {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names) // deterministic iteration before any randomness is drawn

	arms := make([]*arm, len(names))
	var totalTrials int64
	for i, name := range names {
		a := s.armLocked(domain, name)
		arms[i] = a
		totalTrials += a.stats.Trials
	}

	// 1. exploration priority: any under-trialed arm wins uniformly.
	var underTrialed []int
	for i, a := range arms {
		if a.stats.Trials < s.cfg.MinTrialsBeforeExploit {
			underTrialed = append(underTrialed, i)
		}
	}
	if len(underTrialed) > 0 {
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RecordSelectorExploration(domain, "cold_start")
		}
		choice := underTrialed[s.rng.Intn(len(underTrialed))]
		return names[choice]
	}

	// 2. epsilon-greedy.
	if s.rng.Float64() < s.cfg.Epsilon {
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RecordSelectorExploration(domain, "epsilon_greedy")
		}
		return names[s.rng.Intn(len(names))]
	}

	// 3. UCB1: maximize avgReward + c*sqrt(ln(totalTrials)/trials), ties
	// broken by the most recently used arm.
	lnTotal := math.Log(float64(totalTrials))
	bestIdx := 0
	bestScore := math.Inf(-1)
	for i, a := range arms {
		score := a.stats.AvgReward + s.cfg.ExplorationConstant*math.Sqrt(lnTotal/float64(a.stats.Trials))
		if score > bestScore ||
			(score == bestScore && a.stats.LastUsed.After(arms[bestIdx].stats.LastUsed)) {
			bestScore = score
			bestIdx = i
		}
	}
	return names[bestIdx]
}

// Stats returns a snapshot of every (domain, strategy) arm, for inspection
// and persistence.
func (s *Selector) Stats() []selectordom.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []selectordom.Stats
	for _, strategies := range s.domains {
		for _, a := range strategies {
			out = append(out, a.stats)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Domain != out[j].Domain {
			return out[i].Domain < out[j].Domain
		}
		return out[i].Strategy < out[j].Strategy
	})
	return out
}
