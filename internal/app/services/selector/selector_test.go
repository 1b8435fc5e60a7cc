package selector

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	outcomedom "github.com/arbiterfabric/cogrt/internal/app/domain/outcome"
)

func deterministic(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

func TestSelect_UnderTrialedArmsWinOverCold(t *testing.T) {
	s := New(Config{MinTrialsBeforeExploit: 5, Rand: deterministic(1)})
	choice := s.Select("domain1", nil, []string{"a", "b", "c"})
	require.Contains(t, []string{"a", "b", "c"}, choice)
}

func TestSelect_UnknownCandidatesTreatedAsZeroTrial(t *testing.T) {
	s := New(Config{MinTrialsBeforeExploit: 1, Rand: deterministic(1)})
	// "a" already has one trial (meets threshold); "never-seen" has zero
	// and should still be selectable as an exploration candidate.
	s.Record("domain1", "a", outcomedom.Outcome{Success: true, Reward: 1})

	seenNever := false
	for i := 0; i < 50; i++ {
		choice := s.Select("domain1", nil, []string{"a", "never-seen"})
		if choice == "never-seen" {
			seenNever = true
			break
		}
	}
	require.True(t, seenNever, "unknown candidate should be explorable")
}

func TestRecord_UpdatesCountersAndEWMAAverage(t *testing.T) {
	s := New(Config{RewardDecay: 0.5})
	s.Record("d", "strat", outcomedom.Outcome{Success: true, Reward: 1})
	s.Record("d", "strat", outcomedom.Outcome{Success: false, Reward: -1})

	stats := s.Stats()
	require.Len(t, stats, 1)
	require.Equal(t, int64(2), stats[0].Trials)
	require.Equal(t, int64(1), stats[0].Successes)
	require.Equal(t, int64(1), stats[0].Failures)
	require.Equal(t, 0.0, stats[0].TotalReward)
	// avg = 0.5*(-1) + 0.5*(0.5*1+0.5*0) = -0.5 + 0.25 = -0.25
	require.InDelta(t, -0.25, stats[0].AvgReward, 1e-9)
}

func TestSelect_UCB1PrefersHigherAvgRewardOnceExploited(t *testing.T) {
	s := New(Config{MinTrialsBeforeExploit: 2, Epsilon: 0, Rand: deterministic(1)})
	for i := 0; i < 5; i++ {
		s.Record("d", "good", outcomedom.Outcome{Success: true, Reward: 2})
		s.Record("d", "bad", outcomedom.Outcome{Success: false, Reward: -2})
	}

	choice := s.Select("d", nil, []string{"good", "bad"})
	require.Equal(t, "good", choice)
}

func TestSelect_TiesBrokenByMostRecentLastUsed(t *testing.T) {
	s := New(Config{MinTrialsBeforeExploit: 2, Epsilon: 0, Rand: deterministic(1)})
	for i := 0; i < 3; i++ {
		s.Record("d", "first", outcomedom.Outcome{Reward: 0})
	}
	time.Sleep(2 * time.Millisecond)
	for i := 0; i < 3; i++ {
		s.Record("d", "second", outcomedom.Outcome{Reward: 0})
	}

	choice := s.Select("d", nil, []string{"first", "second"})
	require.Equal(t, "second", choice, "more recently used arm should win an exact tie")
}

type stubOutcomeSource struct {
	outcomes []outcomedom.Outcome
}

func (s stubOutcomeSource) All() []outcomedom.Outcome { return s.outcomes }

func TestWarmStart_ReplaysOutcomesUsingAgentAsDomain(t *testing.T) {
	source := stubOutcomeSource{outcomes: []outcomedom.Outcome{
		{Agent: "agentA", Success: true, Reward: 1, Metadata: map[string]interface{}{"strategyUsed": "explore"}},
		{Agent: "agentA", Success: false, Reward: -1, Metadata: map[string]interface{}{"strategyUsed": "explore"}},
		{Agent: "agentB", Success: true, Reward: 1, Context: "fallback-strategy"},
		{Agent: "agentC", Success: true, Reward: 1}, // no strategy info: skipped
	}}
	s := New(Config{OutcomeStore: source})

	stats := s.Stats()
	require.Len(t, stats, 2)
	for _, st := range stats {
		if st.Domain == "agentA" {
			require.Equal(t, "explore", st.Strategy)
			require.Equal(t, int64(2), st.Trials)
		}
		if st.Domain == "agentB" {
			require.Equal(t, "fallback-strategy", st.Strategy)
		}
	}
}
