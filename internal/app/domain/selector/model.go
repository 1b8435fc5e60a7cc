// Package selector holds the per-(domain, strategy) bandit statistics
// tracked by the strategy selector (spec §4.J).
package selector

import "time"

// Stats accumulates one (domain, strategy) arm's history.
type Stats struct {
	Domain      string    `json:"domain"`
	Strategy    string    `json:"strategy"`
	Trials      int64     `json:"trials"`
	Successes   int64     `json:"successes"`
	Failures    int64     `json:"failures"`
	TotalReward float64   `json:"totalReward"`
	AvgReward   float64   `json:"avgReward"`
	LastUsed    time.Time `json:"lastUsed"`
}
