package policy

import (
	"fmt"

	"gorgonia.org/tensor"
)

// ActionGenerator produces the next action for every environment
// during a rollout. It is an explicit finite-state object: each call
// to Next consumes one batch of observation embeddings plus the done
// flags of the transitions that just completed, and the per-environment
// embedding history is cleared for any environment whose episode
// ended. History is bounded by the trajectory horizon with a sliding
// window.
type ActionGenerator struct {
	stepper       Stepper
	horizon       int
	deterministic bool

	histories [][]*tensor.Dense
	goals     []*tensor.Dense
}

// NewActionGenerator returns a generator for numEnvs environments.
func NewActionGenerator(s Stepper, numEnvs, horizon int,
	deterministic bool) (*ActionGenerator, error) {
	if numEnvs < 1 {
		return nil, fmt.Errorf("newActionGenerator: numEnvs must be >= 1")
	}
	if horizon < 1 {
		return nil, fmt.Errorf("newActionGenerator: horizon must be >= 1")
	}
	return &ActionGenerator{
		stepper:       s,
		horizon:       horizon,
		deterministic: deterministic,
		histories:     make([][]*tensor.Dense, numEnvs),
		goals:         make([]*tensor.Dense, numEnvs),
	}, nil
}

// HistoryLen returns the current history length for environment i.
// Exported for tests.
func (g *ActionGenerator) HistoryLen(i int) int {
	return len(g.histories[i])
}

// Next records one embedded observation per environment and returns
// the next action for each. dones flags environments whose episode
// just ended; their history is cleared before the new observation is
// recorded, since that observation starts a fresh episode.
func (g *ActionGenerator) Next(rgbEmbds, goalEmbds []*tensor.Dense,
	dones []bool) ([]int, error) {
	n := len(g.histories)
	if len(rgbEmbds) != n || len(goalEmbds) != n || len(dones) != n {
		return nil, fmt.Errorf("next: expected %v environments, got "+
			"%v rgb, %v goal, %v done entries", n, len(rgbEmbds),
			len(goalEmbds), len(dones))
	}

	actions := make([]int, n)
	for i := 0; i < n; i++ {
		if dones[i] {
			g.histories[i] = g.histories[i][:0]
		}

		g.histories[i] = append(g.histories[i], rgbEmbds[i])
		if len(g.histories[i]) > g.horizon {
			g.histories[i] = g.histories[i][len(g.histories[i])-g.horizon:]
		}
		g.goals[i] = goalEmbds[i]

		action, err := g.stepper.Step(g.histories[i], g.goals[i],
			g.deterministic)
		if err != nil {
			return nil, fmt.Errorf("next: environment %v: %v", i, err)
		}
		actions[i] = action
	}

	return actions, nil
}
