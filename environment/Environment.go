// Package environment describes the vectorized simulator interface the
// trainer and evaluator drive. A VectorEnv steps a fixed number of
// parallel scenes in lockstep and resets a scene automatically when
// its episode ends.
package environment

import "gorgonia.org/tensor"

// Observation is the sensor bundle one scene emits at one step. Rgb
// and ImageGoal always share a shape; Depth may be nil when the
// simulator has no depth sensor.
type Observation struct {
	Rgb       *tensor.Dense
	ImageGoal *tensor.Dense
	Depth     *tensor.Dense
}

// Info carries per-scene diagnostics alongside a step.
type Info struct {
	// DistanceToGoal is the geodesic distance from the agent to the
	// goal after the step.
	DistanceToGoal float64

	// Metrics holds any additional simulator measures by name.
	Metrics map[string]float64
}

// VectorEnv is a batch of parallel scenes stepped in lockstep.
//
// Step consumes one action per scene and returns the next
// observations, the rewards for the transition, a done flag per scene,
// and per-scene info. When a scene reports done, the returned
// observation for that scene is already the first observation of its
// next episode.
type VectorEnv interface {
	// NumEnvs returns the number of parallel scenes.
	NumEnvs() int

	// Reset starts a fresh episode in every scene and returns the
	// initial observations.
	Reset() ([]Observation, error)

	// Step advances every scene by one action.
	Step(actions []int) ([]Observation, []float64, []bool, []Info, error)

	// Close releases simulator resources.
	Close() error
}
