// Package policy defines the narrow interfaces through which the
// training and evaluation loops consume the navigation policy network,
// together with the explicit action generation state machine used
// during rollouts. The network architecture itself is supplied
// externally; LinearSoftmax in this package is a minimal reference
// implementation used by the debug harness and the tests.
package policy

import (
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/pranav-putta/bcnav/episode"
)

// Model is the training-time entry point to the policy network.
type Model interface {
	// ForwardBackward runs the forward pass on a minibatch of padded
	// subsequences and accumulates local gradients for the behavior
	// cloning loss. Gradients add across calls until ZeroGrads; padded
	// steps must not contribute, which the implementation guarantees
	// by reducing through each subsequence's mask.
	ForwardBackward(samples []episode.Subsequence) (float64, error)

	// Model returns the trainable parameters with their gradients, in
	// a stable order, for the solver.
	Model() []G.ValueGrad

	// TrainableWeights returns copies of the parameters that currently
	// have gradients enabled, keyed by name. Frozen parameters are
	// excluded.
	TrainableWeights() map[string][]float64

	// SetWeights applies a weight map non-strictly: unknown keys are
	// ignored and parameters missing from the map keep their values,
	// so checkpoints survive architecture evolution and partial
	// fine-tuning.
	SetWeights(weights map[string][]float64)

	// Freeze disables gradients on every parameter, for evaluation.
	Freeze()

	// EmbedVisual embeds a batch of frame and goal images into the
	// representation the action generator consumes.
	EmbedVisual(rgbs, goals *tensor.Dense) (*tensor.Dense, *tensor.Dense,
		error)

	// Stepper returns the per-step action head used by the
	// ActionGenerator.
	Stepper() Stepper
}

// Stepper predicts the next action for a single environment from its
// embedding history and goal.
type Stepper interface {
	Step(rgbHistory []*tensor.Dense, goal *tensor.Dense,
		deterministic bool) (int, error)
}
