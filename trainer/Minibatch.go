// Package trainer implements behavior cloning over recorded
// navigation episodes: minibatch scheduling with gradient
// accumulation, gradient synchronization across a training group, and
// the outer training loop with checkpointing.
package trainer

import (
	"fmt"

	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"

	"github.com/pranav-putta/bcnav/episode"
	"github.com/pranav-putta/bcnav/solver"
)

// Learner runs a forward and backward pass over one minibatch,
// accumulating gradients on its model. When sync is true the gradients
// must be synchronized across the training group after the backward
// pass; when false, synchronization is suppressed so accumulation
// stays local.
type Learner interface {
	ForwardBackward(samples []episode.Subsequence, sync bool) (float64,
		error)

	// Model returns the parameters the optimizer steps.
	Model() []G.ValueGrad
}

// Stepper applies one optimizer update to a model. *solver.Solver
// satisfies it.
type Stepper interface {
	Step(model []G.ValueGrad) error
}

// Scheduler splits one batch of subsequences into shuffled minibatches
// and walks them in chunks of NumGradAccums. Gradient synchronization
// fires only on the last minibatch of each chunk, so a group of N
// workers pays one all-reduce per chunk rather than one per
// minibatch. The optimizer steps exactly once per batch, after every
// chunk has been accumulated.
type Scheduler struct {
	BatchSize     int
	MinibatchSize int
	NumGradAccums int

	// MaxGradNorm caps the global gradient norm before the optimizer
	// step. Zero or negative disables clipping.
	MaxGradNorm float64

	Solver Stepper
}

// Validate checks the divisibility contracts between the batch,
// minibatch, and accumulation sizes.
func (s *Scheduler) Validate() error {
	if s.BatchSize < 1 || s.MinibatchSize < 1 || s.NumGradAccums < 1 {
		return fmt.Errorf("scheduler: sizes must be positive")
	}
	if s.BatchSize%s.MinibatchSize != 0 {
		return fmt.Errorf("scheduler: batch size %v not divisible by "+
			"minibatch size %v", s.BatchSize, s.MinibatchSize)
	}
	numMinibatches := s.BatchSize / s.MinibatchSize
	if numMinibatches%s.NumGradAccums != 0 {
		return fmt.Errorf("scheduler: %v minibatches not divisible by "+
			"%v accumulation steps", numMinibatches, s.NumGradAccums)
	}
	if s.Solver == nil {
		return fmt.Errorf("scheduler: no solver")
	}
	return nil
}

// Run trains on one batch. The samples are visited once in a random
// order drawn from rng, minibatch by minibatch, and the mean minibatch
// loss is returned. Gradients are cleared after the step, so each call
// starts from zero accumulation.
func (s *Scheduler) Run(rng *rand.Rand, samples []episode.Subsequence,
	learner Learner) (float64, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}
	if len(samples) != s.BatchSize {
		return 0, fmt.Errorf("run: invalid batch size "+
			"\n\twant(%v)\n\thave(%v)", s.BatchSize, len(samples))
	}

	perm := rng.Perm(s.BatchSize)
	numMinibatches := s.BatchSize / s.MinibatchSize

	minibatch := make([]episode.Subsequence, s.MinibatchSize)
	var totalLoss float64
	for m := 0; m < numMinibatches; m++ {
		for i := 0; i < s.MinibatchSize; i++ {
			minibatch[i] = samples[perm[m*s.MinibatchSize+i]]
		}

		sync := (m+1)%s.NumGradAccums == 0
		loss, err := learner.ForwardBackward(minibatch, sync)
		if err != nil {
			return 0, fmt.Errorf("run: minibatch %v: %v", m, err)
		}
		totalLoss += loss
	}

	model := learner.Model()
	if s.MaxGradNorm > 0 {
		if err := solver.ClipGradNorm(model, s.MaxGradNorm); err != nil {
			return 0, fmt.Errorf("run: %v", err)
		}
	}
	if err := s.Solver.Step(model); err != nil {
		return 0, fmt.Errorf("run: could not step solver: %v", err)
	}
	if err := solver.ZeroGrads(model); err != nil {
		return 0, fmt.Errorf("run: %v", err)
	}

	return totalLoss / float64(numMinibatches), nil
}
