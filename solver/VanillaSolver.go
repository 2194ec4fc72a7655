package solver

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// VanillaConfig describes a configuration of the vanilla SGD solver
type VanillaConfig struct {
	StepSize float64
}

// NewVanilla returns a new vanilla SGD Solver
func NewVanilla(stepSize float64) (*Solver, error) {
	return newSolver(Vanilla, VanillaConfig{StepSize: stepSize})
}

// Create returns a new SGD stepper as described by the VanillaConfig
func (v VanillaConfig) Create() stepper {
	return &sgd{lr: v.StepSize}
}

// ValidType returns if the given Solver type is a valid type to be
// created with this config.
func (v VanillaConfig) ValidType(t Type) bool {
	return t == Vanilla
}

// sgd implements plain stochastic gradient descent. It carries no
// internal optimizer state beyond the learning rate.
type sgd struct {
	lr float64
}

func (s *sgd) SetLearnRate(lr float64) { s.lr = lr }

func (s *sgd) Step(model []G.ValueGrad) error {
	for i, vg := range model {
		val := vg.Value().Data().([]float64)
		gradVal, err := vg.Grad()
		if err != nil {
			return fmt.Errorf("step: no gradient for parameter %v: %v", i, err)
		}
		grad := gradVal.Data().([]float64)

		for j := range val {
			val[j] -= s.lr * grad[j]
		}
	}
	return nil
}

func (s *sgd) State() ([]byte, error) { return nil, nil }

func (s *sgd) SetState(state []byte) error {
	if len(state) != 0 {
		return fmt.Errorf("setState: vanilla SGD carries no optimizer state, " +
			"got non-empty state")
	}
	return nil
}
