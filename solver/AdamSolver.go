package solver

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
)

// AdamConfig describes a configuration of the Adam solver
type AdamConfig struct {
	StepSize float64
	Epsilon  float64 // Smoothing factor
	Beta1    float64
	Beta2    float64
}

// NewDefaultAdam returns a new Adam Solver with default hyperparameters
func NewDefaultAdam(stepSize float64) (*Solver, error) {
	return NewAdam(stepSize, 1e-8, 0.9, 0.999)
}

// NewAdam returns a new Adam Solver
func NewAdam(stepSize, epsilon, beta1, beta2 float64) (*Solver, error) {
	adam := AdamConfig{
		StepSize: stepSize,
		Epsilon:  epsilon,
		Beta1:    beta1,
		Beta2:    beta2,
	}

	return newSolver(Adam, adam)
}

// Create returns a new Adam stepper as described by the AdamConfig
func (a AdamConfig) Create() stepper {
	return &adam{
		lr:    a.StepSize,
		eps:   a.Epsilon,
		beta1: a.Beta1,
		beta2: a.Beta2,
	}
}

// ValidType returns if the given Solver type is a valid type to be
// created with this config.
func (a AdamConfig) ValidType(t Type) bool {
	return t == Adam
}

// adam implements the Adam update rule with explicit first and second
// moment buffers, one pair per model parameter, in model order.
type adam struct {
	lr, eps, beta1, beta2 float64

	t int
	m [][]float64
	v [][]float64
}

// adamState is the serialized form of the optimizer state.
type adamState struct {
	T int
	M [][]float64
	V [][]float64
}

func (a *adam) SetLearnRate(lr float64) { a.lr = lr }

// Step applies one Adam update to every parameter in the model. The
// moment buffers are sized lazily on the first step; a parameter-count
// or parameter-size change afterwards is an error.
func (a *adam) Step(model []G.ValueGrad) error {
	if a.m == nil {
		a.m = make([][]float64, len(model))
		a.v = make([][]float64, len(model))
	}
	if len(a.m) != len(model) {
		return fmt.Errorf("step: model has %v parameters, optimizer state "+
			"has %v", len(model), len(a.m))
	}

	a.t++
	corr1 := 1 - math.Pow(a.beta1, float64(a.t))
	corr2 := 1 - math.Pow(a.beta2, float64(a.t))

	for i, vg := range model {
		val := vg.Value().Data().([]float64)
		gradVal, err := vg.Grad()
		if err != nil {
			return fmt.Errorf("step: no gradient for parameter %v: %v", i, err)
		}
		grad := gradVal.Data().([]float64)

		if a.m[i] == nil {
			a.m[i] = make([]float64, len(val))
			a.v[i] = make([]float64, len(val))
		}
		if len(a.m[i]) != len(val) {
			return fmt.Errorf("step: parameter %v has %v elements, optimizer "+
				"state has %v", i, len(val), len(a.m[i]))
		}

		m, v := a.m[i], a.v[i]
		for j := range val {
			g := grad[j]
			m[j] = a.beta1*m[j] + (1-a.beta1)*g
			v[j] = a.beta2*v[j] + (1-a.beta2)*g*g

			mHat := m[j] / corr1
			vHat := v[j] / corr2
			val[j] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
		}
	}

	return nil
}

func (a *adam) State() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(adamState{T: a.t, M: a.m, V: a.v}); err != nil {
		return nil, fmt.Errorf("state: could not encode: %v", err)
	}
	return buf.Bytes(), nil
}

func (a *adam) SetState(state []byte) error {
	var s adamState
	dec := gob.NewDecoder(bytes.NewReader(state))
	if err := dec.Decode(&s); err != nil {
		return fmt.Errorf("setState: could not decode: %v", err)
	}

	a.t = s.T
	a.m = s.M
	a.v = s.V
	return nil
}
