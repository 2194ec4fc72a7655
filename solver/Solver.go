// Package solver implements JSON-serializable optimizers and learning
// rate schedules for gradient-based training. Solvers operate on the
// []G.ValueGrad model representation exposed by learners and keep
// their internal state explicitly, so that it can be checkpointed and
// restored exactly and the learning rate can be driven by a schedule.
package solver

import (
	"encoding/json"
	"fmt"
	"reflect"

	G "gorgonia.org/gorgonia"
)

// Type describes different types of solvers that are available
type Type string

// Available solver types
const (
	Adam    Type = "Adam"
	Vanilla Type = "Vanilla"
)

// stepper performs the actual parameter updates for a solver and owns
// any internal optimizer state.
type stepper interface {
	Step(model []G.ValueGrad) error
	State() ([]byte, error)
	SetState([]byte) error
	SetLearnRate(float64)
}

// Solver wraps a concrete optimizer so that it can be JSON marshalled
// and unmarshalled as part of a configuration file, while exposing
// explicit optimizer state for checkpointing.
type Solver struct {
	impl stepper
	Type
	Config
}

// newSolver returns a new solver with the given type and configuration.
func newSolver(t Type, c Config) (*Solver, error) {
	if !c.ValidType(t) {
		return nil, fmt.Errorf("newSolver: invalid solver type %v for "+
			"configuration %T", t, c)
	}
	solver := Solver{Type: t, Config: c}
	solver.impl = solver.Config.Create()

	return &solver, nil
}

// Step applies one optimizer update to the model parameters using the
// gradients currently accumulated on them.
func (s *Solver) Step(model []G.ValueGrad) error {
	return s.impl.Step(model)
}

// State returns the serialized optimizer state.
func (s *Solver) State() ([]byte, error) {
	return s.impl.State()
}

// SetState restores the optimizer state exactly. Restoration is
// strict: state saved by a different solver configuration is an error.
func (s *Solver) SetState(state []byte) error {
	return s.impl.SetState(state)
}

// SetLearnRate overrides the solver's learning rate, typically from a
// Schedule once per training step.
func (s *Solver) SetLearnRate(lr float64) {
	s.impl.SetLearnRate(lr)
}

// UnmarshalJSON implements the json.Unmarshaller interface
func (s *Solver) UnmarshalJSON(data []byte) error {
	config, typeName, err := unmarshalConfig(
		data,
		"Type",
		"Config",
		map[string]reflect.Type{
			string(Vanilla): reflect.TypeOf(VanillaConfig{}),
			string(Adam):    reflect.TypeOf(AdamConfig{}),
		})
	if err != nil {
		return err
	}

	s.Type = Type(typeName)
	s.Config = config.(Config)
	s.impl = s.Config.Create()

	return nil
}

// unmarshalConfig uses reflection to unmarshall a configuration into
// its concrete type. Both the configuration and its type name are
// returned.
func unmarshalConfig(data []byte, typeJsonField, valueJsonField string,
	customTypes map[string]reflect.Type) (interface{}, string, error) {
	m := map[string]interface{}{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, "", err
	}

	typeName, ok := m[typeJsonField].(string)
	if !ok {
		return nil, "", fmt.Errorf("unmarshalConfig: missing %v field",
			typeJsonField)
	}
	ty, found := customTypes[typeName]
	if !found {
		return nil, "", fmt.Errorf("unmarshalConfig: unknown type %v",
			typeName)
	}
	value := reflect.New(ty).Interface()

	valueBytes, err := json.Marshal(m[valueJsonField])
	if err != nil {
		return nil, "", err
	}

	if err = json.Unmarshal(valueBytes, value); err != nil {
		return nil, "", err
	}

	return reflect.ValueOf(value).Elem().Interface(), typeName, nil
}

// Config implements a solver configuration and can be used to create
// the solver it describes.
type Config interface {
	Create() stepper

	// ValidType returns whether a specific Solver type can be created
	// with the Config
	ValidType(Type) bool
}
