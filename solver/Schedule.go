package solver

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"reflect"
)

// ScheduleType describes different types of learning rate schedules
type ScheduleType string

// Available schedule types
const (
	Constant     ScheduleType = "Constant"
	LinearWarmup ScheduleType = "LinearWarmup"
	Exponential  ScheduleType = "Exponential"
)

// ScheduleConfig describes a learning rate as a function of the
// training step.
type ScheduleConfig interface {
	At(step int) float64

	// ValidScheduleType returns whether a specific schedule type can
	// be created with the config
	ValidScheduleType(ScheduleType) bool
}

// Schedule is a stateful learning rate schedule. Its only state is the
// number of steps taken, which is serialized for checkpointing so that
// a resumed run continues the schedule exactly.
type Schedule struct {
	ScheduleType
	ScheduleConfig
	step int
}

func newSchedule(t ScheduleType, c ScheduleConfig) (*Schedule, error) {
	if !c.ValidScheduleType(t) {
		return nil, fmt.Errorf("newSchedule: invalid schedule type %v for "+
			"configuration %T", t, c)
	}
	return &Schedule{ScheduleType: t, ScheduleConfig: c}, nil
}

// Step advances the schedule by one training step.
func (s *Schedule) Step() { s.step++ }

// LR returns the learning rate for the current step.
func (s *Schedule) LR() float64 { return s.ScheduleConfig.At(s.step) }

// State returns the serialized schedule state.
func (s *Schedule) State() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.step); err != nil {
		return nil, fmt.Errorf("state: could not encode: %v", err)
	}
	return buf.Bytes(), nil
}

// SetState restores the schedule state exactly.
func (s *Schedule) SetState(state []byte) error {
	var step int
	if err := gob.NewDecoder(bytes.NewReader(state)).Decode(&step); err != nil {
		return fmt.Errorf("setState: could not decode: %v", err)
	}
	s.step = step
	return nil
}

// UnmarshalJSON implements the json.Unmarshaller interface
func (s *Schedule) UnmarshalJSON(data []byte) error {
	config, typeName, err := unmarshalConfig(
		data,
		"ScheduleType",
		"ScheduleConfig",
		map[string]reflect.Type{
			string(Constant):     reflect.TypeOf(ConstantConfig{}),
			string(LinearWarmup): reflect.TypeOf(LinearWarmupConfig{}),
			string(Exponential):  reflect.TypeOf(ExponentialConfig{}),
		})
	if err != nil {
		return err
	}

	s.ScheduleType = ScheduleType(typeName)
	s.ScheduleConfig = config.(ScheduleConfig)
	s.step = 0

	return nil
}

// ConstantConfig describes a fixed learning rate.
type ConstantConfig struct {
	LR float64
}

// NewConstantSchedule returns a schedule with a fixed learning rate.
func NewConstantSchedule(lr float64) (*Schedule, error) {
	return newSchedule(Constant, ConstantConfig{LR: lr})
}

// At returns the learning rate at the given step.
func (c ConstantConfig) At(int) float64 { return c.LR }

// ValidScheduleType returns if the given schedule type is valid for
// this config.
func (c ConstantConfig) ValidScheduleType(t ScheduleType) bool {
	return t == Constant
}

// LinearWarmupConfig describes a learning rate that ramps linearly
// from zero to LR over WarmupSteps steps and stays constant after.
type LinearWarmupConfig struct {
	LR          float64
	WarmupSteps int
}

// NewLinearWarmupSchedule returns a linear warmup schedule.
func NewLinearWarmupSchedule(lr float64, warmupSteps int) (*Schedule, error) {
	return newSchedule(LinearWarmup,
		LinearWarmupConfig{LR: lr, WarmupSteps: warmupSteps})
}

// At returns the learning rate at the given step.
func (c LinearWarmupConfig) At(step int) float64 {
	if c.WarmupSteps <= 0 || step >= c.WarmupSteps {
		return c.LR
	}
	return c.LR * float64(step) / float64(c.WarmupSteps)
}

// ValidScheduleType returns if the given schedule type is valid for
// this config.
func (c LinearWarmupConfig) ValidScheduleType(t ScheduleType) bool {
	return t == LinearWarmup
}

// ExponentialConfig describes a learning rate that decays by a
// multiplicative factor every step.
type ExponentialConfig struct {
	LR    float64
	Decay float64
}

// NewExponentialSchedule returns an exponentially decaying schedule.
func NewExponentialSchedule(lr, decay float64) (*Schedule, error) {
	return newSchedule(Exponential, ExponentialConfig{LR: lr, Decay: decay})
}

// At returns the learning rate at the given step.
func (c ExponentialConfig) At(step int) float64 {
	return c.LR * math.Pow(c.Decay, float64(step))
}

// ValidScheduleType returns if the given schedule type is valid for
// this config.
func (c ExponentialConfig) ValidScheduleType(t ScheduleType) bool {
	return t == Exponential
}
