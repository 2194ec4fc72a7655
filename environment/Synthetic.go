package environment

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gorgonia.org/tensor"
)

// Synthetic action set.
const (
	ActionStop = iota
	ActionForward
	ActionBackward
	NumSyntheticActions
)

// Synthetic is a seeded point-goal navigation task on a line segment,
// used by the debug harness and the tests. The agent starts at a
// random position, observes its own position and the goal position as
// constant frames, and must call stop near the goal. It needs no
// external simulator and is fully deterministic given its seed.
type Synthetic struct {
	numEnvs    int
	frameShape []int
	maxLen     int
	rng        *rand.Rand

	pos   []float64
	goal  []float64
	steps []int
}

// NewSynthetic returns a Synthetic with numEnvs parallel scenes
// emitting frames of the given shape. Episodes end on stop or after
// maxLen steps.
func NewSynthetic(numEnvs int, frameShape []int, maxLen int,
	seed uint64) (*Synthetic, error) {
	if numEnvs < 1 {
		return nil, fmt.Errorf("newSynthetic: need >= 1 env")
	}
	if maxLen < 1 {
		return nil, fmt.Errorf("newSynthetic: need >= 1 step episodes")
	}
	if tensor.Shape(frameShape).TotalSize() < 1 {
		return nil, fmt.Errorf("newSynthetic: invalid frame shape %v",
			frameShape)
	}

	return &Synthetic{
		numEnvs:    numEnvs,
		frameShape: append([]int(nil), frameShape...),
		maxLen:     maxLen,
		rng:        rand.New(rand.NewSource(seed)),
		pos:        make([]float64, numEnvs),
		goal:       make([]float64, numEnvs),
		steps:      make([]int, numEnvs),
	}, nil
}

func (s *Synthetic) NumEnvs() int { return s.numEnvs }

func (s *Synthetic) Reset() ([]Observation, error) {
	obs := make([]Observation, s.numEnvs)
	for i := range obs {
		s.resetScene(i)
		obs[i] = s.observe(i)
	}
	return obs, nil
}

func (s *Synthetic) resetScene(i int) {
	s.pos[i] = s.rng.Float64()
	s.goal[i] = s.rng.Float64()
	s.steps[i] = 0
}

// observe renders the scene as constant-valued frames: every element
// of the rgb frame holds the agent position, every element of the goal
// frame holds the goal position.
func (s *Synthetic) observe(i int) Observation {
	size := tensor.Shape(s.frameShape).TotalSize()
	rgb := make([]float64, size)
	goal := make([]float64, size)
	for j := 0; j < size; j++ {
		rgb[j] = s.pos[i]
		goal[j] = s.goal[i]
	}
	return Observation{
		Rgb: tensor.New(tensor.WithShape(s.frameShape...),
			tensor.WithBacking(rgb)),
		ImageGoal: tensor.New(tensor.WithShape(s.frameShape...),
			tensor.WithBacking(goal)),
	}
}

const (
	syntheticStride = 0.05

	// SuccessRadius is the stop distance that counts as reaching the
	// goal.
	SuccessRadius = 0.1
)

func (s *Synthetic) Step(actions []int) ([]Observation, []float64, []bool,
	[]Info, error) {
	if len(actions) != s.numEnvs {
		return nil, nil, nil, nil, fmt.Errorf("step: invalid action count "+
			"\n\twant(%v)\n\thave(%v)", s.numEnvs, len(actions))
	}

	obs := make([]Observation, s.numEnvs)
	rewards := make([]float64, s.numEnvs)
	dones := make([]bool, s.numEnvs)
	infos := make([]Info, s.numEnvs)

	for i, a := range actions {
		before := dist(s.pos[i], s.goal[i])

		switch a {
		case ActionStop:
			dones[i] = true
			if before <= SuccessRadius {
				rewards[i] = 1
			}
		case ActionForward:
			s.pos[i] += syntheticStride
			if s.pos[i] > 1 {
				s.pos[i] = 1
			}
		case ActionBackward:
			s.pos[i] -= syntheticStride
			if s.pos[i] < 0 {
				s.pos[i] = 0
			}
		default:
			return nil, nil, nil, nil, fmt.Errorf("step: invalid action %v",
				a)
		}

		after := dist(s.pos[i], s.goal[i])
		if !dones[i] {
			rewards[i] = before - after
			s.steps[i]++
			if s.steps[i] >= s.maxLen {
				dones[i] = true
			}
		}

		infos[i] = Info{DistanceToGoal: after}
		if dones[i] {
			s.resetScene(i)
		}
		obs[i] = s.observe(i)
	}

	return obs, rewards, dones, infos, nil
}

func (s *Synthetic) Close() error { return nil }

func dist(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
