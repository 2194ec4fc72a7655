// Package rollout implements a multi-environment circular buffer of a
// fixed step horizon. The buffer records per-step observations,
// actions, rewards and done flags during online rollout collection,
// and segments its contents into per-episode slices at done boundaries
// for downstream sequence construction.
package rollout

import (
	"fmt"

	"github.com/pranav-putta/bcnav/episode"
	"gorgonia.org/tensor"
)

// Device identifies where the storage buffers currently reside.
type Device int

const (
	Host Device = iota
	Accelerator
)

func (d Device) String() string {
	switch d {
	case Host:
		return "Host"
	case Accelerator:
		return "Accelerator"
	default:
		return fmt.Sprintf("Device(%d)", int(d))
	}
}

// Transition carries the fields that describe the transition which
// just completed. Each field may be nil, in which case nothing is
// recorded for it. Non-nil fields must have one entry per environment.
type Transition struct {
	Dones     []bool
	Actions   []int
	Rewards   []float64
	Successes []bool
}

// Storage is a per-run, fixed-capacity rollout buffer. Each
// environment owns a ring of maxSteps+1 slots; a single cursor shared
// across all environments advances once per Insert call.
//
// Slot 0 always holds the carry-over state from the end of the
// previous horizon, which lets consecutive collection windows continue
// a trajectory without re-observing the environment.
type Storage struct {
	numEnvs    int
	maxSteps   int
	frameShape []int
	frameSize  int
	device     Device

	rgbs  *tensor.Dense // [numEnvs, maxSteps+1, frame...]
	goals *tensor.Dense // [numEnvs, maxSteps+1, frame...]

	actions   []int
	dones     []bool
	rewards   []float64
	successes []bool

	// cursor is -1 until the first observation is inserted
	cursor int
}

// Option configures a Storage at construction.
type Option func(*Storage)

// WithDevice sets the device the buffers are considered resident on.
func WithDevice(d Device) Option {
	return func(s *Storage) { s.device = d }
}

// New allocates a Storage for numEnvs environments and a horizon of
// maxSteps steps. The frameShape parameter gives the per-step frame
// dimensions, e.g. [tokens, hidden] for embedded frames. The buffer is
// allocated once and never resized.
func New(numEnvs, maxSteps int, frameShape []int, opts ...Option) (*Storage,
	error) {
	if numEnvs < 1 {
		return nil, fmt.Errorf("new: numEnvs must be >= 1")
	}
	if maxSteps < 1 {
		return nil, fmt.Errorf("new: maxSteps must be >= 1")
	}
	frameSize := tensor.Shape(frameShape).TotalSize()
	if frameSize < 1 {
		return nil, fmt.Errorf("new: invalid frame shape %v", frameShape)
	}

	shape := append([]int{numEnvs, maxSteps + 1}, frameShape...)
	slots := numEnvs * (maxSteps + 1)

	s := &Storage{
		numEnvs:    numEnvs,
		maxSteps:   maxSteps,
		frameShape: append([]int(nil), frameShape...),
		frameSize:  frameSize,
		device:     Host,

		rgbs: tensor.New(tensor.WithShape(shape...),
			tensor.WithBacking(make([]float64, slots*frameSize))),
		goals: tensor.New(tensor.WithShape(shape...),
			tensor.WithBacking(make([]float64, slots*frameSize))),

		actions:   make([]int, slots),
		dones:     make([]bool, slots),
		rewards:   make([]float64, slots),
		successes: make([]bool, slots),

		cursor: -1,
	}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NumEnvs returns the number of environments the buffer records.
func (s *Storage) NumEnvs() int { return s.numEnvs }

// MaxSteps returns the fixed step horizon.
func (s *Storage) MaxSteps() int { return s.maxSteps }

// Cursor returns the shared step cursor. It is -1 before the first
// Insert of a run.
func (s *Storage) Cursor() int { return s.cursor }

// Device returns where the buffers currently reside.
func (s *Storage) Device() Device { return s.device }

// slot returns the flat index of step t for environment b.
func (s *Storage) slot(b, t int) int {
	return b*(s.maxSteps+1) + t
}

// Insert writes the next observations at cursor+1 and the transition
// fields, if given, at the current cursor, then advances the cursor.
// Observations are indexed by the step they arrive at; done, action,
// reward and success describe the transition into that step and so are
// recorded against the prior index.
//
// Inserting past the horizon is a fatal contract violation: the
// returned error satisfies IsOverrun and must not be ignored.
func (s *Storage) Insert(nextRgbs, nextGoals *tensor.Dense,
	tr *Transition) error {
	if s.cursor >= s.maxSteps {
		return &StorageError{Op: "insert", Err: errOverrun}
	}

	wantShape := append([]int{s.numEnvs}, s.frameShape...)
	if !nextRgbs.Shape().Eq(tensor.Shape(wantShape)) {
		return fmt.Errorf("insert: invalid rgb shape \n\twant(%v)\n\thave(%v)",
			wantShape, nextRgbs.Shape())
	}
	if !nextGoals.Shape().Eq(tensor.Shape(wantShape)) {
		return fmt.Errorf("insert: invalid goal shape \n\twant(%v)\n\thave(%v)",
			wantShape, nextGoals.Shape())
	}
	if tr != nil && s.cursor < 0 {
		return &StorageError{Op: "insert", Err: errNoTransition}
	}
	if err := tr.validate(s.numEnvs); err != nil {
		return fmt.Errorf("insert: %v", err)
	}

	rgbDst := s.rgbs.Data().([]float64)
	goalDst := s.goals.Data().([]float64)
	rgbSrc := nextRgbs.Data().([]float64)
	goalSrc := nextGoals.Data().([]float64)

	for b := 0; b < s.numEnvs; b++ {
		dst := s.slot(b, s.cursor+1) * s.frameSize
		src := b * s.frameSize
		copy(rgbDst[dst:dst+s.frameSize], rgbSrc[src:src+s.frameSize])
		copy(goalDst[dst:dst+s.frameSize], goalSrc[src:src+s.frameSize])
	}

	if tr != nil {
		for b := 0; b < s.numEnvs; b++ {
			at := s.slot(b, s.cursor)
			if tr.Dones != nil {
				s.dones[at] = tr.Dones[b]
			}
			if tr.Actions != nil {
				s.actions[at] = tr.Actions[b]
			}
			if tr.Rewards != nil {
				s.rewards[at] = tr.Rewards[b]
			}
			if tr.Successes != nil {
				s.successes[at] = tr.Successes[b]
			}
		}
	}

	s.cursor++
	return nil
}

func (tr *Transition) validate(numEnvs int) error {
	if tr == nil {
		return nil
	}
	if tr.Dones != nil && len(tr.Dones) != numEnvs {
		return fmt.Errorf("expected %v dones, got %v", numEnvs, len(tr.Dones))
	}
	if tr.Actions != nil && len(tr.Actions) != numEnvs {
		return fmt.Errorf("expected %v actions, got %v", numEnvs,
			len(tr.Actions))
	}
	if tr.Rewards != nil && len(tr.Rewards) != numEnvs {
		return fmt.Errorf("expected %v rewards, got %v", numEnvs,
			len(tr.Rewards))
	}
	if tr.Successes != nil && len(tr.Successes) != numEnvs {
		return fmt.Errorf("expected %v successes, got %v", numEnvs,
			len(tr.Successes))
	}
	return nil
}

// Reset copies the final observation of the just-finished horizon into
// slot 0 and rewinds the cursor, beginning a new horizon that
// continues the trajectory without re-querying the environment.
func (s *Storage) Reset() {
	rgbs := s.rgbs.Data().([]float64)
	goals := s.goals.Data().([]float64)

	for b := 0; b < s.numEnvs; b++ {
		last := s.slot(b, s.maxSteps) * s.frameSize
		first := s.slot(b, 0) * s.frameSize
		copy(rgbs[first:first+s.frameSize], rgbs[last:last+s.frameSize])
		copy(goals[first:first+s.frameSize], goals[last:last+s.frameSize])
	}

	s.cursor = 0
}

// Samples holds per-episode slices of the six rollout buffers as
// parallel sequences aligned by sample index.
type Samples struct {
	Rgbs      []*tensor.Dense
	Goals     []*tensor.Dense
	Actions   [][]int
	Rewards   [][]float64
	Dones     [][]bool
	Successes [][]bool
}

// Len returns the number of episode slices.
func (s *Samples) Len() int { return len(s.Rgbs) }

// Episodes converts the parallel slices into episode values for the
// sequence builder.
func (s *Samples) Episodes() []episode.Episode {
	eps := make([]episode.Episode, s.Len())
	for i := range eps {
		eps[i] = episode.Episode{
			Rgbs:      s.Rgbs[i],
			Goals:     s.Goals[i],
			Actions:   s.Actions[i],
			Rewards:   s.Rewards[i],
			Dones:     s.Dones[i],
			Successes: s.Successes[i],
		}
	}
	return eps
}

// GenerateSamples slices the recorded horizon into individual episode
// segments at done boundaries. For each environment, done indices
// within [0, maxSteps-1] act as segment ends; a virtual boundary is
// prepended at -1 and, when the horizon ends without a terminal done,
// appended at maxSteps-1. Segments are half-open (prev, this] ranges,
// so their union always reconstructs [0, maxSteps-1] with no gaps or
// overlaps, regardless of how many done events occurred.
func (s *Storage) GenerateSamples() *Samples {
	out := &Samples{}
	rgbs := s.rgbs.Data().([]float64)
	goals := s.goals.Data().([]float64)

	for b := 0; b < s.numEnvs; b++ {
		ends := []int{-1}
		for t := 0; t < s.maxSteps; t++ {
			if s.dones[s.slot(b, t)] {
				ends = append(ends, t)
			}
		}
		if ends[len(ends)-1] != s.maxSteps-1 {
			ends = append(ends, s.maxSteps-1)
		}

		for i := 0; i < len(ends)-1; i++ {
			start, stop := ends[i]+1, ends[i+1]+1
			n := stop - start
			shape := append([]int{n}, s.frameShape...)

			from := s.slot(b, start)
			to := s.slot(b, stop)

			segRgbs := make([]float64, n*s.frameSize)
			segGoals := make([]float64, n*s.frameSize)
			copy(segRgbs, rgbs[from*s.frameSize:to*s.frameSize])
			copy(segGoals, goals[from*s.frameSize:to*s.frameSize])

			out.Rgbs = append(out.Rgbs, tensor.New(
				tensor.WithShape(shape...), tensor.WithBacking(segRgbs)))
			out.Goals = append(out.Goals, tensor.New(
				tensor.WithShape(shape...), tensor.WithBacking(segGoals)))
			out.Actions = append(out.Actions,
				append([]int(nil), s.actions[from:to]...))
			out.Rewards = append(out.Rewards,
				append([]float64(nil), s.rewards[from:to]...))
			out.Dones = append(out.Dones,
				append([]bool(nil), s.dones[from:to]...))
			out.Successes = append(out.Successes,
				append([]bool(nil), s.successes[from:to]...))
		}
	}

	return out
}

// ToHost relocates all buffers to host memory. The relocation is a
// no-op with respect to content and shape, but it must be observable:
// the backing arrays are reallocated and rebound in place and the
// device tag flipped, rather than copies being made and discarded.
func (s *Storage) ToHost() {
	if s.device == Host {
		return
	}

	s.rgbs = rehome(s.rgbs)
	s.goals = rehome(s.goals)
	s.actions = append([]int(nil), s.actions...)
	s.dones = append([]bool(nil), s.dones...)
	s.rewards = append([]float64(nil), s.rewards...)
	s.successes = append([]bool(nil), s.successes...)
	s.device = Host
}

// rehome copies a tensor into a freshly allocated host backing.
func rehome(t *tensor.Dense) *tensor.Dense {
	backing := append([]float64(nil), t.Data().([]float64)...)
	return tensor.New(tensor.WithShape(t.Shape()...),
		tensor.WithBacking(backing))
}

// RgbAt returns a copy of the frame recorded for environment b at
// step t. Exported for tests and debugging.
func (s *Storage) RgbAt(b, t int) []float64 {
	start := s.slot(b, t) * s.frameSize
	return append([]float64(nil),
		s.rgbs.Data().([]float64)[start:start+s.frameSize]...)
}

// GoalAt returns a copy of the goal frame recorded for environment b
// at step t.
func (s *Storage) GoalAt(b, t int) []float64 {
	start := s.slot(b, t) * s.frameSize
	return append([]float64(nil),
		s.goals.Data().([]float64)[start:start+s.frameSize]...)
}
