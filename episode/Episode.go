// Package episode implements the data model for expert navigation
// trajectories and the construction of fixed-length padded training
// subsequences from them.
package episode

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Episode holds a single variable-length trajectory. Frames and goal
// images are stored as [L, frame...] tensors where L is the episode
// length and frame... are the per-step frame dimensions. The remaining
// per-step fields are parallel slices of length L.
//
// Episodes are produced by the simulator collection loop or by the
// offline dataset loader and are consumed read-only.
type Episode struct {
	Rgbs      *tensor.Dense
	Goals     *tensor.Dense
	Actions   []int
	Rewards   []float64
	Dones     []bool
	Successes []bool
}

// Len returns the number of steps in the episode.
func (e Episode) Len() int {
	if e.Rgbs == nil {
		return 0
	}
	return e.Rgbs.Shape()[0]
}

// FrameShape returns the per-step frame dimensions.
func (e Episode) FrameShape() []int {
	return e.Rgbs.Shape()[1:]
}

// FrameSize returns the number of elements in a single frame.
func (e Episode) FrameSize() int {
	return tensor.Shape(e.FrameShape()).TotalSize()
}

// Slice returns a copy of the steps in [start, end). The returned
// episode shares no backing memory with the receiver.
func (e Episode) Slice(start, end int) (Episode, error) {
	if start < 0 || end > e.Len() || start >= end {
		return Episode{}, fmt.Errorf("slice: invalid range [%v, %v) for "+
			"episode of length %v", start, end, e.Len())
	}

	n := end - start
	fs := e.FrameSize()
	shape := append([]int{n}, e.FrameShape()...)

	rgbs := make([]float64, n*fs)
	goals := make([]float64, n*fs)
	copy(rgbs, e.Rgbs.Data().([]float64)[start*fs:end*fs])
	copy(goals, e.Goals.Data().([]float64)[start*fs:end*fs])

	out := Episode{
		Rgbs:  tensor.New(tensor.WithShape(shape...), tensor.WithBacking(rgbs)),
		Goals: tensor.New(tensor.WithShape(shape...), tensor.WithBacking(goals)),
	}

	if e.Actions != nil {
		out.Actions = append([]int(nil), e.Actions[start:end]...)
	}
	if e.Rewards != nil {
		out.Rewards = append([]float64(nil), e.Rewards[start:end]...)
	}
	if e.Dones != nil {
		out.Dones = append([]bool(nil), e.Dones[start:end]...)
	}
	if e.Successes != nil {
		out.Successes = append([]bool(nil), e.Successes[start:end]...)
	}

	return out, nil
}
