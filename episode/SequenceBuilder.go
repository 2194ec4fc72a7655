package episode

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gorgonia.org/tensor"
)

// Subsequence is a fixed-length padded slice of one episode, ready for
// batched training. Rgbs and Goals have shape [T, frame...], Actions
// and Mask have length T. Mask is true for the first ValidSteps()
// positions and false thereafter; padded positions hold exact zeros.
//
// The mask is the single source of truth for which steps are valid:
// any reduction over the time axis (loss, pooled embeddings) must
// index or multiply by it before aggregating.
type Subsequence struct {
	Rgbs    *tensor.Dense
	Goals   *tensor.Dense
	Actions []int
	Mask    []bool
}

// ValidSteps returns the number of non-padded steps in the subsequence.
func (s Subsequence) ValidSteps() int {
	n := 0
	for _, m := range s.Mask {
		if !m {
			break
		}
		n++
	}
	return n
}

// Horizon returns the fixed sequence length T.
func (s Subsequence) Horizon() int {
	return len(s.Mask)
}

// Build pads a single episode of length L <= horizon into a
// Subsequence of exactly horizon steps. An episode longer than the
// horizon is a contract violation: upstream collection must bound
// episode length, so Build errors rather than truncating.
func Build(ep Episode, horizon int) (Subsequence, error) {
	l := ep.Len()
	if l == 0 {
		return Subsequence{}, fmt.Errorf("build: cannot build a subsequence " +
			"from an empty episode")
	}
	if l > horizon {
		return Subsequence{}, fmt.Errorf("build: episode length (%v) exceeds "+
			"horizon (%v)", l, horizon)
	}

	fs := ep.FrameSize()
	shape := append([]int{horizon}, ep.FrameShape()...)

	rgbs := make([]float64, horizon*fs)
	goals := make([]float64, horizon*fs)
	copy(rgbs[:l*fs], ep.Rgbs.Data().([]float64))
	copy(goals[:l*fs], ep.Goals.Data().([]float64))

	actions := make([]int, horizon)
	copy(actions[:l], ep.Actions)

	mask := make([]bool, horizon)
	for i := 0; i < l; i++ {
		mask[i] = true
	}

	return Subsequence{
		Rgbs:    tensor.New(tensor.WithShape(shape...), tensor.WithBacking(rgbs)),
		Goals:   tensor.New(tensor.WithShape(shape...), tensor.WithBacking(goals)),
		Actions: actions,
		Mask:    mask,
	}, nil
}

// BuildBatch pads a batch of episodes to the same horizon.
func BuildBatch(eps []Episode, horizon int) ([]Subsequence, error) {
	out := make([]Subsequence, len(eps))
	for i, ep := range eps {
		sub, err := Build(ep, horizon)
		if err != nil {
			return nil, fmt.Errorf("buildBatch: episode %v: %v", i, err)
		}
		out[i] = sub
	}
	return out, nil
}

// SampleSubsequences draws batchSize padded subsequences from a set of
// episodes. Episodes no longer than the horizon are taken whole;
// longer episodes contribute a window of horizon steps at a uniformly
// random offset, which is how the horizon bound required by Build is
// enforced upstream.
func SampleSubsequences(rng *rand.Rand, batchSize, horizon int,
	eps []Episode) ([]Subsequence, error) {
	if len(eps) == 0 {
		return nil, fmt.Errorf("sampleSubsequences: no episodes to sample from")
	}

	out := make([]Subsequence, batchSize)
	for i := 0; i < batchSize; i++ {
		ep := eps[rng.Intn(len(eps))]

		if ep.Len() > horizon {
			start := rng.Intn(ep.Len() - horizon + 1)
			window, err := ep.Slice(start, start+horizon)
			if err != nil {
				return nil, fmt.Errorf("sampleSubsequences: %v", err)
			}
			ep = window
		}

		sub, err := Build(ep, horizon)
		if err != nil {
			return nil, fmt.Errorf("sampleSubsequences: %v", err)
		}
		out[i] = sub
	}

	return out, nil
}
