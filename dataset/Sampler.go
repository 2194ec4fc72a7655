package dataset

import (
	"fmt"

	"golang.org/x/exp/rand"
)

// SamplerState is the checkpointed position of a ResumableSampler.
// Restoring it reproduces the exact remaining visit order of the
// current epoch.
type SamplerState struct {
	Seed   uint64
	Perm   []int
	Cursor int
}

// ResumableSampler yields dataset indices in a random order, one full
// permutation per epoch, and can save and restore its position so a
// resumed run continues sampling where it left off.
type ResumableSampler struct {
	n      int
	seed   uint64
	rng    *rand.Rand
	perm   []int
	cursor int
}

// NewResumableSampler returns a sampler over n episodes.
func NewResumableSampler(n int, seed uint64) (*ResumableSampler, error) {
	if n < 1 {
		return nil, fmt.Errorf("newResumableSampler: n must be >= 1")
	}
	rng := rand.New(rand.NewSource(seed))
	return &ResumableSampler{
		n:    n,
		seed: seed,
		rng:  rng,
		perm: rng.Perm(n),
	}, nil
}

// Next returns the next batch of indices. The second return value
// reports whether an epoch boundary was crossed while drawing this
// batch; the permutation is reshuffled at each boundary.
func (s *ResumableSampler) Next(batch int) ([]int, bool) {
	idxs := make([]int, 0, batch)
	wrapped := false

	for len(idxs) < batch {
		if s.cursor >= s.n {
			s.perm = s.rng.Perm(s.n)
			s.cursor = 0
			wrapped = true
		}
		idxs = append(idxs, s.perm[s.cursor])
		s.cursor++
	}

	return idxs, wrapped
}

// State returns the sampler's current position for checkpointing.
func (s *ResumableSampler) State() SamplerState {
	return SamplerState{
		Seed:   s.seed,
		Perm:   append([]int(nil), s.perm...),
		Cursor: s.cursor,
	}
}

// Restore resets the sampler to a checkpointed position. Restoration
// is strict: state from a different dataset size is an error, since
// resuming with an inconsistent sampler is worse than failing.
func (s *ResumableSampler) Restore(state SamplerState) error {
	if len(state.Perm) != s.n {
		return fmt.Errorf("restore: state permutation covers %v episodes, "+
			"dataset has %v", len(state.Perm), s.n)
	}
	if state.Cursor < 0 || state.Cursor > s.n {
		return fmt.Errorf("restore: cursor %v out of range [0, %v]",
			state.Cursor, s.n)
	}

	s.seed = state.Seed
	s.rng = rand.New(rand.NewSource(state.Seed))
	s.perm = append([]int(nil), state.Perm...)
	s.cursor = state.Cursor
	return nil
}
