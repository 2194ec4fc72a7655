package trainer

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	G "gorgonia.org/gorgonia"

	"github.com/pranav-putta/bcnav/distrib"
	"github.com/pranav-putta/bcnav/episode"
	"github.com/pranav-putta/bcnav/policy"
)

// SyncLearner adapts a policy model into a Learner for the minibatch
// scheduler and averages gradients across a training group when a
// synchronizing minibatch completes. With a group of size 1 the
// all-reduce degenerates to a no-op sum and the scale is 1, so single
// worker training takes the same code path.
type SyncLearner struct {
	model     policy.Model
	reducer   distrib.AllReducer
	worldSize int
}

// NewSyncLearner wraps model for a training group of worldSize workers
// sharing reducer.
func NewSyncLearner(model policy.Model, reducer distrib.AllReducer,
	worldSize int) (*SyncLearner, error) {
	if model == nil {
		return nil, fmt.Errorf("newSyncLearner: no model")
	}
	if reducer == nil {
		return nil, fmt.Errorf("newSyncLearner: no reducer")
	}
	if worldSize < 1 {
		return nil, fmt.Errorf("newSyncLearner: world size must be "+
			">= 1, got %v", worldSize)
	}
	return &SyncLearner{
		model:     model,
		reducer:   reducer,
		worldSize: worldSize,
	}, nil
}

// ForwardBackward accumulates gradients for one minibatch and, when
// sync is set, replaces every gradient with the group mean.
func (l *SyncLearner) ForwardBackward(samples []episode.Subsequence,
	sync bool) (float64, error) {
	loss, err := l.model.ForwardBackward(samples)
	if err != nil {
		return 0, err
	}

	if sync {
		if err := l.syncGrads(); err != nil {
			return 0, err
		}
	}
	return loss, nil
}

func (l *SyncLearner) syncGrads() error {
	scale := 1 / float64(l.worldSize)
	for i, vg := range l.model.Model() {
		gradVal, err := vg.Grad()
		if err != nil {
			return fmt.Errorf("syncGrads: no gradient for parameter "+
				"%v: %v", i, err)
		}
		grad := gradVal.Data().([]float64)
		if err := l.reducer.AllReduce(grad); err != nil {
			return fmt.Errorf("syncGrads: could not reduce parameter "+
				"%v: %v", i, err)
		}
		floats.Scale(scale, grad)
	}
	return nil
}

func (l *SyncLearner) Model() []G.ValueGrad { return l.model.Model() }
