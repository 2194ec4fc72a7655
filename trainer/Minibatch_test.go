package trainer

import (
	"testing"

	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"

	"github.com/pranav-putta/bcnav/episode"
)

// countingLearner records the sync flag of every ForwardBackward call.
type countingLearner struct {
	syncs  []bool
	losses []float64
}

func (l *countingLearner) ForwardBackward(samples []episode.Subsequence,
	sync bool) (float64, error) {
	l.syncs = append(l.syncs, sync)
	loss := float64(len(l.syncs))
	l.losses = append(l.losses, loss)
	return loss, nil
}

func (l *countingLearner) Model() []G.ValueGrad { return nil }

// countingSolver counts optimizer steps.
type countingSolver struct {
	steps int
}

func (s *countingSolver) Step([]G.ValueGrad) error {
	s.steps++
	return nil
}

func TestSchedulerSyncsOncePerChunkAndStepsOncePerBatch(t *testing.T) {
	solver := &countingSolver{}
	sched := &Scheduler{
		BatchSize:     16,
		MinibatchSize: 4,
		NumGradAccums: 2,
		Solver:        solver,
	}

	learner := &countingLearner{}
	samples := make([]episode.Subsequence, 16)
	rng := rand.New(rand.NewSource(7))

	loss, err := sched.Run(rng, samples, learner)
	if err != nil {
		t.Fatal(err)
	}

	// 16/4 = 4 minibatches in chunks of 2: sync fires on the last
	// minibatch of each chunk only.
	wantSyncs := []bool{false, true, false, true}
	if len(learner.syncs) != len(wantSyncs) {
		t.Fatalf("wrong minibatch count \n\twant(%v)\n\thave(%v)",
			len(wantSyncs), len(learner.syncs))
	}
	for i, want := range wantSyncs {
		if learner.syncs[i] != want {
			t.Errorf("minibatch %v sync \n\twant(%v)\n\thave(%v)", i, want,
				learner.syncs[i])
		}
	}

	if solver.steps != 1 {
		t.Errorf("wrong optimizer step count \n\twant(%v)\n\thave(%v)", 1,
			solver.steps)
	}

	// Losses were 1, 2, 3, 4, so the reported loss is their mean.
	if loss != 2.5 {
		t.Errorf("wrong loss \n\twant(%v)\n\thave(%v)", 2.5, loss)
	}
}

func TestSchedulerValidate(t *testing.T) {
	solver := &countingSolver{}

	bad := []Scheduler{
		{BatchSize: 15, MinibatchSize: 4, NumGradAccums: 1, Solver: solver},
		{BatchSize: 16, MinibatchSize: 4, NumGradAccums: 3, Solver: solver},
		{BatchSize: 16, MinibatchSize: 4, NumGradAccums: 1},
		{BatchSize: 0, MinibatchSize: 4, NumGradAccums: 1, Solver: solver},
	}
	for i, s := range bad {
		if err := s.Validate(); err == nil {
			t.Errorf("scheduler %v should not validate", i)
		}
	}

	good := Scheduler{BatchSize: 16, MinibatchSize: 4, NumGradAccums: 2,
		Solver: solver}
	if err := good.Validate(); err != nil {
		t.Errorf("scheduler should validate: %v", err)
	}
}

func TestSchedulerRejectsWrongBatchSize(t *testing.T) {
	sched := &Scheduler{
		BatchSize:     8,
		MinibatchSize: 4,
		NumGradAccums: 1,
		Solver:        &countingSolver{},
	}

	rng := rand.New(rand.NewSource(7))
	_, err := sched.Run(rng, make([]episode.Subsequence, 4),
		&countingLearner{})
	if err == nil {
		t.Error("expected an error for a short batch")
	}
}
