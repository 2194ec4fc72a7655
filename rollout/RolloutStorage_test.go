package rollout

import (
	"testing"

	"gorgonia.org/tensor"
)

// obsBatch returns a [numEnvs, 2] observation batch where the frame of
// environment b holds the value b*100 + step, so any slot can be
// traced back to the insert that wrote it.
func obsBatch(numEnvs, step int) *tensor.Dense {
	data := make([]float64, numEnvs*2)
	for b := 0; b < numEnvs; b++ {
		data[2*b] = float64(b*100 + step)
		data[2*b+1] = float64(b*100 + step)
	}
	return tensor.New(tensor.WithShape(numEnvs, 2),
		tensor.WithBacking(data))
}

// fill inserts the initial observation and then maxSteps transitions,
// with dones[b] giving the done steps for environment b.
func fill(t *testing.T, s *Storage, dones map[int][]int) {
	t.Helper()
	n := s.NumEnvs()

	if err := s.Insert(obsBatch(n, 0), obsBatch(n, 0), nil); err != nil {
		t.Fatal(err)
	}

	for step := 0; step < s.MaxSteps(); step++ {
		tr := &Transition{
			Dones:     make([]bool, n),
			Actions:   make([]int, n),
			Rewards:   make([]float64, n),
			Successes: make([]bool, n),
		}
		for b := 0; b < n; b++ {
			tr.Actions[b] = step
			tr.Rewards[b] = float64(step)
			for _, d := range dones[b] {
				if d == step {
					tr.Dones[b] = true
					tr.Successes[b] = true
				}
			}
		}
		obs := obsBatch(n, step+1)
		if err := s.Insert(obs, obs, tr); err != nil {
			t.Fatal(err)
		}
	}
}

func TestGenerateSamplesNoDones(t *testing.T) {
	s, err := New(1, 5, []int{2})
	if err != nil {
		t.Fatal(err)
	}
	fill(t, s, nil)

	samples := s.GenerateSamples()
	if samples.Len() != 1 {
		t.Fatalf("wrong sample count \n\twant(%v)\n\thave(%v)", 1,
			samples.Len())
	}
	if got := samples.Rgbs[0].Shape()[0]; got != 5 {
		t.Errorf("wrong segment length \n\twant(%v)\n\thave(%v)", 5, got)
	}
}

func TestGenerateSamplesSegmentsAtDones(t *testing.T) {
	// Environment 0 never ends, environment 1 ends twice, environment
	// 2 ends exactly at the horizon boundary.
	s, err := New(3, 5, []int{2})
	if err != nil {
		t.Fatal(err)
	}
	fill(t, s, map[int][]int{1: {1, 4}, 2: {4}})

	samples := s.GenerateSamples()
	if samples.Len() != 4 {
		t.Fatalf("wrong sample count \n\twant(%v)\n\thave(%v)", 4,
			samples.Len())
	}

	wantLens := []int{5, 2, 3, 5}
	for i, want := range wantLens {
		if got := samples.Rgbs[i].Shape()[0]; got != want {
			t.Errorf("segment %v length \n\twant(%v)\n\thave(%v)", i, want,
				got)
		}
		if got := len(samples.Actions[i]); got != want {
			t.Errorf("segment %v actions \n\twant(%v)\n\thave(%v)", i,
				want, got)
		}
	}

	// Environment 1's first segment covers steps 0-1 and ends done.
	if !samples.Dones[1][1] {
		t.Error("first segment of environment 1 should end in a done")
	}
	// Its second segment covers steps 2-4.
	if got := samples.Actions[2][0]; got != 2 {
		t.Errorf("second segment start action \n\twant(%v)\n\thave(%v)", 2,
			got)
	}
	// Environment 0's segment never saw a done.
	for i, d := range samples.Dones[0] {
		if d {
			t.Errorf("environment 0 done at %v should be false", i)
		}
	}

	// Segment observations must come from the right slots: environment
	// 1's second segment starts at step 2, whose frame holds 102.
	if got := samples.Rgbs[2].Data().([]float64)[0]; got != 102 {
		t.Errorf("segment observation \n\twant(%v)\n\thave(%v)", 102.0, got)
	}
}

func TestResetCarriesOverLastObservation(t *testing.T) {
	s, err := New(2, 4, []int{2})
	if err != nil {
		t.Fatal(err)
	}
	fill(t, s, nil)

	if s.Cursor() != 4 {
		t.Fatalf("cursor before reset \n\twant(%v)\n\thave(%v)", 4,
			s.Cursor())
	}

	s.Reset()
	if s.Cursor() != 0 {
		t.Errorf("cursor after reset \n\twant(%v)\n\thave(%v)", 0,
			s.Cursor())
	}

	// Slot 0 must now hold the final observation of the previous
	// horizon: step 4's frame for environment b is b*100 + 4.
	for b := 0; b < 2; b++ {
		want := float64(b*100 + 4)
		if got := s.RgbAt(b, 0)[0]; got != want {
			t.Errorf("environment %v carry-over \n\twant(%v)\n\thave(%v)",
				b, want, got)
		}
	}
}

func TestInsertOverrun(t *testing.T) {
	s, err := New(1, 2, []int{2})
	if err != nil {
		t.Fatal(err)
	}
	fill(t, s, nil)

	obs := obsBatch(1, 9)
	err = s.Insert(obs, obs, nil)
	if err == nil {
		t.Fatal("expected an overrun error")
	}
	if !IsOverrun(err) {
		t.Errorf("expected IsOverrun to report true for %v", err)
	}
}

func TestInsertRejectsTransitionBeforeFirstObservation(t *testing.T) {
	s, err := New(1, 2, []int{2})
	if err != nil {
		t.Fatal(err)
	}

	obs := obsBatch(1, 0)
	tr := &Transition{Dones: []bool{false}}
	if err := s.Insert(obs, obs, tr); err == nil {
		t.Error("expected an error for a transition before the first " +
			"observation")
	}
}

func TestInsertRejectsWrongShape(t *testing.T) {
	s, err := New(2, 2, []int{2})
	if err != nil {
		t.Fatal(err)
	}

	bad := obsBatch(1, 0)
	if err := s.Insert(bad, bad, nil); err == nil {
		t.Error("expected an error for a mis-shaped observation batch")
	}
}

func TestToHostIsObservable(t *testing.T) {
	s, err := New(1, 2, []int{2}, WithDevice(Accelerator))
	if err != nil {
		t.Fatal(err)
	}
	fill(t, s, nil)

	if s.Device() != Accelerator {
		t.Fatalf("device before \n\twant(%v)\n\thave(%v)", Accelerator,
			s.Device())
	}
	before := s.RgbAt(0, 1)

	s.ToHost()
	if s.Device() != Host {
		t.Errorf("device after \n\twant(%v)\n\thave(%v)", Host, s.Device())
	}
	after := s.RgbAt(0, 1)
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("content changed at %v \n\twant(%v)\n\thave(%v)", i,
				before[i], after[i])
		}
	}
}
