package policy

import (
	"testing"

	"gorgonia.org/tensor"

	"github.com/pranav-putta/bcnav/episode"
)

var linearFrameShape = []int{2, 2}

// sub builds a padded subsequence from l synthetic steps.
func sub(t *testing.T, l, horizon int) episode.Subsequence {
	t.Helper()
	fs := 4
	rgbs := make([]float64, l*fs)
	goals := make([]float64, l*fs)
	actions := make([]int, l)
	for i := range rgbs {
		rgbs[i] = float64(i%7) / 7
		goals[i] = float64(i%5) / 5
	}
	for i := range actions {
		actions[i] = i % 3
	}

	shape := append([]int{l}, linearFrameShape...)
	ep := episode.Episode{
		Rgbs: tensor.New(tensor.WithShape(shape...),
			tensor.WithBacking(rgbs)),
		Goals: tensor.New(tensor.WithShape(shape...),
			tensor.WithBacking(goals)),
		Actions: actions,
		Rewards: make([]float64, l),
		Dones:   make([]bool, l),
	}
	s, err := episode.Build(ep, horizon)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func grads(m *LinearSoftmax) [][]float64 {
	var out [][]float64
	for _, vg := range m.Model() {
		g, _ := vg.Grad()
		out = append(out, append([]float64(nil), g.Data().([]float64)...))
	}
	return out
}

func TestForwardBackwardIgnoresPadding(t *testing.T) {
	a, err := NewLinearSoftmax(linearFrameShape, 3, 1)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewLinearSoftmax(linearFrameShape, 3, 1)
	if err != nil {
		t.Fatal(err)
	}

	// Same three valid steps, but one subsequence carries two padded
	// steps on top. Loss and gradients must be identical.
	lossA, err := a.ForwardBackward([]episode.Subsequence{sub(t, 3, 3)})
	if err != nil {
		t.Fatal(err)
	}
	lossB, err := b.ForwardBackward([]episode.Subsequence{sub(t, 3, 5)})
	if err != nil {
		t.Fatal(err)
	}

	if lossA != lossB {
		t.Errorf("padding changed the loss \n\twant(%v)\n\thave(%v)",
			lossA, lossB)
	}

	ga, gb := grads(a), grads(b)
	for i := range ga {
		for j := range ga[i] {
			if ga[i][j] != gb[i][j] {
				t.Fatalf("padding changed gradient %v element %v "+
					"\n\twant(%v)\n\thave(%v)", i, j, ga[i][j], gb[i][j])
			}
		}
	}
}

func TestGradientsAccumulateAcrossCalls(t *testing.T) {
	m, err := NewLinearSoftmax(linearFrameShape, 3, 1)
	if err != nil {
		t.Fatal(err)
	}

	s := []episode.Subsequence{sub(t, 3, 4)}
	if _, err := m.ForwardBackward(s); err != nil {
		t.Fatal(err)
	}
	once := grads(m)
	if _, err := m.ForwardBackward(s); err != nil {
		t.Fatal(err)
	}
	twice := grads(m)

	for i := range once {
		for j := range once[i] {
			want := 2 * once[i][j]
			diff := twice[i][j] - want
			if diff > 1e-12 || diff < -1e-12 {
				t.Fatalf("gradient %v element %v did not accumulate "+
					"\n\twant(%v)\n\thave(%v)", i, j, want, twice[i][j])
			}
		}
	}
}

func TestFreezeExcludesParameters(t *testing.T) {
	m, err := NewLinearSoftmax(linearFrameShape, 3, 1)
	if err != nil {
		t.Fatal(err)
	}

	if len(m.Model()) != 2 {
		t.Fatalf("wrong parameter count \n\twant(%v)\n\thave(%v)", 2,
			len(m.Model()))
	}

	if err := m.FreezeParam("b"); err != nil {
		t.Fatal(err)
	}
	if len(m.Model()) != 1 {
		t.Errorf("frozen parameter still in model")
	}
	weights := m.TrainableWeights()
	if _, ok := weights["b"]; ok {
		t.Error("frozen parameter still in trainable weights")
	}
	if _, ok := weights["w"]; !ok {
		t.Error("trainable parameter missing")
	}

	m.Freeze()
	if len(m.Model()) != 0 {
		t.Error("fully frozen model still has trainable parameters")
	}

	if err := m.FreezeParam("nope"); err == nil {
		t.Error("expected an error for an unknown parameter")
	}
}

func TestSetWeightsIsLenient(t *testing.T) {
	m, err := NewLinearSoftmax(linearFrameShape, 3, 1)
	if err != nil {
		t.Fatal(err)
	}

	bias := []float64{0.5, -0.5, 0.25}
	m.SetWeights(map[string][]float64{
		"b":       bias,
		"unknown": {1, 2, 3},
	})

	have := m.TrainableWeights()["b"]
	for i, w := range bias {
		if have[i] != w {
			t.Errorf("bias %v \n\twant(%v)\n\thave(%v)", i, w, have[i])
		}
	}
}

func TestStepperDeterministicIsStable(t *testing.T) {
	m, err := NewLinearSoftmax(linearFrameShape, 3, 1)
	if err != nil {
		t.Fatal(err)
	}

	frame := tensor.New(tensor.WithShape(linearFrameShape...),
		tensor.WithBacking([]float64{0.1, 0.2, 0.3, 0.4}))
	goal := tensor.New(tensor.WithShape(linearFrameShape...),
		tensor.WithBacking([]float64{0.4, 0.3, 0.2, 0.1}))

	s := m.Stepper()
	first, err := s.Step([]*tensor.Dense{frame}, goal, true)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		a, err := s.Step([]*tensor.Dense{frame}, goal, true)
		if err != nil {
			t.Fatal(err)
		}
		if a != first {
			t.Fatalf("deterministic action changed \n\twant(%v)\n\thave(%v)",
				first, a)
		}
	}

	if _, err := s.Step(nil, goal, true); err == nil {
		t.Error("expected an error for an empty history")
	}
}
