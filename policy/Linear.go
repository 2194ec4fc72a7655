package policy

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/pranav-putta/bcnav/episode"
)

// param is a named parameter tensor with its accumulated gradient. It
// satisfies G.ValueGrad, which is the representation the solver
// package steps over.
type param struct {
	name   string
	value  *tensor.Dense
	grad   *tensor.Dense
	frozen bool
}

func (p *param) Value() G.Value { return p.value }

func (p *param) Grad() (G.Value, error) { return p.grad, nil }

func newParam(name string, shape ...int) *param {
	n := tensor.Shape(shape).TotalSize()
	return &param{
		name: name,
		value: tensor.New(tensor.WithShape(shape...),
			tensor.WithBacking(make([]float64, n))),
		grad: tensor.New(tensor.WithShape(shape...),
			tensor.WithBacking(make([]float64, n))),
	}
}

// LinearSoftmax is a minimal reference policy: a linear map from the
// concatenated frame and goal features of a single step to action
// logits, trained with masked cross entropy. It exists so the debug
// harness and the tests have a complete Model; real policy networks
// are supplied externally.
type LinearSoftmax struct {
	numActions int
	frameSize  int

	w *param // [numActions, 2*frameSize]
	b *param // [numActions]

	rng *rand.Rand
}

// NewLinearSoftmax returns a reference policy over frames of the given
// shape and numActions discrete actions. Weights start at small random
// values drawn from the seeded RNG.
func NewLinearSoftmax(frameShape []int, numActions int,
	seed uint64) (*LinearSoftmax, error) {
	if numActions < 2 {
		return nil, fmt.Errorf("newLinearSoftmax: need >= 2 actions")
	}
	frameSize := tensor.Shape(frameShape).TotalSize()
	if frameSize < 1 {
		return nil, fmt.Errorf("newLinearSoftmax: invalid frame shape %v",
			frameShape)
	}

	rng := rand.New(rand.NewSource(seed))
	p := &LinearSoftmax{
		numActions: numActions,
		frameSize:  frameSize,
		w:          newParam("w", numActions, 2*frameSize),
		b:          newParam("b", numActions),
		rng:        rng,
	}

	wData := p.w.value.Data().([]float64)
	for i := range wData {
		wData[i] = 0.01 * rng.NormFloat64()
	}
	return p, nil
}

// ForwardBackward computes the masked cross entropy loss over the
// minibatch and accumulates gradients on the trainable parameters.
// Only steps flagged valid by each subsequence's mask contribute; the
// loss is the mean over all valid steps in the minibatch.
func (p *LinearSoftmax) ForwardBackward(
	samples []episode.Subsequence) (float64, error) {
	totalValid := 0
	for _, s := range samples {
		totalValid += s.ValidSteps()
	}
	if totalValid == 0 {
		return 0, fmt.Errorf("forwardBackward: no valid steps in minibatch")
	}

	scale := 1.0 / float64(totalValid)
	w := p.w.value.Data().([]float64)
	b := p.b.value.Data().([]float64)
	wGrad := p.w.grad.Data().([]float64)
	bGrad := p.b.grad.Data().([]float64)

	x := make([]float64, 2*p.frameSize)
	probs := make([]float64, p.numActions)

	var loss float64
	for _, s := range samples {
		rgbs := s.Rgbs.Data().([]float64)
		goals := s.Goals.Data().([]float64)

		for t := 0; t < s.Horizon(); t++ {
			if !s.Mask[t] {
				break
			}

			copy(x[:p.frameSize], rgbs[t*p.frameSize:(t+1)*p.frameSize])
			copy(x[p.frameSize:], goals[t*p.frameSize:(t+1)*p.frameSize])

			p.logits(w, b, x, probs)
			softmaxInPlace(probs)

			a := s.Actions[t]
			if a < 0 || a >= p.numActions {
				return 0, fmt.Errorf("forwardBackward: action %v out of "+
					"range [0, %v)", a, p.numActions)
			}
			loss -= math.Log(probs[a] + 1e-12)

			if p.w.frozen && p.b.frozen {
				continue
			}
			for k := 0; k < p.numActions; k++ {
				d := probs[k]
				if k == a {
					d -= 1
				}
				d *= scale
				if !p.b.frozen {
					bGrad[k] += d
				}
				if !p.w.frozen {
					row := wGrad[k*2*p.frameSize : (k+1)*2*p.frameSize]
					floats.AddScaled(row, d, x)
				}
			}
		}
	}

	return loss * scale, nil
}

// logits computes W x + b into out.
func (p *LinearSoftmax) logits(w, b, x, out []float64) {
	for k := 0; k < p.numActions; k++ {
		row := w[k*2*p.frameSize : (k+1)*2*p.frameSize]
		out[k] = b[k] + floats.Dot(row, x)
	}
}

func softmaxInPlace(logits []float64) {
	max := floats.Max(logits)
	var sum float64
	for i, l := range logits {
		logits[i] = math.Exp(l - max)
		sum += logits[i]
	}
	floats.Scale(1/sum, logits)
}

// Model returns the trainable parameters for the solver. Frozen
// parameters are excluded.
func (p *LinearSoftmax) Model() []G.ValueGrad {
	var model []G.ValueGrad
	for _, pr := range []*param{p.w, p.b} {
		if !pr.frozen {
			model = append(model, pr)
		}
	}
	return model
}

// TrainableWeights returns copies of the parameters that currently
// have gradients enabled.
func (p *LinearSoftmax) TrainableWeights() map[string][]float64 {
	weights := make(map[string][]float64)
	for _, pr := range []*param{p.w, p.b} {
		if pr.frozen {
			continue
		}
		weights[pr.name] = append([]float64(nil),
			pr.value.Data().([]float64)...)
	}
	return weights
}

// SetWeights applies a weight map non-strictly: unknown keys are
// ignored, missing parameters keep their current values. A size
// mismatch on a known key is an error.
func (p *LinearSoftmax) SetWeights(weights map[string][]float64) {
	for _, pr := range []*param{p.w, p.b} {
		data, ok := weights[pr.name]
		if !ok {
			continue
		}
		dst := pr.value.Data().([]float64)
		if len(data) != len(dst) {
			continue
		}
		copy(dst, data)
	}
}

// FreezeParam disables gradients for one named parameter, excluding it
// from Model, TrainableWeights and gradient accumulation.
func (p *LinearSoftmax) FreezeParam(name string) error {
	for _, pr := range []*param{p.w, p.b} {
		if pr.name == name {
			pr.frozen = true
			return nil
		}
	}
	return fmt.Errorf("freezeParam: no such parameter %q", name)
}

// Freeze disables gradients on every parameter.
func (p *LinearSoftmax) Freeze() {
	p.w.frozen = true
	p.b.frozen = true
}

// EmbedVisual returns the frames unchanged: the reference policy
// consumes raw frame features directly.
func (p *LinearSoftmax) EmbedVisual(rgbs, goals *tensor.Dense) (*tensor.Dense,
	*tensor.Dense, error) {
	return rgbs, goals, nil
}

// Stepper returns the per-step action head.
func (p *LinearSoftmax) Stepper() Stepper {
	return &linearStepper{p}
}

type linearStepper struct {
	p *LinearSoftmax
}

// Step predicts an action from the most recent frame embedding and
// the goal. Deterministic mode takes the argmax; otherwise the action
// is sampled from the softmax distribution.
func (s *linearStepper) Step(rgbHistory []*tensor.Dense,
	goal *tensor.Dense, deterministic bool) (int, error) {
	if len(rgbHistory) == 0 {
		return 0, fmt.Errorf("step: empty embedding history")
	}

	p := s.p
	last := rgbHistory[len(rgbHistory)-1].Data().([]float64)
	goalData := goal.Data().([]float64)
	if len(last) != p.frameSize || len(goalData) != p.frameSize {
		return 0, fmt.Errorf("step: invalid embedding size "+
			"\n\twant(%v)\n\thave(%v, %v)", p.frameSize, len(last),
			len(goalData))
	}

	x := make([]float64, 2*p.frameSize)
	copy(x[:p.frameSize], last)
	copy(x[p.frameSize:], goalData)

	probs := make([]float64, p.numActions)
	p.logits(p.w.value.Data().([]float64), p.b.value.Data().([]float64), x,
		probs)
	softmaxInPlace(probs)

	if deterministic {
		return floats.MaxIdx(probs), nil
	}

	u := p.rng.Float64()
	var cum float64
	for a, prob := range probs {
		cum += prob
		if u <= cum {
			return a, nil
		}
	}
	return p.numActions - 1, nil
}
