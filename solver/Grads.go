package solver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	G "gorgonia.org/gorgonia"
)

// ZeroGrads zeroes the gradient of every parameter in the model,
// typically after an optimizer step.
func ZeroGrads(model []G.ValueGrad) error {
	for i, vg := range model {
		gradVal, err := vg.Grad()
		if err != nil {
			return fmt.Errorf("zeroGrads: no gradient for parameter %v: %v",
				i, err)
		}
		grad := gradVal.Data().([]float64)
		for j := range grad {
			grad[j] = 0
		}
	}
	return nil
}

// ClipGradNorm rescales the gradients of the model in place so that
// their global L2 norm does not exceed maxNorm.
func ClipGradNorm(model []G.ValueGrad, maxNorm float64) error {
	if maxNorm <= 0 {
		return fmt.Errorf("clipGradNorm: maxNorm must be > 0, got %v", maxNorm)
	}

	var sumSq float64
	grads := make([][]float64, len(model))
	for i, vg := range model {
		gradVal, err := vg.Grad()
		if err != nil {
			return fmt.Errorf("clipGradNorm: no gradient for parameter %v: %v",
				i, err)
		}
		grads[i] = gradVal.Data().([]float64)
		sumSq += floats.Dot(grads[i], grads[i])
	}

	norm := math.Sqrt(sumSq)
	if norm <= maxNorm {
		return nil
	}

	scale := maxNorm / (norm + 1e-6)
	for _, grad := range grads {
		floats.Scale(scale, grad)
	}
	return nil
}
