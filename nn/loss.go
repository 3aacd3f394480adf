package nn

import "math"

// Loss scores a prediction against a target and returns dLoss/dPrediction.
type Loss interface {
	Evaluate(pred, target []float64) (float64, []float64)
}

// CategoricalCrossEntropy expects probability outputs (softmax) and one-hot
// targets. Probabilities are clipped to [Epsilon, 1-Epsilon].
type CategoricalCrossEntropy struct {
	Epsilon float64
}

func (c CategoricalCrossEntropy) eps() float64 {
	if c.Epsilon > 0 {
		return c.Epsilon
	}
	return 1e-7
}

func (c CategoricalCrossEntropy) Evaluate(pred, target []float64) (float64, []float64) {
	eps := c.eps()
	grad := make([]float64, len(pred))
	var loss float64
	for i, p := range pred {
		p = math.Min(math.Max(p, eps), 1-eps)
		if target[i] != 0 {
			loss -= target[i] * math.Log(p)
			grad[i] = -target[i] / p
		}
	}
	return loss, grad
}
