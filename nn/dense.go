package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// Activation is an element-wise (or, for Softmax, vector-wise) output
// non-linearity.
type Activation string

const (
	Linear  Activation = "linear"
	ReLU    Activation = "relu"
	Softmax Activation = "softmax"
)

func (a Activation) apply(y []float64) {
	switch a {
	case ReLU:
		for i, v := range y {
			if v < 0 {
				y[i] = 0
			}
		}
	case Softmax:
		softmaxInPlace(y)
	}
}

// derivative maps dL/dy to dL/dz given the activated output y.
func (a Activation) derivative(y, dy []float64) []float64 {
	dz := make([]float64, len(dy))
	switch a {
	case ReLU:
		for i, v := range y {
			if v > 0 {
				dz[i] = dy[i]
			}
		}
	case Softmax:
		dot := floats.Dot(dy, y)
		for i, p := range y {
			dz[i] = p * (dy[i] - dot)
		}
	default:
		copy(dz, dy)
	}
	return dz
}

func softmaxInPlace(y []float64) {
	maxV := floats.Max(y)
	var sum float64
	for i, v := range y {
		e := math.Exp(v - maxV)
		y[i] = e
		sum += e
	}
	floats.Scale(1/sum, y)
}

// Dense is a fully connected layer; weights are laid out [in][out].
type Dense struct {
	In         int
	Out        int
	Activation Activation

	Weights *Param
	Bias    *Param
}

type denseCache struct {
	x, y []float64
}

// NewDense builds a dense layer with Glorot-uniform weights and zero biases.
func NewDense(in, out int, act Activation, rng *rand.Rand) (*Dense, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("%w: dense layer %dx%d", ErrShape, in, out)
	}
	d := &Dense{
		In:         in,
		Out:        out,
		Activation: act,
		Weights:    &Param{Name: "kernel", Value: make([]float64, in*out)},
		Bias:       &Param{Name: "bias", Value: make([]float64, out)},
	}
	glorotUniform(d.Weights.Value, in, out, rng)
	return d, nil
}

func (d *Dense) Kind() string     { return "dense" }
func (d *Dense) InSize() int      { return d.In }
func (d *Dense) OutSize() int     { return d.Out }
func (d *Dense) Params() []*Param { return []*Param{d.Weights, d.Bias} }

func (d *Dense) Forward(x []float64, _ Mode) ([]float64, any) {
	y := make([]float64, d.Out)
	copy(y, d.Bias.Value)
	w := d.Weights.Value
	for i, xv := range x {
		if xv == 0 {
			continue
		}
		floats.AddScaled(y, xv, w[i*d.Out:(i+1)*d.Out])
	}
	d.Activation.apply(y)
	return y, &denseCache{x: x, y: y}
}

func (d *Dense) Backward(cache any, dy []float64, grads [][]float64) []float64 {
	dc := cache.(*denseCache)
	dz := d.Activation.derivative(dc.y, dy)
	dw, db := grads[0], grads[1]
	w := d.Weights.Value

	floats.Add(db, dz)
	dx := make([]float64, d.In)
	for i, xv := range dc.x {
		row := w[i*d.Out : (i+1)*d.Out]
		if xv != 0 {
			floats.AddScaled(dw[i*d.Out:(i+1)*d.Out], xv, dz)
		}
		dx[i] = floats.Dot(row, dz)
	}
	return dx
}

func glorotUniform(dst []float64, fanIn, fanOut int, rng *rand.Rand) {
	if rng == nil {
		return
	}
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range dst {
		dst[i] = (rng.Float64()*2 - 1) * limit
	}
}
