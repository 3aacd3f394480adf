package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// Conv1D is a stride 1, "valid" padded 1D convolution with a fused
// activation. Kernel weights are laid out [kernel][inChannels][filters].
type Conv1D struct {
	Length     int
	InChannels int
	Filters    int
	KernelSize int
	Activation Activation

	Weights *Param
	Bias    *Param
}

type conv1DCache struct {
	x, y []float64
}

// NewConv1D builds a convolution over an input of length x inChannels with
// Glorot-uniform weights and zero biases.
func NewConv1D(length, inChannels, filters, kernelSize int, act Activation, rng *rand.Rand) (*Conv1D, error) {
	if kernelSize <= 0 || kernelSize > length {
		return nil, fmt.Errorf("%w: kernel %d does not fit input length %d", ErrShape, kernelSize, length)
	}
	if inChannels <= 0 || filters <= 0 {
		return nil, fmt.Errorf("%w: conv1d needs positive channel counts", ErrShape)
	}

	c := &Conv1D{
		Length:     length,
		InChannels: inChannels,
		Filters:    filters,
		KernelSize: kernelSize,
		Activation: act,
		Weights:    &Param{Name: "kernel", Value: make([]float64, kernelSize*inChannels*filters)},
		Bias:       &Param{Name: "bias", Value: make([]float64, filters)},
	}
	glorotUniform(c.Weights.Value, kernelSize*inChannels, kernelSize*filters, rng)
	return c, nil
}

func (c *Conv1D) Kind() string     { return "conv1d" }
func (c *Conv1D) OutLength() int   { return c.Length - c.KernelSize + 1 }
func (c *Conv1D) InSize() int      { return c.Length * c.InChannels }
func (c *Conv1D) OutSize() int     { return c.OutLength() * c.Filters }
func (c *Conv1D) Params() []*Param { return []*Param{c.Weights, c.Bias} }

func (c *Conv1D) Forward(x []float64, mode Mode) ([]float64, any) {
	outLen := c.OutLength()
	cin, cout := c.InChannels, c.Filters
	w := c.Weights.Value
	y := make([]float64, outLen*cout)

	for t := 0; t < outLen; t++ {
		row := y[t*cout : (t+1)*cout]
		copy(row, c.Bias.Value)
		for k := 0; k < c.KernelSize; k++ {
			in := x[(t+k)*cin : (t+k+1)*cin]
			for ch, xv := range in {
				if xv == 0 {
					continue
				}
				base := (k*cin + ch) * cout
				floats.AddScaled(row, xv, w[base:base+cout])
			}
		}
	}
	c.Activation.apply(y)

	return y, &conv1DCache{x: x, y: y}
}

func (c *Conv1D) Backward(cache any, dy []float64, grads [][]float64) []float64 {
	cc := cache.(*conv1DCache)
	outLen := c.OutLength()
	cin, cout := c.InChannels, c.Filters
	w := c.Weights.Value
	dw, db := grads[0], grads[1]

	dz := c.Activation.derivative(cc.y, dy)
	dx := make([]float64, len(cc.x))

	for t := 0; t < outLen; t++ {
		g := dz[t*cout : (t+1)*cout]
		floats.Add(db, g)
		for k := 0; k < c.KernelSize; k++ {
			pos := (t + k) * cin
			for ch := 0; ch < cin; ch++ {
				base := (k*cin + ch) * cout
				if xv := cc.x[pos+ch]; xv != 0 {
					floats.AddScaled(dw[base:base+cout], xv, g)
				}
				dx[pos+ch] += floats.Dot(w[base:base+cout], g)
			}
		}
	}
	return dx
}
