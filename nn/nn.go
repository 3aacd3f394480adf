// Package nn implements the small set of float64 neural network layers needed
// to train and run 1D convolutional classifiers on the CPU: convolution, max
// pooling, dropout, flatten and dense layers, categorical cross-entropy and
// the Adam optimizer.
//
// Tensors are flat []float64 slices in channels-last order: the value of
// channel c at time step t lives at index t*channels+c.
//
// Layers keep no per-call state. Forward returns an opaque cache that the
// matching Backward consumes, so one Network can serve several goroutines
// at once as long as each goroutine owns its Gradients buffer.
package nn

import (
	"errors"
	"fmt"
	"math/rand"
)

// Mode controls training-only behaviour such as dropout.
type Mode struct {
	Training bool
	Rand     *rand.Rand
}

// Eval is the inference mode: dropout disabled, fully deterministic.
var Eval = Mode{}

// Param is a named, trainable parameter tensor.
type Param struct {
	Name  string
	Value []float64
}

// Layer is one differentiable stage of a Network.
type Layer interface {
	// Kind names the layer type, e.g. "conv1d".
	Kind() string
	// InSize and OutSize are the flat input and output lengths.
	InSize() int
	OutSize() int
	// Forward computes the layer output for x.
	Forward(x []float64, mode Mode) (y []float64, cache any)
	// Backward receives dL/dy and returns dL/dx, accumulating parameter
	// gradients into grads (parallel to Params()).
	Backward(cache any, dy []float64, grads [][]float64) []float64
	// Params returns the trainable tensors, nil for parameterless layers.
	Params() []*Param
}

// Network is a sequential stack of layers.
type Network struct {
	Layers []Layer
}

// ErrShape reports an input or parameter whose size does not match the
// network topology.
var ErrShape = errors.New("nn: shape mismatch")

// NewNetwork validates that adjacent layer sizes agree.
func NewNetwork(layers ...Layer) (*Network, error) {
	if len(layers) == 0 {
		return nil, errors.New("nn: network needs at least one layer")
	}
	for i := 1; i < len(layers); i++ {
		if layers[i-1].OutSize() != layers[i].InSize() {
			return nil, fmt.Errorf("%w: layer %d (%s) outputs %d values, layer %d (%s) expects %d",
				ErrShape, i-1, layers[i-1].Kind(), layers[i-1].OutSize(), i, layers[i].Kind(), layers[i].InSize())
		}
	}
	return &Network{Layers: layers}, nil
}

// InSize is the expected input length.
func (n *Network) InSize() int { return n.Layers[0].InSize() }

// OutSize is the output length.
func (n *Network) OutSize() int { return n.Layers[len(n.Layers)-1].OutSize() }

// Params lists every trainable tensor in layer order.
func (n *Network) Params() []*Param {
	var params []*Param
	for _, layer := range n.Layers {
		params = append(params, layer.Params()...)
	}
	return params
}

// ParamCount returns the total number of trainable scalars.
func (n *Network) ParamCount() int {
	total := 0
	for _, p := range n.Params() {
		total += len(p.Value)
	}
	return total
}

// Predict runs an inference forward pass.
func (n *Network) Predict(x []float64) ([]float64, error) {
	if len(x) != n.InSize() {
		return nil, fmt.Errorf("%w: input has %d values, network expects %d", ErrShape, len(x), n.InSize())
	}
	out := x
	for _, layer := range n.Layers {
		out, _ = layer.Forward(out, Eval)
	}
	return out, nil
}

// Gradients holds one accumulation buffer per network parameter.
type Gradients [][]float64

// NewGradients allocates zeroed gradient buffers shaped like n's parameters.
func (n *Network) NewGradients() Gradients {
	params := n.Params()
	grads := make(Gradients, len(params))
	for i, p := range params {
		grads[i] = make([]float64, len(p.Value))
	}
	return grads
}

// Zero resets every buffer.
func (g Gradients) Zero() {
	for _, buf := range g {
		for i := range buf {
			buf[i] = 0
		}
	}
}

// Add accumulates other into g.
func (g Gradients) Add(other Gradients) {
	for i, buf := range g {
		src := other[i]
		for j := range buf {
			buf[j] += src[j]
		}
	}
}

// Scale multiplies every gradient by s.
func (g Gradients) Scale(s float64) {
	for _, buf := range g {
		for i := range buf {
			buf[i] *= s
		}
	}
}

// Backprop runs a forward pass in mode, computes the loss against target and
// accumulates dLoss/dParams into grads. It returns the loss and the network
// output.
func (n *Network) Backprop(x, target []float64, loss Loss, mode Mode, grads Gradients) (float64, []float64, error) {
	if len(x) != n.InSize() {
		return 0, nil, fmt.Errorf("%w: input has %d values, network expects %d", ErrShape, len(x), n.InSize())
	}
	if len(target) != n.OutSize() {
		return 0, nil, fmt.Errorf("%w: target has %d values, network outputs %d", ErrShape, len(target), n.OutSize())
	}

	caches := make([]any, len(n.Layers))
	out := x
	for i, layer := range n.Layers {
		out, caches[i] = layer.Forward(out, mode)
	}

	value, dy := loss.Evaluate(out, target)

	offset := len(grads)
	for i := len(n.Layers) - 1; i >= 0; i-- {
		layer := n.Layers[i]
		count := len(layer.Params())
		offset -= count
		dy = layer.Backward(caches[i], dy, grads[offset:offset+count])
	}

	return value, out, nil
}

// Argmax returns the index of the largest value, the first on ties.
func Argmax(values []float64) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}
