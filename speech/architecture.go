package speech

import (
	"fmt"
	"math/rand"
	"slices"

	"speech-commands/nn"
)

// Architecture describes the classifier topology. It is stored in every
// checkpoint and must match exactly for the weights to be reused.
type Architecture struct {
	InputLength int     `msgpack:"input_length" json:"inputLength"`
	Kernels     []int   `msgpack:"kernels" json:"kernels"`
	Filters     []int   `msgpack:"filters" json:"filters"`
	Pool        int     `msgpack:"pool" json:"pool"`
	Dropout     float64 `msgpack:"dropout" json:"dropout"`
	Dense       []int   `msgpack:"dense" json:"dense"`
	Outputs     int     `msgpack:"outputs" json:"outputs"`
}

// DefaultArchitecture is the fixed command classifier: four
// conv/max-pool/dropout blocks, two dense/dropout blocks and a softmax head
// with one unit per class.
func DefaultArchitecture(outputs int) Architecture {
	return Architecture{
		InputLength: AudioSize,
		Kernels:     []int{13, 11, 9, 7},
		Filters:     []int{8, 16, 32, 64},
		Pool:        3,
		Dropout:     0.3,
		Dense:       []int{256, 128},
		Outputs:     outputs,
	}
}

// Equal reports whether two descriptors build identical networks.
func (a Architecture) Equal(b Architecture) bool {
	return a.InputLength == b.InputLength &&
		slices.Equal(a.Kernels, b.Kernels) &&
		slices.Equal(a.Filters, b.Filters) &&
		a.Pool == b.Pool &&
		a.Dropout == b.Dropout &&
		slices.Equal(a.Dense, b.Dense) &&
		a.Outputs == b.Outputs
}

// Build constructs the network. Weights are Glorot-uniform from rng; a nil
// rng leaves them zeroed for loading a checkpoint.
func (a Architecture) Build(rng *rand.Rand) (*nn.Network, error) {
	if len(a.Kernels) != len(a.Filters) {
		return nil, fmt.Errorf("%d kernel sizes for %d conv blocks", len(a.Kernels), len(a.Filters))
	}
	if a.Outputs <= 0 {
		return nil, fmt.Errorf("output width %d", a.Outputs)
	}

	var layers []nn.Layer
	length, channels := a.InputLength, 1

	for i, filters := range a.Filters {
		conv, err := nn.NewConv1D(length, channels, filters, a.Kernels[i], nn.ReLU, rng)
		if err != nil {
			return nil, fmt.Errorf("conv block %d: %w", i+1, err)
		}
		pool, err := nn.NewMaxPool1D(conv.OutLength(), filters, a.Pool)
		if err != nil {
			return nil, fmt.Errorf("conv block %d: %w", i+1, err)
		}
		drop, err := nn.NewDropout(pool.OutSize(), a.Dropout)
		if err != nil {
			return nil, err
		}
		layers = append(layers, conv, pool, drop)
		length, channels = pool.OutLength(), filters
	}

	width := length * channels
	layers = append(layers, &nn.Flatten{Size: width})

	for _, units := range a.Dense {
		dense, err := nn.NewDense(width, units, nn.ReLU, rng)
		if err != nil {
			return nil, err
		}
		drop, err := nn.NewDropout(units, a.Dropout)
		if err != nil {
			return nil, err
		}
		layers = append(layers, dense, drop)
		width = units
	}

	head, err := nn.NewDense(width, a.Outputs, nn.Softmax, rng)
	if err != nil {
		return nil, err
	}
	layers = append(layers, head)

	return nn.NewNetwork(layers...)
}
