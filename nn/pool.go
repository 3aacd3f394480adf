package nn

import "fmt"

// MaxPool1D takes the maximum over non-overlapping windows of Pool steps
// (stride equals the pool size, "valid" padding).
type MaxPool1D struct {
	Length   int
	Channels int
	Pool     int
}

// NewMaxPool1D validates the pooling geometry.
func NewMaxPool1D(length, channels, pool int) (*MaxPool1D, error) {
	if pool <= 0 || pool > length {
		return nil, fmt.Errorf("%w: pool %d does not fit input length %d", ErrShape, pool, length)
	}
	return &MaxPool1D{Length: length, Channels: channels, Pool: pool}, nil
}

func (p *MaxPool1D) Kind() string     { return "maxpool1d" }
func (p *MaxPool1D) OutLength() int   { return (p.Length-p.Pool)/p.Pool + 1 }
func (p *MaxPool1D) InSize() int      { return p.Length * p.Channels }
func (p *MaxPool1D) OutSize() int     { return p.OutLength() * p.Channels }
func (p *MaxPool1D) Params() []*Param { return nil }

func (p *MaxPool1D) Forward(x []float64, mode Mode) ([]float64, any) {
	outLen := p.OutLength()
	ch := p.Channels
	y := make([]float64, outLen*ch)
	argmax := make([]int, outLen*ch)

	for t := 0; t < outLen; t++ {
		start := t * p.Pool
		for c := 0; c < ch; c++ {
			best := start*ch + c
			for j := 1; j < p.Pool; j++ {
				idx := (start+j)*ch + c
				if x[idx] > x[best] {
					best = idx
				}
			}
			y[t*ch+c] = x[best]
			argmax[t*ch+c] = best
		}
	}
	return y, argmax
}

func (p *MaxPool1D) Backward(cache any, dy []float64, _ [][]float64) []float64 {
	argmax := cache.([]int)
	dx := make([]float64, p.InSize())
	for i, src := range argmax {
		dx[src] += dy[i]
	}
	return dx
}

// Flatten marks the transition from the convolutional stack to dense
// layers. Tensors are already flat, so it is an identity.
type Flatten struct {
	Size int
}

func (f *Flatten) Kind() string     { return "flatten" }
func (f *Flatten) InSize() int      { return f.Size }
func (f *Flatten) OutSize() int     { return f.Size }
func (f *Flatten) Params() []*Param { return nil }

func (f *Flatten) Forward(x []float64, _ Mode) ([]float64, any) { return x, nil }

func (f *Flatten) Backward(_ any, dy []float64, _ [][]float64) []float64 { return dy }
