package nn

import "fmt"

// Dropout zeroes a Rate fraction of its inputs while training and scales the
// survivors by 1/(1-Rate). At inference it is the identity.
type Dropout struct {
	Size int
	Rate float64
}

// NewDropout validates rate in [0, 1).
func NewDropout(size int, rate float64) (*Dropout, error) {
	if rate < 0 || rate >= 1 {
		return nil, fmt.Errorf("nn: dropout rate %.3f outside [0, 1)", rate)
	}
	return &Dropout{Size: size, Rate: rate}, nil
}

func (d *Dropout) Kind() string     { return "dropout" }
func (d *Dropout) InSize() int      { return d.Size }
func (d *Dropout) OutSize() int     { return d.Size }
func (d *Dropout) Params() []*Param { return nil }

func (d *Dropout) Forward(x []float64, mode Mode) ([]float64, any) {
	if !mode.Training || d.Rate == 0 || mode.Rand == nil {
		return x, nil
	}

	keep := 1 - d.Rate
	scale := 1 / keep
	mask := make([]float64, len(x))
	y := make([]float64, len(x))
	for i, v := range x {
		if mode.Rand.Float64() < keep {
			mask[i] = scale
			y[i] = v * scale
		}
	}
	return y, mask
}

func (d *Dropout) Backward(cache any, dy []float64, _ [][]float64) []float64 {
	mask, ok := cache.([]float64)
	if !ok {
		return dy
	}
	dx := make([]float64, len(dy))
	for i, g := range dy {
		dx[i] = g * mask[i]
	}
	return dx
}
