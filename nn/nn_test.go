package nn

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func newTinyNetwork(t *testing.T, rng *rand.Rand) *Network {
	t.Helper()

	conv, err := NewConv1D(10, 2, 3, 3, ReLU, rng)
	if err != nil {
		t.Fatalf("NewConv1D: %v", err)
	}
	pool, err := NewMaxPool1D(conv.OutLength(), 3, 2)
	if err != nil {
		t.Fatalf("NewMaxPool1D: %v", err)
	}
	flat := &Flatten{Size: pool.OutSize()}
	hidden, err := NewDense(flat.OutSize(), 5, ReLU, rng)
	if err != nil {
		t.Fatalf("NewDense: %v", err)
	}
	out, err := NewDense(5, 3, Softmax, rng)
	if err != nil {
		t.Fatalf("NewDense: %v", err)
	}
	net, err := NewNetwork(conv, pool, flat, hidden, out)
	if err != nil {
		t.Fatalf("NewNetwork: %v", err)
	}
	return net
}

func randomVector(rng *rand.Rand, n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = rng.Float64()*2 - 1
	}
	return v
}

func TestBackpropMatchesNumericalGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	net := newTinyNetwork(t, rng)
	x := randomVector(rng, net.InSize())
	target := []float64{0, 1, 0}
	loss := CategoricalCrossEntropy{}

	grads := net.NewGradients()
	if _, _, err := net.Backprop(x, target, loss, Eval, grads); err != nil {
		t.Fatalf("Backprop: %v", err)
	}

	lossAt := func() float64 {
		out, err := net.Predict(x)
		if err != nil {
			t.Fatalf("Predict: %v", err)
		}
		v, _ := loss.Evaluate(out, target)
		return v
	}

	const h = 1e-6
	for pi, p := range net.Params() {
		for j := range p.Value {
			orig := p.Value[j]
			p.Value[j] = orig + h
			plus := lossAt()
			p.Value[j] = orig - h
			minus := lossAt()
			p.Value[j] = orig

			numeric := (plus - minus) / (2 * h)
			analytic := grads[pi][j]
			diff := math.Abs(numeric - analytic)
			if diff > 1e-5 && diff/math.Max(math.Abs(numeric), math.Abs(analytic)) > 1e-3 {
				t.Fatalf("param %d[%d] (%s): analytic %.8f numeric %.8f", pi, j, p.Name, analytic, numeric)
			}
		}
	}
}

func TestSoftmaxOutputIsDistribution(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	net := newTinyNetwork(t, rng)

	out, err := net.Predict(randomVector(rng, net.InSize()))
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	var sum float64
	for _, p := range out {
		if p < 0 || p > 1 {
			t.Fatalf("probability %f outside [0,1]", p)
		}
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("probabilities sum to %f", sum)
	}
}

func TestNetworkRejectsMismatchedShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a, _ := NewDense(4, 3, ReLU, rng)
	b, _ := NewDense(5, 2, Softmax, rng)

	if _, err := NewNetwork(a, b); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}

	net, err := NewNetwork(a)
	if err != nil {
		t.Fatalf("NewNetwork: %v", err)
	}
	if _, err := net.Predict(make([]float64, 7)); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape for bad input, got %v", err)
	}
	if _, err := NewConv1D(4, 1, 2, 5, ReLU, rng); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape for oversized kernel, got %v", err)
	}
}

func TestMaxPoolGeometry(t *testing.T) {
	pool, err := NewMaxPool1D(7988, 8, 3)
	if err != nil {
		t.Fatalf("NewMaxPool1D: %v", err)
	}
	if got := pool.OutLength(); got != 2662 {
		t.Fatalf("pool output length = %d, want 2662", got)
	}

	small, _ := NewMaxPool1D(6, 1, 3)
	y, _ := small.Forward([]float64{1, 5, 2, -1, -3, 0}, Eval)
	if y[0] != 5 || y[1] != 0 {
		t.Fatalf("unexpected pooled values %v", y)
	}
}

func TestDropoutIsIdentityAtInference(t *testing.T) {
	d, err := NewDropout(100, 0.3)
	if err != nil {
		t.Fatalf("NewDropout: %v", err)
	}
	x := randomVector(rand.New(rand.NewSource(2)), 100)

	y, _ := d.Forward(x, Eval)
	for i := range x {
		if y[i] != x[i] {
			t.Fatalf("eval dropout changed index %d", i)
		}
	}

	y, _ = d.Forward(x, Mode{Training: true, Rand: rand.New(rand.NewSource(4))})
	zeros := 0
	for i := range y {
		if y[i] == 0 {
			zeros++
		} else if math.Abs(y[i]-x[i]/0.7) > 1e-12 {
			t.Fatalf("kept value %d not rescaled", i)
		}
	}
	if zeros == 0 || zeros == 100 {
		t.Fatalf("dropout dropped %d of 100 values", zeros)
	}

	if _, err := NewDropout(10, 1); err == nil {
		t.Fatalf("expected error for rate 1")
	}
}

func TestAdamReducesLoss(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	net := newTinyNetwork(t, rng)
	loss := CategoricalCrossEntropy{}
	x := randomVector(rng, net.InSize())
	target := []float64{1, 0, 0}

	opt := NewAdam()
	opt.LearningRate = 0.01
	grads := net.NewGradients()

	first, _, err := net.Backprop(x, target, loss, Eval, grads)
	if err != nil {
		t.Fatalf("Backprop: %v", err)
	}
	last := first
	for i := 0; i < 50; i++ {
		grads.Zero()
		last, _, err = net.Backprop(x, target, loss, Eval, grads)
		if err != nil {
			t.Fatalf("Backprop: %v", err)
		}
		opt.Step(net.Params(), grads)
	}
	if last >= first {
		t.Fatalf("loss did not decrease: first %.4f last %.4f", first, last)
	}
	if opt.Steps() != 50 {
		t.Fatalf("Steps() = %d, want 50", opt.Steps())
	}
}

func TestGradientsAddAndScale(t *testing.T) {
	g := Gradients{{1, 2}, {3}}
	g.Add(Gradients{{1, 1}, {1}})
	g.Scale(0.5)
	if g[0][0] != 1 || g[0][1] != 1.5 || g[1][0] != 2 {
		t.Fatalf("unexpected gradients %v", g)
	}
	g.Zero()
	if g[0][1] != 0 || g[1][0] != 0 {
		t.Fatalf("Zero left values %v", g)
	}
}

func TestArgmaxPrefersFirstOnTies(t *testing.T) {
	if got := Argmax([]float64{0.2, 0.4, 0.4}); got != 1 {
		t.Fatalf("Argmax = %d, want 1", got)
	}
}
