package nn

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/JordanHanotiaux/P3/internal/compute"
	"github.com/JordanHanotiaux/P3/internal/matrix"
)

// ErrForwardNotCalled is returned by Backward when no forward pass is cached:
// either Forward was never called, or the cache was already consumed by a
// previous Backward.
var ErrForwardNotCalled = errors.New("nn: backward requires a preceding forward pass")

// Gradients holds one layer's parameter gradients, shaped like the
// parameters they correspond to.
type Gradients struct {
	Weight *matrix.Matrix // (in, out)
	Bias   *matrix.Matrix // (1, out)
}

func (g Gradients) release() {
	if g.Weight != nil {
		g.Weight.Release()
	}
	if g.Bias != nil {
		g.Bias.Release()
	}
}

// Layer is one fully connected layer: weight (in, out), bias (1, out) and an
// elementwise activation. Forward caches the incoming batch and the
// pre-activation values; Backward consumes that cache, so at most one
// forward pass is in flight per layer.
type Layer struct {
	weight *matrix.Matrix
	bias   *matrix.Matrix
	fn     compute.Activation
	in     int
	out    int

	// Backward-pass cache. input is borrowed from the caller and must stay
	// alive until Backward; preAct is owned by the layer.
	input  *matrix.Matrix
	preAct *matrix.Matrix
}

// NewLayer creates a layer with Xavier-initialized weights and zero bias.
// A nil rng falls back to a time-seeded source.
func NewLayer(eng compute.Engine, in, out int, fn compute.Activation, rng *rand.Rand) (*Layer, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("nn: layer shape (%d, %d) is invalid", in, out)
	}
	weight, err := matrix.FromHost(eng, in, out, xavierUniform(rng, in, out))
	if err != nil {
		return nil, err
	}
	bias, err := matrix.Zeros(eng, 1, out)
	if err != nil {
		weight.Release()
		return nil, err
	}
	return &Layer{weight: weight, bias: bias, fn: fn, in: in, out: out}, nil
}

func newLayerWithParams(eng compute.Engine, in, out int, fn compute.Activation, weight, bias []float32) (*Layer, error) {
	w, err := matrix.FromHost(eng, in, out, weight)
	if err != nil {
		return nil, err
	}
	b, err := matrix.FromHost(eng, 1, out, bias)
	if err != nil {
		w.Release()
		return nil, err
	}
	return &Layer{weight: w, bias: b, fn: fn, in: in, out: out}, nil
}

// In returns the layer's input width.
func (l *Layer) In() int { return l.in }

// Out returns the layer's output width.
func (l *Layer) Out() int { return l.out }

// Activation returns the layer's activation function.
func (l *Layer) Activation() compute.Activation { return l.fn }

// Engine returns the engine the layer's parameters live on.
func (l *Layer) Engine() compute.Engine { return l.weight.Engine() }

// Weight returns the layer's weight matrix. The layer keeps ownership.
func (l *Layer) Weight() *matrix.Matrix { return l.weight }

// Bias returns the layer's bias row. The layer keeps ownership.
func (l *Layer) Bias() *matrix.Matrix { return l.bias }

// Forward computes activation(x*W + b) for a (batch, in) input and returns
// the (batch, out) activations. The input reference and the pre-activation
// values are cached for the next Backward, replacing any previous cache.
func (l *Layer) Forward(x *matrix.Matrix) (*matrix.Matrix, error) {
	l.resetCache()

	lin, err := x.MatMul(l.weight)
	if err != nil {
		return nil, err
	}
	pre, err := lin.Add(l.bias)
	lin.Release()
	if err != nil {
		return nil, err
	}
	act, err := pre.ApplyActivation(l.fn)
	if err != nil {
		pre.Release()
		return nil, err
	}

	l.input = x
	l.preAct = pre
	return act, nil
}

// Backward consumes the cached forward pass. Given the loss gradient with
// respect to this layer's output, it returns the parameter gradients and the
// loss gradient with respect to the layer's input, for the previous layer.
func (l *Layer) Backward(gradOut *matrix.Matrix) (Gradients, *matrix.Matrix, error) {
	if l.input == nil || l.preAct == nil {
		return Gradients{}, nil, ErrForwardNotCalled
	}

	deriv, err := l.preAct.ActivationDerivative(l.fn)
	if err != nil {
		return Gradients{}, nil, err
	}
	gradPre, err := gradOut.Mul(deriv)
	deriv.Release()
	if err != nil {
		return Gradients{}, nil, err
	}

	wGrad, err := l.input.MatMulTransposedLeft(gradPre)
	if err != nil {
		gradPre.Release()
		return Gradients{}, nil, err
	}
	bGrad, err := gradPre.SumColumns()
	if err != nil {
		gradPre.Release()
		wGrad.Release()
		return Gradients{}, nil, err
	}
	gradIn, err := gradPre.MatMulTransposedRight(l.weight)
	gradPre.Release()
	if err != nil {
		wGrad.Release()
		bGrad.Release()
		return Gradients{}, nil, err
	}

	l.resetCache()
	return Gradients{Weight: wGrad, Bias: bGrad}, gradIn, nil
}

// Update applies one SGD step in place, weight -= lr*grad, and releases the
// gradients. No buffer is allocated.
func (l *Layer) Update(g Gradients, lr float32) error {
	defer g.release()
	if err := l.weight.AddScaledInPlace(g.Weight, -lr); err != nil {
		return err
	}
	return l.bias.AddScaledInPlace(g.Bias, -lr)
}

func (l *Layer) resetCache() {
	if l.preAct != nil {
		l.preAct.Release()
		l.preAct = nil
	}
	l.input = nil
}

// Release frees the layer's parameters and any cached pre-activation.
func (l *Layer) Release() {
	l.resetCache()
	if l.weight != nil {
		l.weight.Release()
	}
	if l.bias != nil {
		l.bias.Release()
	}
}
