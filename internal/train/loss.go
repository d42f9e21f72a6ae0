package train

import (
	"fmt"
	"math"
	"strings"

	"github.com/JordanHanotiaux/P3/internal/matrix"
)

// Loss scores predictions against targets. Gradient runs on the device and
// seeds backpropagation; Value is computed host-side from downloaded
// predictions, since the scalar is only needed for reporting.
type Loss interface {
	Name() string
	Gradient(pred, target *matrix.Matrix) (*matrix.Matrix, error)
	Value(pred, target []float32) float32
}

// MSE is the mean squared error, mean((pred-target)^2). Its gradient seed is
// pred-target, the derivative of the halved form.
type MSE struct{}

func (MSE) Name() string { return "mse" }

func (MSE) Gradient(pred, target *matrix.Matrix) (*matrix.Matrix, error) {
	return pred.Sub(target)
}

func (MSE) Value(pred, target []float32) float32 {
	var sum float64
	for i := range pred {
		d := float64(pred[i] - target[i])
		sum += d * d
	}
	return float32(sum / float64(len(pred)))
}

// CrossEntropy is the binary cross-entropy over probability outputs.
// Predictions are clamped away from 0 and 1 so saturated outputs score a
// large finite loss instead of Inf.
type CrossEntropy struct{}

func (CrossEntropy) Name() string { return "cross-entropy" }

func (CrossEntropy) Gradient(pred, target *matrix.Matrix) (*matrix.Matrix, error) {
	return pred.CrossEntropyGradient(target)
}

func (CrossEntropy) Value(pred, target []float32) float32 {
	const eps = 1e-7
	var sum float64
	for i := range pred {
		p := math.Min(math.Max(float64(pred[i]), eps), 1-eps)
		t := float64(target[i])
		sum += t*math.Log(p) + (1-t)*math.Log(1-p)
	}
	return float32(-sum / float64(len(pred)))
}

// ParseLoss maps a configuration name to a loss.
func ParseLoss(name string) (Loss, error) {
	switch strings.ToLower(name) {
	case "mse", "mean-squared-error":
		return MSE{}, nil
	case "cross-entropy", "cross_entropy", "bce":
		return CrossEntropy{}, nil
	default:
		return nil, fmt.Errorf("train: unknown loss %q", name)
	}
}
