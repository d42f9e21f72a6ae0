// Package compute provides the accelerator layer: compute engines, device
// discovery and the compiled-kernel registry.
//
// Two engines implement the same operation contract. The WebGPU engine
// dispatches WGSL kernels on a real adapter; the CPU engine runs plain Go
// loops and exists so the numeric layers can be exercised on machines
// without a usable adapter. All numeric work is single-precision float32 on
// row-major data.
package compute

import (
	"fmt"
	"strings"
)

// Buffer is an engine-owned allocation holding float32 elements. A buffer is
// exclusively owned by its creator (usually a matrix) and must be handed back
// only to the engine that produced it. Release is idempotent.
type Buffer interface {
	// Len returns the element count the buffer was allocated for.
	Len() int
	// Release frees the underlying allocation.
	Release()
}

// Engine is the operation contract shared by the CPU and WebGPU engines.
//
// Every kernel method launches exactly one kernel on the engine's single
// command queue, and launches execute in submission order (in-order queue).
// Dependent operations therefore need no explicit synchronisation: a kernel
// reading a buffer observes the writes of every previously submitted kernel.
//
// Engines do not validate operand shapes; the matrix layer checks shapes
// before it allocates output buffers. Kernel methods fail with
// ErrNotInitialized until Initialize has succeeded.
type Engine interface {
	// Name identifies the engine ("cpu", or "webgpu/<adapter>").
	Name() string

	// Initialize prepares the kernel set. It is idempotent: calling it on
	// an already-initialized engine is a no-op. On the WebGPU engine a
	// compile failure is reported as a *BuildError carrying the per-device
	// compiler logs, and the engine stays uninitialized.
	Initialize() error

	// Initialized reports whether Initialize has succeeded.
	Initialized() bool

	// NewBuffer allocates a zero-filled buffer of n elements.
	NewBuffer(n int) (Buffer, error)

	// Upload allocates a buffer and performs a blocking host-to-device copy.
	Upload(data []float32) (Buffer, error)

	// Download performs a blocking device-to-host copy of len(dst) elements.
	// A copy rejected by the runtime is reported as a *TransferError.
	Download(b Buffer, dst []float32) error

	// MatMul computes out[m,n] = a[m,k] * b[k,n].
	MatMul(a, b, out Buffer, m, k, n int) error

	// MatMulTransposedRight computes out[m,n] = a[m,k] * b^T where b is
	// stored (n, k). Used by backward passes without materializing b^T.
	MatMulTransposedRight(a, b, out Buffer, m, k, n int) error

	// MatMulTransposedLeft computes out[m,n] = a^T * b where a is stored
	// (k, m).
	MatMulTransposedLeft(a, b, out Buffer, m, k, n int) error

	// Add computes out[i] = a[i] + b[i] over n elements.
	Add(a, b, out Buffer, n int) error

	// Sub computes out[i] = a[i] - b[i] over n elements.
	Sub(a, b, out Buffer, n int) error

	// Mul computes the Hadamard product out[i] = a[i] * b[i].
	Mul(a, b, out Buffer, n int) error

	// Scale computes out[i] = a[i] * k.
	Scale(a, out Buffer, n int, k float32) error

	// Activation applies fn elementwise to the pre-activation values in a.
	Activation(a, out Buffer, n int, fn Activation) error

	// ActivationDerivative evaluates fn's derivative elementwise at the
	// pre-activation values in a.
	ActivationDerivative(a, out Buffer, n int, fn Activation) error

	// SumColumns reduces a (rows, cols) buffer to a (1, cols) row of
	// per-column sums.
	SumColumns(a, out Buffer, rows, cols int) error

	// BroadcastRowAdd computes out[r,c] = a[r,c] + row[c] for a (rows, cols)
	// buffer and a (1, cols) row.
	BroadcastRowAdd(a, row, out Buffer, rows, cols int) error

	// AddScaled mutates dst in place: dst[i] += k * b[i]. The optimizer's
	// update rule with k = -learningRate; no allocation happens.
	AddScaled(dst, b Buffer, n int, k float32) error

	// CrossEntropyGradient computes the elementwise binary cross-entropy
	// seed out[i] = (pred[i] - target[i]) / max(pred[i]*(1-pred[i]), eps).
	CrossEntropyGradient(pred, target, out Buffer, n int) error

	// Release frees every engine-owned resource. The engine must not be
	// used afterwards.
	Release()
}

// Activation selects one of the closed set of elementwise activation
// functions understood by the activation kernels.
type Activation uint32

const (
	Identity Activation = iota
	Sigmoid
	ReLU
	Tanh
)

func (a Activation) String() string {
	switch a {
	case Identity:
		return "identity"
	case Sigmoid:
		return "sigmoid"
	case ReLU:
		return "relu"
	case Tanh:
		return "tanh"
	default:
		return fmt.Sprintf("activation(%d)", uint32(a))
	}
}

// ParseActivation maps a config-file name to an Activation. Names are
// case-insensitive.
func ParseActivation(name string) (Activation, error) {
	switch strings.ToLower(name) {
	case "identity", "linear":
		return Identity, nil
	case "sigmoid":
		return Sigmoid, nil
	case "relu":
		return ReLU, nil
	case "tanh":
		return Tanh, nil
	default:
		return Identity, fmt.Errorf("unknown activation %q", name)
	}
}
