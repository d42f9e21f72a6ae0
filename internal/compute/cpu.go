package compute

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/JordanHanotiaux/P3/internal/parallel"
)

type cpuBuffer struct {
	data []float32
}

func (b *cpuBuffer) Len() int { return len(b.data) }

func (b *cpuBuffer) Release() { b.data = nil }

// CPU is the pure-Go engine. Operations run synchronously on the calling
// goroutine, which trivially satisfies the in-order execution contract. It
// mirrors the WebGPU engine's numeric behaviour so the layers above can be
// exercised without an adapter.
type CPU struct {
	ready  atomic.Bool
	allocs atomic.Int64
	par    parallel.Config
}

// NewCPU creates an uninitialized CPU engine.
func NewCPU() *CPU { return &CPU{par: parallel.DefaultConfig()} }

// Name identifies the engine.
func (c *CPU) Name() string { return "cpu" }

// Initialize marks the engine ready. There is nothing to compile; the method
// exists so both engines share one lifecycle, and ops before it still fail
// with ErrNotInitialized.
func (c *CPU) Initialize() error {
	c.ready.Store(true)
	return nil
}

// Initialized reports whether Initialize has been called.
func (c *CPU) Initialized() bool { return c.ready.Load() }

// Release marks the engine unusable.
func (c *CPU) Release() { c.ready.Store(false) }

// Allocations returns the number of buffers created so far. Tests use it to
// verify that rejected operations allocate nothing.
func (c *CPU) Allocations() int64 { return c.allocs.Load() }

// NewBuffer allocates a zero-filled buffer of n elements.
func (c *CPU) NewBuffer(n int) (Buffer, error) {
	c.allocs.Add(1)
	return &cpuBuffer{data: make([]float32, n)}, nil
}

// Upload copies data into a fresh buffer.
func (c *CPU) Upload(data []float32) (Buffer, error) {
	c.allocs.Add(1)
	buf := &cpuBuffer{data: make([]float32, len(data))}
	copy(buf.data, data)
	return buf, nil
}

// Download copies the buffer into dst.
func (c *CPU) Download(b Buffer, dst []float32) error {
	cb, err := c.buf(b)
	if err != nil {
		return &TransferError{Dir: "device-to-host", Cause: err}
	}
	if len(dst) != len(cb.data) {
		return &TransferError{
			Dir:   "device-to-host",
			Cause: fmt.Errorf("destination holds %d elements, buffer has %d", len(dst), len(cb.data)),
		}
	}
	copy(dst, cb.data)
	return nil
}

// MatMul computes out[m,n] = a[m,k] * b[k,n] with the naive triple loop,
// rows spread across cores.
func (c *CPU) MatMul(a, b, out Buffer, m, k, n int) error {
	av, bv, ov, err := c.triple(a, b, out)
	if err != nil {
		return err
	}
	parallel.For(m, func(i int) {
		for j := 0; j < n; j++ {
			var sum float32
			for x := 0; x < k; x++ {
				sum += av[i*k+x] * bv[x*n+j]
			}
			ov[i*n+j] = sum
		}
	}, c.par)
	return nil
}

// MatMulTransposedRight computes out[m,n] = a[m,k] * b^T with b stored (n,k).
func (c *CPU) MatMulTransposedRight(a, b, out Buffer, m, k, n int) error {
	av, bv, ov, err := c.triple(a, b, out)
	if err != nil {
		return err
	}
	parallel.For(m, func(i int) {
		for j := 0; j < n; j++ {
			var sum float32
			for x := 0; x < k; x++ {
				sum += av[i*k+x] * bv[j*k+x]
			}
			ov[i*n+j] = sum
		}
	}, c.par)
	return nil
}

// MatMulTransposedLeft computes out[m,n] = a^T * b with a stored (k,m).
func (c *CPU) MatMulTransposedLeft(a, b, out Buffer, m, k, n int) error {
	av, bv, ov, err := c.triple(a, b, out)
	if err != nil {
		return err
	}
	parallel.For(m, func(i int) {
		for j := 0; j < n; j++ {
			var sum float32
			for x := 0; x < k; x++ {
				sum += av[x*m+i] * bv[x*n+j]
			}
			ov[i*n+j] = sum
		}
	}, c.par)
	return nil
}

// Add computes out = a + b elementwise.
func (c *CPU) Add(a, b, out Buffer, n int) error {
	av, bv, ov, err := c.triple(a, b, out)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		ov[i] = av[i] + bv[i]
	}
	return nil
}

// Sub computes out = a - b elementwise.
func (c *CPU) Sub(a, b, out Buffer, n int) error {
	av, bv, ov, err := c.triple(a, b, out)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		ov[i] = av[i] - bv[i]
	}
	return nil
}

// Mul computes the Hadamard product out = a * b.
func (c *CPU) Mul(a, b, out Buffer, n int) error {
	av, bv, ov, err := c.triple(a, b, out)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		ov[i] = av[i] * bv[i]
	}
	return nil
}

// Scale computes out = a * k.
func (c *CPU) Scale(a, out Buffer, n int, k float32) error {
	av, ov, err := c.pair(a, out)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		ov[i] = av[i] * k
	}
	return nil
}

// Activation applies fn elementwise.
func (c *CPU) Activation(a, out Buffer, n int, fn Activation) error {
	av, ov, err := c.pair(a, out)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		ov[i] = activate(av[i], fn)
	}
	return nil
}

// ActivationDerivative evaluates fn's derivative at the values in a.
func (c *CPU) ActivationDerivative(a, out Buffer, n int, fn Activation) error {
	av, ov, err := c.pair(a, out)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		ov[i] = activateDerivative(av[i], fn)
	}
	return nil
}

// SumColumns reduces a (rows, cols) buffer to per-column sums.
func (c *CPU) SumColumns(a, out Buffer, rows, cols int) error {
	av, ov, err := c.pair(a, out)
	if err != nil {
		return err
	}
	for j := 0; j < cols; j++ {
		var sum float32
		for i := 0; i < rows; i++ {
			sum += av[i*cols+j]
		}
		ov[j] = sum
	}
	return nil
}

// BroadcastRowAdd adds a (1, cols) row to every row of a (rows, cols) buffer.
func (c *CPU) BroadcastRowAdd(a, row, out Buffer, rows, cols int) error {
	av, rv, ov, err := c.triple(a, row, out)
	if err != nil {
		return err
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			ov[i*cols+j] = av[i*cols+j] + rv[j]
		}
	}
	return nil
}

// AddScaled mutates dst in place: dst[i] += k * b[i].
func (c *CPU) AddScaled(dst, b Buffer, n int, k float32) error {
	dv, bv, err := c.pair(dst, b)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		dv[i] += k * bv[i]
	}
	return nil
}

// CrossEntropyGradient computes (p-t)/max(p*(1-p), eps) elementwise.
func (c *CPU) CrossEntropyGradient(pred, target, out Buffer, n int) error {
	pv, tv, ov, err := c.triple(pred, target, out)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		p := pv[i]
		denom := p * (1 - p)
		if denom < 1e-7 {
			denom = 1e-7
		}
		ov[i] = (p - tv[i]) / denom
	}
	return nil
}

func activate(x float32, fn Activation) float32 {
	switch fn {
	case Sigmoid:
		return float32(1.0 / (1.0 + math.Exp(-float64(x))))
	case ReLU:
		if x > 0 {
			return x
		}
		return 0
	case Tanh:
		return float32(math.Tanh(float64(x)))
	default:
		return x
	}
}

func activateDerivative(x float32, fn Activation) float32 {
	switch fn {
	case Sigmoid:
		s := float32(1.0 / (1.0 + math.Exp(-float64(x))))
		return s * (1 - s)
	case ReLU:
		if x > 0 {
			return 1
		}
		return 0
	case Tanh:
		t := float32(math.Tanh(float64(x)))
		return 1 - t*t
	default:
		return 1
	}
}

// buf type-asserts without a readiness check; transfers work on an
// uninitialized engine, kernel ops do not.
func (c *CPU) buf(b Buffer) (*cpuBuffer, error) {
	cb, ok := b.(*cpuBuffer)
	if !ok || cb.data == nil {
		return nil, fmt.Errorf("compute: operand is not a live cpu buffer")
	}
	return cb, nil
}

func (c *CPU) pair(a, b Buffer) ([]float32, []float32, error) {
	if !c.ready.Load() {
		return nil, nil, ErrNotInitialized
	}
	ab, err := c.buf(a)
	if err != nil {
		return nil, nil, err
	}
	bb, err := c.buf(b)
	if err != nil {
		return nil, nil, err
	}
	return ab.data, bb.data, nil
}

func (c *CPU) triple(a, b, out Buffer) ([]float32, []float32, []float32, error) {
	av, bv, err := c.pair(a, b)
	if err != nil {
		return nil, nil, nil, err
	}
	ob, err := c.buf(out)
	if err != nil {
		return nil, nil, nil, err
	}
	return av, bv, ob.data, nil
}
