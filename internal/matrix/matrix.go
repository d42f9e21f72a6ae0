// Package matrix implements the device-resident matrix type. A Matrix owns
// one engine buffer of fixed extent; operations validate shapes, allocate the
// result and launch exactly one kernel on the engine's in-order queue.
package matrix

import (
	"fmt"

	"github.com/JordanHanotiaux/P3/internal/compute"
)

// DimensionError reports operand shapes an operation cannot accept. For
// construction errors the second shape carries (1, len(data)). No output
// buffer is allocated when a DimensionError is returned.
type DimensionError struct {
	Op           string
	ARows, ACols int
	BRows, BCols int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("matrix: %s: shapes (%d,%d) and (%d,%d) are incompatible",
		e.Op, e.ARows, e.ACols, e.BRows, e.BCols)
}

// Matrix is a (rows, cols) float32 matrix resident on one engine. The shape
// is immutable; the buffer holds exactly rows*cols row-major elements and is
// exclusively owned by this instance.
type Matrix struct {
	rows, cols int
	buf        compute.Buffer
	eng        compute.Engine
}

// FromHost allocates a device buffer and performs a blocking host-to-device
// copy of data, which must hold exactly rows*cols row-major elements.
func FromHost(eng compute.Engine, rows, cols int, data []float32) (*Matrix, error) {
	if rows <= 0 || cols <= 0 || len(data) != rows*cols {
		return nil, &DimensionError{Op: "construct", ARows: rows, ACols: cols, BRows: 1, BCols: len(data)}
	}
	buf, err := eng.Upload(data)
	if err != nil {
		return nil, err
	}
	return &Matrix{rows: rows, cols: cols, buf: buf, eng: eng}, nil
}

// Zeros allocates a zero-filled (rows, cols) matrix, typically as an output
// placeholder.
func Zeros(eng compute.Engine, rows, cols int) (*Matrix, error) {
	if rows <= 0 || cols <= 0 {
		return nil, &DimensionError{Op: "construct", ARows: rows, ACols: cols}
	}
	buf, err := eng.NewBuffer(rows * cols)
	if err != nil {
		return nil, err
	}
	return &Matrix{rows: rows, cols: cols, buf: buf, eng: eng}, nil
}

// Rows returns the row count.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the column count.
func (m *Matrix) Cols() int { return m.cols }

// Engine returns the engine the matrix lives on.
func (m *Matrix) Engine() compute.Engine { return m.eng }

// ToHost performs a blocking device-to-host copy and returns the rows*cols
// elements in row-major order.
func (m *Matrix) ToHost() ([]float32, error) {
	dst := make([]float32, m.rows*m.cols)
	if err := m.eng.Download(m.buf, dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// Release frees the device buffer. Safe to call more than once.
func (m *Matrix) Release() {
	if m.buf != nil {
		m.buf.Release()
		m.buf = nil
	}
}

// MatMul computes the product m * b. Requires m.cols == b.rows; the result
// has shape (m.rows, b.cols).
func (m *Matrix) MatMul(b *Matrix) (*Matrix, error) {
	if err := m.sameEngine("matmul", b); err != nil {
		return nil, err
	}
	if m.cols != b.rows {
		return nil, m.mismatch("matmul", b)
	}
	out, err := Zeros(m.eng, m.rows, b.cols)
	if err != nil {
		return nil, err
	}
	if err := m.eng.MatMul(m.buf, b.buf, out.buf, m.rows, m.cols, b.cols); err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

// MatMulTransposedRight computes m * b^T without materializing the
// transpose. Requires m.cols == b.cols; the result has shape
// (m.rows, b.rows).
func (m *Matrix) MatMulTransposedRight(b *Matrix) (*Matrix, error) {
	if err := m.sameEngine("matmul-transposed-right", b); err != nil {
		return nil, err
	}
	if m.cols != b.cols {
		return nil, m.mismatch("matmul-transposed-right", b)
	}
	out, err := Zeros(m.eng, m.rows, b.rows)
	if err != nil {
		return nil, err
	}
	if err := m.eng.MatMulTransposedRight(m.buf, b.buf, out.buf, m.rows, m.cols, b.rows); err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

// MatMulTransposedLeft computes m^T * b without materializing the transpose.
// Requires m.rows == b.rows; the result has shape (m.cols, b.cols).
func (m *Matrix) MatMulTransposedLeft(b *Matrix) (*Matrix, error) {
	if err := m.sameEngine("matmul-transposed-left", b); err != nil {
		return nil, err
	}
	if m.rows != b.rows {
		return nil, m.mismatch("matmul-transposed-left", b)
	}
	out, err := Zeros(m.eng, m.cols, b.cols)
	if err != nil {
		return nil, err
	}
	if err := m.eng.MatMulTransposedLeft(m.buf, b.buf, out.buf, m.cols, m.rows, b.cols); err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

// Add computes m + b elementwise. b must either match m's shape or be a
// (1, m.cols) row, which is broadcast across m's rows (bias addition).
func (m *Matrix) Add(b *Matrix) (*Matrix, error) {
	if err := m.sameEngine("add", b); err != nil {
		return nil, err
	}
	switch {
	case m.rows == b.rows && m.cols == b.cols:
		return m.binary("add", b, m.eng.Add)
	case b.rows == 1 && b.cols == m.cols:
		out, err := Zeros(m.eng, m.rows, m.cols)
		if err != nil {
			return nil, err
		}
		if err := m.eng.BroadcastRowAdd(m.buf, b.buf, out.buf, m.rows, m.cols); err != nil {
			out.Release()
			return nil, err
		}
		return out, nil
	default:
		return nil, m.mismatch("add", b)
	}
}

// Sub computes m - b elementwise; shapes must match.
func (m *Matrix) Sub(b *Matrix) (*Matrix, error) {
	if err := m.sameEngine("sub", b); err != nil {
		return nil, err
	}
	if m.rows != b.rows || m.cols != b.cols {
		return nil, m.mismatch("sub", b)
	}
	return m.binary("sub", b, m.eng.Sub)
}

// Mul computes the Hadamard product m ⊙ b; shapes must match.
func (m *Matrix) Mul(b *Matrix) (*Matrix, error) {
	if err := m.sameEngine("mul", b); err != nil {
		return nil, err
	}
	if m.rows != b.rows || m.cols != b.cols {
		return nil, m.mismatch("mul", b)
	}
	return m.binary("mul", b, m.eng.Mul)
}

func (m *Matrix) binary(op string, b *Matrix, launch func(a, b, out compute.Buffer, n int) error) (*Matrix, error) {
	out, err := Zeros(m.eng, m.rows, m.cols)
	if err != nil {
		return nil, err
	}
	if err := launch(m.buf, b.buf, out.buf, m.rows*m.cols); err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

// Scale computes m * k for a scalar k.
func (m *Matrix) Scale(k float32) (*Matrix, error) {
	out, err := Zeros(m.eng, m.rows, m.cols)
	if err != nil {
		return nil, err
	}
	if err := m.eng.Scale(m.buf, out.buf, m.rows*m.cols, k); err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

// ApplyActivation applies fn elementwise.
func (m *Matrix) ApplyActivation(fn compute.Activation) (*Matrix, error) {
	out, err := Zeros(m.eng, m.rows, m.cols)
	if err != nil {
		return nil, err
	}
	if err := m.eng.Activation(m.buf, out.buf, m.rows*m.cols, fn); err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

// ActivationDerivative evaluates fn's derivative elementwise at m's values,
// which are taken to be pre-activation values.
func (m *Matrix) ActivationDerivative(fn compute.Activation) (*Matrix, error) {
	out, err := Zeros(m.eng, m.rows, m.cols)
	if err != nil {
		return nil, err
	}
	if err := m.eng.ActivationDerivative(m.buf, out.buf, m.rows*m.cols, fn); err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

// SumColumns produces the (1, m.cols) row of per-column sums.
func (m *Matrix) SumColumns() (*Matrix, error) {
	out, err := Zeros(m.eng, 1, m.cols)
	if err != nil {
		return nil, err
	}
	if err := m.eng.SumColumns(m.buf, out.buf, m.rows, m.cols); err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

// CrossEntropyGradient computes the elementwise binary cross-entropy seed
// (m - target) / max(m*(1-m), eps) against target probabilities; shapes must
// match.
func (m *Matrix) CrossEntropyGradient(target *Matrix) (*Matrix, error) {
	if err := m.sameEngine("cross-entropy-gradient", target); err != nil {
		return nil, err
	}
	if m.rows != target.rows || m.cols != target.cols {
		return nil, m.mismatch("cross-entropy-gradient", target)
	}
	out, err := Zeros(m.eng, m.rows, m.cols)
	if err != nil {
		return nil, err
	}
	if err := m.eng.CrossEntropyGradient(m.buf, target.buf, out.buf, m.rows*m.cols); err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

// AddScaledInPlace mutates the receiver: m[i] += k * b[i]. Shapes must
// match; no allocation happens. The optimizer's update path with
// k = -learningRate.
func (m *Matrix) AddScaledInPlace(b *Matrix, k float32) error {
	if err := m.sameEngine("add-scaled", b); err != nil {
		return err
	}
	if m.rows != b.rows || m.cols != b.cols {
		return m.mismatch("add-scaled", b)
	}
	return m.eng.AddScaled(m.buf, b.buf, m.rows*m.cols, k)
}

func (m *Matrix) sameEngine(op string, b *Matrix) error {
	if m.eng != b.eng {
		return fmt.Errorf("matrix: %s: operands belong to different engines", op)
	}
	return nil
}

func (m *Matrix) mismatch(op string, b *Matrix) *DimensionError {
	return &DimensionError{Op: op, ARows: m.rows, ACols: m.cols, BRows: b.rows, BCols: b.cols}
}
