package matrix_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JordanHanotiaux/P3/internal/compute"
	"github.com/JordanHanotiaux/P3/internal/matrix"
)

func newEngine(t *testing.T) *compute.CPU {
	t.Helper()
	eng := compute.NewCPU()
	require.NoError(t, eng.Initialize())
	return eng
}

func hostMatMul(a []float32, m, k int, b []float32, n int) []float32 {
	out := make([]float32, m*n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum float32
			for x := 0; x < k; x++ {
				sum += a[i*k+x] * b[x*n+j]
			}
			out[i*n+j] = sum
		}
	}
	return out
}

func hostTranspose(a []float32, rows, cols int) []float32 {
	out := make([]float32, len(a))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[j*rows+i] = a[i*cols+j]
		}
	}
	return out
}

func TestFromHostRoundTrip(t *testing.T) {
	eng := newEngine(t)
	defer eng.Release()

	data := []float32{1, 2, 3, 4, 5, 6}
	m, err := matrix.FromHost(eng, 2, 3, data)
	require.NoError(t, err)
	defer m.Release()

	assert.Equal(t, 2, m.Rows())
	assert.Equal(t, 3, m.Cols())

	got, err := m.ToHost()
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFromHostRejectsBadShape(t *testing.T) {
	eng := newEngine(t)
	defer eng.Release()

	var dimErr *matrix.DimensionError

	_, err := matrix.FromHost(eng, 0, 3, nil)
	require.ErrorAs(t, err, &dimErr)

	_, err = matrix.FromHost(eng, 2, 3, []float32{1, 2, 3})
	require.ErrorAs(t, err, &dimErr)
}

func TestMatMulMatchesHostProduct(t *testing.T) {
	eng := newEngine(t)
	defer eng.Release()

	av := []float32{1, 2, 3, 4, 5, 6}                // (2,3)
	bv := []float32{7, 8, 9, 10, 11, 12, 13, 14, 15} // (3,3)

	a, err := matrix.FromHost(eng, 2, 3, av)
	require.NoError(t, err)
	defer a.Release()
	b, err := matrix.FromHost(eng, 3, 3, bv)
	require.NoError(t, err)
	defer b.Release()

	c, err := a.MatMul(b)
	require.NoError(t, err)
	defer c.Release()

	assert.Equal(t, 2, c.Rows())
	assert.Equal(t, 3, c.Cols())

	got, err := c.ToHost()
	require.NoError(t, err)
	want := hostMatMul(av, 2, 3, bv, 3)
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-5)
	}
}

func TestMatMulTransposedRight(t *testing.T) {
	eng := newEngine(t)
	defer eng.Release()

	av := []float32{1, 2, 3, 4, 5, 6}    // (2,3)
	bv := []float32{1, 0, 2, -1, 3, 0.5} // (2,3), used as b^T

	a, err := matrix.FromHost(eng, 2, 3, av)
	require.NoError(t, err)
	defer a.Release()
	b, err := matrix.FromHost(eng, 2, 3, bv)
	require.NoError(t, err)
	defer b.Release()

	c, err := a.MatMulTransposedRight(b)
	require.NoError(t, err)
	defer c.Release()

	assert.Equal(t, 2, c.Rows())
	assert.Equal(t, 2, c.Cols())

	got, err := c.ToHost()
	require.NoError(t, err)
	want := hostMatMul(av, 2, 3, hostTranspose(bv, 2, 3), 2)
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-5)
	}
}

func TestMatMulTransposedLeft(t *testing.T) {
	eng := newEngine(t)
	defer eng.Release()

	av := []float32{1, 2, 3, 4, 5, 6}  // (3,2), used as a^T
	bv := []float32{2, -1, 0, 1, 4, 3} // (3,2)

	a, err := matrix.FromHost(eng, 3, 2, av)
	require.NoError(t, err)
	defer a.Release()
	b, err := matrix.FromHost(eng, 3, 2, bv)
	require.NoError(t, err)
	defer b.Release()

	c, err := a.MatMulTransposedLeft(b)
	require.NoError(t, err)
	defer c.Release()

	assert.Equal(t, 2, c.Rows())
	assert.Equal(t, 2, c.Cols())

	got, err := c.ToHost()
	require.NoError(t, err)
	want := hostMatMul(hostTranspose(av, 3, 2), 2, 3, bv, 2)
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-5)
	}
}

func TestAddSameShape(t *testing.T) {
	eng := newEngine(t)
	defer eng.Release()

	a, err := matrix.FromHost(eng, 2, 2, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	defer a.Release()
	b, err := matrix.FromHost(eng, 2, 2, []float32{10, 20, 30, 40})
	require.NoError(t, err)
	defer b.Release()

	c, err := a.Add(b)
	require.NoError(t, err)
	defer c.Release()

	got, err := c.ToHost()
	require.NoError(t, err)
	assert.Equal(t, []float32{11, 22, 33, 44}, got)
}

func TestAddBroadcastsRow(t *testing.T) {
	eng := newEngine(t)
	defer eng.Release()

	a, err := matrix.FromHost(eng, 3, 2, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	defer a.Release()
	bias, err := matrix.FromHost(eng, 1, 2, []float32{10, 100})
	require.NoError(t, err)
	defer bias.Release()

	c, err := a.Add(bias)
	require.NoError(t, err)
	defer c.Release()

	got, err := c.ToHost()
	require.NoError(t, err)
	assert.Equal(t, []float32{11, 102, 13, 104, 15, 106}, got)
}

func TestSubAndMul(t *testing.T) {
	eng := newEngine(t)
	defer eng.Release()

	a, err := matrix.FromHost(eng, 2, 2, []float32{5, 6, 7, 8})
	require.NoError(t, err)
	defer a.Release()
	b, err := matrix.FromHost(eng, 2, 2, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	defer b.Release()

	diff, err := a.Sub(b)
	require.NoError(t, err)
	defer diff.Release()
	got, err := diff.ToHost()
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 4, 4, 4}, got)

	prod, err := a.Mul(b)
	require.NoError(t, err)
	defer prod.Release()
	got, err = prod.ToHost()
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 12, 21, 32}, got)
}

func TestScale(t *testing.T) {
	eng := newEngine(t)
	defer eng.Release()

	a, err := matrix.FromHost(eng, 1, 4, []float32{1, -2, 3, -4})
	require.NoError(t, err)
	defer a.Release()

	c, err := a.Scale(-0.5)
	require.NoError(t, err)
	defer c.Release()

	got, err := c.ToHost()
	require.NoError(t, err)
	assert.Equal(t, []float32{-0.5, 1, -1.5, 2}, got)
}

func TestApplyActivation(t *testing.T) {
	eng := newEngine(t)
	defer eng.Release()

	in := []float32{-2, -0.5, 0, 0.5, 2}
	a, err := matrix.FromHost(eng, 1, len(in), in)
	require.NoError(t, err)
	defer a.Release()

	sigmoid := func(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

	cases := []struct {
		fn   compute.Activation
		want func(x float64) float64
	}{
		{compute.Identity, func(x float64) float64 { return x }},
		{compute.Sigmoid, sigmoid},
		{compute.ReLU, func(x float64) float64 { return math.Max(0, x) }},
		{compute.Tanh, math.Tanh},
	}
	for _, tc := range cases {
		t.Run(tc.fn.String(), func(t *testing.T) {
			out, err := a.ApplyActivation(tc.fn)
			require.NoError(t, err)
			defer out.Release()

			got, err := out.ToHost()
			require.NoError(t, err)
			for i, x := range in {
				assert.InDelta(t, tc.want(float64(x)), got[i], 1e-5)
			}
		})
	}
}

func TestActivationDerivative(t *testing.T) {
	eng := newEngine(t)
	defer eng.Release()

	in := []float32{-2, -0.5, 0, 0.5, 2}
	a, err := matrix.FromHost(eng, 1, len(in), in)
	require.NoError(t, err)
	defer a.Release()

	sigmoid := func(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

	cases := []struct {
		fn   compute.Activation
		want func(x float64) float64
	}{
		{compute.Identity, func(float64) float64 { return 1 }},
		{compute.Sigmoid, func(x float64) float64 { s := sigmoid(x); return s * (1 - s) }},
		{compute.ReLU, func(x float64) float64 {
			if x > 0 {
				return 1
			}
			return 0
		}},
		{compute.Tanh, func(x float64) float64 { t := math.Tanh(x); return 1 - t*t }},
	}
	for _, tc := range cases {
		t.Run(tc.fn.String(), func(t *testing.T) {
			out, err := a.ActivationDerivative(tc.fn)
			require.NoError(t, err)
			defer out.Release()

			got, err := out.ToHost()
			require.NoError(t, err)
			for i, x := range in {
				assert.InDelta(t, tc.want(float64(x)), got[i], 1e-5)
			}
		})
	}
}

func TestSumColumns(t *testing.T) {
	eng := newEngine(t)
	defer eng.Release()

	a, err := matrix.FromHost(eng, 3, 2, []float32{1, 10, 2, 20, 3, 30})
	require.NoError(t, err)
	defer a.Release()

	c, err := a.SumColumns()
	require.NoError(t, err)
	defer c.Release()

	assert.Equal(t, 1, c.Rows())
	assert.Equal(t, 2, c.Cols())

	got, err := c.ToHost()
	require.NoError(t, err)
	assert.Equal(t, []float32{6, 60}, got)
}

func TestCrossEntropyGradient(t *testing.T) {
	eng := newEngine(t)
	defer eng.Release()

	pred, err := matrix.FromHost(eng, 1, 3, []float32{0.9, 0.2, 0.5})
	require.NoError(t, err)
	defer pred.Release()
	target, err := matrix.FromHost(eng, 1, 3, []float32{1, 0, 1})
	require.NoError(t, err)
	defer target.Release()

	grad, err := pred.CrossEntropyGradient(target)
	require.NoError(t, err)
	defer grad.Release()

	got, err := grad.ToHost()
	require.NoError(t, err)
	want := []float64{
		(0.9 - 1) / (0.9 * 0.1),
		(0.2 - 0) / (0.2 * 0.8),
		(0.5 - 1) / (0.5 * 0.5),
	}
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-5)
	}
}

func TestAddScaledInPlace(t *testing.T) {
	eng := newEngine(t)
	defer eng.Release()

	w, err := matrix.FromHost(eng, 2, 2, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	defer w.Release()
	g, err := matrix.FromHost(eng, 2, 2, []float32{10, 10, 10, 10})
	require.NoError(t, err)
	defer g.Release()

	before := eng.Allocations()
	require.NoError(t, w.AddScaledInPlace(g, -0.1))
	assert.Equal(t, before, eng.Allocations(), "in-place update must not allocate")

	got, err := w.ToHost()
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 2, 3}, got)
}

func TestDimensionMismatchAllocatesNothing(t *testing.T) {
	eng := newEngine(t)
	defer eng.Release()

	a, err := matrix.FromHost(eng, 2, 3, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	defer a.Release()
	b, err := matrix.FromHost(eng, 2, 3, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	defer b.Release()

	tall := mustFromHost(t, eng, 3, 2)
	flat := mustFromHost(t, eng, 1, 6)
	narrow := mustFromHost(t, eng, 1, 2)

	var dimErr *matrix.DimensionError
	before := eng.Allocations()

	_, err = a.MatMul(b) // inner dimensions disagree: 3 vs 2
	require.ErrorAs(t, err, &dimErr)

	_, err = a.MatMulTransposedRight(tall)
	require.ErrorAs(t, err, &dimErr)

	_, err = a.MatMulTransposedLeft(tall)
	require.ErrorAs(t, err, &dimErr)

	_, err = a.Sub(tall)
	require.ErrorAs(t, err, &dimErr)

	_, err = a.Mul(flat)
	require.ErrorAs(t, err, &dimErr)

	_, err = a.Add(narrow) // wrong row width, no broadcast
	require.ErrorAs(t, err, &dimErr)

	err = a.AddScaledInPlace(tall, 1)
	require.ErrorAs(t, err, &dimErr)

	assert.Equal(t, before, eng.Allocations(), "failed operations must not allocate outputs")
}

func TestOperationsRequireInitializedEngine(t *testing.T) {
	eng := compute.NewCPU() // deliberately not initialized
	defer eng.Release()

	a, err := matrix.FromHost(eng, 2, 2, []float32{1, 2, 3, 4})
	require.NoError(t, err, "transfers do not require kernel initialization")
	defer a.Release()

	_, err = a.MatMul(a)
	require.ErrorIs(t, err, compute.ErrNotInitialized)

	_, err = a.Scale(2)
	require.ErrorIs(t, err, compute.ErrNotInitialized)
}

func TestMixedEnginesRejected(t *testing.T) {
	e1 := newEngine(t)
	defer e1.Release()
	e2 := newEngine(t)
	defer e2.Release()

	a, err := matrix.FromHost(e1, 1, 2, []float32{1, 2})
	require.NoError(t, err)
	defer a.Release()
	b, err := matrix.FromHost(e2, 1, 2, []float32{3, 4})
	require.NoError(t, err)
	defer b.Release()

	_, err = a.Add(b)
	require.Error(t, err)
	var dimErr *matrix.DimensionError
	assert.False(t, errors.As(err, &dimErr), "engine mismatch is not a shape error")
}

func mustFromHost(t *testing.T, eng compute.Engine, rows, cols int) *matrix.Matrix {
	t.Helper()
	m, err := matrix.FromHost(eng, rows, cols, make([]float32, rows*cols))
	require.NoError(t, err)
	t.Cleanup(m.Release)
	return m
}
