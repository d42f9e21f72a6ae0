package compute_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JordanHanotiaux/P3/internal/compute"
)

func TestCPUInitializeIsIdempotent(t *testing.T) {
	eng := compute.NewCPU()
	defer eng.Release()

	assert.False(t, eng.Initialized())
	require.NoError(t, eng.Initialize())
	assert.True(t, eng.Initialized())
	require.NoError(t, eng.Initialize())
	assert.True(t, eng.Initialized())
}

func TestCPUKernelsRequireInitialize(t *testing.T) {
	eng := compute.NewCPU()
	defer eng.Release()

	a, err := eng.Upload([]float32{1, 2, 3, 4})
	require.NoError(t, err, "transfers work before initialization")
	out, err := eng.NewBuffer(4)
	require.NoError(t, err)

	err = eng.Add(a, a, out, 4)
	require.ErrorIs(t, err, compute.ErrNotInitialized)
	err = eng.MatMul(a, a, out, 2, 2, 2)
	require.ErrorIs(t, err, compute.ErrNotInitialized)
	err = eng.AddScaled(a, out, 4, 1)
	require.ErrorIs(t, err, compute.ErrNotInitialized)
}

func TestCPUUploadCopiesData(t *testing.T) {
	eng := compute.NewCPU()
	defer eng.Release()
	require.NoError(t, eng.Initialize())

	src := []float32{1, 2, 3}
	buf, err := eng.Upload(src)
	require.NoError(t, err)
	src[0] = 99

	dst := make([]float32, 3)
	require.NoError(t, eng.Download(buf, dst))
	assert.Equal(t, []float32{1, 2, 3}, dst)
}

func TestCPUDownloadLengthMismatch(t *testing.T) {
	eng := compute.NewCPU()
	defer eng.Release()
	require.NoError(t, eng.Initialize())

	buf, err := eng.Upload([]float32{1, 2, 3})
	require.NoError(t, err)

	var xfer *compute.TransferError
	err = eng.Download(buf, make([]float32, 2))
	require.ErrorAs(t, err, &xfer)
}

func TestCPUMatMulVariantsAgree(t *testing.T) {
	eng := compute.NewCPU()
	defer eng.Release()
	require.NoError(t, eng.Initialize())

	// a (2,3), b (3,2): compare plain product against both fused-transpose
	// forms applied to pre-transposed operands.
	av := []float32{1, 2, 3, 4, 5, 6}
	bv := []float32{7, 8, 9, 10, 11, 12}
	bT := []float32{7, 9, 11, 8, 10, 12} // (2,3)
	aT := []float32{1, 4, 2, 5, 3, 6}    // (3,2)

	upload := func(v []float32) compute.Buffer {
		buf, err := eng.Upload(v)
		require.NoError(t, err)
		return buf
	}
	read := func(buf compute.Buffer, n int) []float32 {
		dst := make([]float32, n)
		require.NoError(t, eng.Download(buf, dst))
		return dst
	}

	a, b, bt, at := upload(av), upload(bv), upload(bT), upload(aT)
	plain, err := eng.NewBuffer(4)
	require.NoError(t, err)
	right, err := eng.NewBuffer(4)
	require.NoError(t, err)
	left, err := eng.NewBuffer(4)
	require.NoError(t, err)

	require.NoError(t, eng.MatMul(a, b, plain, 2, 3, 2))
	require.NoError(t, eng.MatMulTransposedRight(a, bt, right, 2, 3, 2))
	require.NoError(t, eng.MatMulTransposedLeft(at, b, left, 2, 3, 2))

	want := read(plain, 4)
	assert.Equal(t, []float32{58, 64, 139, 154}, want)
	assert.Equal(t, want, read(right, 4))
	assert.Equal(t, want, read(left, 4))
}

func TestParseActivation(t *testing.T) {
	cases := map[string]compute.Activation{
		"identity": compute.Identity,
		"linear":   compute.Identity,
		"sigmoid":  compute.Sigmoid,
		"RELU":     compute.ReLU,
		"Tanh":     compute.Tanh,
	}
	for name, want := range cases {
		got, err := compute.ParseActivation(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got)
	}

	_, err := compute.ParseActivation("softmax")
	require.Error(t, err)
}

func TestActivationString(t *testing.T) {
	assert.Equal(t, "identity", compute.Identity.String())
	assert.Equal(t, "sigmoid", compute.Sigmoid.String())
	assert.Equal(t, "relu", compute.ReLU.String())
	assert.Equal(t, "tanh", compute.Tanh.String())
}

func TestBuildErrorListsEveryDevice(t *testing.T) {
	err := &compute.BuildError{Logs: map[string]string{
		"vendor/gpu-b": "12:3 expected ';'",
		"vendor/gpu-a": "1:1 unknown identifier",
	}}

	msg := err.Error()
	assert.Contains(t, msg, "vendor/gpu-a")
	assert.Contains(t, msg, "vendor/gpu-b")
	assert.Contains(t, msg, "unknown identifier")
	assert.Less(t, strings.Index(msg, "gpu-a"), strings.Index(msg, "gpu-b"),
		"diagnostics are ordered by device label")
}

func TestKernelSourcesAreCopied(t *testing.T) {
	first := compute.Kernels()
	require.NotEmpty(t, first)
	for name, src := range first {
		assert.NotEmpty(t, src, name)
	}

	first["matmul"] = "tampered"
	second := compute.Kernels()
	assert.NotEqual(t, "tampered", second["matmul"])
}
