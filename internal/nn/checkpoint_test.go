package nn_test

import (
	"crypto/sha256"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JordanHanotiaux/P3/internal/compute"
	"github.com/JordanHanotiaux/P3/internal/nn"
)

func TestCheckpointRoundTrip(t *testing.T) {
	eng := newEngine(t)
	rng := rand.New(rand.NewSource(9))

	hidden, err := nn.NewLayer(eng, 3, 5, compute.ReLU, rng)
	require.NoError(t, err)
	out, err := nn.NewLayer(eng, 5, 2, compute.Sigmoid, rng)
	require.NoError(t, err)
	net, err := nn.NewNetwork(hidden, out)
	require.NoError(t, err)
	t.Cleanup(net.Release)

	path := filepath.Join(t.TempDir(), "net.p3nn")
	require.NoError(t, nn.SaveNetwork(path, net))

	loaded, err := nn.LoadNetwork(path, eng)
	require.NoError(t, err)
	t.Cleanup(loaded.Release)

	require.Len(t, loaded.Layers(), 2)
	for i, want := range net.Layers() {
		got := loaded.Layers()[i]
		assert.Equal(t, want.In(), got.In())
		assert.Equal(t, want.Out(), got.Out())
		assert.Equal(t, want.Activation(), got.Activation())
		assert.Equal(t, toHost(t, want.Weight()), toHost(t, got.Weight()))
		assert.Equal(t, toHost(t, want.Bias()), toHost(t, got.Bias()))
	}
}

func TestCheckpointDetectsCorruption(t *testing.T) {
	eng := newEngine(t)
	rng := rand.New(rand.NewSource(9))

	layer, err := nn.NewLayer(eng, 2, 2, compute.Tanh, rng)
	require.NoError(t, err)
	net, err := nn.NewNetwork(layer)
	require.NoError(t, err)
	t.Cleanup(net.Release)

	path := filepath.Join(t.TempDir(), "net.p3nn")
	require.NoError(t, nn.SaveNetwork(path, net))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)/2] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = nn.LoadNetwork(path, eng)
	require.ErrorIs(t, err, nn.ErrChecksumMismatch)
}

func TestCheckpointRejectsTruncatedFile(t *testing.T) {
	eng := newEngine(t)
	path := filepath.Join(t.TempDir(), "net.p3nn")
	require.NoError(t, os.WriteFile(path, []byte("P3NN"), 0o644))

	_, err := nn.LoadNetwork(path, eng)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated")
}

func TestCheckpointRejectsForeignFile(t *testing.T) {
	eng := newEngine(t)

	// A well-formed trailer over a payload that is not a checkpoint.
	payload := []byte("XXXX not a checkpoint at all")
	sum := sha256.Sum256(payload)
	path := filepath.Join(t.TempDir(), "net.p3nn")
	require.NoError(t, os.WriteFile(path, append(payload, sum[:]...), 0o644))

	_, err := nn.LoadNetwork(path, eng)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a network checkpoint")
}
