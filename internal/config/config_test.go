package config_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JordanHanotiaux/P3/internal/compute"
	"github.com/JordanHanotiaux/P3/internal/config"
)

const xorExperiment = `
network:
  inputs: 2
  layers:
    - units: 4
      activation: sigmoid
    - units: 1
      activation: sigmoid
training:
  loss: mse
  learning_rate: 0.5
  epochs: 2000
  batch_size: 4
data:
  dataset: xor
`

func TestParseExperiment(t *testing.T) {
	e, err := config.Parse([]byte(xorExperiment))
	require.NoError(t, err)

	assert.Equal(t, 2, e.Network.Inputs)
	require.Len(t, e.Network.Layers, 2)
	assert.Equal(t, 4, e.Network.Layers[0].Units)
	assert.Equal(t, "sigmoid", e.Network.Layers[0].Activation)

	cfg := e.TrainerConfig()
	assert.Equal(t, float32(0.5), cfg.LearningRate)
	assert.Equal(t, 2000, cfg.Epochs)
	assert.Equal(t, 4, cfg.BatchSize)

	loss, err := e.BuildLoss()
	require.NoError(t, err)
	assert.Equal(t, "mse", loss.Name())
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := config.Parse([]byte(`
network:
  inputs: 2
  hidden: 4
  layers:
    - units: 1
      activation: sigmoid
training:
  loss: mse
  learning_rate: 0.5
  epochs: 1
  batch_size: 1
data:
  dataset: xor
`))
	require.Error(t, err)
}

func TestValidateCatchesBadValues(t *testing.T) {
	mutate := func(f func(e *config.Experiment)) error {
		e, err := config.Parse([]byte(xorExperiment))
		require.NoError(t, err)
		f(e)
		return e.Validate()
	}

	require.Error(t, mutate(func(e *config.Experiment) { e.Network.Inputs = 0 }))
	require.Error(t, mutate(func(e *config.Experiment) { e.Network.Layers = nil }))
	require.Error(t, mutate(func(e *config.Experiment) { e.Network.Layers[0].Units = -1 }))
	require.Error(t, mutate(func(e *config.Experiment) { e.Network.Layers[0].Activation = "softmax" }))
	require.Error(t, mutate(func(e *config.Experiment) { e.Training.Loss = "hinge" }))
	require.Error(t, mutate(func(e *config.Experiment) { e.Training.LearningRate = 0 }))
	require.Error(t, mutate(func(e *config.Experiment) { e.Training.Epochs = 0 }))
	require.Error(t, mutate(func(e *config.Experiment) { e.Training.BatchSize = 0 }))
	require.Error(t, mutate(func(e *config.Experiment) { e.Data.Dataset = "mnist" }))
	require.Error(t, mutate(func(e *config.Experiment) { e.Data.Dataset = "" }))
}

func TestBuildNetworkFollowsTopology(t *testing.T) {
	e, err := config.Parse([]byte(xorExperiment))
	require.NoError(t, err)

	eng := compute.NewCPU()
	t.Cleanup(eng.Release)
	require.NoError(t, eng.Initialize())

	net, err := e.BuildNetwork(eng, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	t.Cleanup(net.Release)

	require.Len(t, net.Layers(), 2)
	assert.Equal(t, 2, net.In())
	assert.Equal(t, 1, net.Out())
	assert.Equal(t, 4, net.Layers()[0].Out())
	assert.Equal(t, compute.Sigmoid, net.Layers()[1].Activation())
}

func TestBuildDatasetBuiltinXOR(t *testing.T) {
	e, err := config.Parse([]byte(xorExperiment))
	require.NoError(t, err)

	ds, err := e.BuildDataset()
	require.NoError(t, err)
	assert.Equal(t, 4, ds.Samples)
	assert.Equal(t, []float32{0, 1, 1, 0}, ds.Targets)
}

func TestBuildDatasetInlineSamples(t *testing.T) {
	e, err := config.Parse([]byte(`
network:
  inputs: 2
  layers:
    - units: 1
      activation: identity
training:
  loss: mse
  learning_rate: 0.1
  epochs: 1
  batch_size: 1
data:
  samples:
    - in: [1, 2]
      out: [3]
    - in: [4, 5]
      out: [9]
`))
	require.NoError(t, err)

	ds, err := e.BuildDataset()
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Samples)
	assert.Equal(t, 2, ds.In)
	assert.Equal(t, 1, ds.Out)
	assert.Equal(t, []float32{1, 2, 4, 5}, ds.Inputs)
	assert.Equal(t, []float32{3, 9}, ds.Targets)
}

func TestValidateRejectsRaggedSamples(t *testing.T) {
	_, err := config.Parse([]byte(`
network:
  inputs: 2
  layers:
    - units: 1
      activation: identity
training:
  loss: mse
  learning_rate: 0.1
  epochs: 1
  batch_size: 1
data:
  samples:
    - in: [1, 2, 3]
      out: [1]
`))
	require.Error(t, err)
}
