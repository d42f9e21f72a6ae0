// Package config loads experiment definitions: network topology, training
// session parameters and the dataset, all from one YAML document.
package config

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/JordanHanotiaux/P3/internal/compute"
	"github.com/JordanHanotiaux/P3/internal/nn"
	"github.com/JordanHanotiaux/P3/internal/train"
)

// Experiment is a complete training run description.
type Experiment struct {
	Network  Network  `yaml:"network"`
	Training Training `yaml:"training"`
	Data     Data     `yaml:"data"`
}

// Network describes the layer stack. Each layer consumes the previous
// layer's units, starting from Inputs.
type Network struct {
	Inputs int         `yaml:"inputs"`
	Layers []LayerSpec `yaml:"layers"`
}

// LayerSpec is one fully connected layer.
type LayerSpec struct {
	Units      int    `yaml:"units"`
	Activation string `yaml:"activation"`
}

// Training carries the SGD session parameters.
type Training struct {
	Loss         string  `yaml:"loss"`
	LearningRate float32 `yaml:"learning_rate"`
	Epochs       int     `yaml:"epochs"`
	BatchSize    int     `yaml:"batch_size"`
}

// Data selects a built-in dataset by name or lists samples inline.
type Data struct {
	Dataset string   `yaml:"dataset,omitempty"`
	Samples []Sample `yaml:"samples,omitempty"`
}

// Sample is one supervised example.
type Sample struct {
	In  []float32 `yaml:"in"`
	Out []float32 `yaml:"out"`
}

// Load reads and validates an experiment file.
func Load(path string) (*Experiment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read experiment: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates an experiment document. Unknown fields are
// rejected so typos fail loudly instead of silently falling back.
func Parse(raw []byte) (*Experiment, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var e Experiment
	if err := dec.Decode(&e); err != nil {
		return nil, fmt.Errorf("failed to parse experiment: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate checks the experiment before any device work happens.
func (e *Experiment) Validate() error {
	if e.Network.Inputs <= 0 {
		return fmt.Errorf("config: network.inputs %d must be positive", e.Network.Inputs)
	}
	if len(e.Network.Layers) == 0 {
		return fmt.Errorf("config: network needs at least one layer")
	}
	for i, l := range e.Network.Layers {
		if l.Units <= 0 {
			return fmt.Errorf("config: layer %d units %d must be positive", i, l.Units)
		}
		if _, err := compute.ParseActivation(l.Activation); err != nil {
			return fmt.Errorf("config: layer %d: %w", i, err)
		}
	}
	if _, err := train.ParseLoss(e.Training.Loss); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if e.Training.LearningRate <= 0 {
		return fmt.Errorf("config: training.learning_rate %g must be positive", e.Training.LearningRate)
	}
	if e.Training.Epochs < 1 {
		return fmt.Errorf("config: training.epochs %d must be at least 1", e.Training.Epochs)
	}
	if e.Training.BatchSize < 1 {
		return fmt.Errorf("config: training.batch_size %d must be at least 1", e.Training.BatchSize)
	}

	switch {
	case e.Data.Dataset != "" && len(e.Data.Samples) > 0:
		return fmt.Errorf("config: data.dataset and data.samples are mutually exclusive")
	case e.Data.Dataset == "" && len(e.Data.Samples) == 0:
		return fmt.Errorf("config: data needs either a dataset name or inline samples")
	case e.Data.Dataset != "" && e.Data.Dataset != "xor":
		return fmt.Errorf("config: unknown dataset %q", e.Data.Dataset)
	}
	for i, s := range e.Data.Samples {
		if len(s.In) != e.Network.Inputs {
			return fmt.Errorf("config: sample %d has %d inputs, network expects %d",
				i, len(s.In), e.Network.Inputs)
		}
		if want := e.Network.Layers[len(e.Network.Layers)-1].Units; len(s.Out) != want {
			return fmt.Errorf("config: sample %d has %d outputs, network produces %d",
				i, len(s.Out), want)
		}
	}
	return nil
}

// BuildNetwork constructs the configured layer stack on eng. A nil rng
// leaves initialization time-seeded.
func (e *Experiment) BuildNetwork(eng compute.Engine, rng *rand.Rand) (*nn.Network, error) {
	layers := make([]*nn.Layer, 0, len(e.Network.Layers))
	in := e.Network.Inputs
	for _, spec := range e.Network.Layers {
		fn, err := compute.ParseActivation(spec.Activation)
		if err != nil {
			for _, l := range layers {
				l.Release()
			}
			return nil, err
		}
		layer, err := nn.NewLayer(eng, in, spec.Units, fn, rng)
		if err != nil {
			for _, l := range layers {
				l.Release()
			}
			return nil, err
		}
		layers = append(layers, layer)
		in = spec.Units
	}
	return nn.NewNetwork(layers...)
}

// BuildLoss resolves the configured loss.
func (e *Experiment) BuildLoss() (train.Loss, error) {
	return train.ParseLoss(e.Training.Loss)
}

// TrainerConfig maps the training section onto the trainer's session
// parameters.
func (e *Experiment) TrainerConfig() train.Config {
	return train.Config{
		LearningRate: e.Training.LearningRate,
		Epochs:       e.Training.Epochs,
		BatchSize:    e.Training.BatchSize,
	}
}

// BuildDataset materializes the configured dataset.
func (e *Experiment) BuildDataset() (train.Dataset, error) {
	if e.Data.Dataset == "xor" {
		return XORDataset(), nil
	}

	out := len(e.Data.Samples[0].Out)
	ds := train.Dataset{
		Samples: len(e.Data.Samples),
		In:      e.Network.Inputs,
		Out:     out,
	}
	for _, s := range e.Data.Samples {
		ds.Inputs = append(ds.Inputs, s.In...)
		ds.Targets = append(ds.Targets, s.Out...)
	}
	return ds, nil
}

// XORDataset is the four-row XOR truth table.
func XORDataset() train.Dataset {
	return train.Dataset{
		Inputs:  []float32{0, 0, 0, 1, 1, 0, 1, 1},
		Targets: []float32{0, 1, 1, 0},
		Samples: 4,
		In:      2,
		Out:     1,
	}
}
