// Package train runs minibatch SGD over a network. Batches are uploaded to
// the device once and revisited every epoch; the only per-step host traffic
// is the prediction download that feeds loss reporting.
package train

import (
	"fmt"

	"github.com/JordanHanotiaux/P3/internal/compute"
	"github.com/JordanHanotiaux/P3/internal/matrix"
	"github.com/JordanHanotiaux/P3/internal/nn"
)

// Config carries the SGD session parameters.
type Config struct {
	LearningRate float32
	Epochs       int
	BatchSize    int
}

func (c Config) validate() error {
	if c.LearningRate <= 0 {
		return fmt.Errorf("train: learning rate %g must be positive", c.LearningRate)
	}
	if c.Epochs < 1 {
		return fmt.Errorf("train: epoch count %d must be at least 1", c.Epochs)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("train: batch size %d must be at least 1", c.BatchSize)
	}
	return nil
}

// Dataset is a host-side supervised dataset in row-major layout: Inputs
// holds Samples rows of In features, Targets holds Samples rows of Out
// values.
type Dataset struct {
	Inputs  []float32
	Targets []float32
	Samples int
	In      int
	Out     int
}

func (d Dataset) validate() error {
	if d.Samples <= 0 || d.In <= 0 || d.Out <= 0 {
		return fmt.Errorf("train: dataset extents (%d samples, %d in, %d out) are invalid",
			d.Samples, d.In, d.Out)
	}
	if len(d.Inputs) != d.Samples*d.In {
		return fmt.Errorf("train: dataset holds %d input values, want %d", len(d.Inputs), d.Samples*d.In)
	}
	if len(d.Targets) != d.Samples*d.Out {
		return fmt.Errorf("train: dataset holds %d target values, want %d", len(d.Targets), d.Samples*d.Out)
	}
	return nil
}

// Reporter observes the mean loss after each epoch. Epochs are numbered
// from 1.
type Reporter func(epoch int, loss float32)

// Option configures a Trainer.
type Option func(*Trainer)

// WithReporter registers a per-epoch loss observer.
func WithReporter(r Reporter) Option {
	return func(t *Trainer) { t.report = r }
}

// Trainer drives plain SGD with a fixed learning rate. The loss is chosen at
// construction; there is no early stopping, every configured epoch runs.
type Trainer struct {
	loss   Loss
	report Reporter
}

// NewTrainer creates a trainer optimizing the given loss.
func NewTrainer(loss Loss, opts ...Option) *Trainer {
	t := &Trainer{loss: loss}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Loss returns the loss the trainer optimizes.
func (t *Trainer) Loss() Loss { return t.loss }

type batch struct {
	input      *matrix.Matrix
	target     *matrix.Matrix
	targetHost []float32
	values     int
}

// Run trains net on ds for the configured number of epochs and returns the
// per-epoch mean losses. Batches are cut in dataset order, the final one
// possibly short, and stay resident on the network's engine for the whole
// session.
func (t *Trainer) Run(net *nn.Network, ds Dataset, cfg Config) ([]float32, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := ds.validate(); err != nil {
		return nil, err
	}
	if net.In() != ds.In || net.Out() != ds.Out {
		return nil, fmt.Errorf("train: network is (%d in, %d out) but dataset is (%d in, %d out)",
			net.In(), net.Out(), ds.In, ds.Out)
	}

	batches, err := uploadBatches(net.Engine(), ds, cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, b := range batches {
			b.input.Release()
			b.target.Release()
		}
	}()

	losses := make([]float32, cfg.Epochs)
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		var sum float64
		var values int
		for _, b := range batches {
			loss, err := t.step(net, b, cfg.LearningRate)
			if err != nil {
				return nil, err
			}
			sum += float64(loss) * float64(b.values)
			values += b.values
		}
		losses[epoch] = float32(sum / float64(values))
		if t.report != nil {
			t.report(epoch+1, losses[epoch])
		}
	}
	return losses, nil
}

// step runs one forward/backward/update cycle on a batch and returns the
// batch's mean loss.
func (t *Trainer) step(net *nn.Network, b batch, lr float32) (float32, error) {
	pred, err := net.Forward(b.input)
	if err != nil {
		return 0, err
	}
	predHost, err := pred.ToHost()
	if err != nil {
		pred.Release()
		return 0, err
	}
	loss := t.loss.Value(predHost, b.targetHost)

	seed, err := t.loss.Gradient(pred, b.target)
	pred.Release()
	if err != nil {
		return 0, err
	}
	grads, err := net.Backward(seed)
	seed.Release()
	if err != nil {
		return 0, err
	}
	if err := net.Update(grads, lr); err != nil {
		return 0, err
	}
	return loss, nil
}

func uploadBatches(eng compute.Engine, ds Dataset, size int) ([]batch, error) {
	var batches []batch
	release := func() {
		for _, b := range batches {
			b.input.Release()
			b.target.Release()
		}
	}
	for start := 0; start < ds.Samples; start += size {
		end := start + size
		if end > ds.Samples {
			end = ds.Samples
		}
		rows := end - start

		input, err := matrix.FromHost(eng, rows, ds.In, ds.Inputs[start*ds.In:end*ds.In])
		if err != nil {
			release()
			return nil, err
		}
		targetHost := ds.Targets[start*ds.Out : end*ds.Out]
		target, err := matrix.FromHost(eng, rows, ds.Out, targetHost)
		if err != nil {
			input.Release()
			release()
			return nil, err
		}
		batches = append(batches, batch{
			input:      input,
			target:     target,
			targetHost: targetHost,
			values:     rows * ds.Out,
		})
	}
	return batches, nil
}
