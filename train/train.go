// Copyright 2025 The P3 Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package train provides the public API for minibatch SGD training.
//
// Example:
//
//	trainer := train.NewTrainer(train.MSE{}, train.WithReporter(func(epoch int, loss float32) {
//	    fmt.Printf("epoch %d loss %.6f\n", epoch, loss)
//	}))
//	losses, err := trainer.Run(net, dataset, train.Config{
//	    LearningRate: 0.5,
//	    Epochs:       2000,
//	    BatchSize:    4,
//	})
package train

import (
	"github.com/JordanHanotiaux/P3/internal/train"
)

// Loss scores predictions against targets and seeds backpropagation.
type Loss = train.Loss

// MSE is the mean squared error loss.
type MSE = train.MSE

// CrossEntropy is the binary cross-entropy loss over probability outputs.
type CrossEntropy = train.CrossEntropy

// Trainer drives plain SGD with a fixed learning rate.
type Trainer = train.Trainer

// Config carries the SGD session parameters.
type Config = train.Config

// Dataset is a host-side supervised dataset in row-major layout.
type Dataset = train.Dataset

// Reporter observes the mean loss after each epoch.
type Reporter = train.Reporter

// Option configures a Trainer.
type Option = train.Option

// NewTrainer creates a trainer optimizing the given loss.
func NewTrainer(loss Loss, opts ...Option) *Trainer {
	return train.NewTrainer(loss, opts...)
}

// WithReporter registers a per-epoch loss observer.
func WithReporter(r Reporter) Option {
	return train.WithReporter(r)
}

// ParseLoss maps a configuration name to a loss.
func ParseLoss(name string) (Loss, error) {
	return train.ParseLoss(name)
}
