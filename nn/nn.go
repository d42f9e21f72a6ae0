// Copyright 2025 The P3 Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the public API for feed-forward networks over
// device-resident matrices.
//
// Example:
//
//	hidden, _ := nn.NewLayer(eng, 2, 4, compute.Sigmoid, rng)
//	out, _ := nn.NewLayer(eng, 4, 1, compute.Sigmoid, rng)
//	net, err := nn.NewNetwork(hidden, out)
//
//	pred, _ := net.Forward(batch)       // caches the pass per layer
//	grads, _ := net.Backward(lossGrad)  // consumes the cache
//	_ = net.Update(grads, 0.5)          // in-place SGD step
package nn

import (
	"math/rand"

	"github.com/JordanHanotiaux/P3/internal/compute"
	"github.com/JordanHanotiaux/P3/internal/nn"
)

// Layer is one fully connected layer with a cached forward pass.
type Layer = nn.Layer

// Network is an ordered stack of layers with matching widths.
type Network = nn.Network

// Gradients holds one layer's parameter gradients.
type Gradients = nn.Gradients

// ErrForwardNotCalled is returned by Backward when no forward pass is
// cached.
var ErrForwardNotCalled = nn.ErrForwardNotCalled

// ErrChecksumMismatch reports a corrupted checkpoint file.
var ErrChecksumMismatch = nn.ErrChecksumMismatch

// NewLayer creates a layer with Xavier-initialized weights and zero bias.
//
// Example:
//
//	rng := rand.New(rand.NewSource(42))
//	layer, err := nn.NewLayer(eng, 784, 128, compute.ReLU, rng)
func NewLayer(eng compute.Engine, in, out int, fn compute.Activation, rng *rand.Rand) (*Layer, error) {
	return nn.NewLayer(eng, in, out, fn, rng)
}

// NewNetwork stacks layers, rejecting neighbors whose widths disagree.
func NewNetwork(layers ...*Layer) (*Network, error) {
	return nn.NewNetwork(layers...)
}

// SaveNetwork writes the network's parameters to a checksummed checkpoint
// file.
func SaveNetwork(path string, net *Network) error {
	return nn.SaveNetwork(path, net)
}

// LoadNetwork rebuilds a checkpointed network on eng.
func LoadNetwork(path string, eng compute.Engine) (*Network, error) {
	return nn.LoadNetwork(path, eng)
}
