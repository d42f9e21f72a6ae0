// Copyright 2025 The P3 Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package compute provides the public API for the accelerator layer:
// device discovery, compute engines and the compiled-kernel registry.
//
// Example:
//
//	ctx, err := compute.NewContext()
//	if err != nil {
//	    // no WebGPU runtime: fall back to compute.NewCPU()
//	}
//	dev, err := ctx.Acquire()
//	eng := compute.NewGPU(dev)
//	if err := eng.Initialize(); err != nil {
//	    var build *compute.BuildError
//	    if errors.As(err, &build) {
//	        // build.Logs maps device labels to compiler diagnostics
//	    }
//	}
package compute

import (
	"github.com/JordanHanotiaux/P3/internal/compute"
)

// Engine is a compute device with the kernel set the matrix layer needs.
// All kernel launches go through one in-order queue, so operations complete
// in submission order and host transfers observe every prior launch.
type Engine = compute.Engine

// Buffer is a device-resident float32 allocation owned by its creator.
type Buffer = compute.Buffer

// Context owns the WebGPU instance used for device discovery.
type Context = compute.Context

// Device is an opened adapter with its queue.
type Device = compute.Device

// AdapterInfo describes one enumerated adapter.
type AdapterInfo = compute.AdapterInfo

// Registry compiles and caches kernels per device.
type Registry = compute.Registry

// GPU is the WebGPU-backed engine.
type GPU = compute.GPU

// CPU is the host fallback engine with the same kernel semantics.
type CPU = compute.CPU

// Activation selects an elementwise activation function.
type Activation = compute.Activation

// Activation functions.
const (
	Identity = compute.Identity
	Sigmoid  = compute.Sigmoid
	ReLU     = compute.ReLU
	Tanh     = compute.Tanh
)

// BuildError reports kernel compilation failures with one diagnostic log per
// device.
type BuildError = compute.BuildError

// KernelNotFoundError reports a lookup of a kernel name the registry does
// not hold.
type KernelNotFoundError = compute.KernelNotFoundError

// TransferError reports a failed host/device copy.
type TransferError = compute.TransferError

// Errors shared across engines.
var (
	ErrNotInitialized = compute.ErrNotInitialized
	ErrNoDevice       = compute.ErrNoDevice
)

// NewContext opens a WebGPU instance.
func NewContext() (*Context, error) {
	return compute.NewContext()
}

// NewCPU creates the host engine.
func NewCPU() *CPU {
	return compute.NewCPU()
}

// NewGPU creates a WebGPU engine on dev with its own registry over the
// built-in kernels.
func NewGPU(dev *Device) *GPU {
	return compute.NewGPU(dev)
}

// NewGPUWithRegistry creates a WebGPU engine sharing a caller-owned
// registry.
func NewGPUWithRegistry(dev *Device, reg *Registry) *GPU {
	return compute.NewGPUWithRegistry(dev, reg)
}

// NewRegistry creates an uninitialized registry over the given WGSL
// sources.
func NewRegistry(sources map[string]string) *Registry {
	return compute.NewRegistry(sources)
}

// Kernels returns a copy of the built-in WGSL kernel sources.
func Kernels() map[string]string {
	return compute.Kernels()
}

// ParseActivation maps a configuration name to an activation.
func ParseActivation(name string) (Activation, error) {
	return compute.ParseActivation(name)
}
