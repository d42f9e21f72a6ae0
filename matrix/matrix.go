// Copyright 2025 The P3 Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package matrix provides the public API for device-resident matrices.
//
// A Matrix lives on one engine; operations validate shapes, launch exactly
// one kernel and return a new matrix the caller owns.
//
// Example:
//
//	a, _ := matrix.FromHost(eng, 2, 3, []float32{1, 2, 3, 4, 5, 6})
//	b, _ := matrix.FromHost(eng, 3, 1, []float32{1, 0, -1})
//	c, err := a.MatMul(b) // (2, 1)
//	if err != nil {
//	    var dim *matrix.DimensionError
//	    if errors.As(err, &dim) {
//	        // incompatible shapes, nothing was allocated
//	    }
//	}
//	values, _ := c.ToHost()
package matrix

import (
	"github.com/JordanHanotiaux/P3/internal/compute"
	"github.com/JordanHanotiaux/P3/internal/matrix"
)

// Matrix is a device-resident (rows, cols) float32 matrix.
type Matrix = matrix.Matrix

// DimensionError reports operand shapes an operation cannot accept.
type DimensionError = matrix.DimensionError

// FromHost allocates a device matrix from row-major host data, blocking
// until the upload completes.
func FromHost(eng compute.Engine, rows, cols int, data []float32) (*Matrix, error) {
	return matrix.FromHost(eng, rows, cols, data)
}

// Zeros allocates a zero-filled device matrix.
func Zeros(eng compute.Engine, rows, cols int) (*Matrix, error) {
	return matrix.Zeros(eng, rows, cols)
}
