// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu

import (
	internalcpu "github.com/born-ml/xform/internal/backend/cpu"
	"github.com/born-ml/xform/internal/core"
	"github.com/born-ml/xform/tensor"
)

// Backend is the CPU backend implementation.
type Backend = internalcpu.CPUBackend

// Compile-time check that Backend implements core.Backend.
var _ core.Backend = (*Backend)(nil)

// Tensor is a concrete host tensor.
type Tensor = internalcpu.Tensor

// New creates a CPU backend using one goroutine per CPU for large
// element-wise kernels.
func New() *Backend {
	return internalcpu.New()
}

// FromFloat32 creates a float32 tensor holding a copy of data.
func FromFloat32(data []float32, shape ...int) (*Tensor, error) {
	return internalcpu.FromFloat32(data, shape...)
}

// FromFloat64 creates a float64 tensor holding a copy of data.
func FromFloat64(data []float64, shape ...int) (*Tensor, error) {
	return internalcpu.FromFloat64(data, shape...)
}

// MustFromFloat32 is FromFloat32 that panics on a shape mismatch.
func MustFromFloat32(data []float32, shape ...int) *Tensor {
	return internalcpu.MustFromFloat32(data, shape...)
}

// Full creates a tensor with every element set to v.
func Full(shape tensor.Shape, dtype tensor.DataType, v float64) (*Tensor, error) {
	return internalcpu.Full(shape, dtype, v)
}
