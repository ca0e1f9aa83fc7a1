// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure Go reference backend.
//
// # Overview
//
// The backend evaluates every primitive of the standard vocabulary on
// dense host tensors and compiles staged programs into flat execution
// plans for the jit operator. Element-wise kernels on large tensors are
// split across goroutines.
//
// # Basic Usage
//
//	m, err := trace.NewWithBackend(cpu.New())
//	x := cpu.MustFromFloat32([]float32{1, 2, 3}, 3)
//	y, err := m.Call(f, x)
//	fmt.Println(y) // f32[][14]
//
// # Thread Safety
//
// A Backend is safe for concurrent use once created. Tensors are never
// mutated after a kernel returns them.
package cpu
