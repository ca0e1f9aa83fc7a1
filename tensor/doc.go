// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor exposes the type-level descriptors used throughout xform.
//
// A value is described by its AbstractValue: a Shape and a DataType. The
// tracing machine reasons only about these descriptors; concrete data lives
// in backend values such as cpu.Tensor.
//
// # Basic Usage
//
//	aval := tensor.AbstractValue{Shape: tensor.Shape{3, 5}, DType: tensor.Float32}
//	fmt.Println(aval) // f32[3,5]
//
//	dt, err := tensor.ParseDataType("f64")
package tensor
