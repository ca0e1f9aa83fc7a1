// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/born-ml/xform/internal/tensor"
)

// DataType represents the element type of a value.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Float64 DataType = tensor.Float64
	Int32   DataType = tensor.Int32
	Int64   DataType = tensor.Int64
	Uint8   DataType = tensor.Uint8
	Bool    DataType = tensor.Bool
)

// Shape represents the dimensions of a value.
// Example: Shape{2, 3} is a 2×3 matrix; Shape{} is a scalar.
type Shape = tensor.Shape

// AbstractValue is the shape and dtype of a value.
type AbstractValue = tensor.AbstractValue

// NewAbstractValue returns an AbstractValue owning a copy of shape.
func NewAbstractValue(shape Shape, dtype DataType) AbstractValue {
	return tensor.NewAbstractValue(shape, dtype)
}

// ParseDataType accepts long ("float32") and short ("f32") names.
func ParseDataType(name string) (DataType, error) {
	return tensor.ParseDataType(name)
}
