package tensor

import (
	"strconv"
	"strings"
)

// AbstractValue is the type-level descriptor of a tensor: its shape and dtype.
// Two abstract values are equal iff both shape and dtype match.
type AbstractValue struct {
	Shape Shape
	DType DataType
}

// NewAbstractValue returns an AbstractValue that owns a copy of shape.
func NewAbstractValue(shape Shape, dtype DataType) AbstractValue {
	return AbstractValue{Shape: shape.Clone(), DType: dtype}
}

// Rank returns the number of dimensions.
func (a AbstractValue) Rank() int {
	return len(a.Shape)
}

// Equal reports whether a and b have identical shape and dtype.
func (a AbstractValue) Equal(b AbstractValue) bool {
	return a.DType == b.DType && a.Shape.Equal(b.Shape)
}

// String renders the descriptor as dtype[d0,d1,...], e.g. f32[3,5].
func (a AbstractValue) String() string {
	var sb strings.Builder
	sb.WriteString(a.DType.Short())
	sb.WriteByte('[')
	for i, d := range a.Shape {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(d))
	}
	sb.WriteByte(']')
	return sb.String()
}
