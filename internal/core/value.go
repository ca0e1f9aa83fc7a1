package core

import (
	"fmt"

	"github.com/born-ml/xform/internal/tensor"
)

// Value is anything that flows through Bind: a backend's concrete value, a
// Scalar, or a tracer. Implementations must be comparable.
type Value interface {
	Aval() tensor.AbstractValue
}

// Scalar is a rank-0 concrete value created from a Go number.
type Scalar struct {
	Value float64
	DType tensor.DataType
}

// Aval implements Value.
func (s Scalar) Aval() tensor.AbstractValue {
	return tensor.AbstractValue{Shape: tensor.Shape{}, DType: s.DType}
}

func (s Scalar) String() string {
	return fmt.Sprintf("%g:%s", s.Value, s.DType.Short())
}

// UndefPrimal stands in for an input whose primal value is unavailable
// because it is the one being differentiated.
type UndefPrimal struct {
	aval tensor.AbstractValue
}

// Undef returns a placeholder for an undefined primal of the given type.
func Undef(aval tensor.AbstractValue) *UndefPrimal {
	return &UndefPrimal{aval: aval}
}

// Aval implements Value.
func (u *UndefPrimal) Aval() tensor.AbstractValue {
	return u.aval
}

func (u *UndefPrimal) String() string {
	return "undef:" + u.aval.String()
}

// IsUndef reports whether v is an UndefPrimal placeholder.
func IsUndef(v Value) bool {
	_, ok := v.(*UndefPrimal)
	return ok
}

// AsValue converts a tree leaf into a Value. Go numbers become Scalars of
// the machine's default dtype.
func (m *Machine) AsValue(x any) Value {
	switch v := x.(type) {
	case Value:
		return v
	case float64:
		return Scalar{Value: v, DType: m.defaultDType}
	case float32:
		return Scalar{Value: float64(v), DType: m.defaultDType}
	case int:
		return Scalar{Value: float64(v), DType: m.defaultDType}
	case int32:
		return Scalar{Value: float64(v), DType: m.defaultDType}
	case int64:
		return Scalar{Value: float64(v), DType: m.defaultDType}
	default:
		panic(typeErrorf("", "unsupported leaf of type %T", x))
	}
}

func (m *Machine) asValues(xs []any) []Value {
	out := make([]Value, len(xs))
	for i, x := range xs {
		out[i] = m.AsValue(x)
	}
	return out
}

func avalsOf(vs []Value) []tensor.AbstractValue {
	out := make([]tensor.AbstractValue, len(vs))
	for i, v := range vs {
		out[i] = v.Aval()
	}
	return out
}

func toAny(vs []Value) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}
