package core_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/born-ml/xform/internal/backend/cpu"
	"github.com/born-ml/xform/internal/core"
	"github.com/born-ml/xform/internal/ops"
	"github.com/born-ml/xform/internal/tensor"
)

func newMachine(t *testing.T, opts ...core.Option) *core.Machine {
	t.Helper()
	reg, err := ops.NewRegistry()
	require.NoError(t, err)
	m, err := core.New(cpu.New(), reg, opts...)
	require.NoError(t, err)
	return m
}

func f32(shape ...int) tensor.AbstractValue {
	return tensor.AbstractValue{Shape: tensor.Shape(shape), DType: tensor.Float32}
}

func vec(data ...float32) *cpu.Tensor {
	return cpu.MustFromFloat32(data, len(data))
}

func scalar(v float32) *cpu.Tensor {
	return cpu.MustFromFloat32([]float32{v})
}

func ones(shape ...int) *cpu.Tensor {
	x, err := cpu.Full(tensor.Shape(shape), tensor.Float32, 1)
	if err != nil {
		panic(err)
	}
	return x
}

func arange(shape ...int) *cpu.Tensor {
	n := tensor.Shape(shape).NumElements()
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(i)
	}
	return cpu.MustFromFloat32(data, shape...)
}

// floats reads a concrete result as float64s.
func floats(t *testing.T, v any) []float64 {
	t.Helper()
	switch x := v.(type) {
	case *cpu.Tensor:
		return x.Float64s()
	case core.Scalar:
		return []float64{x.Value}
	default:
		require.Failf(t, "not a concrete value", "got %T", v)
		return nil
	}
}

func shapeOf(t *testing.T, v any) tensor.Shape {
	t.Helper()
	val, ok := v.(core.Value)
	require.True(t, ok, "got %T", v)
	return val.Aval().Shape
}

func sumSquares(m *core.Machine) core.Fn {
	return func(args ...any) any {
		x := args[0]
		return ops.Sum(m, ops.Mul(m, x, x), nil, false)
	}
}
