package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/xform/internal/backend/cpu"
	"github.com/born-ml/xform/internal/core"
	"github.com/born-ml/xform/internal/ops"
	"github.com/born-ml/xform/internal/tensor"
)

func dotf(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// TestRunProgramTransposed_Adjoint checks <L x, ct> == <x, L^T ct>.
func TestRunProgramTransposed_Adjoint(t *testing.T) {
	m := newMachine(t)
	w := cpu.MustFromFloat32([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	p, consts, _, err := m.MakeProgram(func(args ...any) any {
		xb := ops.BroadcastInDim(m, args[0], tensor.Shape{2, 3}, []int{0})
		return ops.Sum(m, ops.Mul(m, xb, w), []int{1}, false)
	}, []any{f32(3)})
	require.NoError(t, err)
	require.Len(t, consts, 1)

	x, ct := vec(1, 2, 3), vec(1, 2)
	y, err := m.RunProgram(p, append(append([]core.Value(nil), consts...), x))
	require.NoError(t, err)
	assert.Equal(t, []float64{14, 32}, floats(t, y[0]))

	args := append(append([]core.Value(nil), consts...), core.Undef(f32(3)))
	xct, err := m.RunProgramTransposed(p, args, []core.Value{ct})
	require.NoError(t, err)
	require.Len(t, xct, 1)
	assert.Equal(t, []float64{9, 12, 15}, floats(t, xct[0]))
	assert.InDelta(t, dotf(floats(t, y[0]), floats(t, ct)), dotf(floats(t, x), floats(t, xct[0])), 1e-6)
}

func TestRunProgramTransposed_ShapeOps(t *testing.T) {
	m := newMachine(t)
	tests := []struct {
		name string
		f    func(x any) any
		in   []int
	}{
		{"reshape", func(x any) any { return ops.Reshape(m, x, 3, 2) }, []int{2, 3}},
		{"transpose", func(x any) any { return ops.Transpose(m, x, 1, 0) }, []int{2, 3}},
		{"slice", func(x any) any { return ops.Slice(m, x, []int{0, 1}, []int{2, 3}) }, []int{2, 3}},
		{"pad", func(x any) any { return ops.Pad(m, x, []int{1, 0}, []int{0, 2}) }, []int{2, 3}},
		{"sum keepdims", func(x any) any { return ops.Sum(m, x, []int{1}, true) }, []int{2, 3}},
		{"broadcast unit", func(x any) any { return ops.BroadcastInDim(m, x, tensor.Shape{4, 2, 3}, []int{0}) }, []int{2, 1}},
		{"convert", func(x any) any { return ops.Convert(m, x, tensor.Float64) }, []int{2, 3}},
		{"flip", func(x any) any { return ops.Flip(m, x, 1) }, []int{2, 3}},
		{"flip all", func(x any) any { return ops.Flip(m, x) }, []int{2, 3}},
		{"concatenate rows", func(x any) any { return ops.Concatenate(m, []any{x, ops.Flip(m, x, 0)}, 0) }, []int{2, 3}},
		{"concatenate columns", func(x any) any {
			return ops.Concatenate(m, []any{ops.Slice(m, x, []int{0, 1}, []int{2, 3}), x, x}, 1)
		}, []int{2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, consts, _, err := m.MakeProgram(func(args ...any) any { return tt.f(args[0]) }, []any{f32(tt.in...)})
			require.NoError(t, err)
			require.Empty(t, consts)

			x := arange(tt.in...)
			y, err := m.RunProgram(p, []core.Value{x})
			require.NoError(t, err)
			ct := y[0]

			xct, err := m.RunProgramTransposed(p, []core.Value{core.Undef(f32(tt.in...))}, []core.Value{ct})
			require.NoError(t, err)
			assert.Equal(t, f32(tt.in...), xct[0].Aval())
			assert.InDelta(t, dotf(floats(t, y[0]), floats(t, ct)), dotf(floats(t, x), floats(t, xct[0])), 1e-4)
		})
	}
}

func TestRunProgramTransposed_Errors(t *testing.T) {
	m := newMachine(t)
	p, _, _, err := m.MakeProgram(func(args ...any) any {
		return ops.Neg(m, args[0])
	}, []any{f32(2)})
	require.NoError(t, err)

	_, err = m.RunProgramTransposed(p, []core.Value{core.Undef(f32(2))}, nil)
	assert.ErrorIs(t, err, core.ErrType)

	_, err = m.RunProgramTransposed(p, []core.Value{core.Undef(f32(2))}, []core.Value{vec(1, 2, 3)})
	assert.ErrorIs(t, err, core.ErrType)

	q, _, _, err := m.MakeProgram(func(args ...any) any {
		return ops.Exp(m, args[0])
	}, []any{f32(2)})
	require.NoError(t, err)
	_, err = m.RunProgramTransposed(q, []core.Value{core.Undef(f32(2))}, []core.Value{vec(1, 1)})
	assert.ErrorIs(t, err, core.ErrUnsupported)
}
