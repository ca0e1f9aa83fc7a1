package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/xform/internal/core"
	"github.com/born-ml/xform/internal/ops"
)

func TestPartialRunProgram(t *testing.T) {
	m := newMachine(t)
	p, _, _, err := m.MakeProgram(func(args ...any) any {
		return ops.Mul(m, ops.Sin(m, args[0]), args[1])
	}, []any{f32(3), f32(3)})
	require.NoError(t, err)

	res, err := m.PartialRunProgram(p, []bool{false, true}, nil)
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, res.OutUnknowns)
	assert.Equal(t, 1, res.NumResiduals)
	assert.Len(t, res.Known.Instructions, 1)
	assert.Equal(t, "sin", res.Known.Instructions[0].Op.Name)
	assert.Len(t, res.Unknown.Instructions, 1)
	assert.Equal(t, "mul", res.Unknown.Instructions[0].Op.Name)

	x, y := vec(0, 1, 2), vec(3, 4, 5)
	want, err := m.RunProgram(p, []core.Value{x, y})
	require.NoError(t, err)

	residuals, err := m.RunProgram(res.Known, []core.Value{x})
	require.NoError(t, err)
	require.Len(t, residuals, 1)
	got, err := m.RunProgram(res.Unknown, []core.Value{residuals[0], y})
	require.NoError(t, err)
	assert.InDeltaSlice(t, floats(t, want[0]), floats(t, got[0]), 1e-6)
}

func TestPartialRunProgram_Instantiate(t *testing.T) {
	m := newMachine(t)
	p, _, _, err := m.MakeProgram(func(args ...any) any {
		return []any{ops.Exp(m, args[0]), ops.Neg(m, args[1])}
	}, []any{f32(2), f32(2)})
	require.NoError(t, err)

	res, err := m.PartialRunProgram(p, []bool{false, true}, nil)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, res.OutUnknowns)
	assert.Equal(t, 0, res.NumResiduals)

	res, err = m.PartialRunProgram(p, []bool{false, true}, []bool{true, false})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true}, res.OutUnknowns)
	assert.Equal(t, 1, res.NumResiduals)
	assert.Len(t, res.Known.Instructions, 1)

	residuals, err := m.RunProgram(res.Known, []core.Value{vec(0, 0)})
	require.NoError(t, err)
	outs, err := m.RunProgram(res.Unknown, []core.Value{residuals[0], vec(1, 2)})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, floats(t, outs[0]))
	assert.Equal(t, []float64{-1, -2}, floats(t, outs[1]))
}

func TestPartialRunProgram_AllKnown(t *testing.T) {
	m := newMachine(t)
	p, _, _, err := m.MakeProgram(sumSquares(m), []any{f32(3)})
	require.NoError(t, err)

	res, err := m.PartialRunProgram(p, []bool{false}, nil)
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, res.OutUnknowns)
	assert.Len(t, res.Known.Instructions, 2)
	assert.Empty(t, res.Unknown.Instructions)
	assert.Empty(t, res.Unknown.In)
}

func TestPartialRunProgram_Call(t *testing.T) {
	m := newMachine(t)
	p, _, _, err := m.MakeProgram(func(args ...any) any {
		return ops.Dot(m, ops.Exp(m, args[0]), args[1])
	}, []any{f32(2), f32(2)})
	require.NoError(t, err)

	res, err := m.PartialRunProgram(p, []bool{false, true}, nil)
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, res.OutUnknowns)

	x, y := vec(0, 0), vec(2, 3)
	residuals, err := m.RunProgram(res.Known, []core.Value{x})
	require.NoError(t, err)
	require.Len(t, residuals, res.NumResiduals)
	outs, err := m.RunProgram(res.Unknown, append(residuals, y))
	require.NoError(t, err)
	assert.InDelta(t, 5.0, floats(t, outs[0])[0], 1e-6)
}

func TestPartialRunProgram_BadFlags(t *testing.T) {
	m := newMachine(t)
	p, _, _, err := m.MakeProgram(sumSquares(m), []any{f32(3)})
	require.NoError(t, err)

	_, err = m.PartialRunProgram(p, []bool{false, true}, nil)
	assert.ErrorIs(t, err, core.ErrType)
}
