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

func TestRegistry_Register(t *testing.T) {
	r := core.NewRegistry()
	assert.Equal(t, []string{core.CallOp, core.JitOp}, r.Names())

	// Names are NFC-normalized: the decomposed form is stored precomposed.
	require.NoError(t, r.Register(core.NewOperator("cafe\u0301", core.Unary, core.Rules{})))
	op, ok := r.Get("caf\u00e9")
	require.True(t, ok)
	assert.Equal(t, "caf\u00e9", op.Name)

	err := r.Register(core.NewOperator("caf\u00e9", core.Unary, core.Rules{}))
	assert.ErrorContains(t, err, "already registered")

	err = r.Register(core.NewOperator("  ", core.Unary, core.Rules{}))
	assert.ErrorContains(t, err, "empty name")

	err = r.Register(core.NewOperator("opaque", core.Load, core.Rules{}))
	assert.ErrorIs(t, err, core.ErrUnsupported)
}

func TestRegistry_RegisterKeepsOperator(t *testing.T) {
	assert.Equal(t, "caf\u00e9", core.NewOperator(" cafe\u0301 ", core.Unary, core.Rules{}).Name)

	call, ok := core.NewRegistry().Get(core.CallOp)
	require.True(t, ok)
	op := &core.Operator{Name: " twice ", Kind: core.Unary, Rules: call.Rules}

	a, b := core.NewRegistry(), core.NewRegistry()
	require.NoError(t, a.Register(op))
	require.NoError(t, b.Register(op))
	assert.Equal(t, " twice ", op.Name)

	for _, r := range []*core.Registry{a, b} {
		got, ok := r.Get("twice")
		require.True(t, ok)
		assert.Equal(t, "twice", got.Name)
		assert.Equal(t, core.Unary, got.Kind)
	}

	shared := core.NewOperator("shared", core.Unary, core.Rules{})
	require.NoError(t, a.Register(shared))
	require.NoError(t, b.Register(shared))
	got, _ := a.Get("shared")
	assert.Same(t, shared, got)
}

func TestRegistry_Vocabulary(t *testing.T) {
	r, err := ops.NewRegistry()
	require.NoError(t, err)
	for _, name := range []string{"neg", "add", "equal", "sum", "max", "broadcast_in_dim", "pad", "concatenate", "flip", "full", "iota"} {
		op, ok := r.Get(name)
		require.True(t, ok, name)
		assert.NotNil(t, op.Rules.Typecheck, name)
	}

	err = ops.Register(r)
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := core.New(cpu.New(), core.NewRegistry())
	assert.ErrorIs(t, err, core.ErrUnsupported)

	reg, err := ops.NewRegistry()
	require.NoError(t, err)
	_, err = core.New(nil, reg)
	assert.Error(t, err)

	m, err := core.New(cpu.New(), reg, core.WithDefaultDType(tensor.Float64))
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID())
	assert.Equal(t, "cpu", m.Backend().Name())
	assert.Equal(t, tensor.Float64, m.DefaultDType())
	assert.Equal(t, 1, m.Depth())
	assert.Equal(t, tensor.Float64, m.AsValue(1).Aval().DType)
}

func TestTypecheckProgram(t *testing.T) {
	m := newMachine(t)
	p, _, _, err := m.MakeProgram(sumSquares(m), []any{f32(4)})
	require.NoError(t, err)

	ty, err := core.TypecheckProgram(p)
	require.NoError(t, err)
	assert.Equal(t, "(f32[4]) -> (f32[])", ty.String())
	assert.True(t, ty.Equal(core.ProgramType{In: p.InAvals(), Out: p.OutAvals()}))

	// Reusing an input as an instruction output breaks SSA.
	bad := &core.Program{
		Name: "bad",
		In:   p.In,
		Instructions: []*core.Instruction{{
			Op:     p.Instructions[0].Op,
			Inputs: p.Instructions[0].Inputs,
			Params: p.Instructions[0].Params,
			Outs:   p.In,
		}},
		Outs: []core.Atom{p.In[0]},
	}
	_, err = core.TypecheckProgram(bad)
	assert.ErrorIs(t, err, core.ErrType)

	unbound := &core.Program{Name: "unbound", Outs: []core.Atom{core.NewVar(f32(2))}}
	_, err = core.TypecheckProgram(unbound)
	assert.ErrorIs(t, err, core.ErrType)
}

func TestInlineLiterals(t *testing.T) {
	m := newMachine(t, core.WithInlineLiterals(false))
	p, consts, _, err := m.MakeProgram(func(args ...any) any {
		return ops.Mul(m, args[0], 2.0)
	}, []any{f32(3)})
	require.NoError(t, err)
	require.Len(t, consts, 1)
	assert.Equal(t, 1, p.NumConsts)
	assert.IsType(t, core.Scalar{}, consts[0])

	q, rest := core.InlineLiterals(p, consts)
	assert.Empty(t, rest)
	assert.Equal(t, 0, q.NumConsts)
	assert.Len(t, q.In, 1)
	assert.IsType(t, core.Lit{}, q.Instructions[0].Inputs[0])

	out, err := m.RunProgram(q, []core.Value{vec(1, 2, 3)})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4, 6}, floats(t, out[0]))
}

func TestInlineLiterals_Idempotent(t *testing.T) {
	m := newMachine(t, core.WithInlineLiterals(false))
	w := vec(10, 20, 30)
	p, consts, _, err := m.MakeProgram(func(args ...any) any {
		return ops.Add(m, ops.Mul(m, args[0], 2.0), ops.Mul(m, w, 0.5))
	}, []any{f32(3)})
	require.NoError(t, err)

	once, rest := core.InlineLiterals(p, consts)
	twice, rest2 := core.InlineLiterals(once, rest)
	assert.Equal(t, rest, rest2)
	assert.Equal(t, once.NumConsts, twice.NumConsts)
	assert.Len(t, twice.Instructions, len(once.Instructions))

	tyOnce, err := core.TypecheckProgram(once)
	require.NoError(t, err)
	tyTwice, err := core.TypecheckProgram(twice)
	require.NoError(t, err)
	assert.True(t, tyOnce.Equal(tyTwice), "%s vs %s", tyOnce, tyTwice)

	out, err := m.RunProgram(twice, append(rest2, vec(1, 2, 3)))
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 14, 21}, floats(t, out[0]))
}
