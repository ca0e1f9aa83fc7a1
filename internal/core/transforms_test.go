package core_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/xform/internal/backend/cpu"
	"github.com/born-ml/xform/internal/core"
	"github.com/born-ml/xform/internal/ops"
	"github.com/born-ml/xform/internal/tensor"
	"github.com/born-ml/xform/internal/tree"
)

func TestCall_Eval(t *testing.T) {
	m := newMachine(t)
	out, err := m.Call(sumSquares(m), ones(5))
	require.NoError(t, err)
	assert.Equal(t, []float64{5}, floats(t, out))
	assert.Equal(t, 1, m.Depth())
}

func TestCall_GoNumbers(t *testing.T) {
	m := newMachine(t)
	out, err := m.Call(func(args ...any) any {
		return ops.Add(m, args[0], 2)
	}, vec(1, 2))
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4}, floats(t, out))
}

func TestJvp(t *testing.T) {
	m := newMachine(t)
	out, tan, err := m.Jvp(sumSquares(m), []any{ones(5)}, []any{ones(5)})
	require.NoError(t, err)
	assert.Equal(t, []float64{5}, floats(t, out))
	assert.Equal(t, []float64{10}, floats(t, tan))
}

func TestJvp_Rules(t *testing.T) {
	m := newMachine(t)
	tests := []struct {
		name string
		f    func(x any) any
		x    float32
		want float64
	}{
		{"sin", func(x any) any { return ops.Sin(m, x) }, 1, math.Cos(1)},
		{"cos", func(x any) any { return ops.Cos(m, x) }, 1, -math.Sin(1)},
		{"exp", func(x any) any { return ops.Exp(m, x) }, 1, math.E},
		{"log", func(x any) any { return ops.Log(m, x) }, 2, 0.5},
		{"sqrt", func(x any) any { return ops.Sqrt(m, x) }, 4, 0.25},
		{"div", func(x any) any { return ops.Div(m, 1.0, x) }, 2, -0.25},
		{"neg sub", func(x any) any { return ops.Sub(m, 3.0, ops.Neg(m, x)) }, 2, 1},
		{"stop_gradient", func(x any) any { return ops.Mul(m, x, ops.StopGradient(m, x)) }, 3, 3},
		{"maximum", func(x any) any { return ops.Maximum(m, x, 0.0) }, 2, 1},
		{"maximum tie", func(x any) any { return ops.Maximum(m, x, 2.0) }, 2, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, tan, err := m.Jvp(func(args ...any) any { return tt.f(args[0]) },
				[]any{scalar(tt.x)}, []any{scalar(1)})
			require.NoError(t, err)
			assert.InDelta(t, tt.want, floats(t, tan)[0], 1e-5)
		})
	}
}

func TestJvp_LinearInTangent(t *testing.T) {
	m := newMachine(t)
	x := vec(0.5, -1.5, 2)
	u, w := vec(1, 2, -1), vec(-0.5, 0.25, 3)
	const a, b = 2.0, -3.0
	combo, err := m.Call(func(args ...any) any {
		return ops.Add(m, ops.Mul(m, args[0], a), ops.Mul(m, args[1], b))
	}, u, w)
	require.NoError(t, err)

	tests := []struct {
		name string
		f    func(x any) any
	}{
		{"sin mul", func(x any) any { return ops.Mul(m, ops.Sin(m, x), x) }},
		{"broadcast sum", func(x any) any {
			return ops.Sum(m, ops.BroadcastInDim(m, ops.Mul(m, x, x), tensor.Shape{2, 3}, []int{0}), []int{0}, false)
		}},
		{"exp over square", func(x any) any { return ops.Div(m, ops.Exp(m, x), ops.Add(m, ops.Mul(m, x, x), 1.0)) }},
		{"max reduce", func(x any) any { return ops.Max(m, ops.Mul(m, x, x), nil, true) }},
		{"cumsum where", func(x any) any {
			return ops.Cumsum(m, ops.Where(m, ops.Greater(m, x, 0), ops.Sin(m, x), ops.Square(m, x)), 0)
		}},
		{"flip concatenate", func(x any) any { return ops.Concatenate(m, []any{ops.Flip(m, ops.Cos(m, x)), x}, 0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := func(args ...any) any { return tt.f(args[0]) }
			jvp := func(tan any) []float64 {
				_, out, err := m.Jvp(f, []any{x}, []any{tan})
				require.NoError(t, err)
				return floats(t, out)
			}
			tu, tw, tc := jvp(u), jvp(w), jvp(combo)
			want := make([]float64, len(tu))
			for i := range want {
				want[i] = a*tu[i] + b*tw[i]
			}
			assert.InDeltaSlice(t, want, tc, 1e-4)
		})
	}
}

func TestJvp_MaxReduceAveragesTies(t *testing.T) {
	m := newMachine(t)
	f := func(args ...any) any { return ops.Max(m, args[0], nil, false) }
	_, tan, err := m.Jvp(f, []any{vec(1, 3, 3)}, []any{vec(10, 20, 40)})
	require.NoError(t, err)
	assert.InDelta(t, 30.0, floats(t, tan)[0], 1e-5)
}

func TestVmap(t *testing.T) {
	m := newMachine(t)
	square := func(args ...any) any { return ops.Mul(m, args[0], args[0]) }

	out, err := m.Call(m.Vmap(square), arange(3, 5))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 5}, shapeOf(t, out))
	want := make([]float64, 15)
	for i := range want {
		want[i] = float64(i * i)
	}
	assert.Equal(t, want, floats(t, out))
}

func TestVmap_InAxis(t *testing.T) {
	m := newMachine(t)
	total := func(args ...any) any { return ops.Sum(m, args[0], nil, false) }

	out, err := m.Call(m.Vmap(total, 1), arange(5, 3))
	require.NoError(t, err)
	assert.Equal(t, []float64{30, 35, 40}, floats(t, out))
}

func TestVmap_NotMapped(t *testing.T) {
	m := newMachine(t)
	add := func(args ...any) any { return ops.Add(m, args[0], args[1]) }

	out, err := m.Call(m.Vmap(add, 0, core.NotMapped), arange(3, 2), vec(10, 20))
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 21, 12, 23, 14, 25}, floats(t, out))
}

func TestVmap_InAxesTree(t *testing.T) {
	m := newMachine(t)
	add := func(args ...any) any {
		d := args[0].(map[string]any)
		return ops.Add(m, d["a"], d["b"])
	}
	arg := map[string]any{"a": arange(3, 2), "b": arange(2, 3)}

	// Rows of a meet columns of b.
	out, err := m.Call(m.Vmap(add, map[string]any{"a": 0, "b": 1}), arg)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 2}, shapeOf(t, out))
	assert.Equal(t, []float64{0, 4, 3, 7, 6, 10}, floats(t, out))

	scale := func(args ...any) any {
		return ops.Mul(m, args[0].([]any)[0], args[0].([]any)[1])
	}
	out, err = m.Call(m.Vmap(scale, []int{0, core.NotMapped}), []any{arange(3, 2), vec(10, 100)})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 100, 20, 300, 40, 500}, floats(t, out))
}

func TestVmap_InAxesTreeMismatch(t *testing.T) {
	m := newMachine(t)
	f := func(args ...any) any { return args[0] }
	arg := map[string]any{"a": arange(3, 2), "b": arange(3, 2)}

	_, err := m.Call(m.Vmap(f, map[string]any{"a": 0}), arg)
	assert.ErrorIs(t, err, core.ErrType)
	assert.ErrorIs(t, err, tree.ErrMismatch)

	_, err = m.Call(m.Vmap(f, map[string]any{"a": 0, "b": "x"}), arg)
	assert.ErrorIs(t, err, core.ErrType)
}

func TestVmap_InconsistentSizes(t *testing.T) {
	m := newMachine(t)
	add := func(args ...any) any { return ops.Add(m, args[0], args[1]) }

	_, err := m.Call(m.Vmap(add), arange(3, 2), arange(4, 2))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrType)
}

func TestGrad(t *testing.T) {
	m := newMachine(t)
	g, err := m.Call(m.Grad(sumSquares(m)), ones(5))
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2, 2, 2, 2}, floats(t, g))
}

func TestGrad_WithValueAndArgnums(t *testing.T) {
	m := newMachine(t)
	dot := func(args ...any) any { return ops.Sum(m, ops.Mul(m, args[0], args[1]), nil, false) }

	out, err := m.Call(m.Grad(dot, core.WithArgnums(0, 1), core.WithValue()), vec(1, 2), vec(3, 4))
	require.NoError(t, err)
	pair := out.([]any)
	assert.Equal(t, []float64{11}, floats(t, pair[0]))
	grads := pair[1].([]any)
	assert.Equal(t, []float64{3, 4}, floats(t, grads[0]))
	assert.Equal(t, []float64{1, 2}, floats(t, grads[1]))
}

func TestGrad_RequiresScalarOutput(t *testing.T) {
	m := newMachine(t)
	square := func(args ...any) any { return ops.Mul(m, args[0], args[0]) }
	_, err := m.Call(m.Grad(square), vec(1, 2))
	assert.ErrorIs(t, err, core.ErrType)
}

func TestGrad_Structured(t *testing.T) {
	m := newMachine(t)
	x := vec(3, 4)
	loss := func(args ...any) any {
		params := args[0].(map[string]any)
		y := ops.Add(m, ops.Mul(m, params["w"], x), params["b"])
		return ops.Sum(m, y, nil, false)
	}
	params := map[string]any{"w": vec(1, 2), "b": vec(0.5, 0.5)}

	g, err := m.Call(m.Grad(loss), params)
	require.NoError(t, err)
	grads := g.(map[string]any)
	assert.Equal(t, []float64{3, 4}, floats(t, grads["w"]))
	assert.Equal(t, []float64{1, 1}, floats(t, grads["b"]))
}

func TestGrad_Nested(t *testing.T) {
	m := newMachine(t)
	cube := func(args ...any) any {
		x := args[0]
		return ops.Mul(m, ops.Mul(m, x, x), x)
	}

	g, err := m.Call(m.Grad(cube), scalar(3))
	require.NoError(t, err)
	assert.InDelta(t, 27.0, floats(t, g)[0], 1e-4)

	gg, err := m.Call(m.Grad(m.Grad(cube)), scalar(3))
	require.NoError(t, err)
	assert.InDelta(t, 18.0, floats(t, gg)[0], 1e-4)
}

func TestVmap_OfGrad(t *testing.T) {
	m := newMachine(t)
	out, err := m.Call(m.Vmap(m.Grad(sumSquares(m))), arange(3, 2))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 2, 4, 6, 8, 10}, floats(t, out))
}

func TestJit(t *testing.T) {
	m := newMachine(t)
	f := m.Jit(sumSquares(m))

	for i := 0; i < 2; i++ {
		out, err := m.Call(f, vec(1, 2, 3))
		require.NoError(t, err)
		assert.Equal(t, []float64{14}, floats(t, out))
	}
}

func TestJit_StaticArgs(t *testing.T) {
	m := newMachine(t)
	staged := 0
	scale := m.Jit(func(args ...any) any {
		staged++
		return ops.Mul(m, args[0], args[1].(float64))
	})

	for _, k := range []float64{2, 3, 2} {
		out, err := m.Call(scale, vec(1, 2), core.Static{Value: k})
		require.NoError(t, err)
		assert.Equal(t, []float64{k, 2 * k}, floats(t, out))
	}
	assert.Equal(t, 2, staged)

	p, _, _, err := m.MakeProgram(func(args ...any) any {
		return scale(args[0], core.Static{Value: 3.0})
	}, []any{f32(2)})
	require.NoError(t, err)
	require.Len(t, p.Instructions, 1)
	body := p.Instructions[0].Params.Program()
	require.NotNil(t, body)
	assert.Equal(t, 3.0, body.StaticArgs["arg1"])
	assert.Equal(t, 2, staged)
}

func TestJit_WithStaticArgs(t *testing.T) {
	m := newMachine(t)
	triple := m.Jit(func(args ...any) any {
		return ops.Mul(m, args[0], args[1].(float64))
	}, core.WithStaticArgs(core.Params{"mode": "fast"}))

	p, _, _, err := m.MakeProgram(func(args ...any) any {
		return triple(args[0], core.Static{Value: 3.0})
	}, []any{f32(2)})
	require.NoError(t, err)
	body := p.Instructions[0].Params.Program()
	require.NotNil(t, body)
	assert.Equal(t, core.Params{"mode": "fast", "arg1": 3.0}, body.StaticArgs)

	out, err := m.Call(triple, vec(1, 2), core.Static{Value: 3.0})
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 6}, floats(t, out))
}

func TestJit_ComposesWithTransforms(t *testing.T) {
	m := newMachine(t)
	f := m.Jit(sumSquares(m))

	_, tan, err := m.Jvp(f, []any{ones(5)}, []any{ones(5)})
	require.NoError(t, err)
	assert.Equal(t, []float64{10}, floats(t, tan))

	g, err := m.Call(m.Grad(f), vec(1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4, 6}, floats(t, g))

	v, err := m.Call(m.Vmap(f), arange(2, 3))
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 50}, floats(t, v))

	jg, err := m.Call(m.Jit(m.Grad(sumSquares(m))), vec(1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4, 6}, floats(t, jg))
}

func TestProcedure(t *testing.T) {
	m := newMachine(t)
	out, err := m.Call(func(args ...any) any {
		return ops.MatMul(m, args[0], args[1])
	}, arange(2, 3), arange(3, 2))
	require.NoError(t, err)
	// [[0 1 2] [3 4 5]] x [[0 1] [2 3] [4 5]]
	assert.Equal(t, []float64{10, 13, 28, 40}, floats(t, out))

	g, err := m.Call(m.Grad(func(args ...any) any {
		return ops.Dot(m, args[0], args[1])
	}), vec(1, 2), vec(5, 7))
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 7}, floats(t, g))
}

func TestLinearize(t *testing.T) {
	m := newMachine(t)
	sin := func(args ...any) any { return ops.Sin(m, args[0]) }

	out, fLin, err := m.Linearize(sin, vec(0, 1))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, math.Sin(1)}, floats(t, out), 1e-6)

	tan, err := m.Call(fLin, vec(1, 2))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 2 * math.Cos(1)}, floats(t, tan), 1e-6)

	_, err = m.Call(fLin, vec(1, 2), vec(1, 2))
	assert.ErrorIs(t, err, core.ErrType)
}

func TestLinearize_RestagingKeepsSignature(t *testing.T) {
	m := newMachine(t)
	f := func(args ...any) any {
		x := args[0]
		return ops.Sum(m, ops.Mul(m, ops.Sin(m, x), ops.BroadcastInDim(m, x, tensor.Shape{2, 3}, []int{0})), []int{0}, false)
	}
	_, fLin, err := m.Linearize(f, vec(0.5, 1, 2))
	require.NoError(t, err)

	p, consts, _, err := m.MakeProgram(fLin, []any{f32(3)})
	require.NoError(t, err)
	ty, err := core.TypecheckProgram(p)
	require.NoError(t, err)

	q, _, _, err := m.MakeProgram(func(args ...any) any {
		outs, err := m.RunProgram(p, append(append([]core.Value(nil), consts...), args[0].(core.Value)))
		require.NoError(t, err)
		return outs[0]
	}, []any{f32(3)})
	require.NoError(t, err)
	qty, err := core.TypecheckProgram(q)
	require.NoError(t, err)

	signature := func(p *core.Program, ty core.ProgramType) string {
		return core.ProgramType{In: ty.In[p.NumConsts:], Out: ty.Out}.String()
	}
	assert.Equal(t, "(f32[3]) -> (f32[3])", signature(p, ty))
	assert.Equal(t, signature(p, ty), signature(q, qty))
}

func TestVjp(t *testing.T) {
	m := newMachine(t)
	mul := func(args ...any) any { return ops.Mul(m, args[0], args[1]) }

	out, pullback, err := m.Vjp(mul, vec(1, 2), vec(3, 4))
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 8}, floats(t, out))

	cts, err := m.Call(func(args ...any) any { return pullback(args[0]) }, vec(1, 1))
	require.NoError(t, err)
	grads := cts.([]any)
	assert.Equal(t, []float64{3, 4}, floats(t, grads[0]))
	assert.Equal(t, []float64{1, 2}, floats(t, grads[1]))
}

func TestJacFwd(t *testing.T) {
	m := newMachine(t)
	f := func(args ...any) any {
		x := args[0]
		return ops.Mul(m, ops.Mul(m, x, x), 2.0)
	}
	jac, err := ops.JacFwd(m, f, vec(1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 3}, jac.Aval().Shape)
	assert.Equal(t, []float64{4, 0, 0, 0, 8, 0, 0, 0, 12}, floats(t, jac))
}

func TestErrors_TypeMismatch(t *testing.T) {
	m := newMachine(t)
	add := func(args ...any) any { return ops.Add(m, args[0], args[1]) }

	_, err := m.Call(add, vec(1, 2, 3), vec(1, 2))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrType)
	assert.Equal(t, 1, m.Depth())

	_, _, err = m.Jvp(add, []any{vec(1), vec(2)}, []any{vec(1)})
	assert.ErrorIs(t, err, core.ErrType)
}

func TestErrors_Unsupported(t *testing.T) {
	reg, err := ops.NewRegistry()
	require.NoError(t, err)
	require.NoError(t, reg.Register(core.NewOperator("floor", core.Unary, core.Rules{})))
	m, err := core.New(cpu.New(), reg)
	require.NoError(t, err)

	floor := func(args ...any) any { return m.Bind1("floor", nil, args[0].(core.Value)) }
	_, _, err = m.Jvp(floor, []any{vec(1.5)}, []any{vec(1)})
	require.Error(t, err)
	var unsupported *core.UnsupportedError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "jvp", unsupported.Rule)

	_, err = m.Call(floor, vec(1.5))
	assert.ErrorContains(t, err, "no kernel")

	_, err = m.Call(func(args ...any) any { return m.Bind1("ceil", nil) })
	assert.ErrorIs(t, err, core.ErrUnsupported)
}

func TestErrors_EscapedTracer(t *testing.T) {
	m := newMachine(t)
	var leaked core.Value
	_, _, err := m.Jvp(func(args ...any) any {
		leaked = args[0].(core.Value)
		return args[0]
	}, []any{vec(1)}, []any{vec(1)})
	require.NoError(t, err)

	_, err = m.Call(func(args ...any) any { return ops.Neg(m, leaked) })
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrLevel)
	var lvl *core.LevelError
	require.True(t, errors.As(err, &lvl))
	assert.Equal(t, 1, lvl.From)
}

func TestRunProgram_ChecksInputs(t *testing.T) {
	m := newMachine(t)
	p, consts, _, err := m.MakeProgram(sumSquares(m), []any{f32(3)})
	require.NoError(t, err)
	require.Empty(t, consts)

	out, err := m.RunProgram(p, []core.Value{vec(1, 2, 3)})
	require.NoError(t, err)
	assert.Equal(t, []float64{14}, floats(t, out[0]))

	_, err = m.RunProgram(p, []core.Value{vec(1, 2)})
	assert.ErrorIs(t, err, core.ErrType)
}
