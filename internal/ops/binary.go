package ops

import (
	"fmt"

	"github.com/born-ml/xform/internal/core"
	"github.com/born-ml/xform/internal/tensor"
)

func binaryOps() []*core.Operator {
	return []*core.Operator{
		core.NewOperator("add", core.Binary, core.Rules{
			Jvp: func(m *core.Machine, x, t []core.Value, _ core.Params) ([]core.Value, []core.Value) {
				return one(Add(m, x[0], x[1])), one(Add(m, t[0], t[1]))
			},
			Transpose: func(_ *core.Machine, cts, args []core.Value, _ core.Params) []core.Value {
				return []core.Value{undefOnly(args[0], cts[0]), undefOnly(args[1], cts[0])}
			},
		}),
		core.NewOperator("sub", core.Binary, core.Rules{
			Jvp: func(m *core.Machine, x, t []core.Value, _ core.Params) ([]core.Value, []core.Value) {
				return one(Sub(m, x[0], x[1])), one(Sub(m, t[0], t[1]))
			},
			Transpose: func(m *core.Machine, cts, args []core.Value, _ core.Params) []core.Value {
				out := make([]core.Value, 2)
				if core.IsUndef(args[0]) {
					out[0] = cts[0]
				}
				if core.IsUndef(args[1]) {
					out[1] = Neg(m, cts[0])
				}
				return out
			},
		}),
		core.NewOperator("mul", core.Binary, core.Rules{
			Jvp: func(m *core.Machine, x, t []core.Value, _ core.Params) ([]core.Value, []core.Value) {
				return one(Mul(m, x[0], x[1])), one(Add(m, Mul(m, t[0], x[1]), Mul(m, x[0], t[1])))
			},
			Transpose: func(m *core.Machine, cts, args []core.Value, _ core.Params) []core.Value {
				x, y := args[0], args[1]
				switch {
				case core.IsUndef(x) && core.IsUndef(y):
					panic(nonlinear("mul"))
				case core.IsUndef(x):
					return []core.Value{Mul(m, cts[0], y), nil}
				default:
					return []core.Value{nil, Mul(m, x, cts[0])}
				}
			},
		}),
		core.NewOperator("div", core.Binary, core.Rules{
			Jvp: func(m *core.Machine, x, t []core.Value, _ core.Params) ([]core.Value, []core.Value) {
				out := Div(m, x[0], x[1])
				return one(out), one(Div(m, Sub(m, t[0], Mul(m, out, t[1])), x[1]))
			},
			Transpose: func(m *core.Machine, cts, args []core.Value, _ core.Params) []core.Value {
				if core.IsUndef(args[1]) {
					panic(nonlinear("div"))
				}
				return []core.Value{Div(m, cts[0], args[1]), nil}
			},
		}),
		core.NewOperator("maximum", core.Binary, core.Rules{
			// Ties split the tangent evenly between both operands.
			Jvp: func(m *core.Machine, x, t []core.Value, _ core.Params) ([]core.Value, []core.Value) {
				out := Maximum(m, x[0], x[1])
				dt := out.Aval().DType
				mx := Convert(m, Equal(m, out, x[0]), dt)
				my := Convert(m, Equal(m, out, x[1]), dt)
				half := Mul(m, 0.5, Mul(m, mx, my))
				tan := Add(m, Mul(m, t[0], Sub(m, mx, half)), Mul(m, t[1], Sub(m, my, half)))
				return one(out), one(tan)
			},
		}),
		core.NewOperator("equal", core.Binary, core.Rules{
			Typecheck: func(in []tensor.AbstractValue, _ core.Params) ([]tensor.AbstractValue, error) {
				if len(in) != 2 {
					return nil, fmt.Errorf("want 2 operands, got %d", len(in))
				}
				if !in[0].Equal(in[1]) {
					return nil, fmt.Errorf("operands differ: %s vs %s", in[0], in[1])
				}
				return []tensor.AbstractValue{{Shape: in[0].Shape, DType: tensor.Bool}}, nil
			},
			Jvp: func(m *core.Machine, x, _ []core.Value, _ core.Params) ([]core.Value, []core.Value) {
				out := Equal(m, x[0], x[1])
				return one(out), one(m.Zeros(out.Aval()))
			},
		}),
	}
}

func undefOnly(arg, ct core.Value) core.Value {
	if core.IsUndef(arg) {
		return ct
	}
	return nil
}

// Add returns x + y with broadcasting.
func Add(m *core.Machine, x, y any) core.Value {
	return m.Bind1("add", nil, m.AsValue(x), m.AsValue(y))
}

// Sub returns x - y with broadcasting.
func Sub(m *core.Machine, x, y any) core.Value {
	return m.Bind1("sub", nil, m.AsValue(x), m.AsValue(y))
}

// Mul returns x * y with broadcasting.
func Mul(m *core.Machine, x, y any) core.Value {
	return m.Bind1("mul", nil, m.AsValue(x), m.AsValue(y))
}

// Div returns x / y with broadcasting.
func Div(m *core.Machine, x, y any) core.Value {
	return m.Bind1("div", nil, m.AsValue(x), m.AsValue(y))
}

// Maximum returns the elementwise maximum of x and y.
func Maximum(m *core.Machine, x, y any) core.Value {
	return m.Bind1("maximum", nil, m.AsValue(x), m.AsValue(y))
}

// Equal compares x and y elementwise, producing booleans.
func Equal(m *core.Machine, x, y any) core.Value {
	return m.Bind1("equal", nil, m.AsValue(x), m.AsValue(y))
}
