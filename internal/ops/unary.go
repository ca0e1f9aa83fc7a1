package ops

import (
	"fmt"

	"github.com/born-ml/xform/internal/core"
	"github.com/born-ml/xform/internal/tensor"
)

func unaryOps() []*core.Operator {
	return []*core.Operator{
		core.NewOperator("neg", core.Unary, core.Rules{
			Jvp: func(m *core.Machine, x, t []core.Value, _ core.Params) ([]core.Value, []core.Value) {
				return one(Neg(m, x[0])), one(Neg(m, t[0]))
			},
			Transpose: func(m *core.Machine, cts, _ []core.Value, _ core.Params) []core.Value {
				return one(Neg(m, cts[0]))
			},
		}),
		core.NewOperator("exp", core.Unary, core.Rules{
			Jvp: func(m *core.Machine, x, t []core.Value, _ core.Params) ([]core.Value, []core.Value) {
				y := Exp(m, x[0])
				return one(y), one(Mul(m, t[0], y))
			},
		}),
		core.NewOperator("log", core.Unary, core.Rules{
			Jvp: func(m *core.Machine, x, t []core.Value, _ core.Params) ([]core.Value, []core.Value) {
				return one(Log(m, x[0])), one(Div(m, t[0], x[0]))
			},
		}),
		core.NewOperator("sqrt", core.Unary, core.Rules{
			Jvp: func(m *core.Machine, x, t []core.Value, _ core.Params) ([]core.Value, []core.Value) {
				y := Sqrt(m, x[0])
				return one(y), one(Div(m, t[0], Mul(m, 2.0, y)))
			},
		}),
		core.NewOperator("sin", core.Unary, core.Rules{
			Jvp: func(m *core.Machine, x, t []core.Value, _ core.Params) ([]core.Value, []core.Value) {
				return one(Sin(m, x[0])), one(Mul(m, t[0], Cos(m, x[0])))
			},
		}),
		core.NewOperator("cos", core.Unary, core.Rules{
			Jvp: func(m *core.Machine, x, t []core.Value, _ core.Params) ([]core.Value, []core.Value) {
				return one(Cos(m, x[0])), one(Neg(m, Mul(m, t[0], Sin(m, x[0]))))
			},
		}),
		core.NewOperator("stop_gradient", core.Unary, core.Rules{
			Jvp: func(m *core.Machine, x, _ []core.Value, _ core.Params) ([]core.Value, []core.Value) {
				return one(StopGradient(m, x[0])), one(m.Zeros(x[0].Aval()))
			},
		}),
		core.NewOperator("convert", core.Unary, core.Rules{
			Typecheck: func(in []tensor.AbstractValue, p core.Params) ([]tensor.AbstractValue, error) {
				if len(in) != 1 {
					return nil, fmt.Errorf("want 1 operand, got %d", len(in))
				}
				return []tensor.AbstractValue{{Shape: in[0].Shape, DType: p.DType("dtype")}}, nil
			},
			Jvp: func(m *core.Machine, x, t []core.Value, p core.Params) ([]core.Value, []core.Value) {
				dt := p.DType("dtype")
				y := Convert(m, x[0], dt)
				if !dt.IsFloat() || !x[0].Aval().DType.IsFloat() {
					return one(y), one(m.Zeros(y.Aval()))
				}
				return one(y), one(Convert(m, t[0], dt))
			},
			Transpose: func(m *core.Machine, cts, args []core.Value, _ core.Params) []core.Value {
				return one(Convert(m, cts[0], args[0].Aval().DType))
			},
		}),
	}
}

// Neg returns -x.
func Neg(m *core.Machine, x any) core.Value {
	return m.Bind1("neg", nil, m.AsValue(x))
}

// Exp returns e**x.
func Exp(m *core.Machine, x any) core.Value {
	return m.Bind1("exp", nil, m.AsValue(x))
}

// Log returns the natural logarithm of x.
func Log(m *core.Machine, x any) core.Value {
	return m.Bind1("log", nil, m.AsValue(x))
}

// Sqrt returns the square root of x.
func Sqrt(m *core.Machine, x any) core.Value {
	return m.Bind1("sqrt", nil, m.AsValue(x))
}

// Sin returns sin(x).
func Sin(m *core.Machine, x any) core.Value {
	return m.Bind1("sin", nil, m.AsValue(x))
}

// Cos returns cos(x).
func Cos(m *core.Machine, x any) core.Value {
	return m.Bind1("cos", nil, m.AsValue(x))
}

// StopGradient returns x with a zero derivative.
func StopGradient(m *core.Machine, x any) core.Value {
	return m.Bind1("stop_gradient", nil, m.AsValue(x))
}

// Convert casts x to dtype.
func Convert(m *core.Machine, x any, dtype tensor.DataType) core.Value {
	return m.Bind1("convert", core.Params{"dtype": dtype}, m.AsValue(x))
}
