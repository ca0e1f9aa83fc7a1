package ops

import "github.com/born-ml/xform/internal/core"

func reduceOps() []*core.Operator {
	return []*core.Operator{
		core.NewOperator("sum", core.Reduce, core.Rules{
			Jvp: linearJvp("sum"),
			Transpose: func(m *core.Machine, cts, args []core.Value, p core.Params) []core.Value {
				axes := p.Ints("axes")
				if p.Bool("keepdims") {
					axes = []int{}
				}
				return one(BroadcastInDim(m, cts[0], args[0].Aval().Shape, axes))
			},
		}),
		core.NewOperator("max", core.Reduce, core.Rules{
			Jvp: maxJvp,
		}),
	}
}

// maxJvp averages the tangent over every location attaining the maximum.
func maxJvp(m *core.Machine, x, t []core.Value, p core.Params) ([]core.Value, []core.Value) {
	axes := p.Ints("axes")
	kept := Max(m, x[0], axes, true)
	mask := Convert(m, Equal(m, x[0], kept), x[0].Aval().DType)
	count := Sum(m, mask, axes, true)
	tan := Div(m, Sum(m, Mul(m, t[0], mask), axes, true), count)
	if p.Bool("keepdims") {
		return one(kept), one(tan)
	}
	shape := core.ReducedShape(x[0].Aval().Shape, axes, false)
	return one(Reshape(m, kept, shape...)), one(Reshape(m, tan, shape...))
}

// Sum adds the elements of x over axes; nil axes reduce every axis.
func Sum(m *core.Machine, x any, axes []int, keepdims bool) core.Value {
	return m.Bind1("sum", core.Params{"axes": axes, "keepdims": keepdims}, m.AsValue(x))
}

// Max takes the maximum of x over axes; nil axes reduce every axis.
func Max(m *core.Machine, x any, axes []int, keepdims bool) core.Value {
	return m.Bind1("max", core.Params{"axes": axes, "keepdims": keepdims}, m.AsValue(x))
}

// Mean averages x over axes; nil axes reduce every axis.
func Mean(m *core.Machine, x any, axes []int, keepdims bool) core.Value {
	v := m.AsValue(x)
	norm, err := core.NormalizeAxes(axes, v.Aval().Rank())
	if err != nil {
		panic(&core.TypeError{Op: "mean", Details: "axes", Err: err})
	}
	n := 1
	shape := v.Aval().Shape
	for _, a := range norm {
		n *= shape[a]
	}
	return Div(m, Sum(m, v, norm, keepdims), float64(n))
}

func linearJvp(name string) func(m *core.Machine, x, t []core.Value, p core.Params) ([]core.Value, []core.Value) {
	return func(m *core.Machine, x, t []core.Value, p core.Params) ([]core.Value, []core.Value) {
		return m.Bind(name, p, x...), m.Bind(name, p, t...)
	}
}
