package ops

import (
	"fmt"

	"github.com/born-ml/xform/internal/core"
	"github.com/born-ml/xform/internal/tensor"
)

func loadOps() []*core.Operator {
	return []*core.Operator{
		core.NewOperator("full", core.Load, core.Rules{
			Typecheck: loadTypecheck,
			Jvp:       constantJvp("full"),
		}),
		core.NewOperator("iota", core.Load, core.Rules{
			Typecheck: func(in []tensor.AbstractValue, p core.Params) ([]tensor.AbstractValue, error) {
				out, err := loadTypecheck(in, p)
				if err != nil {
					return nil, err
				}
				if axis := p.Int("axis"); axis < 0 || axis >= out[0].Rank() {
					return nil, fmt.Errorf("axis %d out of range for %s", axis, out[0])
				}
				return out, nil
			},
			Jvp: constantJvp("iota"),
		}),
	}
}

func loadTypecheck(in []tensor.AbstractValue, p core.Params) ([]tensor.AbstractValue, error) {
	if len(in) != 0 {
		return nil, fmt.Errorf("want no operands, got %d", len(in))
	}
	shape := p.Shape("shape")
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	return []tensor.AbstractValue{{Shape: shape.Clone(), DType: p.DType("dtype")}}, nil
}

func constantJvp(name string) func(m *core.Machine, x, t []core.Value, p core.Params) ([]core.Value, []core.Value) {
	return func(m *core.Machine, _, _ []core.Value, p core.Params) ([]core.Value, []core.Value) {
		out := m.Bind1(name, p)
		return one(out), one(m.Zeros(out.Aval()))
	}
}

// Full returns a tensor of the given shape and dtype filled with v.
func Full(m *core.Machine, shape tensor.Shape, dtype tensor.DataType, v float64) core.Value {
	return m.Full(tensor.AbstractValue{Shape: shape, DType: dtype}, v)
}

// Zeros returns zeros of the given shape and dtype.
func Zeros(m *core.Machine, shape tensor.Shape, dtype tensor.DataType) core.Value {
	return Full(m, shape, dtype, 0)
}

// Ones returns ones of the given shape and dtype.
func Ones(m *core.Machine, shape tensor.Shape, dtype tensor.DataType) core.Value {
	return Full(m, shape, dtype, 1)
}

// Iota returns a tensor whose elements equal their index along axis.
func Iota(m *core.Machine, shape tensor.Shape, dtype tensor.DataType, axis int) core.Value {
	return m.Bind1("iota", core.Params{"shape": shape.Clone(), "dtype": dtype, "axis": axis})
}
