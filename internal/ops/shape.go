package ops

import (
	"fmt"

	"github.com/born-ml/xform/internal/core"
	"github.com/born-ml/xform/internal/tensor"
)

func shapeOps() []*core.Operator {
	return []*core.Operator{
		core.NewOperator("broadcast_in_dim", core.Shape, core.Rules{
			Typecheck: broadcastTypecheck,
			Vmap: func(m *core.Machine, axisSize int, args []core.Value, dims []int, p core.Params) ([]core.Value, []int) {
				x := m.MoveBatchAxis(axisSize, dims[0], 0, args[0])
				axes := shiftAxes(p.Ints("axes"))
				shape := append(tensor.Shape{axisSize}, p.Shape("shape")...)
				return one(BroadcastInDim(m, x, shape, axes)), []int{0}
			},
			Jvp:       linearJvp("broadcast_in_dim"),
			Transpose: broadcastTranspose,
		}),
		core.NewOperator("reshape", core.Shape, core.Rules{
			Typecheck: func(in []tensor.AbstractValue, p core.Params) ([]tensor.AbstractValue, error) {
				if err := oneOperand(in); err != nil {
					return nil, err
				}
				shape := p.Shape("shape")
				if err := shape.Validate(); err != nil {
					return nil, err
				}
				if shape.NumElements() != in[0].Shape.NumElements() {
					return nil, fmt.Errorf("cannot reshape %s to %v", in[0], shape)
				}
				return []tensor.AbstractValue{{Shape: shape.Clone(), DType: in[0].DType}}, nil
			},
			Vmap: func(m *core.Machine, axisSize int, args []core.Value, dims []int, p core.Params) ([]core.Value, []int) {
				x := m.MoveBatchAxis(axisSize, dims[0], 0, args[0])
				return one(Reshape(m, x, append(tensor.Shape{axisSize}, p.Shape("shape")...)...)), []int{0}
			},
			Jvp: linearJvp("reshape"),
			Transpose: func(m *core.Machine, cts, args []core.Value, _ core.Params) []core.Value {
				return one(Reshape(m, cts[0], args[0].Aval().Shape...))
			},
		}),
		core.NewOperator("transpose", core.Shape, core.Rules{
			Typecheck: func(in []tensor.AbstractValue, p core.Params) ([]tensor.AbstractValue, error) {
				if err := oneOperand(in); err != nil {
					return nil, err
				}
				shape, err := in[0].Shape.Permute(p.Ints("perm"))
				if err != nil {
					return nil, err
				}
				return []tensor.AbstractValue{{Shape: shape, DType: in[0].DType}}, nil
			},
			Vmap: func(m *core.Machine, axisSize int, args []core.Value, dims []int, p core.Params) ([]core.Value, []int) {
				x := m.MoveBatchAxis(axisSize, dims[0], 0, args[0])
				perm := append([]int{0}, shiftAxes(p.Ints("perm"))...)
				return one(Transpose(m, x, perm...)), []int{0}
			},
			Jvp: linearJvp("transpose"),
			Transpose: func(m *core.Machine, cts, _ []core.Value, p core.Params) []core.Value {
				return one(Transpose(m, cts[0], tensor.InversePermutation(p.Ints("perm"))...))
			},
		}),
		core.NewOperator("slice", core.Shape, core.Rules{
			Typecheck: sliceTypecheck,
			Vmap: func(m *core.Machine, axisSize int, args []core.Value, dims []int, p core.Params) ([]core.Value, []int) {
				x := m.MoveBatchAxis(axisSize, dims[0], 0, args[0])
				starts := append([]int{0}, p.Ints("starts")...)
				limits := append([]int{axisSize}, p.Ints("limits")...)
				return one(Slice(m, x, starts, limits)), []int{0}
			},
			Jvp: linearJvp("slice"),
			Transpose: func(m *core.Machine, cts, args []core.Value, p core.Params) []core.Value {
				shape := args[0].Aval().Shape
				limits := p.Ints("limits")
				hi := make([]int, len(shape))
				for d := range shape {
					hi[d] = shape[d] - limits[d]
				}
				return one(Pad(m, cts[0], p.Ints("starts"), hi))
			},
		}),
		core.NewOperator("pad", core.Shape, core.Rules{
			Typecheck: padTypecheck,
			Vmap: func(m *core.Machine, axisSize int, args []core.Value, dims []int, p core.Params) ([]core.Value, []int) {
				x := m.MoveBatchAxis(axisSize, dims[0], 0, args[0])
				lo := append([]int{0}, p.Ints("lo")...)
				hi := append([]int{0}, p.Ints("hi")...)
				return one(Pad(m, x, lo, hi)), []int{0}
			},
			Jvp: linearJvp("pad"),
			Transpose: func(m *core.Machine, cts, args []core.Value, p core.Params) []core.Value {
				shape := args[0].Aval().Shape
				lo := p.Ints("lo")
				limits := make([]int, len(shape))
				for d := range shape {
					limits[d] = lo[d] + shape[d]
				}
				return one(Slice(m, cts[0], lo, limits))
			},
		}),
		core.NewOperator("concatenate", core.Shape, core.Rules{
			Typecheck: concatenateTypecheck,
			Vmap: func(m *core.Machine, axisSize int, args []core.Value, dims []int, p core.Params) ([]core.Value, []int) {
				moved := make([]any, len(args))
				for i, a := range args {
					moved[i] = m.MoveBatchAxis(axisSize, dims[i], 0, a)
				}
				return one(Concatenate(m, moved, p.Int("axis")+1)), []int{0}
			},
			Jvp:       linearJvp("concatenate"),
			Transpose: concatenateTranspose,
		}),
		core.NewOperator("flip", core.Shape, core.Rules{
			Typecheck: func(in []tensor.AbstractValue, p core.Params) ([]tensor.AbstractValue, error) {
				if err := oneOperand(in); err != nil {
					return nil, err
				}
				axes := p.Ints("axes")
				seen := make(map[int]bool, len(axes))
				for _, a := range axes {
					if a < 0 || a >= in[0].Rank() || seen[a] {
						return nil, fmt.Errorf("invalid axes %v for %s", axes, in[0])
					}
					seen[a] = true
				}
				return []tensor.AbstractValue{in[0]}, nil
			},
			Vmap: func(m *core.Machine, axisSize int, args []core.Value, dims []int, p core.Params) ([]core.Value, []int) {
				x := m.MoveBatchAxis(axisSize, dims[0], 0, args[0])
				return one(m.Bind1("flip", core.Params{"axes": shiftAxes(p.Ints("axes"))}, x)), []int{0}
			},
			Jvp: linearJvp("flip"),
			Transpose: func(m *core.Machine, cts, _ []core.Value, p core.Params) []core.Value {
				return one(m.Bind1("flip", p, cts[0]))
			},
		}),
	}
}

func oneOperand(in []tensor.AbstractValue) error {
	if len(in) != 1 {
		return fmt.Errorf("want 1 operand, got %d", len(in))
	}
	return nil
}

func shiftAxes(axes []int) []int {
	out := make([]int, len(axes))
	for i, a := range axes {
		out[i] = a + 1
	}
	return out
}

// broadcastTypecheck validates broadcast_in_dim: axes lists the output
// positions that are new, and every remaining operand dimension either
// matches its output dimension or is 1.
func broadcastTypecheck(in []tensor.AbstractValue, p core.Params) ([]tensor.AbstractValue, error) {
	if err := oneOperand(in); err != nil {
		return nil, err
	}
	x := in[0]
	shape := p.Shape("shape")
	axes := p.Ints("axes")
	if len(shape) != x.Rank()+len(axes) {
		return nil, fmt.Errorf("%s with %d new axes cannot become %v", x, len(axes), shape)
	}
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	inserted := make([]bool, len(shape))
	for _, a := range axes {
		if a < 0 || a >= len(shape) || inserted[a] {
			return nil, fmt.Errorf("invalid new axes %v for %v", axes, shape)
		}
		inserted[a] = true
	}
	j := 0
	for d := range shape {
		if inserted[d] {
			continue
		}
		if x.Shape[j] != 1 && x.Shape[j] != shape[d] {
			return nil, fmt.Errorf("cannot expand %s to %v", x, shape)
		}
		j++
	}
	return []tensor.AbstractValue{{Shape: shape.Clone(), DType: x.DType}}, nil
}

// broadcastTranspose sums the cotangent over the new axes and then over the
// expanded unit axes.
func broadcastTranspose(m *core.Machine, cts, args []core.Value, p core.Params) []core.Value {
	ct := cts[0]
	axes := p.Ints("axes")
	if len(axes) > 0 {
		ct = Sum(m, ct, axes, false)
	}
	xShape := args[0].Aval().Shape
	ctShape := ct.Aval().Shape
	var expanded []int
	for d := range xShape {
		if xShape[d] == 1 && ctShape[d] != 1 {
			expanded = append(expanded, d)
		}
	}
	if len(expanded) > 0 {
		ct = Sum(m, ct, expanded, true)
	}
	return one(ct)
}

// concatenateTypecheck requires equal rank and dtype, and equal sizes on
// every axis except the joined one.
func concatenateTypecheck(in []tensor.AbstractValue, p core.Params) ([]tensor.AbstractValue, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("want at least 1 operand")
	}
	first := in[0]
	axis := p.Int("axis")
	if axis < 0 || axis >= first.Rank() {
		return nil, fmt.Errorf("axis %d out of range for %s", axis, first)
	}
	shape := first.Shape.Clone()
	for _, x := range in[1:] {
		if x.DType != first.DType || x.Rank() != first.Rank() {
			return nil, fmt.Errorf("cannot join %s and %s", first, x)
		}
		for d := range shape {
			if d != axis && x.Shape[d] != shape[d] {
				return nil, fmt.Errorf("cannot join %s and %s on axis %d", first, x, axis)
			}
		}
		shape[axis] += x.Shape[axis]
	}
	return []tensor.AbstractValue{{Shape: shape, DType: first.DType}}, nil
}

// concatenateTranspose hands every undefined operand its slice of the
// cotangent.
func concatenateTranspose(m *core.Machine, cts, args []core.Value, p core.Params) []core.Value {
	axis := p.Int("axis")
	ct := cts[0]
	shape := ct.Aval().Shape
	out := make([]core.Value, len(args))
	offset := 0
	for i, a := range args {
		n := a.Aval().Shape[axis]
		if core.IsUndef(a) {
			starts := make([]int, len(shape))
			limits := []int(shape.Clone())
			starts[axis], limits[axis] = offset, offset+n
			out[i] = Slice(m, ct, starts, limits)
		}
		offset += n
	}
	return out
}

func sliceTypecheck(in []tensor.AbstractValue, p core.Params) ([]tensor.AbstractValue, error) {
	if err := oneOperand(in); err != nil {
		return nil, err
	}
	x := in[0]
	starts, limits := p.Ints("starts"), p.Ints("limits")
	if len(starts) != x.Rank() || len(limits) != x.Rank() {
		return nil, fmt.Errorf("bounds %v:%v do not match %s", starts, limits, x)
	}
	shape := make(tensor.Shape, x.Rank())
	for d := range shape {
		if starts[d] < 0 || starts[d] >= limits[d] || limits[d] > x.Shape[d] {
			return nil, fmt.Errorf("bounds %v:%v out of range for %s", starts, limits, x)
		}
		shape[d] = limits[d] - starts[d]
	}
	return []tensor.AbstractValue{{Shape: shape, DType: x.DType}}, nil
}

func padTypecheck(in []tensor.AbstractValue, p core.Params) ([]tensor.AbstractValue, error) {
	if err := oneOperand(in); err != nil {
		return nil, err
	}
	x := in[0]
	lo, hi := p.Ints("lo"), p.Ints("hi")
	if len(lo) != x.Rank() || len(hi) != x.Rank() {
		return nil, fmt.Errorf("widths %v/%v do not match %s", lo, hi, x)
	}
	shape := make(tensor.Shape, x.Rank())
	for d := range shape {
		if lo[d] < 0 || hi[d] < 0 {
			return nil, fmt.Errorf("negative padding %v/%v", lo, hi)
		}
		shape[d] = lo[d] + x.Shape[d] + hi[d]
	}
	return []tensor.AbstractValue{{Shape: shape, DType: x.DType}}, nil
}

// BroadcastInDim broadcasts x to shape, inserting new axes at the output
// positions listed in axes.
func BroadcastInDim(m *core.Machine, x any, shape tensor.Shape, axes []int) core.Value {
	return m.Bind1("broadcast_in_dim", core.Params{"shape": shape.Clone(), "axes": axes}, m.AsValue(x))
}

// Reshape gives x a new shape with the same number of elements.
func Reshape(m *core.Machine, x any, shape ...int) core.Value {
	return m.Bind1("reshape", core.Params{"shape": tensor.Shape(shape).Clone()}, m.AsValue(x))
}

// Transpose permutes the axes of x.
func Transpose(m *core.Machine, x any, perm ...int) core.Value {
	return m.Bind1("transpose", core.Params{"perm": perm}, m.AsValue(x))
}

// Slice extracts x[starts:limits] along every axis.
func Slice(m *core.Machine, x any, starts, limits []int) core.Value {
	return m.Bind1("slice", core.Params{"starts": starts, "limits": limits}, m.AsValue(x))
}

// Pad surrounds x with zeros.
func Pad(m *core.Machine, x any, lo, hi []int) core.Value {
	return m.Bind1("pad", core.Params{"lo": lo, "hi": hi}, m.AsValue(x))
}

// Concatenate joins xs along axis. A negative axis counts from the end.
func Concatenate(m *core.Machine, xs []any, axis int) core.Value {
	vals := make([]core.Value, len(xs))
	for i, x := range xs {
		vals[i] = m.AsValue(x)
	}
	if len(vals) > 0 {
		a, err := tensor.NormalizeAxis(axis, vals[0].Aval().Rank())
		if err != nil {
			panic(&core.TypeError{Op: "concatenate", Details: "axis", Err: err})
		}
		axis = a
	}
	return m.Bind1("concatenate", core.Params{"axis": axis}, vals...)
}

// Flip reverses x along axes; no axes reverses every axis.
func Flip(m *core.Machine, x any, axes ...int) core.Value {
	v := m.AsValue(x)
	norm, err := core.NormalizeAxes(axes, v.Aval().Rank())
	if err != nil {
		panic(&core.TypeError{Op: "flip", Details: "axes", Err: err})
	}
	return m.Bind1("flip", core.Params{"axes": norm}, v)
}
