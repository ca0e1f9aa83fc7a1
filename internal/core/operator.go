package core

import (
	"fmt"
	"sort"

	"github.com/born-ml/xform/internal/tensor"
)

// Kind is the arity class of an operator. Each kind supplies default rules
// that individual operators may override.
type Kind int

// Operator kinds.
const (
	Unary Kind = iota
	Binary
	Reduce
	Shape
	Load
	Meta
)

func (k Kind) String() string {
	switch k {
	case Unary:
		return "unary"
	case Binary:
		return "binary"
	case Reduce:
		return "reduce"
	case Shape:
		return "shape"
	case Load:
		return "load"
	case Meta:
		return "meta"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// NotMapped marks a value without a batch axis.
const NotMapped = -1

// Rules is the behavior bundle of an operator. Every rule is a pure
// function of its arguments; a nil rule means the operator does not
// support that interpretation.
type Rules struct {
	// Typecheck computes output abstract values from input abstract values.
	Typecheck func(in []tensor.AbstractValue, p Params) ([]tensor.AbstractValue, error)

	// FixArgs normalizes operands and params before dispatch, at every level.
	FixArgs func(m *Machine, args []Value, p Params) ([]Value, Params)

	// Impl overrides backend evaluation. Meta operators use it.
	Impl func(m *Machine, args []Value, p Params) []Value

	// Vmap lifts the operator over a batch axis of size axisSize.
	Vmap func(m *Machine, axisSize int, args []Value, dims []int, p Params) ([]Value, []int)

	// Jvp returns primal and tangent outputs.
	Jvp func(m *Machine, primals, tangents []Value, p Params) ([]Value, []Value)

	// Transpose maps output cotangents to input cotangents. Inputs being
	// differentiated arrive as *UndefPrimal; other entries of the result
	// are nil.
	Transpose func(m *Machine, cts []Value, args []Value, p Params) []Value

	// PartialRun overrides the default partial evaluation of an application
	// with at least one unknown input.
	PartialRun func(pt *PartialTrace, args []*PartialTracer, p Params) []Value

	// PartialRunInstruction splits one program instruction.
	PartialRunInstruction func(m *Machine, unknowns []bool, inst *Instruction) PartialSplit
}

// PartialSplit is the result of splitting an instruction into known and
// unknown halves.
type PartialSplit struct {
	Known       *Instruction
	Unknown     *Instruction
	OutUnknowns []bool
	Residuals   []*Var
}

// Operator is an immutable primitive.
type Operator struct {
	Name  string
	Kind  Kind
	Rules Rules
}

func (op *Operator) String() string {
	return op.Name
}

// NewOperator builds an operator with a canonical name, filling rules left
// nil with the defaults of its kind.
func NewOperator(name string, kind Kind, rules Rules) *Operator {
	op := &Operator{Name: canonicalName(name), Kind: kind}
	switch kind {
	case Unary:
		if rules.Typecheck == nil {
			rules.Typecheck = unaryTypecheck
		}
		if rules.Vmap == nil {
			rules.Vmap = func(m *Machine, _ int, args []Value, dims []int, p Params) ([]Value, []int) {
				return m.bindOp(op, args, p), []int{dims[0]}
			}
		}
	case Binary:
		if rules.Typecheck == nil {
			rules.Typecheck = binaryTypecheck
		}
		if rules.FixArgs == nil {
			rules.FixArgs = func(m *Machine, args []Value, p Params) ([]Value, Params) {
				return binaryFixArgs(m, op, args, p)
			}
		}
		if rules.Vmap == nil {
			rules.Vmap = func(m *Machine, axisSize int, args []Value, dims []int, p Params) ([]Value, []int) {
				return binaryVmap(m, op, axisSize, args, dims, p)
			}
		}
	case Reduce:
		if rules.Typecheck == nil {
			rules.Typecheck = reduceTypecheck
		}
		if rules.FixArgs == nil {
			rules.FixArgs = func(_ *Machine, args []Value, p Params) ([]Value, Params) {
				return reduceFixArgs(op, args, p)
			}
		}
		if rules.Vmap == nil {
			rules.Vmap = func(m *Machine, _ int, args []Value, dims []int, p Params) ([]Value, []int) {
				return reduceVmap(m, op, args, dims, p)
			}
		}
	}
	if rules.PartialRunInstruction == nil {
		rules.PartialRunInstruction = defaultPartialRunInstruction
	}
	op.Rules = rules
	return op
}

func unaryTypecheck(in []tensor.AbstractValue, _ Params) ([]tensor.AbstractValue, error) {
	if len(in) != 1 {
		return nil, fmt.Errorf("want 1 operand, got %d", len(in))
	}
	return []tensor.AbstractValue{in[0]}, nil
}

func binaryTypecheck(in []tensor.AbstractValue, _ Params) ([]tensor.AbstractValue, error) {
	if len(in) != 2 {
		return nil, fmt.Errorf("want 2 operands, got %d", len(in))
	}
	x, y := in[0], in[1]
	if !x.Shape.Equal(y.Shape) {
		return nil, fmt.Errorf("operand shapes differ: %s vs %s", x, y)
	}
	if x.DType != y.DType {
		return nil, fmt.Errorf("operand dtypes differ: %s vs %s", x, y)
	}
	return []tensor.AbstractValue{x}, nil
}

// binaryFixArgs gives a Scalar the dtype of the other operand and then
// broadcasts both operands to their common NumPy shape.
func binaryFixArgs(m *Machine, op *Operator, args []Value, p Params) ([]Value, Params) {
	if len(args) != 2 {
		return args, p
	}
	x, y := args[0], args[1]
	xs, xScalar := x.(Scalar)
	ys, yScalar := y.(Scalar)
	switch {
	case xScalar && !yScalar:
		xs.DType = y.Aval().DType
		x = xs
	case yScalar && !xScalar:
		ys.DType = x.Aval().DType
		y = ys
	}
	xa, ya := x.Aval(), y.Aval()
	if xa.Shape.Equal(ya.Shape) {
		return []Value{x, y}, p
	}
	shape, _, err := tensor.BroadcastShapes(xa.Shape, ya.Shape)
	if err != nil {
		panic(&TypeError{Op: op.Name, Details: "broadcast", Err: err})
	}
	return []Value{m.BroadcastTo(x, shape), m.BroadcastTo(y, shape)}, p
}

func binaryVmap(m *Machine, op *Operator, axisSize int, args []Value, dims []int, p Params) ([]Value, []int) {
	x, y := args[0], args[1]
	xd, yd := dims[0], dims[1]
	if xd != yd {
		if xd == NotMapped {
			x = m.MoveBatchAxis(axisSize, xd, yd, x)
			xd = yd
		} else {
			y = m.MoveBatchAxis(axisSize, yd, xd, y)
		}
	}
	return m.bindOp(op, []Value{x, y}, p), []int{xd}
}

// NormalizeAxes resolves a reduction's axes against rank: nil selects every
// axis, negatives count from the end, and the result is sorted and unique.
func NormalizeAxes(axes []int, rank int) ([]int, error) {
	if axes == nil {
		out := make([]int, rank)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	seen := make(map[int]bool, len(axes))
	out := make([]int, 0, len(axes))
	for _, a := range axes {
		n, err := tensor.NormalizeAxis(a, rank)
		if err != nil {
			return nil, err
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out, nil
}

func reduceFixArgs(op *Operator, args []Value, p Params) ([]Value, Params) {
	axes, err := NormalizeAxes(p.Ints("axes"), args[0].Aval().Rank())
	if err != nil {
		panic(&TypeError{Op: op.Name, Details: "axes", Err: err})
	}
	return args, p.With("axes", axes).With("keepdims", p.Bool("keepdims"))
}

// ReducedShape is the output shape of reducing shape over axes.
func ReducedShape(shape tensor.Shape, axes []int, keepdims bool) tensor.Shape {
	reduced := make(map[int]bool, len(axes))
	for _, a := range axes {
		reduced[a] = true
	}
	out := tensor.Shape{}
	for i, d := range shape {
		switch {
		case !reduced[i]:
			out = append(out, d)
		case keepdims:
			out = append(out, 1)
		}
	}
	return out
}

func reduceTypecheck(in []tensor.AbstractValue, p Params) ([]tensor.AbstractValue, error) {
	if len(in) != 1 {
		return nil, fmt.Errorf("want 1 operand, got %d", len(in))
	}
	x := in[0]
	axes := p.Ints("axes")
	for i, a := range axes {
		if a < 0 || a >= x.Rank() {
			return nil, fmt.Errorf("axis %d out of range for %s", a, x)
		}
		if i > 0 && axes[i-1] >= a {
			return nil, fmt.Errorf("axes %v must be sorted and unique", axes)
		}
	}
	return []tensor.AbstractValue{{Shape: ReducedShape(x.Shape, axes, p.Bool("keepdims")), DType: x.DType}}, nil
}

func reduceVmap(m *Machine, op *Operator, args []Value, dims []int, p Params) ([]Value, []int) {
	d := dims[0]
	axes := p.Ints("axes")
	moved := make([]int, len(axes))
	before := 0
	for i, a := range axes {
		if a >= d {
			moved[i] = a + 1
		} else {
			moved[i] = a
			before++
		}
	}
	out := m.bindOp(op, args, p.With("axes", moved))
	if p.Bool("keepdims") {
		return out, []int{d}
	}
	return out, []int{d - before}
}
