package ops

import (
	"fmt"

	"github.com/born-ml/xform/internal/core"
	"github.com/born-ml/xform/internal/tensor"
)

// MatMul multiplies matrices x[n,k] and y[k,p]. It is staged once per
// signature as the "matmul" procedure.
func MatMul(m *core.Machine, x, y any) core.Value {
	return m.Procedure("matmul", func(args ...any) any {
		x, y := m.AsValue(args[0]), m.AsValue(args[1])
		xs, ys := x.Aval().Shape, y.Aval().Shape
		if len(xs) != 2 || len(ys) != 2 || xs[1] != ys[0] {
			panic(&core.TypeError{Op: "matmul", Details: "operands " + x.Aval().String() + " and " + y.Aval().String()})
		}
		shape := tensor.Shape{xs[0], xs[1], ys[1]}
		prod := Mul(m, BroadcastInDim(m, x, shape, []int{2}), BroadcastInDim(m, y, shape, []int{0}))
		return Sum(m, prod, []int{1}, false)
	})(x, y).(core.Value)
}

// Dot is the inner product of two vectors, staged as the "dot" procedure.
func Dot(m *core.Machine, x, y any) core.Value {
	return m.Procedure("dot", func(args ...any) any {
		x, y := m.AsValue(args[0]), m.AsValue(args[1])
		if x.Aval().Rank() != 1 || !x.Aval().Equal(y.Aval()) {
			panic(&core.TypeError{Op: "dot", Details: "operands " + x.Aval().String() + " and " + y.Aval().String()})
		}
		return Sum(m, Mul(m, x, y), nil, false)
	})(x, y).(core.Value)
}

// Eye returns the n×n identity matrix.
func Eye(m *core.Machine, n int, dtype tensor.DataType) core.Value {
	shape := tensor.Shape{n, n}
	return Convert(m, Equal(m, Iota(m, shape, tensor.Int32, 0), Iota(m, shape, tensor.Int32, 1)), dtype)
}

// JacFwd computes the Jacobian of f at x by pushing every basis tangent
// through Jvp under Vmap. The result has shape out ++ in.
func JacFwd(m *core.Machine, f core.Fn, x any) (core.Value, error) {
	out, err := m.Call(func(args ...any) any {
		x := m.AsValue(args[0])
		in := x.Aval()
		n := in.Shape.NumElements()
		basis := Reshape(m, Eye(m, n, in.DType), append([]int{n}, in.Shape...)...)
		pushfwd := func(args ...any) any {
			_, t, err := m.Jvp(f, []any{x}, []any{args[0]})
			if err != nil {
				panic(err)
			}
			return t
		}
		cols := m.Vmap(pushfwd)(basis).(core.Value)
		outShape := cols.Aval().Shape[1:]
		perm := make([]int, 0, len(outShape)+1)
		for i := 1; i <= len(outShape); i++ {
			perm = append(perm, i)
		}
		jac := Transpose(m, cols, append(perm, 0)...)
		return Reshape(m, jac, append(outShape.Clone(), in.Shape...)...)
	}, x)
	if err != nil {
		return nil, err
	}
	return out.(core.Value), nil
}

// promote gives a bare number the dtype of the other operand so that it
// keeps that dtype once it crosses into a procedure body.
func promote(m *core.Machine, x, y any) (core.Value, core.Value) {
	vx, vy := m.AsValue(x), m.AsValue(y)
	xs, xScalar := vx.(core.Scalar)
	ys, yScalar := vy.(core.Scalar)
	switch {
	case xScalar && !yScalar:
		xs.DType = vy.Aval().DType
		vx = xs
	case yScalar && !xScalar:
		ys.DType = vx.Aval().DType
		vy = ys
	}
	return vx, vy
}

func binaryProcedure(m *core.Machine, name string, body func(x, y core.Value) core.Value) func(x, y any) core.Value {
	return func(x, y any) core.Value {
		vx, vy := promote(m, x, y)
		return m.Procedure(name, func(args ...any) any {
			return body(m.AsValue(args[0]), m.AsValue(args[1]))
		})(vx, vy).(core.Value)
	}
}

func unaryProcedure(m *core.Machine, name string, x any, body func(x core.Value) core.Value) core.Value {
	return m.Procedure(name, func(args ...any) any {
		return body(m.AsValue(args[0]))
	})(m.AsValue(x)).(core.Value)
}

func lessEqual(m *core.Machine, x, y core.Value) core.Value {
	return Equal(m, Maximum(m, x, y), y)
}

func greaterEqual(m *core.Machine, x, y core.Value) core.Value {
	return Equal(m, Maximum(m, x, y), x)
}

func logicalNot(m *core.Machine, b core.Value) core.Value {
	return Equal(m, Convert(m, b, tensor.Int32), 0)
}

func minimum(m *core.Machine, x, y core.Value) core.Value {
	return Neg(m, Maximum(m, Neg(m, x), Neg(m, y)))
}

// Minimum is the elementwise minimum of x and y.
func Minimum(m *core.Machine, x, y any) core.Value {
	return binaryProcedure(m, "minimum", func(x, y core.Value) core.Value {
		return minimum(m, x, y)
	})(x, y)
}

// GreaterEqual reports x >= y elementwise.
func GreaterEqual(m *core.Machine, x, y any) core.Value {
	return binaryProcedure(m, "greater_equal", func(x, y core.Value) core.Value {
		return greaterEqual(m, x, y)
	})(x, y)
}

// LessEqual reports x <= y elementwise.
func LessEqual(m *core.Machine, x, y any) core.Value {
	return binaryProcedure(m, "less_equal", func(x, y core.Value) core.Value {
		return lessEqual(m, x, y)
	})(x, y)
}

// Greater reports x > y elementwise.
func Greater(m *core.Machine, x, y any) core.Value {
	return binaryProcedure(m, "greater", func(x, y core.Value) core.Value {
		return logicalNot(m, lessEqual(m, x, y))
	})(x, y)
}

// Less reports x < y elementwise.
func Less(m *core.Machine, x, y any) core.Value {
	return binaryProcedure(m, "less", func(x, y core.Value) core.Value {
		return logicalNot(m, greaterEqual(m, x, y))
	})(x, y)
}

// NotEqual reports x != y elementwise.
func NotEqual(m *core.Machine, x, y any) core.Value {
	return binaryProcedure(m, "not_equal", func(x, y core.Value) core.Value {
		return logicalNot(m, Equal(m, x, y))
	})(x, y)
}

// Where picks x where cond holds and y elsewhere. The unselected branch
// receives a zero derivative.
func Where(m *core.Machine, cond, x, y any) core.Value {
	vx, vy := promote(m, x, y)
	return m.Procedure("where", func(args ...any) any {
		x, y := m.AsValue(args[1]), m.AsValue(args[2])
		c := Convert(m, args[0], x.Aval().DType)
		return Add(m, Mul(m, x, c), Mul(m, y, Sub(m, 1, c)))
	})(m.AsValue(cond), vx, vy).(core.Value)
}

// Abs returns |x|.
func Abs(m *core.Machine, x any) core.Value {
	return unaryProcedure(m, "abs", x, func(x core.Value) core.Value {
		return Maximum(m, x, Neg(m, x))
	})
}

// Square returns x*x.
func Square(m *core.Machine, x any) core.Value {
	return unaryProcedure(m, "square", x, func(x core.Value) core.Value {
		return Mul(m, x, x)
	})
}

// Reciprocal returns 1/x.
func Reciprocal(m *core.Machine, x any) core.Value {
	return unaryProcedure(m, "reciprocal", x, func(x core.Value) core.Value {
		return Div(m, 1, x)
	})
}

// Rsqrt returns 1/sqrt(x).
func Rsqrt(m *core.Machine, x any) core.Value {
	return unaryProcedure(m, "rsqrt", x, func(x core.Value) core.Value {
		return Div(m, 1, Sqrt(m, x))
	})
}

// Clip limits x to [lo, hi].
func Clip(m *core.Machine, x, lo, hi any) core.Value {
	vx, vlo := promote(m, x, lo)
	_, vhi := promote(m, vx, hi)
	return m.Procedure("clip", func(args ...any) any {
		x, lo, hi := m.AsValue(args[0]), m.AsValue(args[1]), m.AsValue(args[2])
		return minimum(m, Maximum(m, x, lo), hi)
	})(vx, vlo, vhi).(core.Value)
}

// Squeeze drops the listed unit axes; no axes drops every unit axis.
func Squeeze(m *core.Machine, x any, axes ...int) core.Value {
	v := m.AsValue(x)
	shape := v.Aval().Shape
	drop := make([]bool, len(shape))
	if axes == nil {
		for d, n := range shape {
			drop[d] = n == 1
		}
	} else {
		norm, err := core.NormalizeAxes(axes, len(shape))
		if err != nil {
			panic(&core.TypeError{Op: "squeeze", Details: "axes", Err: err})
		}
		for _, d := range norm {
			if shape[d] != 1 {
				panic(&core.TypeError{Op: "squeeze", Details: fmt.Sprintf("axis %d of %s is not 1", d, v.Aval())})
			}
			drop[d] = true
		}
	}
	var out []int
	for d, n := range shape {
		if !drop[d] {
			out = append(out, n)
		}
	}
	return Reshape(m, v, out...)
}

// ExpandDims inserts unit axes at the listed output positions.
func ExpandDims(m *core.Machine, x any, axes ...int) core.Value {
	v := m.AsValue(x)
	shape := v.Aval().Shape
	rank := len(shape) + len(axes)
	norm, err := core.NormalizeAxes(axes, rank)
	if err != nil || len(norm) != len(axes) {
		panic(&core.TypeError{Op: "expand_dims", Details: fmt.Sprintf("axes %v for rank %d", axes, rank), Err: err})
	}
	out := make(tensor.Shape, 0, rank)
	j := 0
	for d := 0; d < rank; d++ {
		if j < len(norm) && norm[j] == d {
			out = append(out, 1)
			j++
			continue
		}
		out = append(out, shape[d-j])
	}
	return BroadcastInDim(m, v, out, norm)
}

// Flatten merges the axes of x from start onward into one.
func Flatten(m *core.Machine, x any, start int) core.Value {
	v := m.AsValue(x)
	shape := v.Aval().Shape
	if start < 0 {
		start += len(shape)
	}
	if start < 0 || start > len(shape) {
		panic(&core.TypeError{Op: "flatten", Details: fmt.Sprintf("start %d for %s", start, v.Aval())})
	}
	out := append([]int(nil), shape[:start]...)
	return Reshape(m, v, append(out, tensor.Shape(shape[start:]).NumElements())...)
}

// ZerosLike returns zeros with the shape and dtype of x.
func ZerosLike(m *core.Machine, x any) core.Value {
	return m.Zeros(m.AsValue(x).Aval())
}

// OnesLike returns ones with the shape and dtype of x.
func OnesLike(m *core.Machine, x any) core.Value {
	return m.Full(m.AsValue(x).Aval(), 1)
}

// Cumsum is the running sum of x along axis, computed as a contraction with
// a lower-triangular mask.
func Cumsum(m *core.Machine, x any, axis int) core.Value {
	v := m.AsValue(x)
	in := v.Aval()
	r := in.Rank()
	axis, err := tensor.NormalizeAxis(axis, r)
	if err != nil {
		panic(&core.TypeError{Op: "cumsum", Details: "axis", Err: err})
	}
	perm := make([]int, 0, r)
	for d := 0; d < r; d++ {
		if d != axis {
			perm = append(perm, d)
		}
	}
	perm = append(perm, axis)
	y := Transpose(m, v, perm...)
	n := in.Shape[axis]
	wide := append(y.Aval().Shape.Clone(), n)
	rows := BroadcastInDim(m, y, wide, []int{r - 1})
	tri := Convert(m, greaterEqual(m, Iota(m, tensor.Shape{n, n}, in.DType, 0), Iota(m, tensor.Shape{n, n}, in.DType, 1)), in.DType)
	lead := make([]int, r-1)
	for d := range lead {
		lead[d] = d
	}
	mask := BroadcastInDim(m, tri, wide, lead)
	out := Sum(m, Mul(m, rows, mask), []int{r}, false)
	return Transpose(m, out, tensor.InversePermutation(perm)...)
}

// OneHot encodes integral idx as vectors of length n along a new last axis.
func OneHot(m *core.Machine, idx any, n int, dtype tensor.DataType) core.Value {
	v := m.AsValue(idx)
	in := v.Aval()
	shape := append(in.Shape.Clone(), n)
	b := BroadcastInDim(m, v, shape, []int{in.Rank()})
	return Convert(m, Equal(m, b, Iota(m, shape, in.DType, in.Rank())), dtype)
}

// Gather selects rows idx of x along axis 0.
func Gather(m *core.Machine, x, idx any) core.Value {
	v, i := m.AsValue(x), m.AsValue(idx)
	shape := v.Aval().Shape
	if len(shape) == 0 || i.Aval().Rank() != 1 {
		panic(&core.TypeError{Op: "gather", Details: "operands " + v.Aval().String() + " and " + i.Aval().String()})
	}
	k, rest := i.Aval().Shape[0], shape[1:]
	sel := OneHot(m, i, shape[0], v.Aval().DType)
	rows := MatMul(m, sel, Reshape(m, v, shape[0], rest.NumElements()))
	return Reshape(m, rows, append([]int{k}, rest...)...)
}

// ScatterAdd sums the rows of upd into a zero tensor with n rows at the
// positions idx.
func ScatterAdd(m *core.Machine, upd, idx any, n int) core.Value {
	u, i := m.AsValue(upd), m.AsValue(idx)
	shape := u.Aval().Shape
	if len(shape) == 0 || i.Aval().Rank() != 1 || i.Aval().Shape[0] != shape[0] {
		panic(&core.TypeError{Op: "scatter_add", Details: "operands " + u.Aval().String() + " and " + i.Aval().String()})
	}
	rest := shape[1:]
	sel := Transpose(m, OneHot(m, i, n, u.Aval().DType), 1, 0)
	rows := MatMul(m, sel, Reshape(m, u, shape[0], rest.NumElements()))
	return Reshape(m, rows, append([]int{n}, rest...)...)
}
