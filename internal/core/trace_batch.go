package core

import "github.com/born-ml/xform/internal/tensor"

// BatchTracer is a value carrying an extra batch axis at Dim, or no batch
// axis when Dim is NotMapped.
type BatchTracer struct {
	main *MainTrace
	Val  Value
	Dim  int
}

// Main implements Tracer.
func (t *BatchTracer) Main() *MainTrace { return t.main }

// Aval returns the per-example type: Val's type without the batch axis.
func (t *BatchTracer) Aval() tensor.AbstractValue {
	aval := t.Val.Aval()
	if t.Dim == NotMapped {
		return aval
	}
	shape := make(tensor.Shape, 0, len(aval.Shape)-1)
	shape = append(shape, aval.Shape[:t.Dim]...)
	shape = append(shape, aval.Shape[t.Dim+1:]...)
	return tensor.AbstractValue{Shape: shape, DType: aval.DType}
}

// FullLower implements Tracer.
func (t *BatchTracer) FullLower() Value {
	if t.Dim == NotMapped {
		return fullLower(t.Val)
	}
	return t
}

type batchInterpreter struct {
	m        *Machine
	main     *MainTrace
	axisSize int
}

func (b *batchInterpreter) pure(v Value) Value {
	return &BatchTracer{main: b.main, Val: v, Dim: NotMapped}
}

func (b *batchInterpreter) lift(t Tracer) Value {
	return &BatchTracer{main: b.main, Val: t, Dim: NotMapped}
}

func (b *batchInterpreter) runOp(op *Operator, args []Value, p Params) []Value {
	vals := make([]Value, len(args))
	dims := make([]int, len(args))
	mapped := false
	for i, a := range args {
		t := a.(*BatchTracer)
		vals[i], dims[i] = t.Val, t.Dim
		mapped = mapped || t.Dim != NotMapped
	}
	var outs []Value
	var outDims []int
	if mapped {
		if op.Rules.Vmap == nil {
			panic(&UnsupportedError{Op: op.Name, Rule: "vmap"})
		}
		outs, outDims = op.Rules.Vmap(b.m, b.axisSize, vals, dims, p)
	} else {
		outs = b.m.bindOp(op, vals, p)
		outDims = make([]int, len(outs))
		for i := range outDims {
			outDims[i] = NotMapped
		}
	}
	res := make([]Value, len(outs))
	for i, o := range outs {
		res[i] = &BatchTracer{main: b.main, Val: o, Dim: outDims[i]}
	}
	return res
}
