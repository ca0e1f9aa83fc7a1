package core

import "fmt"

// evalInterpreter is the root of every trace stack: it runs kernels.
type evalInterpreter struct {
	m *Machine
}

func (e evalInterpreter) pure(v Value) Value { return v }

func (e evalInterpreter) lift(t Tracer) Value { return t }

func (e evalInterpreter) runOp(op *Operator, args []Value, p Params) []Value {
	typecheckOp(op, avalsOf(args), p)
	if op.Rules.Impl != nil {
		return op.Rules.Impl(e.m, args, p)
	}
	outs, err := e.m.backend.Eval(op.Name, args, p)
	if err != nil {
		panic(fmt.Errorf("%s: eval %s: %w", e.m.backend.Name(), op.Name, err))
	}
	return outs
}
