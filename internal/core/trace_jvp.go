package core

import "github.com/born-ml/xform/internal/tensor"

// JVPTracer pairs a primal value with its tangent.
type JVPTracer struct {
	main    *MainTrace
	Primal  Value
	Tangent Value
}

// Main implements Tracer.
func (t *JVPTracer) Main() *MainTrace { return t.main }

// Aval implements Value.
func (t *JVPTracer) Aval() tensor.AbstractValue { return t.Primal.Aval() }

// FullLower implements Tracer. A zero tangent is still information.
func (t *JVPTracer) FullLower() Value { return t }

type jvpInterpreter struct {
	m    *Machine
	main *MainTrace
}

func (j *jvpInterpreter) pure(v Value) Value {
	return &JVPTracer{main: j.main, Primal: v, Tangent: j.m.Zeros(v.Aval())}
}

func (j *jvpInterpreter) lift(t Tracer) Value {
	return j.pure(t)
}

func (j *jvpInterpreter) runOp(op *Operator, args []Value, p Params) []Value {
	if op.Rules.Jvp == nil {
		panic(&UnsupportedError{Op: op.Name, Rule: "jvp"})
	}
	primals := make([]Value, len(args))
	tangents := make([]Value, len(args))
	for i, a := range args {
		t := a.(*JVPTracer)
		primals[i], tangents[i] = t.Primal, t.Tangent
	}
	primalsOut, tangentsOut := op.Rules.Jvp(j.m, primals, tangents, p)
	res := make([]Value, len(primalsOut))
	for i := range primalsOut {
		res[i] = &JVPTracer{main: j.main, Primal: primalsOut[i], Tangent: tangentsOut[i]}
	}
	return res
}
