package core

import "github.com/born-ml/xform/internal/tensor"

// StagingTracer is a symbolic value being recorded into a program.
type StagingTracer struct {
	main *MainTrace
	aval tensor.AbstractValue
}

// Main implements Tracer.
func (t *StagingTracer) Main() *MainTrace { return t.main }

// Aval implements Value.
func (t *StagingTracer) Aval() tensor.AbstractValue { return t.aval }

// FullLower implements Tracer.
func (t *StagingTracer) FullLower() Value { return t }

type stagingInterpreter struct {
	main    *MainTrace
	builder *ProgramBuilder
}

func (s *stagingInterpreter) pure(v Value) Value {
	return s.builder.constTracer(s.main, v)
}

func (s *stagingInterpreter) lift(t Tracer) Value {
	return s.builder.constTracer(s.main, t)
}

func (s *stagingInterpreter) runOp(op *Operator, args []Value, p Params) []Value {
	in := make([]Atom, len(args))
	avals := make([]tensor.AbstractValue, len(args))
	for i, a := range args {
		t := a.(*StagingTracer)
		in[i] = s.builder.varOf(t)
		avals[i] = t.aval
	}
	outAvals := typecheckOp(op, avals, p)
	outs := make([]Value, len(outAvals))
	vars := make([]*Var, len(outAvals))
	for i, aval := range outAvals {
		t := s.builder.newTracer(s.main, aval)
		outs[i], vars[i] = t, s.builder.varOf(t)
	}
	s.builder.instructions = append(s.builder.instructions, newInstruction(op, in, p, vars))
	return outs
}
