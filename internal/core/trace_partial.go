package core

import (
	"github.com/born-ml/xform/internal/tensor"
)

// PartialValue is an abstract value that may also be known concretely.
type PartialValue struct {
	Aval  tensor.AbstractValue
	Const Value
}

// KnownValue wraps a concrete value.
func KnownValue(v Value) PartialValue {
	return PartialValue{Aval: v.Aval(), Const: v}
}

// UnknownValue is a value of type aval not available at trace time.
func UnknownValue(aval tensor.AbstractValue) PartialValue {
	return PartialValue{Aval: aval}
}

// IsKnown reports whether the concrete value is available.
func (pv PartialValue) IsKnown() bool { return pv.Const != nil }

type draftKind int

const (
	draftNone draftKind = iota
	draftLambda
	draftConst
	draftInstruction
)

// draft records how an unknown partial-eval tracer was produced. Instruction
// drafts live in the trace's arena and are referenced by index.
type draft struct {
	kind  draftKind
	val   Value
	index int
}

type instructionDraft struct {
	op       *Operator
	inputs   []*PartialTracer
	params   Params
	outAvals []tensor.AbstractValue
	outs     []*PartialTracer
}

// PartialTracer is a value of the partial evaluator.
type PartialTracer struct {
	main  *MainTrace
	PVal  PartialValue
	draft draft
}

// Main implements Tracer.
func (t *PartialTracer) Main() *MainTrace { return t.main }

// Aval implements Value.
func (t *PartialTracer) Aval() tensor.AbstractValue { return t.PVal.Aval }

// FullLower implements Tracer; known tracers reduce to their value.
func (t *PartialTracer) FullLower() Value {
	if t.PVal.IsKnown() {
		return fullLower(t.PVal.Const)
	}
	return t
}

// PartialTrace is the handle given to operator PartialRun rules.
type PartialTrace struct {
	m      *Machine
	main   *MainTrace
	drafts []*instructionDraft
}

// Machine returns the owning machine.
func (pt *PartialTrace) Machine() *Machine { return pt.m }

func (pt *PartialTrace) newArg(pv PartialValue) *PartialTracer {
	return &PartialTracer{main: pt.main, PVal: pv, draft: draft{kind: draftLambda}}
}

func (pt *PartialTrace) pure(v Value) Value {
	return &PartialTracer{main: pt.main, PVal: KnownValue(v)}
}

func (pt *PartialTrace) lift(t Tracer) Value {
	return pt.pure(t)
}

// InstantiateConst turns a known tracer into an unknown one backed by a
// constant draft; unknown tracers are returned as is.
func (pt *PartialTrace) InstantiateConst(t *PartialTracer) *PartialTracer {
	if !t.PVal.IsKnown() {
		return t
	}
	return &PartialTracer{
		main:  pt.main,
		PVal:  UnknownValue(t.PVal.Aval),
		draft: draft{kind: draftConst, val: t.PVal.Const},
	}
}

// Raise lifts any value into this trace.
func (pt *PartialTrace) Raise(v Value) *PartialTracer {
	return pt.m.fullRaise(pt.main, v).(*PartialTracer)
}

// NewInstruction records an application of op over inputs whose outputs
// are unknown, returning the output tracers.
func (pt *PartialTrace) NewInstruction(op *Operator, inputs []*PartialTracer, p Params, outAvals []tensor.AbstractValue) []*PartialTracer {
	d := &instructionDraft{op: op, inputs: inputs, params: p, outAvals: outAvals}
	index := len(pt.drafts)
	pt.drafts = append(pt.drafts, d)
	d.outs = make([]*PartialTracer, len(outAvals))
	for i, aval := range outAvals {
		d.outs[i] = &PartialTracer{main: pt.main, PVal: UnknownValue(aval), draft: draft{kind: draftInstruction, index: index}}
	}
	return d.outs
}

func (pt *PartialTrace) runOp(op *Operator, args []Value, p Params) []Value {
	tracers := make([]*PartialTracer, len(args))
	known := true
	for i, a := range args {
		tracers[i] = a.(*PartialTracer)
		known = known && tracers[i].PVal.IsKnown()
	}
	if known {
		vals := make([]Value, len(tracers))
		for i, t := range tracers {
			vals[i] = t.FullLower()
		}
		return pt.m.bindOp(op, vals, p)
	}
	if op.Rules.PartialRun != nil {
		return op.Rules.PartialRun(pt, tracers, p)
	}
	inputs := make([]*PartialTracer, len(tracers))
	avals := make([]tensor.AbstractValue, len(tracers))
	for i, t := range tracers {
		inputs[i] = pt.InstantiateConst(t)
		avals[i] = t.PVal.Aval
	}
	outs := pt.NewInstruction(op, inputs, p, typecheckOp(op, avals, p))
	res := make([]Value, len(outs))
	for i, o := range outs {
		res[i] = o
	}
	return res
}

func (pt *PartialTrace) parents(t *PartialTracer) []*PartialTracer {
	if t.draft.kind != draftInstruction {
		return nil
	}
	return pt.drafts[t.draft.index].inputs
}

// tracersToProgram materializes the unknown computation reachable from out
// as a program whose inputs are the constants it needs followed by in.
func (pt *PartialTrace) tracersToProgram(in, out []*PartialTracer, name string) (*Program, []Value) {
	vars := make(map[*PartialTracer]*Var, len(in))
	for _, t := range in {
		vars[t] = NewVar(t.PVal.Aval)
	}
	constVars := make(map[Value]*Var)
	var constIn []*Var
	var constVals []Value
	emitted := make(map[int]bool)
	var instructions []*Instruction

	order, err := toposort(out, pt.parents)
	if err != nil {
		panic(err)
	}
	for _, t := range order {
		switch t.draft.kind {
		case draftLambda:
			if _, ok := vars[t]; !ok {
				panic(typeErrorf(name, "free parameter of type %s reached the output", t.PVal.Aval))
			}
		case draftConst:
			v, ok := constVars[t.draft.val]
			if !ok {
				v = NewVar(t.PVal.Aval)
				constVars[t.draft.val] = v
				constIn = append(constIn, v)
				constVals = append(constVals, t.draft.val)
			}
			vars[t] = v
		case draftInstruction:
			if emitted[t.draft.index] {
				continue
			}
			emitted[t.draft.index] = true
			d := pt.drafts[t.draft.index]
			inputs := make([]Atom, len(d.inputs))
			for i, x := range d.inputs {
				inputs[i] = vars[x]
			}
			outs := make([]*Var, len(d.outAvals))
			for i, aval := range d.outAvals {
				outs[i] = NewVar(aval)
				vars[d.outs[i]] = outs[i]
			}
			instructions = append(instructions, newInstruction(d.op, inputs, d.params, outs))
		default:
			panic(typeErrorf(name, "known value of type %s reached the output", t.PVal.Aval))
		}
	}
	inVars := append([]*Var(nil), constIn...)
	for _, t := range in {
		inVars = append(inVars, vars[t])
	}
	outs := make([]Atom, len(out))
	for i, t := range out {
		outs[i] = vars[t]
	}
	p := &Program{In: inVars, Instructions: instructions, Outs: outs, NumConsts: len(constIn), Name: name}
	mustTypecheck(p)
	return p, constVals
}

// partialRunFlat traces f with partially known inputs. Outputs flagged by
// instantiate, which receives the output count, are forced unknown. It
// returns the program computing the unknown outputs from the constants and
// the unknown inputs, the partial values of all outputs, and the constants.
func (m *Machine) partialRunFlat(f func([]Value) []Value, in []PartialValue, instantiate func(int) []bool, name string) (*Program, []PartialValue, []Value) {
	pt := &PartialTrace{m: m}
	main := m.push(TracePartial, pt, func(mt *MainTrace) interpreter {
		pt.main = mt
		return pt
	})
	defer m.pop(main)

	tracersIn := make([]*PartialTracer, len(in))
	args := make([]Value, len(in))
	for i, pv := range in {
		tracersIn[i] = pt.newArg(pv)
		args[i] = tracersIn[i]
	}
	outs := f(args)
	tracersOut := make([]*PartialTracer, len(outs))
	pvals := make([]PartialValue, len(outs))
	var unknownIn, unknownOut []*PartialTracer
	var force []bool
	if instantiate != nil {
		force = instantiate(len(outs))
	}
	for i, o := range outs {
		t := pt.Raise(o)
		if i < len(force) && force[i] {
			t = pt.InstantiateConst(t)
		}
		tracersOut[i] = t
		pvals[i] = t.PVal
		if !t.PVal.IsKnown() {
			unknownOut = append(unknownOut, t)
		}
	}
	for _, t := range tracersIn {
		if !t.PVal.IsKnown() {
			unknownIn = append(unknownIn, t)
		}
	}
	p, consts := pt.tracersToProgram(unknownIn, unknownOut, name)
	m.logger.Debug("partial trace", "name", name, "drafts", len(pt.drafts), "instructions", len(p.Instructions))
	return p, pvals, consts
}
