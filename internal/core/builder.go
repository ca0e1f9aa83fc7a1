package core

import (
	"log/slog"

	"github.com/born-ml/xform/internal/tensor"
)

// ProgramBuilder accumulates the instructions recorded by a staging trace.
type ProgramBuilder struct {
	instructions []*Instruction
	vars         map[*StagingTracer]*Var
	constTracers map[Value]*StagingTracer
	constVars    []*Var
	constVals    []Value
}

func newProgramBuilder() *ProgramBuilder {
	return &ProgramBuilder{
		vars:         make(map[*StagingTracer]*Var),
		constTracers: make(map[Value]*StagingTracer),
	}
}

func (b *ProgramBuilder) newTracer(main *MainTrace, aval tensor.AbstractValue) *StagingTracer {
	t := &StagingTracer{main: main, aval: aval}
	b.vars[t] = NewVar(aval)
	return t
}

func (b *ProgramBuilder) varOf(t *StagingTracer) *Var {
	v, ok := b.vars[t]
	if !ok {
		panic(&LevelError{From: t.main.Level, To: t.main.Level, Details: "staging tracer from another builder"})
	}
	return v
}

// constTracer returns the tracer standing for the constant val, creating a
// constant input the first time val is seen.
func (b *ProgramBuilder) constTracer(main *MainTrace, val Value) *StagingTracer {
	if t, ok := b.constTracers[val]; ok {
		return t
	}
	t := b.newTracer(main, val.Aval())
	b.constTracers[val] = t
	b.constVars = append(b.constVars, b.vars[t])
	b.constVals = append(b.constVals, val)
	return t
}

// build closes the program over inputs in and outputs out. Constants become
// the leading inputs.
func (b *ProgramBuilder) build(in, out []*StagingTracer, name string, static Params) (*Program, []Value) {
	inVars := make([]*Var, 0, len(b.constVars)+len(in))
	inVars = append(inVars, b.constVars...)
	for _, t := range in {
		inVars = append(inVars, b.varOf(t))
	}
	outs := make([]Atom, len(out))
	for i, t := range out {
		outs[i] = b.varOf(t)
	}
	p := &Program{
		In:           inVars,
		Instructions: b.instructions,
		Outs:         outs,
		NumConsts:    len(b.constVars),
		StaticArgs:   static,
		Name:         name,
	}
	mustTypecheck(p)
	return p, append([]Value(nil), b.constVals...)
}

// InlineLiterals replaces Scalar constant inputs with literals at their use
// sites and drops them from the input list.
func InlineLiterals(p *Program, consts []Value) (*Program, []Value) {
	lits := make(map[*Var]Lit)
	var keptVars []*Var
	var keptVals []Value
	for i, v := range p.In[:p.NumConsts] {
		if s, ok := consts[i].(Scalar); ok {
			lits[v] = Lit{Val: s}
			continue
		}
		keptVars = append(keptVars, v)
		keptVals = append(keptVals, consts[i])
	}
	if len(lits) == 0 {
		return p, consts
	}
	swap := func(a Atom) Atom {
		if v, ok := a.(*Var); ok {
			if lit, ok := lits[v]; ok {
				return lit
			}
		}
		return a
	}
	instructions := make([]*Instruction, len(p.Instructions))
	for i, inst := range p.Instructions {
		inputs := make([]Atom, len(inst.Inputs))
		for j, a := range inst.Inputs {
			inputs[j] = swap(a)
		}
		instructions[i] = &Instruction{Op: inst.Op, Inputs: inputs, Params: inst.Params, Outs: inst.Outs, Body: inst.Body}
	}
	outs := make([]Atom, len(p.Outs))
	for i, a := range p.Outs {
		outs[i] = swap(a)
	}
	in := append(keptVars, p.In[p.NumConsts:]...)
	out := &Program{
		In:           in,
		Instructions: instructions,
		Outs:         outs,
		NumConsts:    len(keptVars),
		StaticArgs:   p.StaticArgs,
		Name:         p.Name,
	}
	mustTypecheck(out)
	return out, keptVals
}

// makeProgram stages f over arguments of the given types.
func (m *Machine) makeProgram(f func([]Value) []Value, avals []tensor.AbstractValue, name string, static Params) (*Program, []Value) {
	builder := newProgramBuilder()
	main := m.push(TraceStaging, builder, func(mt *MainTrace) interpreter {
		return &stagingInterpreter{main: mt, builder: builder}
	})
	defer m.pop(main)
	defer m.withDynamic(main)()

	in := make([]*StagingTracer, len(avals))
	args := make([]Value, len(avals))
	for i, aval := range avals {
		in[i] = builder.newTracer(main, aval)
		args[i] = in[i]
	}
	outs := f(args)
	out := make([]*StagingTracer, len(outs))
	for i, o := range outs {
		out[i] = m.fullRaise(main, o).(*StagingTracer)
	}
	p, consts := builder.build(in, out, name, static)
	if m.inlineLiterals {
		p, consts = InlineLiterals(p, consts)
	}
	m.logger.Debug("program built",
		slog.String("name", name),
		slog.Int("inputs", len(p.In)-p.NumConsts),
		slog.Int("consts", p.NumConsts),
		slog.Int("instructions", len(p.Instructions)))
	return p, consts
}
