package core

import (
	"fmt"

	"github.com/born-ml/xform/internal/tensor"
)

type derivedKey struct {
	kind    string
	program *Program
	detail  string
}

// newMetaOperator builds an operator whose body is the program carried in
// its params. Every rule recurses structurally into that program.
func newMetaOperator(name string, impl func(*Machine, []Value, Params) []Value) *Operator {
	op := &Operator{Name: canonicalName(name), Kind: Meta}
	op.Rules = Rules{
		Typecheck: metaTypecheck,
		Impl:      impl,
		Vmap: func(m *Machine, axisSize int, args []Value, dims []int, p Params) ([]Value, []int) {
			cp := m.vmapProgram(p.Program(), axisSize, dims)
			outs := m.bindOp(op, append(append([]Value(nil), cp.consts...), args...), p.With(ProgramKey, cp.program))
			return outs, make([]int, len(outs))
		},
		Jvp: func(m *Machine, primals, tangents []Value, p Params) ([]Value, []Value) {
			cp := m.jvpProgram(p.Program())
			in := append(append(append([]Value(nil), cp.consts...), primals...), tangents...)
			outs := m.bindOp(op, in, p.With(ProgramKey, cp.program))
			half := len(outs) / 2
			return outs[:half], outs[half:]
		},
		Transpose: func(m *Machine, cts []Value, args []Value, p Params) []Value {
			undef := make([]bool, len(args))
			var defined []Value
			for i, a := range args {
				undef[i] = IsUndef(a)
				if !undef[i] {
					defined = append(defined, a)
				}
			}
			cp := m.transposeProgram(p.Program(), undef)
			in := append(append(append([]Value(nil), cp.consts...), defined...), cts...)
			outs := m.bindOp(op, in, p.With(ProgramKey, cp.program))
			res := make([]Value, len(args))
			for i := range args {
				if undef[i] {
					res[i], outs = outs[0], outs[1:]
				}
			}
			return res
		},
		PartialRun: func(pt *PartialTrace, args []*PartialTracer, p Params) []Value {
			return metaPartialRun(pt, op, args, p)
		},
		PartialRunInstruction: func(m *Machine, unknowns []bool, inst *Instruction) PartialSplit {
			return metaPartialRunInstruction(m, op, unknowns, inst)
		},
	}
	return op
}

func metaTypecheck(in []tensor.AbstractValue, p Params) ([]tensor.AbstractValue, error) {
	body := p.Program()
	if body == nil {
		return nil, fmt.Errorf("missing %q parameter", ProgramKey)
	}
	if len(in) != len(body.In) {
		return nil, fmt.Errorf("program %s takes %d inputs, got %d", body.Name, len(body.In), len(in))
	}
	for i, v := range body.In {
		if !in[i].Equal(v.aval) {
			return nil, fmt.Errorf("program %s input %d: expected %s, got %s", body.Name, i, v.aval, in[i])
		}
	}
	return body.OutAvals(), nil
}

// evalJit compiles the body with the backend once per program and runs it.
func evalJit(m *Machine, args []Value, p Params) []Value {
	body := p.Program()
	exe, ok := m.executables[body]
	if !ok {
		lowered, err := m.backend.Codegen(body, args)
		if err != nil {
			panic(fmt.Errorf("%s: codegen %s: %w", m.backend.Name(), body.Name, err))
		}
		exe, err = m.backend.Compile(lowered)
		if err != nil {
			panic(fmt.Errorf("%s: compile %s: %w", m.backend.Name(), body.Name, err))
		}
		m.executables[body] = exe
		m.logger.Debug("jit compile", "program", body.Name, "backend", m.backend.Name())
	}
	outs, err := exe.Run(args)
	if err != nil {
		panic(fmt.Errorf("%s: run %s: %w", m.backend.Name(), body.Name, err))
	}
	return outs
}

// evalCall interprets the body primitive by primitive.
func evalCall(m *Machine, args []Value, p Params) []Value {
	return m.runProgram(p.Program(), args)
}

func (m *Machine) derive(key derivedKey, build func() (*Program, []Value)) *closedProgram {
	if cp, ok := m.derived[key]; ok {
		return cp
	}
	p, consts := build()
	cp := &closedProgram{program: p, consts: consts}
	if !anyTracer(consts) {
		m.derived[key] = cp
	}
	return cp
}

// vmapProgram stages the batched version of p. Outputs are batched at 0.
func (m *Machine) vmapProgram(p *Program, axisSize int, dims []int) *closedProgram {
	key := derivedKey{kind: "vmap", program: p, detail: fmt.Sprint(axisSize, dims)}
	return m.derive(key, func() (*Program, []Value) {
		avals := make([]tensor.AbstractValue, len(p.In))
		for i, v := range p.In {
			avals[i] = v.aval
			if d := dims[i]; d != NotMapped {
				shape := make(tensor.Shape, 0, len(v.aval.Shape)+1)
				shape = append(shape, v.aval.Shape[:d]...)
				shape = append(shape, axisSize)
				shape = append(shape, v.aval.Shape[d:]...)
				avals[i] = tensor.AbstractValue{Shape: shape, DType: v.aval.DType}
			}
		}
		body := func(xs []Value) []Value {
			return m.runProgram(p, xs)
		}
		return m.makeProgram(func(xs []Value) []Value {
			return m.vmapFlat(body, dims, xs)
		}, avals, p.Name+"_vmap", p.StaticArgs)
	})
}

// jvpProgram stages (primals, tangents) -> (primals out, tangents out) for p.
func (m *Machine) jvpProgram(p *Program) *closedProgram {
	return m.derive(derivedKey{kind: "jvp", program: p}, func() (*Program, []Value) {
		in := p.InAvals()
		n := len(in)
		body := func(xs []Value) []Value {
			return m.runProgram(p, xs)
		}
		return m.makeProgram(func(xs []Value) []Value {
			po, to := m.jvpFlat(body, xs[:n], xs[n:])
			return append(po, to...)
		}, append(in, in...), p.Name+"_jvp", p.StaticArgs)
	})
}

// transposeProgram stages the transpose of p with respect to the inputs
// flagged in undef. The result takes the defined inputs followed by one
// cotangent per output and returns the cotangents of the undefined inputs.
func (m *Machine) transposeProgram(p *Program, undef []bool) *closedProgram {
	return m.derive(derivedKey{kind: "transpose", program: p, detail: fmt.Sprint(undef)}, func() (*Program, []Value) {
		in := p.InAvals()
		defined, _ := partition(undef, in)
		avals := append(append([]tensor.AbstractValue(nil), defined...), p.OutAvals()...)
		tp, consts := m.makeProgram(func(xs []Value) []Value {
			args := make([]Value, len(in))
			for i, aval := range in {
				if undef[i] {
					args[i] = Undef(aval)
				} else {
					args[i], xs = xs[0], xs[1:]
				}
			}
			return m.runProgramTransposed(p, args, xs)
		}, avals, p.Name+"_T", p.StaticArgs)
		return tp, consts
	})
}

// TransposeProgram is the error-returning form of program transposition.
func (m *Machine) TransposeProgram(p *Program, undef []bool) (tp *Program, consts []Value, err error) {
	defer catch(&err)
	if len(undef) != len(p.In) {
		panic(typeErrorf(p.Name, "%d undefined flags for %d inputs", len(undef), len(p.In)))
	}
	cp := m.transposeProgram(p, undef)
	return cp.program, cp.consts, nil
}

// JvpProgram is the error-returning form of program differentiation.
func (m *Machine) JvpProgram(p *Program) (jp *Program, consts []Value, err error) {
	defer catch(&err)
	cp := m.jvpProgram(p)
	return cp.program, cp.consts, nil
}

// VmapProgram is the error-returning form of program batching.
func (m *Machine) VmapProgram(p *Program, axisSize int, dims []int) (vp *Program, consts []Value, err error) {
	defer catch(&err)
	if len(dims) != len(p.In) {
		panic(typeErrorf(p.Name, "%d batch axes for %d inputs", len(dims), len(p.In)))
	}
	cp := m.vmapProgram(p, axisSize, dims)
	return cp.program, cp.consts, nil
}

// metaPartialRun splits the body, evaluates the known half now and records
// the unknown half as a single draft instruction.
func metaPartialRun(pt *PartialTrace, op *Operator, args []*PartialTracer, p Params) []Value {
	m := pt.m
	unks := make([]bool, len(args))
	for i, t := range args {
		unks[i] = !t.PVal.IsKnown()
	}
	res := m.partialRunProgram(p.Program(), unks, nil)
	known, unknown := partition(unks, args)
	knownVals := make([]Value, len(known))
	for i, t := range known {
		knownVals[i] = t.FullLower()
	}
	outs1res := m.bindOp(op, knownVals, p.With(ProgramKey, res.Known))
	nOut1 := len(outs1res) - res.NumResiduals
	outs1, residuals := outs1res[:nOut1], outs1res[nOut1:]

	inputs := make([]*PartialTracer, 0, len(residuals)+len(unknown))
	for _, r := range residuals {
		inputs = append(inputs, pt.InstantiateConst(pt.Raise(r)))
	}
	inputs = append(inputs, unknown...)
	outs2 := pt.NewInstruction(op, inputs, p.With(ProgramKey, res.Unknown), res.Unknown.OutAvals())
	vals2 := make([]Value, len(outs2))
	for i, t := range outs2 {
		vals2[i] = t
	}
	return merge(res.OutUnknowns, outs1, vals2)
}

func metaPartialRunInstruction(m *Machine, op *Operator, unknowns []bool, inst *Instruction) PartialSplit {
	anyUnknown, allUnknown := false, true
	for _, u := range unknowns {
		anyUnknown = anyUnknown || u
		allUnknown = allUnknown && u
	}
	if !anyUnknown || allUnknown {
		return defaultPartialRunInstruction(m, unknowns, inst)
	}
	res := m.partialRunProgram(inst.Body, unknowns, nil)
	ins1, ins2 := partition(unknowns, inst.Inputs)
	outs1, outs2 := partition(res.OutUnknowns, inst.Outs)
	residuals := make([]*Var, res.NumResiduals)
	resAtoms := make([]Atom, res.NumResiduals)
	for i, v := range res.Unknown.In[:res.NumResiduals] {
		residuals[i] = NewVar(v.aval)
		resAtoms[i] = residuals[i]
	}
	known := newInstruction(op, ins1, inst.Params.With(ProgramKey, res.Known), append(outs1, residuals...))
	unknown := newInstruction(op, append(resAtoms, ins2...), inst.Params.With(ProgramKey, res.Unknown), outs2)
	return PartialSplit{Known: known, Unknown: unknown, OutUnknowns: res.OutUnknowns, Residuals: residuals}
}
