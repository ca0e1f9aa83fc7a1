package core

import (
	"fmt"

	"github.com/born-ml/xform/internal/tensor"
)

// TypecheckProgram verifies single assignment, scoping and every
// instruction's declared output types, recursing into sub-programs. It
// returns the program's signature.
func TypecheckProgram(p *Program) (ProgramType, error) {
	if p.NumConsts < 0 || p.NumConsts > len(p.In) {
		return ProgramType{}, typeErrorf(p.Name, "constant count %d exceeds %d inputs", p.NumConsts, len(p.In))
	}
	inScope := make(map[*Var]bool)
	bind := func(v *Var) error {
		if inScope[v] {
			return &TypeError{Op: p.Name, Var: v, Details: fmt.Sprintf("variable of type %s bound twice", v.aval)}
		}
		inScope[v] = true
		return nil
	}
	read := func(inst *Instruction, a Atom) (tensor.AbstractValue, error) {
		if v, ok := a.(*Var); ok && !inScope[v] {
			return tensor.AbstractValue{}, &TypeError{Op: p.Name, Instruction: inst, Var: v,
				Details: fmt.Sprintf("use of unbound variable of type %s", v.aval)}
		}
		return a.Aval(), nil
	}

	for _, v := range p.In {
		if err := bind(v); err != nil {
			return ProgramType{}, err
		}
	}
	for _, inst := range p.Instructions {
		in := make([]tensor.AbstractValue, len(inst.Inputs))
		for i, a := range inst.Inputs {
			aval, err := read(inst, a)
			if err != nil {
				return ProgramType{}, err
			}
			in[i] = aval
		}
		if inst.Body != nil {
			if _, err := TypecheckProgram(inst.Body); err != nil {
				return ProgramType{}, err
			}
		}
		out, err := inst.Op.Rules.Typecheck(in, inst.Params)
		if err != nil {
			return ProgramType{}, &TypeError{Op: inst.Op.Name, Instruction: inst, Err: err}
		}
		if len(out) != len(inst.Outs) {
			return ProgramType{}, &TypeError{Op: inst.Op.Name, Instruction: inst,
				Details: fmt.Sprintf("%d outputs declared, %d computed", len(inst.Outs), len(out))}
		}
		for i, v := range inst.Outs {
			if !out[i].Equal(v.aval) {
				e := avalMismatch(inst.Op.Name, out[i], v.aval)
				e.Instruction, e.Var = inst, v
				return ProgramType{}, e
			}
			if err := bind(v); err != nil {
				return ProgramType{}, err
			}
		}
	}
	outs := make([]tensor.AbstractValue, len(p.Outs))
	for i, a := range p.Outs {
		aval, err := read(nil, a)
		if err != nil {
			return ProgramType{}, err
		}
		outs[i] = aval
	}
	return ProgramType{In: p.InAvals(), Out: outs}, nil
}

func mustTypecheck(p *Program) ProgramType {
	ty, err := TypecheckProgram(p)
	if err != nil {
		panic(err)
	}
	return ty
}

// typecheckOp runs an operator's typecheck rule, panicking with a TypeError.
func typecheckOp(op *Operator, in []tensor.AbstractValue, p Params) []tensor.AbstractValue {
	out, err := op.Rules.Typecheck(in, p)
	if err != nil {
		panic(&TypeError{Op: op.Name, Err: err})
	}
	return out
}
