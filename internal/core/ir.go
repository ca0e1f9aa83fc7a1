package core

import (
	"strings"

	"github.com/born-ml/xform/internal/tensor"
)

// Atom is an instruction operand: a *Var or a Lit.
type Atom interface {
	Aval() tensor.AbstractValue
	isAtom()
}

// Var is a typed graph node. Vars compare by identity.
type Var struct {
	aval tensor.AbstractValue
}

// NewVar returns a fresh variable of the given type.
func NewVar(aval tensor.AbstractValue) *Var {
	return &Var{aval: aval}
}

// Aval returns the variable's type.
func (v *Var) Aval() tensor.AbstractValue { return v.aval }

func (*Var) isAtom() {}

// Lit is a scalar constant inlined at its use site.
type Lit struct {
	Val Scalar
}

// Aval returns the literal's type.
func (l Lit) Aval() tensor.AbstractValue { return l.Val.Aval() }

func (Lit) isAtom() {}

// Instruction applies an operator to atoms, binding fresh output variables.
// An instruction whose Body is non-nil is a call of a sub-program; otherwise
// it is a primitive application.
type Instruction struct {
	Op     *Operator
	Inputs []Atom
	Params Params
	Outs   []*Var
	Body   *Program
}

func newInstruction(op *Operator, inputs []Atom, params Params, outs []*Var) *Instruction {
	return &Instruction{Op: op, Inputs: inputs, Params: params, Outs: outs, Body: params.Program()}
}

// IsCall reports whether the instruction calls a sub-program.
func (inst *Instruction) IsCall() bool {
	return inst.Body != nil
}

// Program is an immutable SSA dataflow graph. Its inputs are the NumConsts
// constant inputs followed by the true parameters.
type Program struct {
	In           []*Var
	Instructions []*Instruction
	Outs         []Atom
	NumConsts    int
	StaticArgs   Params
	Name         string
}

// InAvals returns the input types.
func (p *Program) InAvals() []tensor.AbstractValue {
	out := make([]tensor.AbstractValue, len(p.In))
	for i, v := range p.In {
		out[i] = v.aval
	}
	return out
}

// OutAvals returns the output types.
func (p *Program) OutAvals() []tensor.AbstractValue {
	out := make([]tensor.AbstractValue, len(p.Outs))
	for i, a := range p.Outs {
		out[i] = a.Aval()
	}
	return out
}

// ProgramType is the signature of a program.
type ProgramType struct {
	In  []tensor.AbstractValue
	Out []tensor.AbstractValue
}

// Equal compares two signatures element-wise.
func (t ProgramType) Equal(o ProgramType) bool {
	return avalsEqual(t.In, o.In) && avalsEqual(t.Out, o.Out)
}

func (t ProgramType) String() string {
	return "(" + joinAvals(t.In) + ") -> (" + joinAvals(t.Out) + ")"
}

func joinAvals(avals []tensor.AbstractValue) string {
	parts := make([]string, len(avals))
	for i, a := range avals {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

func avalsEqual(a, b []tensor.AbstractValue) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
