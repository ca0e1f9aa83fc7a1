package core

import (
	"fmt"

	"github.com/born-ml/xform/internal/tensor"
)

// PartialResult is the split of a program by partial evaluation. Known runs
// on the known inputs and returns the known outputs followed by NumResiduals
// residuals; Unknown runs on the residuals followed by the unknown inputs and
// returns the unknown outputs.
type PartialResult struct {
	Known        *Program
	Unknown      *Program
	OutUnknowns  []bool
	NumResiduals int
}

// PartialRunProgram splits p given which inputs are unknown. Outputs flagged
// in instantiate (which may be nil) are forced into the unknown half.
func (m *Machine) PartialRunProgram(p *Program, inUnknowns, instantiate []bool) (res *PartialResult, err error) {
	defer catch(&err)
	return m.partialRunProgram(p, inUnknowns, instantiate), nil
}

func (m *Machine) partialRunProgram(p *Program, inUnknowns, instantiate []bool) *PartialResult {
	if len(inUnknowns) != len(p.In) {
		panic(typeErrorf(p.Name, "%d unknown flags for %d inputs", len(inUnknowns), len(p.In)))
	}
	unknown := make(map[*Var]bool, len(p.In))
	read := func(a Atom) bool {
		v, ok := a.(*Var)
		return ok && unknown[v]
	}
	var residuals []*Var
	isResidual := make(map[*Var]bool)
	addResidual := func(v *Var) {
		if !isResidual[v] {
			isResidual[v] = true
			residuals = append(residuals, v)
		}
	}

	for i, v := range p.In {
		unknown[v] = inUnknowns[i]
	}
	var known1, unknown2 []*Instruction
	for _, inst := range p.Instructions {
		unks := make([]bool, len(inst.Inputs))
		for i, a := range inst.Inputs {
			unks[i] = read(a)
		}
		split := inst.Op.Rules.PartialRunInstruction(m, unks, inst)
		if split.Known != nil {
			known1 = append(known1, split.Known)
		}
		if split.Unknown != nil {
			unknown2 = append(unknown2, split.Unknown)
		}
		for _, r := range split.Residuals {
			addResidual(r)
		}
		for i, v := range inst.Outs {
			unknown[v] = split.OutUnknowns[i]
		}
	}

	outUnknowns := make([]bool, len(p.Outs))
	for i, a := range p.Outs {
		outUnknowns[i] = read(a)
		if i < len(instantiate) && instantiate[i] && !outUnknowns[i] {
			if v, ok := a.(*Var); ok {
				addResidual(v)
			}
			outUnknowns[i] = true
		}
	}

	ins1, ins2 := partition(inUnknowns, p.In)
	outs1, outs2 := partition(outUnknowns, p.Outs)
	for _, r := range residuals {
		outs1 = append(outs1, r)
	}
	program1 := &Program{
		In:           ins1,
		Instructions: known1,
		Outs:         outs1,
		StaticArgs:   p.StaticArgs,
		Name:         p.Name + "_partial1",
	}
	program2 := &Program{
		In:           append(append([]*Var(nil), residuals...), ins2...),
		Instructions: unknown2,
		Outs:         outs2,
		StaticArgs:   p.StaticArgs,
		Name:         p.Name + "_partial2",
	}
	if err := checkPartialSplit(p, inUnknowns, outUnknowns, program1, program2); err != nil {
		panic(err)
	}
	m.logger.Debug("partial split",
		"name", p.Name, "known", len(known1), "unknown", len(unknown2), "residuals", len(residuals))
	return &PartialResult{Known: program1, Unknown: program2, OutUnknowns: outUnknowns, NumResiduals: len(residuals)}
}

// partition splits xs into the entries whose flag is false and true.
func partition[T any](flags []bool, xs []T) (falses, trues []T) {
	for i, x := range xs {
		if flags[i] {
			trues = append(trues, x)
		} else {
			falses = append(falses, x)
		}
	}
	return falses, trues
}

// merge interleaves falses and trues back into flag order.
func merge[T any](flags []bool, falses, trues []T) []T {
	out := make([]T, len(flags))
	for i, f := range flags {
		if f {
			out[i], trues = trues[0], trues[1:]
		} else {
			out[i], falses = falses[0], falses[1:]
		}
	}
	return out
}

func defaultPartialRunInstruction(_ *Machine, unknowns []bool, inst *Instruction) PartialSplit {
	anyUnknown := false
	for _, u := range unknowns {
		anyUnknown = anyUnknown || u
	}
	outUnknowns := make([]bool, len(inst.Outs))
	if !anyUnknown {
		return PartialSplit{Known: inst, OutUnknowns: outUnknowns}
	}
	for i := range outUnknowns {
		outUnknowns[i] = true
	}
	var residuals []*Var
	for i, a := range inst.Inputs {
		if v, ok := a.(*Var); ok && !unknowns[i] {
			residuals = append(residuals, v)
		}
	}
	return PartialSplit{Unknown: inst, OutUnknowns: outUnknowns, Residuals: residuals}
}

// checkPartialSplit verifies that the two halves agree with the original
// signature: program1 is a1 -> (b1, res) and program2 is (res, a2) -> b2.
func checkPartialSplit(p *Program, inUnknowns, outUnknowns []bool, program1, program2 *Program) error {
	ty, err := TypecheckProgram(p)
	if err != nil {
		return err
	}
	ty1, err := TypecheckProgram(program1)
	if err != nil {
		return err
	}
	ty2, err := TypecheckProgram(program2)
	if err != nil {
		return err
	}
	a1, a2 := partition(inUnknowns, ty.In)
	b1, b2 := partition(outUnknowns, ty.Out)
	if len(ty1.Out) < len(b1) {
		return typeErrorf(p.Name, "known half has %d outputs, want at least %d", len(ty1.Out), len(b1))
	}
	b1x, res := ty1.Out[:len(b1)], ty1.Out[len(b1):]
	if len(ty2.In) < len(res) {
		return typeErrorf(p.Name, "unknown half has %d inputs, want at least %d residuals", len(ty2.In), len(res))
	}
	res2, a2x := ty2.In[:len(res)], ty2.In[len(res):]
	checks := []struct {
		what       string
		want, have []tensor.AbstractValue
	}{
		{"known inputs", a1, ty1.In},
		{"known outputs", b1, b1x},
		{"residuals", res, res2},
		{"unknown inputs", a2, a2x},
		{"unknown outputs", b2, ty2.Out},
	}
	for _, c := range checks {
		if !avalsEqual(c.want, c.have) {
			return &TypeError{Op: p.Name, Details: fmt.Sprintf("partial split %s: want (%s), have (%s)",
				c.what, joinAvals(c.want), joinAvals(c.have))}
		}
	}
	return nil
}
