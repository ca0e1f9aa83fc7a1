package core

// RunProgramTransposed runs a program that is linear in its undefined inputs
// backwards. args holds the primal inputs, with *UndefPrimal in place of the
// inputs to differentiate; cts holds one cotangent per output. It returns
// the cotangents of the undefined inputs, in order.
func (m *Machine) RunProgramTransposed(p *Program, args, cts []Value) (out []Value, err error) {
	defer catch(&err)
	return m.runProgramTransposed(p, args, cts), nil
}

func (m *Machine) runProgramTransposed(p *Program, args, cts []Value) []Value {
	if len(args) != len(p.In) {
		panic(typeErrorf(p.Name, "transpose: %d arguments for %d inputs", len(args), len(p.In)))
	}
	if len(cts) != len(p.Outs) {
		panic(typeErrorf(p.Name, "transpose: %d cotangents for %d outputs", len(cts), len(p.Outs)))
	}
	primals := make(map[*Var]Value)
	cotangents := make(map[*Var]Value)

	readPrimal := func(a Atom) Value {
		switch x := a.(type) {
		case Lit:
			return x.Val
		case *Var:
			if v, ok := primals[x]; ok {
				return v
			}
			return Undef(x.aval)
		}
		return nil
	}
	readCotangent := func(v *Var) Value {
		if ct, ok := cotangents[v]; ok {
			delete(cotangents, v)
			return ct
		}
		return m.Zeros(v.aval)
	}
	writeCotangent := func(a Atom, ct Value) {
		v, ok := a.(*Var)
		if !ok || ct == nil {
			return
		}
		if !ct.Aval().Equal(v.aval) {
			panic(avalMismatch("transpose", v.aval, ct.Aval()))
		}
		if prev, ok := cotangents[v]; ok {
			cotangents[v] = m.add(prev, ct)
		} else {
			cotangents[v] = ct
		}
	}

	for i, v := range p.In {
		if !IsUndef(args[i]) {
			primals[v] = args[i]
		}
	}

	// Forward pass over the non-linear prefix: instructions whose inputs
	// are all defined contribute primals, not cotangents.
	linear := make([]bool, len(p.Instructions))
	for i, inst := range p.Instructions {
		defined := true
		for _, a := range inst.Inputs {
			defined = defined && !IsUndef(readPrimal(a))
		}
		if !defined {
			linear[i] = true
			continue
		}
		in := make([]Value, len(inst.Inputs))
		for j, a := range inst.Inputs {
			in[j] = readPrimal(a)
		}
		for j, o := range m.bindOp(inst.Op, in, inst.Params) {
			primals[inst.Outs[j]] = o
		}
	}

	for i, a := range p.Outs {
		writeCotangent(a, cts[i])
	}
	for i := len(p.Instructions) - 1; i >= 0; i-- {
		if !linear[i] {
			continue
		}
		inst := p.Instructions[i]
		if inst.Op.Rules.Transpose == nil {
			panic(&UnsupportedError{Op: inst.Op.Name, Rule: "transpose"})
		}
		in := make([]Value, len(inst.Inputs))
		for j, a := range inst.Inputs {
			in[j] = readPrimal(a)
		}
		ctsIn := make([]Value, len(inst.Outs))
		for j, v := range inst.Outs {
			ctsIn[j] = readCotangent(v)
		}
		ctsOut := inst.Op.Rules.Transpose(m, ctsIn, in, inst.Params)
		for j, a := range inst.Inputs {
			if IsUndef(in[j]) {
				writeCotangent(a, ctsOut[j])
			}
		}
	}

	var out []Value
	for i, v := range p.In {
		if IsUndef(args[i]) {
			out = append(out, readCotangent(v))
		}
	}
	return out
}
