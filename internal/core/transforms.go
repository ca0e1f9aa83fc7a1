package core

import (
	"strconv"

	"github.com/born-ml/xform/internal/tensor"
	"github.com/born-ml/xform/internal/tree"
)

// Fn is a traceable function. Arguments and the result are trees whose
// leaves are Values or Go numbers.
type Fn func(args ...any) any

func (m *Machine) flatten(x any) ([]Value, *tree.Def) {
	leaves, def := m.trees.Flatten(x)
	return m.asValues(leaves), def
}

func (m *Machine) unflatten(def *tree.Def, vals []Value) any {
	out, err := m.trees.Unflatten(def, toAny(vals))
	if err != nil {
		panic(&TypeError{Details: "unflatten", Err: err})
	}
	return out
}

// flattenFn adapts f to flat value lists. The returned func reports the
// output structure of the most recent call.
func (m *Machine) flattenFn(f Fn, inTree *tree.Def) (func([]Value) []Value, func() *tree.Def) {
	var outTree *tree.Def
	flat := func(vals []Value) []Value {
		args := m.unflatten(inTree, vals).([]any)
		leaves, def := m.flatten(f(args...))
		outTree = def
		return leaves
	}
	return flat, func() *tree.Def { return outTree }
}

func mismatch(what string, want, got *tree.Def) *TypeError {
	return &TypeError{Details: what + ": structure " + got.String() + " does not match " + want.String(), Err: tree.ErrMismatch}
}

// Call evaluates f on args, converting engine failures into an error.
func (m *Machine) Call(f Fn, args ...any) (out any, err error) {
	defer catch(&err)
	return f(args...), nil
}

// RunProgram evaluates p on args through the current trace stack.
func (m *Machine) RunProgram(p *Program, args []Value) (out []Value, err error) {
	defer catch(&err)
	return m.runProgram(p, args), nil
}

func (m *Machine) runProgram(p *Program, args []Value) []Value {
	if len(args) != len(p.In) {
		panic(typeErrorf(p.Name, "%d arguments for %d inputs", len(args), len(p.In)))
	}
	env := make(map[*Var]Value, len(p.In)+len(p.Instructions))
	read := func(a Atom) Value {
		switch x := a.(type) {
		case Lit:
			return x.Val
		case *Var:
			v, ok := env[x]
			if !ok {
				panic(&TypeError{Op: p.Name, Var: x, Details: "use of unbound variable"})
			}
			return v
		}
		return nil
	}
	for i, v := range p.In {
		if !args[i].Aval().Equal(v.aval) {
			e := avalMismatch(p.Name, v.aval, args[i].Aval())
			e.Var = v
			panic(e)
		}
		env[v] = args[i]
	}
	for _, inst := range p.Instructions {
		in := make([]Value, len(inst.Inputs))
		for i, a := range inst.Inputs {
			in[i] = read(a)
		}
		for i, o := range m.bindOp(inst.Op, in, inst.Params) {
			env[inst.Outs[i]] = o
		}
	}
	outs := make([]Value, len(p.Outs))
	for i, a := range p.Outs {
		outs[i] = read(a)
	}
	return outs
}

// ProgramOption configures staging.
type ProgramOption func(*programConfig)

type programConfig struct {
	name   string
	static Params
}

// Named sets the name of staged programs.
func Named(name string) ProgramOption {
	return func(c *programConfig) { c.name = name }
}

// WithStaticArgs attaches static parameters to staged programs. They take
// part in the staging cache key, so functions sharing a cache but differing
// in static parameters never share a program.
func WithStaticArgs(p Params) ProgramOption {
	return func(c *programConfig) { c.static = p }
}

// Static marks a call-time argument of a staged function that is passed
// through untraced. Every distinct Value stages its own program and is
// recorded among the program's static arguments as arg<i>.
type Static struct {
	Value any
}

// splitStatic separates Static arguments from traced ones. The returned
// function accepts only the traced arguments and hands f the full list.
func splitStatic(cfg programConfig, f Fn, args []any) (programConfig, Fn, []any) {
	var static Params
	traced := make([]any, 0, len(args))
	for i, a := range args {
		if s, ok := a.(Static); ok {
			if static == nil {
				static = make(Params)
			}
			static["arg"+strconv.Itoa(i)] = s.Value
			continue
		}
		traced = append(traced, a)
	}
	if static == nil {
		return cfg, f, args
	}
	for k, v := range cfg.static {
		static[k] = v
	}
	cfg.static = static
	n := len(args)
	return cfg, func(in ...any) any {
		full := make([]any, n)
		j := 0
		for i, a := range args {
			if s, ok := a.(Static); ok {
				full[i] = s.Value
				continue
			}
			full[i] = in[j]
			j++
		}
		return f(full...)
	}, traced
}

func leafAval(m *Machine, leaf any) tensor.AbstractValue {
	if aval, ok := leaf.(tensor.AbstractValue); ok {
		return aval
	}
	return m.AsValue(leaf).Aval()
}

// MakeProgram stages f over arguments described by args, whose leaves are
// AbstractValues or Values. It returns the program, the values of its
// constant inputs and the structure of f's result.
func (m *Machine) MakeProgram(f Fn, args []any, opts ...ProgramOption) (p *Program, consts []Value, out *tree.Def, err error) {
	defer catch(&err)
	cfg := programConfig{name: "program"}
	for _, o := range opts {
		o(&cfg)
	}
	leaves, inTree := m.trees.Flatten(args)
	avals := make([]tensor.AbstractValue, len(leaves))
	for i, l := range leaves {
		avals[i] = leafAval(m, l)
	}
	flat, outTree := m.flattenFn(f, inTree)
	p, consts = m.makeProgram(flat, avals, cfg.name, cfg.static)
	return p, consts, outTree(), nil
}

// Jit returns f staged into a program and evaluated through the jit meta
// operator, which compiles it with the backend. Programs are cached per
// argument structure, types and static arguments when they close over no
// tracers. Pass configuration that changes the staged body either as a
// Static argument or by closing over it in a fresh Jit.
func (m *Machine) Jit(f Fn, opts ...ProgramOption) Fn {
	cfg := programConfig{name: "jit"}
	for _, o := range opts {
		o(&cfg)
	}
	cache := make(map[string]*stagedEntry)
	return func(args ...any) any {
		return m.callStaged(JitOp, cfg, f, cache, args)
	}
}

// Procedure returns f as a composite operation: it is staged once per
// argument signature and bound through the call meta operator, which
// interprets the body on evaluation. name must identify f on this machine.
func (m *Machine) Procedure(name string, f Fn) Fn {
	cfg := programConfig{name: name}
	return func(args ...any) any {
		return m.callStaged(CallOp, cfg, f, m.procedures, args)
	}
}

type stagedEntry struct {
	closed  closedProgram
	outTree *tree.Def
}

func (m *Machine) callStaged(opName string, cfg programConfig, f Fn, cache map[string]*stagedEntry, args []any) any {
	cfg, f, args = splitStatic(cfg, f, args)
	vals, inTree := m.flatten(args)
	avals := avalsOf(vals)
	key := cfg.name + cfg.static.String() + " " + inTree.String() + " " + joinAvals(avals)
	e, ok := cache[key]
	if !ok {
		flat, outTree := m.flattenFn(f, inTree)
		p, consts := m.makeProgram(flat, avals, cfg.name, cfg.static)
		e = &stagedEntry{closed: closedProgram{program: p, consts: consts}, outTree: outTree()}
		if !anyTracer(consts) {
			cache[key] = e
		}
	}
	in := append(append([]Value(nil), e.closed.consts...), vals...)
	outs := m.bindOp(m.Op(opName), in, Params{ProgramKey: e.closed.program})
	return m.unflatten(e.outTree, outs)
}

func anyTracer(vs []Value) bool {
	for _, v := range vs {
		if _, ok := v.(Tracer); ok {
			return true
		}
	}
	return false
}

// Vmap returns f mapped over a batch axis. inAxes holds one entry per
// top-level argument: an int applies to every leaf of that argument
// (NotMapped for none), while a tree of ints matching the argument's
// structure gives each leaf its own axis. Missing entries default to 0.
// Outputs carry the batch axis at 0.
func (m *Machine) Vmap(f Fn, inAxes ...any) Fn {
	return func(args ...any) any {
		var vals []Value
		var dims []int
		for i, a := range args {
			var spec any = 0
			if i < len(inAxes) {
				spec = inAxes[i]
			}
			leaves, def := m.flatten(a)
			vals = append(vals, leaves...)
			dims = append(dims, m.leafAxes(spec, def)...)
		}
		_, inTree := m.trees.Flatten(args)
		flat, outTree := m.flattenFn(f, inTree)
		outs := m.vmapFlat(flat, dims, vals)
		return m.unflatten(outTree(), outs)
	}
}

// leafAxes expands one in-axes entry to the batch axis of every leaf of an
// argument with structure def.
func (m *Machine) leafAxes(spec any, def *tree.Def) []int {
	out := make([]int, def.NumLeaves())
	if axis, ok := spec.(int); ok {
		for i := range out {
			out[i] = axis
		}
		return out
	}
	leaves, specDef := m.trees.Flatten(spec)
	if !specDef.Equal(def) {
		panic(mismatch("vmap in_axes", def, specDef))
	}
	for i, l := range leaves {
		axis, ok := l.(int)
		if !ok {
			panic(typeErrorf("vmap", "in_axes leaf %v is not an int", l))
		}
		out[i] = axis
	}
	return out
}

func (m *Machine) vmapFlat(f func([]Value) []Value, dims []int, args []Value) []Value {
	axisSize := -1
	for i, a := range args {
		d := dims[i]
		if d == NotMapped {
			continue
		}
		shape := a.Aval().Shape
		if d < 0 || d >= len(shape) {
			panic(typeErrorf("vmap", "batch axis %d out of range for %s", d, a.Aval()))
		}
		if axisSize >= 0 && shape[d] != axisSize {
			panic(typeErrorf("vmap", "inconsistent batch sizes %d and %d", axisSize, shape[d]))
		}
		axisSize = shape[d]
	}
	if axisSize < 0 {
		panic(typeErrorf("vmap", "no argument is mapped"))
	}

	var vals []Value
	var outDims []int
	func() {
		bi := &batchInterpreter{m: m, axisSize: axisSize}
		main := m.push(TraceBatch, axisSize, func(mt *MainTrace) interpreter {
			bi.main = mt
			return bi
		})
		defer m.pop(main)
		in := make([]Value, len(args))
		for i, a := range args {
			if dims[i] == NotMapped {
				in[i] = a
			} else {
				in[i] = &BatchTracer{main: main, Val: a, Dim: dims[i]}
			}
		}
		for _, o := range f(in) {
			t := m.fullRaise(main, o).(*BatchTracer)
			vals = append(vals, t.Val)
			outDims = append(outDims, t.Dim)
		}
	}()
	outs := make([]Value, len(vals))
	for i, v := range vals {
		outs[i] = m.MoveBatchAxis(axisSize, outDims[i], 0, v)
	}
	return outs
}

func (m *Machine) jvpFlat(f func([]Value) []Value, primals, tangents []Value) ([]Value, []Value) {
	if len(primals) != len(tangents) {
		panic(typeErrorf("jvp", "%d primals and %d tangents", len(primals), len(tangents)))
	}
	for i := range primals {
		if !primals[i].Aval().Equal(tangents[i].Aval()) {
			panic(avalMismatch("jvp", primals[i].Aval(), tangents[i].Aval()))
		}
	}
	ji := &jvpInterpreter{m: m}
	main := m.push(TraceJVP, nil, func(mt *MainTrace) interpreter {
		ji.main = mt
		return ji
	})
	defer m.pop(main)
	in := make([]Value, len(primals))
	for i := range primals {
		in[i] = &JVPTracer{main: main, Primal: primals[i], Tangent: tangents[i]}
	}
	outs := f(in)
	primalsOut := make([]Value, len(outs))
	tangentsOut := make([]Value, len(outs))
	for i, o := range outs {
		t := m.fullRaise(main, o).(*JVPTracer)
		primalsOut[i], tangentsOut[i] = t.Primal, t.Tangent
	}
	return primalsOut, tangentsOut
}

// Jvp evaluates f at primals and its directional derivative along tangents.
// primals and tangents are the argument lists and must share structure.
func (m *Machine) Jvp(f Fn, primals, tangents []any) (out, tangentOut any, err error) {
	defer catch(&err)
	ps, inTree := m.flatten(primals)
	ts, tanTree := m.flatten(tangents)
	if !inTree.Equal(tanTree) {
		panic(mismatch("jvp tangents", inTree, tanTree))
	}
	flat, outTree := m.flattenFn(f, inTree)
	po, to := m.jvpFlat(flat, ps, ts)
	return m.unflatten(outTree(), po), m.unflatten(outTree(), to), nil
}

// linearizeFlat traces the jvp of f with known primals and unknown tangents.
// The returned program maps (consts, tangents) to output tangents.
func (m *Machine) linearizeFlat(f func([]Value) []Value, primals []Value, name string) ([]Value, *Program, []Value) {
	n := len(primals)
	in := make([]PartialValue, 2*n)
	for i, p := range primals {
		in[i] = KnownValue(p)
		in[n+i] = UnknownValue(p.Aval())
	}
	fjvp := func(xs []Value) []Value {
		po, to := m.jvpFlat(f, xs[:n], xs[n:])
		return append(po, to...)
	}
	tail := func(numOuts int) []bool {
		flags := make([]bool, numOuts)
		for i := numOuts / 2; i < numOuts; i++ {
			flags[i] = true
		}
		return flags
	}
	p, pvals, consts := m.partialRunFlat(fjvp, in, tail, name)
	primalsOut := make([]Value, len(pvals)/2)
	for i := range primalsOut {
		if !pvals[i].IsKnown() {
			panic(typeErrorf(name, "primal output %d depends on tangents", i))
		}
		primalsOut[i] = pvals[i].Const
	}
	return primalsOut, p, consts
}

// Linearize evaluates f at primals and returns its linear tangent map as a
// function of a tangent argument list.
func (m *Machine) Linearize(f Fn, primals ...any) (out any, fLin Fn, err error) {
	defer catch(&err)
	ps, inTree := m.flatten(primals)
	flat, outTree := m.flattenFn(f, inTree)
	po, p, consts := m.linearizeFlat(flat, ps, "linearize")
	outDef := outTree()
	fLin = func(tangents ...any) any {
		ts, tanTree := m.flatten(tangents)
		if !inTree.Equal(tanTree) {
			panic(mismatch("linearize tangents", inTree, tanTree))
		}
		return m.unflatten(outDef, m.runProgram(p, append(append([]Value(nil), consts...), ts...)))
	}
	return m.unflatten(outDef, po), fLin, nil
}

// VjpFn maps an output cotangent tree to the cotangents of each argument.
type VjpFn func(cotangent any) []any

func (m *Machine) vjp(f Fn, primals []any) (any, VjpFn) {
	ps, inTree := m.flatten(primals)
	flat, outTree := m.flattenFn(f, inTree)
	po, p, consts := m.linearizeFlat(flat, ps, "vjp")
	outDef := outTree()
	args := append([]Value(nil), consts...)
	for _, x := range ps {
		args = append(args, Undef(x.Aval()))
	}
	back := func(cotangent any) []any {
		cts, ctTree := m.flatten(cotangent)
		if !outDef.Equal(ctTree) {
			panic(mismatch("vjp cotangents", outDef, ctTree))
		}
		return m.unflatten(inTree, m.runProgramTransposed(p, args, cts)).([]any)
	}
	return m.unflatten(outDef, po), back
}

// Vjp evaluates f at primals and returns its pullback.
func (m *Machine) Vjp(f Fn, primals ...any) (out any, pullback VjpFn, err error) {
	defer catch(&err)
	out, pullback = m.vjp(f, primals)
	return out, pullback, nil
}

// GradOption configures Grad.
type GradOption func(*gradConfig)

type gradConfig struct {
	argnums   []int
	withValue bool
}

// WithArgnums selects the arguments to differentiate. With more than one,
// the gradient is a []any.
func WithArgnums(argnums ...int) GradOption {
	return func(c *gradConfig) { c.argnums = argnums }
}

// WithValue makes the gradient function return []any{value, gradient}.
func WithValue() GradOption {
	return func(c *gradConfig) { c.withValue = true }
}

// Grad returns the gradient of a scalar-valued f.
func (m *Machine) Grad(f Fn, opts ...GradOption) Fn {
	cfg := gradConfig{argnums: []int{0}}
	for _, o := range opts {
		o(&cfg)
	}
	return func(args ...any) any {
		for _, a := range cfg.argnums {
			if a < 0 || a >= len(args) {
				panic(typeErrorf("grad", "argnum %d out of range for %d arguments", a, len(args)))
			}
		}
		out, pullback := m.vjp(f, args)
		y, ok := out.(Value)
		if !ok || y.Aval().Rank() != 0 {
			panic(typeErrorf("grad", "function must return a rank-0 value, got %T", out))
		}
		cts := pullback(m.Full(y.Aval(), 1))
		var g any
		if len(cfg.argnums) == 1 {
			g = cts[cfg.argnums[0]]
		} else {
			sel := make([]any, len(cfg.argnums))
			for i, a := range cfg.argnums {
				sel[i] = cts[a]
			}
			g = sel
		}
		if cfg.withValue {
			return []any{y, g}
		}
		return g
	}
}
