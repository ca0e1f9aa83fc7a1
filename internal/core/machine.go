// Package core implements the tracing transformation engine: the trace
// stack and dispatcher, the tracer variants, the program IR with its
// builder, typechecker, partial evaluator and transposer, and the user
// transformations built on them.
package core

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/born-ml/xform/internal/tensor"
	"github.com/born-ml/xform/internal/tree"
)

// Executable is a compiled program.
type Executable interface {
	Run(args []Value) ([]Value, error)
}

// Backend evaluates primitives on concrete values and compiles programs.
type Backend interface {
	// Name returns the backend identifier.
	Name() string

	// Eval runs the kernel of the named operator.
	Eval(op string, args []Value, p Params) ([]Value, error)

	// Codegen lowers a program for the given concrete arguments.
	Codegen(p *Program, args []Value) (any, error)

	// Compile turns a lowered program into an executable.
	Compile(lowered any) (Executable, error)
}

// TraceKind identifies the interpretation strategy of a MainTrace.
type TraceKind int

// Trace kinds.
const (
	TraceEval TraceKind = iota
	TraceBatch
	TraceJVP
	TraceStaging
	TracePartial
)

func (k TraceKind) String() string {
	switch k {
	case TraceEval:
		return "eval"
	case TraceBatch:
		return "batch"
	case TraceJVP:
		return "jvp"
	case TraceStaging:
		return "staging"
	case TracePartial:
		return "partial"
	default:
		return fmt.Sprintf("TraceKind(%d)", int(k))
	}
}

// MainTrace is one entry of the trace stack.
type MainTrace struct {
	Level  int
	Kind   TraceKind
	Global any

	m      *Machine
	interp interpreter
}

type interpreter interface {
	pure(v Value) Value
	lift(t Tracer) Value
	runOp(op *Operator, args []Value, p Params) []Value
}

// Tracer is a value owned by a MainTrace.
type Tracer interface {
	Value
	Main() *MainTrace
	// FullLower unwraps the tracer when it carries no interpretive state.
	FullLower() Value
}

// Machine owns a trace stack and dispatches primitive applications.
// A Machine must not be shared between goroutines.
type Machine struct {
	id       string
	backend  Backend
	registry *Registry
	trees    *tree.Registry
	logger   *slog.Logger

	defaultDType   tensor.DataType
	inlineLiterals bool

	stack   []*MainTrace
	dynamic *MainTrace

	executables map[*Program]Executable
	derived     map[derivedKey]*closedProgram
	procedures  map[string]*stagedEntry
}

// closedProgram is a program with the values of its constant inputs.
type closedProgram struct {
	program *Program
	consts  []Value
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = l
	}
}

// WithInlineLiterals toggles inlining of scalar constants into programs.
func WithInlineLiterals(on bool) Option {
	return func(m *Machine) {
		m.inlineLiterals = on
	}
}

// WithDefaultDType sets the dtype given to Go number leaves.
func WithDefaultDType(dt tensor.DataType) Option {
	return func(m *Machine) {
		m.defaultDType = dt
	}
}

// WithTrees sets the registry used to flatten structured arguments.
func WithTrees(r *tree.Registry) Option {
	return func(m *Machine) {
		m.trees = r
	}
}

// New creates a machine evaluating on backend with the operators of registry.
func New(backend Backend, registry *Registry, opts ...Option) (*Machine, error) {
	if backend == nil {
		return nil, fmt.Errorf("new machine: nil backend")
	}
	if err := registry.validate(); err != nil {
		return nil, fmt.Errorf("new machine: %w", err)
	}
	m := &Machine{
		id:             uuid.Must(uuid.NewV7()).String(),
		backend:        backend,
		registry:       registry,
		trees:          tree.NewRegistry(),
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		defaultDType:   tensor.Float32,
		inlineLiterals: true,
		executables:    make(map[*Program]Executable),
		derived:        make(map[derivedKey]*closedProgram),
		procedures:     make(map[string]*stagedEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("machine", m.id)
	m.stack = []*MainTrace{{Level: 0, Kind: TraceEval, m: m, interp: evalInterpreter{m: m}}}
	return m, nil
}

// ID returns the machine's session identifier.
func (m *Machine) ID() string { return m.id }

// Backend returns the evaluation backend.
func (m *Machine) Backend() Backend { return m.backend }

// Registry returns the operator registry.
func (m *Machine) Registry() *Registry { return m.registry }

// Trees returns the structured-argument registry.
func (m *Machine) Trees() *tree.Registry { return m.trees }

// Logger returns the machine's logger.
func (m *Machine) Logger() *slog.Logger { return m.logger }

// DefaultDType returns the dtype given to Go number leaves.
func (m *Machine) DefaultDType() tensor.DataType { return m.defaultDType }

// Depth returns the number of active MainTraces, including the eval root.
func (m *Machine) Depth() int { return len(m.stack) }

func (m *Machine) push(kind TraceKind, global any, mk func(*MainTrace) interpreter) *MainTrace {
	main := &MainTrace{Level: len(m.stack), Kind: kind, Global: global, m: m}
	main.interp = mk(main)
	m.stack = append(m.stack, main)
	m.logger.Debug("push trace", "level", main.Level, "kind", kind.String())
	return main
}

func (m *Machine) pop(main *MainTrace) {
	top := m.stack[len(m.stack)-1]
	if top != main {
		panic(&LevelError{From: main.Level, To: top.Level, Details: "trace popped out of order"})
	}
	m.stack = m.stack[:len(m.stack)-1]
	m.logger.Debug("pop trace", "level", main.Level, "kind", main.Kind.String())
}

// withDynamic makes main the dynamic trace and returns a restore func.
func (m *Machine) withDynamic(main *MainTrace) func() {
	prev := m.dynamic
	m.dynamic = main
	return func() { m.dynamic = prev }
}

// Op returns the registered operator, panicking with an UnsupportedError.
func (m *Machine) Op(name string) *Operator {
	op, ok := m.registry.Get(name)
	if !ok {
		panic(&UnsupportedError{Op: name})
	}
	return op
}

// Bind applies the named operator to args.
func (m *Machine) Bind(name string, p Params, args ...Value) []Value {
	return m.bindOp(m.Op(name), args, p)
}

// Bind1 applies a single-output operator.
func (m *Machine) Bind1(name string, p Params, args ...Value) Value {
	outs := m.Bind(name, p, args...)
	if len(outs) != 1 {
		panic(typeErrorf(name, "expected one output, got %d", len(outs)))
	}
	return outs[0]
}

func (m *Machine) bindOp(op *Operator, args []Value, p Params) []Value {
	if p == nil {
		p = Params{}
	}
	if op.Rules.FixArgs != nil {
		args, p = op.Rules.FixArgs(m, args, p)
	}
	main := m.findTopTrace(args)
	raised := make([]Value, len(args))
	for i, a := range args {
		raised[i] = m.fullRaise(main, a)
	}
	outs := main.interp.runOp(op, raised, p)
	for i, o := range outs {
		outs[i] = fullLower(o)
	}
	return outs
}

func (m *Machine) findTopTrace(args []Value) *MainTrace {
	top := m.stack[0]
	for _, a := range args {
		if t, ok := a.(Tracer); ok && t.Main().Level > top.Level {
			top = t.Main()
		}
	}
	if m.dynamic != nil && m.dynamic.Level > top.Level {
		top = m.dynamic
	}
	return top
}

func (m *Machine) fullRaise(main *MainTrace, v Value) Value {
	t, ok := v.(Tracer)
	if !ok {
		return main.interp.pure(v)
	}
	tm := t.Main()
	if tm.Level >= len(m.stack) || m.stack[tm.Level] != tm {
		panic(&LevelError{From: tm.Level, To: main.Level, Details: "tracer escaped its transformation"})
	}
	switch {
	case tm == main:
		return t
	case tm.Level < main.Level:
		return main.interp.lift(t)
	case tm.Level > main.Level:
		panic(&LevelError{From: tm.Level, To: main.Level, Details: "cannot lift into a lower level"})
	default:
		panic(&LevelError{From: tm.Level, To: main.Level, Details: "different traces at the same level"})
	}
}

func fullLower(v Value) Value {
	if t, ok := v.(Tracer); ok {
		return t.FullLower()
	}
	return v
}

// Full returns a value of type aval filled with fill.
func (m *Machine) Full(aval tensor.AbstractValue, fill float64) Value {
	return m.Bind1("full", Params{"shape": aval.Shape.Clone(), "dtype": aval.DType, "fill_value": fill})
}

// Zeros returns zeros of type aval.
func (m *Machine) Zeros(aval tensor.AbstractValue) Value {
	return m.Full(aval, 0)
}

// BroadcastTo right-aligns x against shape and broadcasts unit axes.
func (m *Machine) BroadcastTo(x Value, shape tensor.Shape) Value {
	xs := x.Aval().Shape
	if xs.Equal(shape) {
		return x
	}
	lead := len(shape) - len(xs)
	if lead < 0 {
		panic(typeErrorf("broadcast_in_dim", "cannot broadcast %v to lower rank %v", xs, shape))
	}
	axes := make([]int, lead)
	for i := range axes {
		axes[i] = i
	}
	return m.Bind1("broadcast_in_dim", Params{"shape": shape.Clone(), "axes": axes}, x)
}

// MoveBatchAxis moves the batch axis of x from src to dst. A NotMapped
// source is materialized by broadcasting to axisSize.
func (m *Machine) MoveBatchAxis(axisSize, src, dst int, x Value) Value {
	switch {
	case src == NotMapped:
		shape := x.Aval().Shape
		out := make(tensor.Shape, 0, len(shape)+1)
		out = append(out, shape[:dst]...)
		out = append(out, axisSize)
		out = append(out, shape[dst:]...)
		return m.Bind1("broadcast_in_dim", Params{"shape": out, "axes": []int{dst}}, x)
	case src == dst:
		return x
	default:
		rank := x.Aval().Rank()
		perm := make([]int, 0, rank)
		for i := 0; i < rank; i++ {
			if i != src {
				perm = append(perm, i)
			}
		}
		perm = append(perm[:dst], append([]int{src}, perm[dst:]...)...)
		return m.Bind1("transpose", Params{"perm": perm}, x)
	}
}

func (m *Machine) add(x, y Value) Value {
	return m.Bind1("add", nil, x, y)
}
