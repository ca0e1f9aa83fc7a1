package core

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/born-ml/xform/internal/tensor"
)

// Sentinel errors for the failure classes of the engine.
var (
	// ErrType is wrapped by shape/dtype mismatches, SSA violations and
	// mismatched argument structures.
	ErrType = errors.New("type error")

	// ErrLevel is wrapped when tracers from incompatible trace levels meet.
	ErrLevel = errors.New("trace level violation")

	// ErrUnsupported is wrapped when an operator lacks a required rule.
	ErrUnsupported = errors.New("unsupported operation")
)

// TypeError carries the offending program element and the expected and
// actual abstract values when they are known.
type TypeError struct {
	Op          string
	Instruction *Instruction
	Var         *Var
	Expected    *tensor.AbstractValue
	Actual      *tensor.AbstractValue
	Details     string
	Err         error
}

func (e *TypeError) Error() string {
	var sb strings.Builder
	sb.WriteString("type error")
	if e.Op != "" {
		sb.WriteString(" in ")
		sb.WriteString(e.Op)
	}
	if e.Details != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Details)
	}
	if e.Expected != nil && e.Actual != nil {
		fmt.Fprintf(&sb, " (expected %s, got %s)", e.Expected, e.Actual)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap exposes ErrType and the underlying cause.
func (e *TypeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrType, e.Err}
	}
	return []error{ErrType}
}

// LevelError reports a tracer that reached a trace it cannot be lifted into.
type LevelError struct {
	From, To int
	Details  string
}

func (e *LevelError) Error() string {
	return fmt.Sprintf("trace level violation: tracer at level %d reached level %d: %s", e.From, e.To, e.Details)
}

func (e *LevelError) Unwrap() error {
	return ErrLevel
}

// UnsupportedError reports a missing operator rule.
type UnsupportedError struct {
	Op   string
	Rule string
}

func (e *UnsupportedError) Error() string {
	if e.Rule == "" {
		return fmt.Sprintf("unsupported operation: %s is not registered", e.Op)
	}
	return fmt.Sprintf("unsupported operation: %s has no %s rule", e.Op, e.Rule)
}

func (e *UnsupportedError) Unwrap() error {
	return ErrUnsupported
}

func typeErrorf(op, format string, args ...any) *TypeError {
	return &TypeError{Op: op, Details: fmt.Sprintf(format, args...)}
}

func avalMismatch(op string, expected, actual tensor.AbstractValue) *TypeError {
	return &TypeError{Op: op, Details: "abstract value mismatch", Expected: &expected, Actual: &actual}
}

// catch converts an error panic raised while tracing into a returned error.
// Runtime errors and non-error panics propagate.
func catch(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if _, isRuntime := r.(runtime.Error); isRuntime {
		panic(r)
	}
	e, ok := r.(error)
	if !ok {
		panic(r)
	}
	*err = e
}
