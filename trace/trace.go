// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package trace

import (
	"fmt"

	"github.com/born-ml/xform/internal/backend/cpu"
	"github.com/born-ml/xform/internal/core"
	"github.com/born-ml/xform/internal/ops"
)

// Core types.
type (
	// Machine owns the trace stack and the transformations.
	Machine = core.Machine
	// Fn is a traceable function.
	Fn = core.Fn
	// Value is a concrete value, a Scalar or a tracer.
	Value = core.Value
	// Scalar is a rank-0 value created from a Go number.
	Scalar = core.Scalar
	// Program is a staged, typed straight-line program.
	Program = core.Program
	// ProgramType is the signature of a Program.
	ProgramType = core.ProgramType
	// Params are the static parameters of an operation.
	Params = core.Params
	// Backend evaluates primitives and compiles programs.
	Backend = core.Backend
	// Registry holds the operators known to a machine.
	Registry = core.Registry
	// PartialResult is the outcome of partially evaluating a program.
	PartialResult = core.PartialResult
	// Static wraps an untraced call-time argument of a staged function.
	Static = core.Static
)

// Options.
type (
	// Option configures a Machine.
	Option = core.Option
	// ProgramOption configures staging.
	ProgramOption = core.ProgramOption
	// GradOption configures Grad.
	GradOption = core.GradOption
)

// Errors.
type (
	// TypeError reports ill-typed operands or programs.
	TypeError = core.TypeError
	// LevelError reports a tracer used outside its transformation.
	LevelError = core.LevelError
	// UnsupportedError reports an operator lacking a rule.
	UnsupportedError = core.UnsupportedError
)

// Sentinel errors.
var (
	ErrType        = core.ErrType
	ErrLevel       = core.ErrLevel
	ErrUnsupported = core.ErrUnsupported
)

// NotMapped marks a Vmap argument without a batch axis.
const NotMapped = core.NotMapped

// Machine options.
var (
	WithLogger         = core.WithLogger
	WithInlineLiterals = core.WithInlineLiterals
	WithDefaultDType   = core.WithDefaultDType
)

// Staging and differentiation options.
var (
	Named          = core.Named
	WithStaticArgs = core.WithStaticArgs
	WithArgnums    = core.WithArgnums
	WithValue      = core.WithValue
)

// New creates a machine with the standard operator vocabulary on the CPU
// backend.
func New(opts ...Option) (*Machine, error) {
	return NewWithBackend(cpu.New(), opts...)
}

// NewWithBackend creates a machine with the standard operator vocabulary on
// backend.
func NewWithBackend(backend Backend, opts ...Option) (*Machine, error) {
	reg, err := ops.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	return core.New(backend, reg, opts...)
}

// TypecheckProgram verifies that p is well formed and returns its type.
func TypecheckProgram(p *Program) (ProgramType, error) {
	return core.TypecheckProgram(p)
}
