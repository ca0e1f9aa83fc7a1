// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package trace is the public entry point of xform: composable program
// transformations implemented by tracing.
//
// # Overview
//
// A Machine interprets ordinary Go functions of Values. Operations bound
// inside a function are routed to the innermost active transformation, so
// the transformations compose freely:
//   - Call evaluates eagerly on the backend
//   - Vmap maps a function over a batch axis
//   - Jvp, Linearize, Vjp and Grad differentiate
//   - MakeProgram and Jit stage a function into a Program
//   - Procedure packages a function as a reusable composite operation
//
// # Basic Usage
//
//	m, err := trace.New()
//	f := func(args ...any) any {
//	    x := args[0]
//	    return trace.Sum(m, trace.Mul(m, x, x), nil, false)
//	}
//
//	x := cpu.MustFromFloat32([]float32{1, 2, 3}, 3)
//	g, err := m.Call(m.Grad(f), x) // f32[3][2 4 6]
//
// Errors returned by the entry points wrap ErrType, ErrLevel or
// ErrUnsupported and can be inspected with errors.Is and errors.As.
//
// # Thread Safety
//
// A Machine holds the trace stack of one computation and is not safe for
// concurrent use. Create one Machine per goroutine.
package trace
