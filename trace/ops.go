// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package trace

import (
	"github.com/born-ml/xform/internal/ops"
)

// Element-wise operations. Operands broadcast against each other; Go
// numbers become scalars of the machine's default dtype.
var (
	Neg          = ops.Neg
	Exp          = ops.Exp
	Log          = ops.Log
	Sqrt         = ops.Sqrt
	Sin          = ops.Sin
	Cos          = ops.Cos
	StopGradient = ops.StopGradient
	Convert      = ops.Convert

	Add     = ops.Add
	Sub     = ops.Sub
	Mul     = ops.Mul
	Div     = ops.Div
	Maximum = ops.Maximum
	Equal   = ops.Equal

	Minimum      = ops.Minimum
	Greater      = ops.Greater
	GreaterEqual = ops.GreaterEqual
	Less         = ops.Less
	LessEqual    = ops.LessEqual
	NotEqual     = ops.NotEqual
	Where        = ops.Where
	Abs          = ops.Abs
	Square       = ops.Square
	Reciprocal   = ops.Reciprocal
	Rsqrt        = ops.Rsqrt
	Clip         = ops.Clip
)

// Reductions.
var (
	Sum  = ops.Sum
	Max  = ops.Max
	Mean = ops.Mean
)

// Shape operations.
var (
	BroadcastInDim = ops.BroadcastInDim
	Reshape        = ops.Reshape
	Transpose      = ops.Transpose
	Slice          = ops.Slice
	Pad            = ops.Pad
	Concatenate    = ops.Concatenate
	Flip           = ops.Flip
	Squeeze        = ops.Squeeze
	ExpandDims     = ops.ExpandDims
	Flatten        = ops.Flatten
)

// Constructors.
var (
	Full  = ops.Full
	Zeros = ops.Zeros
	Ones  = ops.Ones
	Iota  = ops.Iota
	Eye   = ops.Eye

	ZerosLike = ops.ZerosLike
	OnesLike  = ops.OnesLike
)

// Composites.
var (
	MatMul = ops.MatMul
	Dot    = ops.Dot
	JacFwd = ops.JacFwd

	Cumsum     = ops.Cumsum
	OneHot     = ops.OneHot
	Gather     = ops.Gather
	ScatterAdd = ops.ScatterAdd
)
