package cpu

import (
	"fmt"

	"github.com/born-ml/xform/internal/core"
	"github.com/born-ml/xform/internal/tensor"
)

func (cpu *CPUBackend) registerShapeOps() {
	cpu.kernels["broadcast_in_dim"] = func(cpu *CPUBackend, args []*tensor.RawTensor, p core.Params) *tensor.RawTensor {
		return cpu.BroadcastInDim(args[0], p.Shape("shape"), p.Ints("axes"))
	}
	cpu.kernels["reshape"] = func(cpu *CPUBackend, args []*tensor.RawTensor, p core.Params) *tensor.RawTensor {
		return cpu.Reshape(args[0], p.Shape("shape"))
	}
	cpu.kernels["transpose"] = func(cpu *CPUBackend, args []*tensor.RawTensor, p core.Params) *tensor.RawTensor {
		return cpu.Transpose(args[0], p.Ints("perm"))
	}
	cpu.kernels["slice"] = func(cpu *CPUBackend, args []*tensor.RawTensor, p core.Params) *tensor.RawTensor {
		return cpu.Slice(args[0], p.Ints("starts"), p.Ints("limits"))
	}
	cpu.kernels["pad"] = func(cpu *CPUBackend, args []*tensor.RawTensor, p core.Params) *tensor.RawTensor {
		return cpu.Pad(args[0], p.Ints("lo"), p.Ints("hi"))
	}
	cpu.kernels["concatenate"] = func(cpu *CPUBackend, args []*tensor.RawTensor, p core.Params) *tensor.RawTensor {
		return cpu.Concatenate(args, p.Int("axis"))
	}
	cpu.kernels["flip"] = func(cpu *CPUBackend, args []*tensor.RawTensor, p core.Params) *tensor.RawTensor {
		return cpu.Flip(args[0], p.Ints("axes"))
	}
}

// BroadcastInDim inserts size-1 axes at the output positions listed in axes
// and then expands unit axes to newShape.
func (cpu *CPUBackend) BroadcastInDim(x *tensor.RawTensor, newShape tensor.Shape, axes []int) *tensor.RawTensor {
	xShape := x.Shape()
	if len(newShape) != len(xShape)+len(axes) {
		panic(fmt.Sprintf("broadcast_in_dim: %v with %d new axes cannot become %v", xShape, len(axes), newShape))
	}
	inserted := make([]bool, len(newShape))
	for _, a := range axes {
		inserted[a] = true
	}
	// srcDim[d] is the input dimension feeding output dimension d, or -1.
	srcDim := make([]int, len(newShape))
	j := 0
	for d := range newShape {
		if inserted[d] {
			srcDim[d] = -1
			continue
		}
		if xShape[j] != 1 && xShape[j] != newShape[d] {
			panic(fmt.Sprintf("broadcast_in_dim: cannot expand dimension %d from %d to %d", j, xShape[j], newShape[d]))
		}
		srcDim[d] = j
		j++
	}

	result := cpu.newRaw(newShape, x.DType(), "broadcast_in_dim")
	xStrides := x.Strides()
	forEachIndex(newShape, func(flat int, idx []int) {
		src := 0
		for d, i := range idx {
			if s := srcDim[d]; s >= 0 && xShape[s] != 1 {
				src += i * xStrides[s]
			}
		}
		result.SetAt(flat, x.At(src))
	})
	return result
}

// Reshape returns a copy of x with a new shape of the same element count.
func (cpu *CPUBackend) Reshape(x *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	if newShape.NumElements() != x.NumElements() {
		panic(fmt.Sprintf("reshape: cannot reshape %v to %v", x.Shape(), newShape))
	}
	result := cpu.newRaw(newShape, x.DType(), "reshape")
	copy(result.Data(), x.Data())
	return result
}

// Transpose permutes the axes of x: output axis i is input axis perm[i].
func (cpu *CPUBackend) Transpose(x *tensor.RawTensor, perm []int) *tensor.RawTensor {
	outShape, err := x.Shape().Permute(perm)
	if err != nil {
		panic(fmt.Sprintf("transpose: %v", err))
	}
	result := cpu.newRaw(outShape, x.DType(), "transpose")
	xStrides := x.Strides()
	forEachIndex(outShape, func(flat int, idx []int) {
		src := 0
		for d, i := range idx {
			src += i * xStrides[perm[d]]
		}
		result.SetAt(flat, x.At(src))
	})
	return result
}

// Slice extracts x[starts[d]:limits[d]] along every axis.
func (cpu *CPUBackend) Slice(x *tensor.RawTensor, starts, limits []int) *tensor.RawTensor {
	shape := x.Shape()
	if len(starts) != len(shape) || len(limits) != len(shape) {
		panic(fmt.Sprintf("slice: bounds %v:%v do not match rank %d", starts, limits, len(shape)))
	}
	outShape := make(tensor.Shape, len(shape))
	for d := range shape {
		outShape[d] = limits[d] - starts[d]
	}
	result := cpu.newRaw(outShape, x.DType(), "slice")
	xStrides := x.Strides()
	forEachIndex(outShape, func(flat int, idx []int) {
		src := 0
		for d, i := range idx {
			src += (i + starts[d]) * xStrides[d]
		}
		result.SetAt(flat, x.At(src))
	})
	return result
}

// Pad surrounds x with lo[d] leading and hi[d] trailing zeros per axis.
func (cpu *CPUBackend) Pad(x *tensor.RawTensor, lo, hi []int) *tensor.RawTensor {
	shape := x.Shape()
	if len(lo) != len(shape) || len(hi) != len(shape) {
		panic(fmt.Sprintf("pad: widths %v/%v do not match rank %d", lo, hi, len(shape)))
	}
	outShape := make(tensor.Shape, len(shape))
	for d := range shape {
		outShape[d] = lo[d] + shape[d] + hi[d]
	}
	result := cpu.newRaw(outShape, x.DType(), "pad")
	outStrides := outShape.ComputeStrides()
	forEachIndex(shape, func(flat int, idx []int) {
		dst := 0
		for d, i := range idx {
			dst += (i + lo[d]) * outStrides[d]
		}
		result.SetAt(dst, x.At(flat))
	})
	return result
}

// Concatenate joins xs along axis.
func (cpu *CPUBackend) Concatenate(xs []*tensor.RawTensor, axis int) *tensor.RawTensor {
	if len(xs) == 0 {
		panic("concatenate: no operands")
	}
	outShape := xs[0].Shape().Clone()
	if axis < 0 || axis >= len(outShape) {
		panic(fmt.Sprintf("concatenate: axis %d out of range for %v", axis, outShape))
	}
	for _, x := range xs[1:] {
		if len(x.Shape()) != len(outShape) {
			panic(fmt.Sprintf("concatenate: cannot join %v and %v", xs[0].Shape(), x.Shape()))
		}
		outShape[axis] += x.Shape()[axis]
	}
	result := cpu.newRaw(outShape, xs[0].DType(), "concatenate")
	outStrides := outShape.ComputeStrides()
	offset := 0
	for _, x := range xs {
		forEachIndex(x.Shape(), func(flat int, idx []int) {
			dst := offset * outStrides[axis]
			for d, i := range idx {
				dst += i * outStrides[d]
			}
			result.SetAt(dst, x.At(flat))
		})
		offset += x.Shape()[axis]
	}
	return result
}

// Flip reverses x along every axis in axes.
func (cpu *CPUBackend) Flip(x *tensor.RawTensor, axes []int) *tensor.RawTensor {
	shape := x.Shape()
	flipped := make([]bool, len(shape))
	for _, a := range axes {
		if a < 0 || a >= len(shape) {
			panic(fmt.Sprintf("flip: axis %d out of range for %v", a, shape))
		}
		flipped[a] = true
	}
	result := cpu.newRaw(shape.Clone(), x.DType(), "flip")
	xStrides := x.Strides()
	forEachIndex(shape, func(flat int, idx []int) {
		src := 0
		for d, i := range idx {
			if flipped[d] {
				i = shape[d] - 1 - i
			}
			src += i * xStrides[d]
		}
		result.SetAt(flat, x.At(src))
	})
	return result
}
