package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/xform/internal/core"
	"github.com/born-ml/xform/internal/tensor"
)

func (cpu *CPUBackend) registerReductions() {
	cpu.kernels["sum"] = func(cpu *CPUBackend, args []*tensor.RawTensor, p core.Params) *tensor.RawTensor {
		return cpu.Reduce("sum", args[0], p.Ints("axes"), p.Bool("keepdims"), 0, func(acc, v float64) float64 {
			return acc + v
		})
	}
	cpu.kernels["max"] = func(cpu *CPUBackend, args []*tensor.RawTensor, p core.Params) *tensor.RawTensor {
		return cpu.Reduce("max", args[0], p.Ints("axes"), p.Bool("keepdims"), math.Inf(-1), math.Max)
	}
}

// Reduce folds x over axes with f starting from init.
//
// Example:
//
//	y := cpu.Reduce("sum", x, []int{1}, false, 0, add) // [2,3,4] -> [2,4]
func (cpu *CPUBackend) Reduce(op string, x *tensor.RawTensor, axes []int, keepDim bool, init float64, f func(acc, v float64) float64) *tensor.RawTensor {
	shape := x.Shape()
	reduced := make([]bool, len(shape))
	for _, a := range axes {
		if a < 0 || a >= len(shape) {
			panic(fmt.Sprintf("%s: axis %d out of range for %dD tensor", op, a, len(shape)))
		}
		reduced[a] = true
	}

	// Accumulate into the keepdims layout, then relabel the shape.
	keepShape := shape.Clone()
	for i := range keepShape {
		if reduced[i] {
			keepShape[i] = 1
		}
	}
	keepStrides := keepShape.ComputeStrides()
	acc := make([]float64, keepShape.NumElements())
	for i := range acc {
		acc[i] = init
	}
	forEachIndex(shape, func(flat int, idx []int) {
		o := 0
		for d, i := range idx {
			if !reduced[d] {
				o += i * keepStrides[d]
			}
		}
		acc[o] = f(acc[o], x.At(flat))
	})

	outShape := core.ReducedShape(shape, axes, keepDim)
	result := cpu.newRaw(outShape, x.DType(), op)
	for i, v := range acc {
		result.SetAt(i, v)
	}
	return result
}

// forEachIndex visits every element of shape in row-major order.
func forEachIndex(shape tensor.Shape, visit func(flat int, idx []int)) {
	idx := make([]int, len(shape))
	n := shape.NumElements()
	for flat := 0; flat < n; flat++ {
		visit(flat, idx)
		for d := len(shape) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
}
