package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/xform/internal/core"
	"github.com/born-ml/xform/internal/parallel"
	"github.com/born-ml/xform/internal/tensor"
)

func (cpu *CPUBackend) registerMath() {
	unary := map[string]func(float64) float64{
		"neg":           func(v float64) float64 { return -v },
		"exp":           math.Exp,
		"log":           math.Log,
		"sqrt":          math.Sqrt,
		"sin":           math.Sin,
		"cos":           math.Cos,
		"stop_gradient": func(v float64) float64 { return v },
	}
	for name, f := range unary {
		cpu.kernels[name] = func(cpu *CPUBackend, args []*tensor.RawTensor, _ core.Params) *tensor.RawTensor {
			return cpu.Unary(name, args[0], f)
		}
	}

	binary := map[string]func(a, b float64) float64{
		"add":     func(a, b float64) float64 { return a + b },
		"sub":     func(a, b float64) float64 { return a - b },
		"mul":     func(a, b float64) float64 { return a * b },
		"div":     func(a, b float64) float64 { return a / b },
		"maximum": math.Max,
	}
	for name, f := range binary {
		cpu.kernels[name] = func(cpu *CPUBackend, args []*tensor.RawTensor, _ core.Params) *tensor.RawTensor {
			return cpu.Binary(name, args[0], args[1], args[0].DType(), f)
		}
	}
	cpu.kernels["equal"] = func(cpu *CPUBackend, args []*tensor.RawTensor, _ core.Params) *tensor.RawTensor {
		return cpu.Binary("equal", args[0], args[1], tensor.Bool, func(a, b float64) float64 {
			if a == b {
				return 1
			}
			return 0
		})
	}
}

// Unary applies f element-wise.
func (cpu *CPUBackend) Unary(op string, x *tensor.RawTensor, f func(float64) float64) *tensor.RawTensor {
	result := cpu.newRaw(x.Shape(), x.DType(), op)

	switch x.DType() {
	case tensor.Float32:
		src, dst := x.AsFloat32(), result.AsFloat32()
		parallel.Range(len(dst), cpu.par, func(lo, hi int) {
			for i := lo; i < hi; i++ {
				dst[i] = float32(f(float64(src[i])))
			}
		})
	case tensor.Float64:
		src, dst := x.AsFloat64(), result.AsFloat64()
		parallel.Range(len(dst), cpu.par, func(lo, hi int) {
			for i := lo; i < hi; i++ {
				dst[i] = f(src[i])
			}
		})
	default:
		for i := 0; i < x.NumElements(); i++ {
			result.SetAt(i, f(x.At(i)))
		}
	}
	return result
}

// Binary applies f element-wise to operands of identical shape. Broadcasting
// is resolved before dispatch.
func (cpu *CPUBackend) Binary(op string, a, b *tensor.RawTensor, out tensor.DataType, f func(a, b float64) float64) *tensor.RawTensor {
	if !a.Shape().Equal(b.Shape()) {
		panic(fmt.Sprintf("%s: shape mismatch %v vs %v", op, a.Shape(), b.Shape()))
	}
	if a.DType() != b.DType() {
		panic(fmt.Sprintf("%s: dtype mismatch %s vs %s", op, a.DType(), b.DType()))
	}
	result := cpu.newRaw(a.Shape(), out, op)

	switch {
	case a.DType() == tensor.Float32 && out == tensor.Float32:
		x, y, dst := a.AsFloat32(), b.AsFloat32(), result.AsFloat32()
		parallel.Range(len(dst), cpu.par, func(lo, hi int) {
			for i := lo; i < hi; i++ {
				dst[i] = float32(f(float64(x[i]), float64(y[i])))
			}
		})
	case a.DType() == tensor.Float64 && out == tensor.Float64:
		x, y, dst := a.AsFloat64(), b.AsFloat64(), result.AsFloat64()
		parallel.Range(len(dst), cpu.par, func(lo, hi int) {
			for i := lo; i < hi; i++ {
				dst[i] = f(x[i], y[i])
			}
		})
	default:
		for i := 0; i < a.NumElements(); i++ {
			result.SetAt(i, f(a.At(i), b.At(i)))
		}
	}
	return result
}
