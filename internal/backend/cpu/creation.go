package cpu

import (
	"fmt"

	"github.com/born-ml/xform/internal/core"
	"github.com/born-ml/xform/internal/tensor"
)

func (cpu *CPUBackend) registerCreation() {
	cpu.kernels["full"] = func(cpu *CPUBackend, _ []*tensor.RawTensor, p core.Params) *tensor.RawTensor {
		return cpu.Full(p.Shape("shape"), p.DType("dtype"), p.Float("fill_value"))
	}
	cpu.kernels["iota"] = func(cpu *CPUBackend, _ []*tensor.RawTensor, p core.Params) *tensor.RawTensor {
		return cpu.Iota(p.Shape("shape"), p.DType("dtype"), p.Int("axis"))
	}
	cpu.kernels["convert"] = func(cpu *CPUBackend, args []*tensor.RawTensor, p core.Params) *tensor.RawTensor {
		return cpu.Cast(args[0], p.DType("dtype"))
	}
}

// Full creates a tensor filled with v.
func (cpu *CPUBackend) Full(shape tensor.Shape, dtype tensor.DataType, v float64) *tensor.RawTensor {
	result := cpu.newRaw(shape, dtype, "full")
	if v == 0 {
		return result
	}
	for i := 0; i < result.NumElements(); i++ {
		result.SetAt(i, v)
	}
	return result
}

// Iota creates a tensor whose elements equal their index along axis.
func (cpu *CPUBackend) Iota(shape tensor.Shape, dtype tensor.DataType, axis int) *tensor.RawTensor {
	if axis < 0 || axis >= len(shape) {
		panic(fmt.Sprintf("iota: axis %d out of range for %v", axis, shape))
	}
	result := cpu.newRaw(shape, dtype, "iota")
	forEachIndex(shape, func(flat int, idx []int) {
		result.SetAt(flat, float64(idx[axis]))
	})
	return result
}

// Cast converts the tensor to a different data type.
func (cpu *CPUBackend) Cast(x *tensor.RawTensor, dtype tensor.DataType) *tensor.RawTensor {
	result := cpu.newRaw(x.Shape(), dtype, "convert")
	for i := 0; i < x.NumElements(); i++ {
		result.SetAt(i, x.At(i))
	}
	return result
}
