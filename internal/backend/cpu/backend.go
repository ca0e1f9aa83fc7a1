// Package cpu implements the reference CPU backend: one kernel per primitive
// operating on RawTensor values, plus a compiler that lowers programs to
// flat execution plans.
package cpu

import (
	"fmt"

	"github.com/born-ml/xform/internal/core"
	"github.com/born-ml/xform/internal/parallel"
	"github.com/born-ml/xform/internal/tensor"
)

// kernel evaluates one primitive. Kernels panic on misuse; Eval turns those
// panics into errors.
type kernel func(cpu *CPUBackend, args []*tensor.RawTensor, p core.Params) *tensor.RawTensor

// CPUBackend evaluates primitives on RawTensors in host memory.
type CPUBackend struct {
	device  tensor.Device
	kernels map[string]kernel
	par     parallel.Config
}

// New creates a new CPU backend. Element-wise kernels on large tensors are
// split across one goroutine per CPU.
func New() *CPUBackend {
	return NewWithConfig(parallel.DefaultConfig())
}

// NewWithConfig creates a CPU backend with explicit parallelism settings.
func NewWithConfig(par parallel.Config) *CPUBackend {
	cpu := &CPUBackend{
		device:  tensor.CPU,
		kernels: make(map[string]kernel),
		par:     par,
	}
	cpu.registerMath()
	cpu.registerReductions()
	cpu.registerShapeOps()
	cpu.registerCreation()
	return cpu
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "cpu"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// SupportedOps returns the names of the operators with a kernel.
func (cpu *CPUBackend) SupportedOps() []string {
	names := make([]string, 0, len(cpu.kernels))
	for name := range cpu.kernels {
		names = append(names, name)
	}
	return names
}

// Eval runs the kernel of the named operator.
func (cpu *CPUBackend) Eval(op string, args []core.Value, p core.Params) (outs []core.Value, err error) {
	k, ok := cpu.kernels[op]
	if !ok {
		return nil, fmt.Errorf("no kernel for %q", op)
	}
	raws := make([]*tensor.RawTensor, len(args))
	for i, a := range args {
		if raws[i], err = cpu.raw(a); err != nil {
			return nil, fmt.Errorf("%s: argument %d: %w", op, i, err)
		}
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return []core.Value{&Tensor{raw: k(cpu, raws, p)}}, nil
}

// raw extracts the host tensor behind a concrete value.
func (cpu *CPUBackend) raw(v core.Value) (*tensor.RawTensor, error) {
	switch x := v.(type) {
	case *Tensor:
		return x.raw, nil
	case core.Scalar:
		r, err := tensor.NewRaw(tensor.Shape{}, x.DType, cpu.device)
		if err != nil {
			return nil, err
		}
		r.SetAt(0, x.Value)
		return r, nil
	default:
		return nil, fmt.Errorf("value of type %T is not a cpu tensor", v)
	}
}

func (cpu *CPUBackend) newRaw(shape tensor.Shape, dtype tensor.DataType, op string) *tensor.RawTensor {
	r, err := tensor.NewRaw(shape, dtype, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: %v", op, err))
	}
	return r
}
