package cpu

import (
	"fmt"

	"github.com/born-ml/xform/internal/tensor"
)

// Tensor is the concrete value handle of the CPU backend.
type Tensor struct {
	raw *tensor.RawTensor
}

// Wrap exposes a RawTensor as a value.
func Wrap(raw *tensor.RawTensor) *Tensor {
	return &Tensor{raw: raw}
}

// FromFloat32 creates a float32 tensor from data.
func FromFloat32(data []float32, shape ...int) (*Tensor, error) {
	raw, err := tensor.FromFloat32(data, tensor.Shape(shape))
	if err != nil {
		return nil, err
	}
	return Wrap(raw), nil
}

// FromFloat64 creates a float64 tensor from data.
func FromFloat64(data []float64, shape ...int) (*Tensor, error) {
	raw, err := tensor.FromFloat64(data, tensor.Shape(shape))
	if err != nil {
		return nil, err
	}
	return Wrap(raw), nil
}

// MustFromFloat32 is FromFloat32 that panics on error.
func MustFromFloat32(data []float32, shape ...int) *Tensor {
	t, err := FromFloat32(data, shape...)
	if err != nil {
		panic(err)
	}
	return t
}

// Full creates a tensor of the given shape filled with v.
func Full(shape tensor.Shape, dtype tensor.DataType, v float64) (*Tensor, error) {
	raw, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	if err != nil {
		return nil, err
	}
	for i := 0; i < raw.NumElements(); i++ {
		raw.SetAt(i, v)
	}
	return Wrap(raw), nil
}

// Aval implements core.Value.
func (t *Tensor) Aval() tensor.AbstractValue {
	return t.raw.Aval()
}

// Raw returns the underlying storage.
func (t *Tensor) Raw() *tensor.RawTensor {
	return t.raw
}

// Float64s returns a copy of the elements as float64.
func (t *Tensor) Float64s() []float64 {
	return t.raw.Float64s()
}

// Item returns the single element of a one-element tensor.
func (t *Tensor) Item() float64 {
	if t.raw.NumElements() != 1 {
		panic(fmt.Sprintf("item: tensor has %d elements", t.raw.NumElements()))
	}
	return t.raw.At(0)
}

func (t *Tensor) String() string {
	return fmt.Sprintf("%s%v", t.raw.Aval(), t.raw.Float64s())
}
