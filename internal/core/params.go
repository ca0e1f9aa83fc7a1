package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/born-ml/xform/internal/tensor"
)

// Params holds the static parameters of an operator application.
// Params are treated as immutable once bound; use With to derive a copy.
type Params map[string]any

// ProgramKey is the parameter under which meta operators carry their body.
const ProgramKey = "program"

// With returns a copy of p with key set to v.
func (p Params) With(key string, v any) Params {
	out := make(Params, len(p)+1)
	for k, val := range p {
		out[k] = val
	}
	out[key] = v
	return out
}

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether key is present.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Ints returns an integer list parameter. Shapes are accepted.
func (p Params) Ints(key string) []int {
	switch v := p[key].(type) {
	case nil:
		return nil
	case []int:
		return v
	case tensor.Shape:
		return []int(v)
	default:
		panic(fmt.Errorf("param %s: want []int, got %T", key, v))
	}
}

// Shape returns a shape parameter.
func (p Params) Shape(key string) tensor.Shape {
	return tensor.Shape(p.Ints(key))
}

// Int returns an integer parameter.
func (p Params) Int(key string) int {
	v, ok := p[key].(int)
	if !ok {
		panic(fmt.Errorf("param %s: want int, got %T", key, p[key]))
	}
	return v
}

// Float returns a float parameter; integers are widened.
func (p Params) Float(key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		panic(fmt.Errorf("param %s: want float64, got %T", key, v))
	}
}

// Bool returns a boolean parameter, false when absent.
func (p Params) Bool(key string) bool {
	v, _ := p[key].(bool)
	return v
}

// DType returns a dtype parameter.
func (p Params) DType(key string) tensor.DataType {
	v, ok := p[key].(tensor.DataType)
	if !ok {
		panic(fmt.Errorf("param %s: want DataType, got %T", key, p[key]))
	}
	return v
}

// Program returns the embedded program of a meta operator, or nil.
func (p Params) Program() *Program {
	prog, _ := p[ProgramKey].(*Program)
	return prog
}

func (p Params) String() string {
	if len(p) == 0 {
		return ""
	}
	parts := make([]string, 0, len(p))
	for _, k := range p.Keys() {
		parts = append(parts, k+"="+formatParam(p[k]))
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func formatParam(v any) string {
	switch x := v.(type) {
	case tensor.Shape:
		return formatInts(x)
	case []int:
		return formatInts(x)
	case tensor.DataType:
		return x.Short()
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case *Program:
		return x.Name
	default:
		return fmt.Sprint(x)
	}
}

func formatInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
