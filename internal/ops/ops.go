// Package ops defines the standard primitive vocabulary with its typecheck,
// batching, differentiation and transposition rules, and the user-facing
// helpers that bind it.
package ops

import (
	"fmt"

	"github.com/born-ml/xform/internal/core"
)

// Register adds every primitive of the vocabulary to r.
func Register(r *core.Registry) error {
	for _, op := range vocabulary() {
		if err := r.Register(op); err != nil {
			return fmt.Errorf("ops: %w", err)
		}
	}
	return nil
}

// NewRegistry returns a registry holding the meta operators and the full
// vocabulary.
func NewRegistry() (*core.Registry, error) {
	r := core.NewRegistry()
	if err := Register(r); err != nil {
		return nil, err
	}
	return r, nil
}

func vocabulary() []*core.Operator {
	var all []*core.Operator
	all = append(all, unaryOps()...)
	all = append(all, binaryOps()...)
	all = append(all, reduceOps()...)
	all = append(all, shapeOps()...)
	all = append(all, loadOps()...)
	return all
}

func one(v core.Value) []core.Value {
	return []core.Value{v}
}

// nonlinear panics when a transpose rule sees an input combination that
// cannot occur in a linear program.
func nonlinear(op string) *core.TypeError {
	return &core.TypeError{Op: op, Details: "transpose of a nonlinear use"}
}
