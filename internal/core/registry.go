package core

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Names of the meta operators every registry carries.
const (
	JitOp  = "jit"
	CallOp = "call"
)

// requiredOps are the primitives the engine itself binds: zeros for tangents
// and cotangents, cotangent accumulation, and batch-axis movement.
var requiredOps = []string{"full", "add", "broadcast_in_dim", "transpose", "reshape"}

// Registry maps operator names to operators.
type Registry struct {
	ops map[string]*Operator
}

// NewRegistry creates a registry holding the jit and call meta operators.
func NewRegistry() *Registry {
	r := &Registry{ops: make(map[string]*Operator)}
	r.mustRegister(newMetaOperator(JitOp, evalJit))
	r.mustRegister(newMetaOperator(CallOp, evalCall))
	return r
}

func canonicalName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// Register adds an operator under its NFC-normalized name, which must be
// unique. op itself is never modified: an operator whose Name is not
// canonical is stored as a renamed copy.
func (r *Registry) Register(op *Operator) error {
	name := canonicalName(op.Name)
	if name == "" {
		return fmt.Errorf("register operator: empty name")
	}
	if _, dup := r.ops[name]; dup {
		return fmt.Errorf("register operator %q: already registered", name)
	}
	if op.Rules.Typecheck == nil {
		return fmt.Errorf("register operator %q: %w", name, &UnsupportedError{Op: name, Rule: "typecheck"})
	}
	if op.Name != name {
		renamed := *op
		renamed.Name = name
		op = &renamed
	}
	r.ops[name] = op
	return nil
}

func (r *Registry) mustRegister(op *Operator) {
	if err := r.Register(op); err != nil {
		panic(err)
	}
}

// Get returns the operator registered under name.
func (r *Registry) Get(name string) (*Operator, bool) {
	op, ok := r.ops[canonicalName(name)]
	return op, ok
}

// Names returns the registered operator names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) validate() error {
	var missing []string
	for _, name := range requiredOps {
		if _, ok := r.ops[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("registry is missing required operators %v: %w", missing, ErrUnsupported)
	}
	return nil
}
