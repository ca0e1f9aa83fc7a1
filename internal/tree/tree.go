// Package tree flattens nested argument structures into ordered leaf lists
// and rebuilds them, so transformations can operate on flat value sequences.
//
// Slices, arrays and string-keyed maps are containers by default. Other types
// become containers once registered with a flatten/unflatten pair; anything
// else is a leaf.
package tree

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ErrMismatch reports that two structures that should agree do not.
var ErrMismatch = errors.New("tree structure mismatch")

// FlattenFunc splits a container into metadata and ordered children.
type FlattenFunc func(x any) (meta any, children []any)

// UnflattenFunc rebuilds a container from metadata and children.
type UnflattenFunc func(meta any, children []any) any

// NodeType describes one registered container type.
type NodeType struct {
	Name      string
	Flatten   FlattenFunc
	Unflatten UnflattenFunc
}

// Registry maps Go types to container node types.
type Registry struct {
	nodes map[reflect.Type]*NodeType
}

// NewRegistry returns a registry with no user types; slices, arrays and maps
// are handled without registration.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[reflect.Type]*NodeType)}
}

// Register adds a container type. sample is any value of the type.
func (r *Registry) Register(sample any, name string, flatten FlattenFunc, unflatten UnflattenFunc) {
	r.nodes[reflect.TypeOf(sample)] = &NodeType{Name: name, Flatten: flatten, Unflatten: unflatten}
}

// RegisterType is the typed form of Registry.Register.
func RegisterType[T any](r *Registry, name string, flatten func(T) (any, []any), unflatten func(meta any, children []any) T) {
	var zero T
	r.Register(zero, name, func(x any) (any, []any) {
		return flatten(x.(T))
	}, func(meta any, children []any) any {
		return unflatten(meta, children)
	})
}

// Def is the structure of a flattened value with its leaves removed.
type Def struct {
	node      *NodeType // nil for a leaf
	meta      any
	children  []*Def
	numLeaves int
}

// NumLeaves returns how many leaves the structure holds.
func (d *Def) NumLeaves() int {
	return d.numLeaves
}

// IsLeaf reports whether d is a single leaf.
func (d *Def) IsLeaf() bool {
	return d.node == nil
}

// Children returns the sub-structures of a container.
func (d *Def) Children() []*Def {
	return d.children
}

// Equal reports structural equality: same node types, metadata and arity.
func (d *Def) Equal(o *Def) bool {
	if d == nil || o == nil {
		return d == o
	}
	if d.IsLeaf() || o.IsLeaf() {
		return d.IsLeaf() && o.IsLeaf()
	}
	if d.node.Name != o.node.Name || len(d.children) != len(o.children) {
		return false
	}
	if !equalMeta(d.meta, o.meta) {
		return false
	}
	for i := range d.children {
		if !d.children[i].Equal(o.children[i]) {
			return false
		}
	}
	return true
}

// equalMeta ignores element types of built-in containers so that, say, a
// []float64 of primals matches a []any of tangents.
func equalMeta(a, b any) bool {
	switch am := a.(type) {
	case seqMeta:
		_, ok := b.(seqMeta)
		return ok
	case mapMeta:
		bm, ok := b.(mapMeta)
		return ok && reflect.DeepEqual(am.keys, bm.keys)
	default:
		return reflect.DeepEqual(a, b)
	}
}

// String renders the structure as an s-expression, e.g. (list * (dict[a b] * *)).
func (d *Def) String() string {
	var sb strings.Builder
	d.write(&sb)
	return sb.String()
}

func (d *Def) write(sb *strings.Builder) {
	if d.IsLeaf() {
		sb.WriteByte('*')
		return
	}
	sb.WriteByte('(')
	sb.WriteString(d.node.Name)
	if keys, ok := d.meta.(mapMeta); ok {
		sb.WriteByte('[')
		sb.WriteString(strings.Join(keys.keys, " "))
		sb.WriteByte(']')
	}
	for _, c := range d.children {
		sb.WriteByte(' ')
		c.write(sb)
	}
	sb.WriteByte(')')
}

// Flatten returns the leaves of x in depth-first order and its structure.
func (r *Registry) Flatten(x any) ([]any, *Def) {
	var leaves []any
	def := r.flatten(x, &leaves)
	return leaves, def
}

func (r *Registry) flatten(x any, leaves *[]any) *Def {
	node, meta, children := r.split(x)
	if node == nil {
		*leaves = append(*leaves, x)
		return &Def{numLeaves: 1}
	}
	def := &Def{node: node, meta: meta, children: make([]*Def, len(children))}
	for i, c := range children {
		def.children[i] = r.flatten(c, leaves)
		def.numLeaves += def.children[i].numLeaves
	}
	return def
}

// Unflatten rebuilds a value of structure def from leaves.
func (r *Registry) Unflatten(def *Def, leaves []any) (any, error) {
	if len(leaves) != def.numLeaves {
		return nil, fmt.Errorf("%w: structure %s needs %d leaves, got %d", ErrMismatch, def, def.numLeaves, len(leaves))
	}
	out, _ := unflatten(def, leaves)
	return out, nil
}

func unflatten(def *Def, leaves []any) (any, []any) {
	if def.IsLeaf() {
		return leaves[0], leaves[1:]
	}
	children := make([]any, len(def.children))
	for i, c := range def.children {
		children[i], leaves = unflatten(c, leaves)
	}
	return def.node.Unflatten(def.meta, children), leaves
}

// Map applies f to every leaf of x and rebuilds the structure.
func (r *Registry) Map(f func(any) any, x any) any {
	leaves, def := r.Flatten(x)
	for i, l := range leaves {
		leaves[i] = f(l)
	}
	out, _ := unflatten(def, leaves)
	return out
}

// Leaves is a convenience returning only the leaves of x.
func (r *Registry) Leaves(x any) []any {
	leaves, _ := r.Flatten(x)
	return leaves
}

func (r *Registry) split(x any) (*NodeType, any, []any) {
	if x == nil {
		return nil, nil, nil
	}
	t := reflect.TypeOf(x)
	if node, ok := r.nodes[t]; ok {
		meta, children := node.Flatten(x)
		return node, meta, children
	}
	v := reflect.ValueOf(x)
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		children := make([]any, v.Len())
		for i := range children {
			children[i] = v.Index(i).Interface()
		}
		return sliceNode, seqMeta{typ: t}, children
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, nil, nil
		}
		keys := make([]string, 0, v.Len())
		for _, k := range v.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		children := make([]any, len(keys))
		for i, k := range keys {
			children[i] = v.MapIndex(reflect.ValueOf(k).Convert(t.Key())).Interface()
		}
		return mapNode, mapMeta{typ: t, keys: keys}, children
	default:
		return nil, nil, nil
	}
}
