package tree

import "reflect"

type seqMeta struct {
	typ reflect.Type
}

type mapMeta struct {
	typ  reflect.Type
	keys []string
}

var anySlice = reflect.TypeOf([]any(nil))

// sliceNode rebuilds slices and arrays. Children that no longer fit the
// original element type (a float leaf replaced by a tensor) produce []any.
var sliceNode = &NodeType{
	Name: "list",
	Unflatten: func(meta any, children []any) any {
		typ := meta.(seqMeta).typ
		if !fits(typ.Elem(), children) {
			return children
		}
		var v reflect.Value
		if typ.Kind() == reflect.Array {
			v = reflect.New(typ).Elem()
		} else {
			v = reflect.MakeSlice(typ, len(children), len(children))
		}
		for i, c := range children {
			setElem(v.Index(i), c)
		}
		return v.Interface()
	},
}

// mapNode rebuilds string-keyed maps with the keys recorded at flatten time.
var mapNode = &NodeType{
	Name: "dict",
	Unflatten: func(meta any, children []any) any {
		mm := meta.(mapMeta)
		typ := mm.typ
		if !fits(typ.Elem(), children) {
			typ = reflect.MapOf(typ.Key(), anySlice.Elem())
		}
		v := reflect.MakeMapWithSize(typ, len(children))
		for i, c := range children {
			elem := reflect.New(typ.Elem()).Elem()
			setElem(elem, c)
			v.SetMapIndex(reflect.ValueOf(mm.keys[i]).Convert(typ.Key()), elem)
		}
		return v.Interface()
	},
}

func fits(elem reflect.Type, children []any) bool {
	for _, c := range children {
		if c == nil {
			continue
		}
		if !reflect.TypeOf(c).AssignableTo(elem) {
			return false
		}
	}
	return true
}

func setElem(dst reflect.Value, c any) {
	if c != nil {
		dst.Set(reflect.ValueOf(c))
	}
}
