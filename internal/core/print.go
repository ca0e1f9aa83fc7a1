package core

import (
	"strconv"
	"strings"
)

// String pretty-prints the program, followed by the bodies of any
// sub-programs it calls:
//
//	{ square a:f32[5] .
//	  let b:f32[5] = mul a a
//	  in ( b ) }
func (p *Program) String() string {
	var sb strings.Builder
	seen := map[*Program]bool{p: true}
	queue := []*Program{p}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur != p {
			sb.WriteString("\n")
		}
		writeProgram(&sb, cur)
		for _, inst := range cur.Instructions {
			if inst.Body != nil && !seen[inst.Body] {
				seen[inst.Body] = true
				queue = append(queue, inst.Body)
			}
		}
	}
	return sb.String()
}

type namer map[*Var]string

func (n namer) name(v *Var) string {
	if s, ok := n[v]; ok {
		return s
	}
	s := varName(len(n))
	n[v] = s
	return s
}

func (n namer) atom(a Atom) string {
	switch x := a.(type) {
	case *Var:
		return n.name(x)
	case Lit:
		return strconv.FormatFloat(x.Val.Value, 'g', -1, 64)
	default:
		return "?"
	}
}

func (n namer) binder(v *Var) string {
	return n.name(v) + ":" + v.aval.String()
}

// varName maps 0, 1, ... to a, b, ..., z, aa, ab, ...
func varName(i int) string {
	name := ""
	for {
		name = string(rune('a'+i%26)) + name
		i = i/26 - 1
		if i < 0 {
			return name
		}
	}
}

func writeProgram(sb *strings.Builder, p *Program) {
	n := namer{}
	sb.WriteString("{ ")
	sb.WriteString(p.Name)
	for _, v := range p.In {
		sb.WriteString(" ")
		sb.WriteString(n.binder(v))
	}
	sb.WriteString(" .\n")
	for i, inst := range p.Instructions {
		if i == 0 {
			sb.WriteString("  let ")
		} else {
			sb.WriteString("      ")
		}
		outs := make([]string, len(inst.Outs))
		for j, v := range inst.Outs {
			outs[j] = n.binder(v)
		}
		sb.WriteString(strings.Join(outs, " "))
		sb.WriteString(" = ")
		sb.WriteString(inst.Op.Name)
		sb.WriteString(inst.Params.String())
		for _, a := range inst.Inputs {
			sb.WriteString(" ")
			sb.WriteString(n.atom(a))
		}
		sb.WriteString("\n")
	}
	outs := make([]string, len(p.Outs))
	for i, a := range p.Outs {
		outs[i] = n.atom(a)
	}
	sb.WriteString("  in ( ")
	sb.WriteString(strings.Join(outs, " "))
	sb.WriteString(" ) }\n")
}
