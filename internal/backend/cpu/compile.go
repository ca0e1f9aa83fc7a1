package cpu

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/born-ml/xform/internal/core"
)

// Plan is a program lowered to slot-addressed steps.
type Plan struct {
	Name     string
	NumSlots int
	Inputs   []int
	Steps    []Step
	Outputs  []Operand
}

// Operand is a slot reference or an inlined literal.
type Operand struct {
	Slot int
	Lit  *core.Scalar
}

// Step is one kernel launch, or a nested plan for call instructions.
type Step struct {
	Op     string
	Params core.Params
	Args   []Operand
	Outs   []int
	Sub    *Plan
}

// Codegen lowers p to a Plan.
func (cpu *CPUBackend) Codegen(p *core.Program, args []core.Value) (any, error) {
	if len(args) != len(p.In) {
		return nil, fmt.Errorf("codegen %s: %d arguments for %d inputs", p.Name, len(args), len(p.In))
	}
	return cpu.lower(p)
}

func (cpu *CPUBackend) lower(p *core.Program) (*Plan, error) {
	plan := &Plan{Name: p.Name}
	slots := make(map[*core.Var]int)
	alloc := func(v *core.Var) int {
		slots[v] = plan.NumSlots
		plan.NumSlots++
		return slots[v]
	}
	operand := func(a core.Atom) (Operand, error) {
		switch x := a.(type) {
		case core.Lit:
			lit := x.Val
			return Operand{Slot: -1, Lit: &lit}, nil
		case *core.Var:
			s, ok := slots[x]
			if !ok {
				return Operand{}, fmt.Errorf("lower %s: unbound variable", p.Name)
			}
			return Operand{Slot: s}, nil
		default:
			return Operand{}, fmt.Errorf("lower %s: unknown atom %T", p.Name, a)
		}
	}

	for _, v := range p.In {
		plan.Inputs = append(plan.Inputs, alloc(v))
	}
	for _, inst := range p.Instructions {
		step := Step{Op: inst.Op.Name, Params: inst.Params}
		if inst.IsCall() {
			sub, err := cpu.lower(inst.Body)
			if err != nil {
				return nil, err
			}
			step.Sub = sub
		} else if _, ok := cpu.kernels[inst.Op.Name]; !ok {
			return nil, fmt.Errorf("lower %s: no kernel for %q", p.Name, inst.Op.Name)
		}
		for _, a := range inst.Inputs {
			o, err := operand(a)
			if err != nil {
				return nil, err
			}
			step.Args = append(step.Args, o)
		}
		for _, v := range inst.Outs {
			step.Outs = append(step.Outs, alloc(v))
		}
		plan.Steps = append(plan.Steps, step)
	}
	for _, a := range p.Outs {
		o, err := operand(a)
		if err != nil {
			return nil, err
		}
		plan.Outputs = append(plan.Outputs, o)
	}
	return plan, nil
}

// Compile wraps a Plan produced by Codegen into an Executable.
func (cpu *CPUBackend) Compile(lowered any) (core.Executable, error) {
	plan, ok := lowered.(*Plan)
	if !ok {
		return nil, fmt.Errorf("compile: expected *cpu.Plan, got %T", lowered)
	}
	return &Executable{cpu: cpu, plan: plan}, nil
}

// Executable runs a Plan on the CPU backend.
type Executable struct {
	cpu  *CPUBackend
	plan *Plan
}

// Plan returns the compiled plan.
func (e *Executable) Plan() *Plan {
	return e.plan
}

// Run executes the plan.
func (e *Executable) Run(args []core.Value) ([]core.Value, error) {
	return e.cpu.run(e.plan, args)
}

func (cpu *CPUBackend) run(plan *Plan, args []core.Value) ([]core.Value, error) {
	if len(args) != len(plan.Inputs) {
		return nil, fmt.Errorf("run %s: %d arguments for %d inputs", plan.Name, len(args), len(plan.Inputs))
	}
	slots := make([]core.Value, plan.NumSlots)
	for i, s := range plan.Inputs {
		slots[s] = args[i]
	}
	read := func(o Operand) core.Value {
		if o.Lit != nil {
			return *o.Lit
		}
		return slots[o.Slot]
	}
	for _, step := range plan.Steps {
		in := make([]core.Value, len(step.Args))
		for i, o := range step.Args {
			in[i] = read(o)
		}
		var outs []core.Value
		var err error
		if step.Sub != nil {
			outs, err = cpu.run(step.Sub, in)
		} else {
			outs, err = cpu.Eval(step.Op, in, step.Params)
		}
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", plan.Name, err)
		}
		for i, s := range step.Outs {
			slots[s] = outs[i]
		}
	}
	outs := make([]core.Value, len(plan.Outputs))
	for i, o := range plan.Outputs {
		outs[i] = read(o)
	}
	return outs, nil
}

// String renders the plan, one step per line, with nested plans indented.
func (plan *Plan) String() string {
	var sb strings.Builder
	plan.write(&sb, "")
	return sb.String()
}

func (plan *Plan) write(sb *strings.Builder, indent string) {
	fmt.Fprintf(sb, "%splan %s (%d inputs, %d slots)\n", indent, plan.Name, len(plan.Inputs), plan.NumSlots)
	for _, step := range plan.Steps {
		outs := make([]string, len(step.Outs))
		for i, s := range step.Outs {
			outs[i] = "%" + strconv.Itoa(s)
		}
		fmt.Fprintf(sb, "%s  %s = %s%s", indent, strings.Join(outs, " "), step.Op, step.Params.String())
		for _, a := range step.Args {
			sb.WriteString(" " + a.String())
		}
		sb.WriteString("\n")
		if step.Sub != nil {
			step.Sub.write(sb, indent+"    ")
		}
	}
	outs := make([]string, len(plan.Outputs))
	for i, o := range plan.Outputs {
		outs[i] = o.String()
	}
	fmt.Fprintf(sb, "%s  out %s\n", indent, strings.Join(outs, " "))
}

func (o Operand) String() string {
	if o.Lit != nil {
		return strconv.FormatFloat(o.Lit.Value, 'g', -1, 64)
	}
	return "%" + strconv.Itoa(o.Slot)
}
