package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/born-ml/xform/internal/backend/cpu"
	"github.com/born-ml/xform/internal/core"
	"github.com/born-ml/xform/internal/tensor"
)

// EvalOptions holds the flags of the eval command.
type EvalOptions struct {
	Grad bool
	Jit  bool
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvalOptions{}

	cmd := &cobra.Command{
		Use:   "eval <function> <x0> [x1 ...]",
		Short: "Evaluate a built-in function on a vector",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(rootOpts, opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Grad, "grad", false, "also print the gradient")
	cmd.Flags().BoolVar(&opts.Jit, "jit", false, "compile with the backend before evaluating")

	return cmd
}

func runEval(rootOpts *RootOptions, opts *EvalOptions, name string, raw []string, cmd *cobra.Command) error {
	d, err := lookupDemo(name)
	if err != nil {
		return err
	}
	m, err := rootOpts.newMachine(cmd)
	if err != nil {
		return err
	}
	x, err := parseVector(raw, m.DefaultDType())
	if err != nil {
		return err
	}
	f := d.fn(m)
	if opts.Jit {
		f = m.Jit(f, core.Named(name))
	}

	out := cmd.OutOrStdout()
	if opts.Grad {
		res, err := m.Call(m.Grad(f, core.WithValue()), x)
		if err != nil {
			return fmt.Errorf("eval %s: %w", name, err)
		}
		pair := res.([]any)
		fmt.Fprintf(out, "%s(%s) = %s\n", name, x.Aval(), formatValue(pair[0]))
		fmt.Fprintf(out, "grad = %s\n", formatValue(pair[1]))
		return nil
	}
	y, err := m.Call(f, x)
	if err != nil {
		return fmt.Errorf("eval %s: %w", name, err)
	}
	fmt.Fprintf(out, "%s(%s) = %s\n", name, x.Aval(), formatValue(y))
	return nil
}

func parseVector(raw []string, dtype tensor.DataType) (*cpu.Tensor, error) {
	data := make([]float64, len(raw))
	for i, s := range raw {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		data[i] = v
	}
	if dtype == tensor.Float64 {
		return cpu.FromFloat64(data, len(data))
	}
	f32 := make([]float32, len(data))
	for i, v := range data {
		f32[i] = float32(v)
	}
	return cpu.FromFloat32(f32, len(f32))
}

func formatValue(v any) string {
	switch x := v.(type) {
	case *cpu.Tensor:
		if x.Aval().Rank() == 0 {
			return strconv.FormatFloat(x.Item(), 'g', 6, 64)
		}
		vals := x.Float64s()
		s := "["
		for i, f := range vals {
			if i > 0 {
				s += " "
			}
			s += strconv.FormatFloat(f, 'g', 6, 64)
		}
		return s + "]"
	case core.Scalar:
		return strconv.FormatFloat(x.Value, 'g', 6, 64)
	default:
		return fmt.Sprint(v)
	}
}
