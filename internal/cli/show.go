package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/born-ml/xform/internal/core"
	"github.com/born-ml/xform/internal/tensor"
)

// Transforms accepted by show --transform.
var Transforms = []string{"none", "jit", "jvp", "vmap", "grad"}

// ShowOptions holds the flags of the show command.
type ShowOptions struct {
	Transform string
	Shape     []int
	Batch     int
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{}

	cmd := &cobra.Command{
		Use:   "show <function>",
		Short: "Stage a built-in function and print its program",
		Long: `Stage a built-in function over an abstract argument and print the
resulting program, optionally after applying a transformation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Transform, "transform", "t", "none", fmt.Sprintf("transformation to stage %v", Transforms))
	cmd.Flags().IntSliceVar(&opts.Shape, "shape", []int{5}, "argument shape")
	cmd.Flags().IntVar(&opts.Batch, "batch", 3, "batch size for --transform vmap")

	return cmd
}

func runShow(rootOpts *RootOptions, opts *ShowOptions, name string, cmd *cobra.Command) error {
	d, err := lookupDemo(name)
	if err != nil {
		return err
	}
	m, err := rootOpts.newMachine(cmd)
	if err != nil {
		return err
	}
	aval := tensor.AbstractValue{Shape: tensor.Shape(opts.Shape), DType: m.DefaultDType()}
	if err := aval.Shape.Validate(); err != nil {
		return fmt.Errorf("--shape: %w", err)
	}
	f := d.fn(m)

	var staged core.Fn
	args := []any{aval}
	switch opts.Transform {
	case "none":
		staged = f
	case "jit":
		staged = m.Jit(f, core.Named(name))
	case "grad":
		staged = m.Grad(f)
	case "vmap":
		if opts.Batch <= 0 {
			return fmt.Errorf("--batch must be positive, got %d", opts.Batch)
		}
		staged = m.Vmap(f)
		args[0] = tensor.AbstractValue{Shape: append(tensor.Shape{opts.Batch}, aval.Shape...), DType: aval.DType}
	case "jvp":
		staged = func(xs ...any) any {
			out, tan, err := m.Jvp(f, xs[:1], xs[1:])
			if err != nil {
				panic(err)
			}
			return []any{out, tan}
		}
		args = append(args, aval)
	default:
		return fmt.Errorf("unknown transform %q: must be one of %v", opts.Transform, Transforms)
	}

	progName := name
	if opts.Transform != "none" {
		progName = name + "_" + opts.Transform
	}
	p, _, _, err := m.MakeProgram(staged, args, core.Named(progName))
	if err != nil {
		return fmt.Errorf("stage %s: %w", name, err)
	}
	fmt.Fprint(cmd.OutOrStdout(), p.String())
	return nil
}
