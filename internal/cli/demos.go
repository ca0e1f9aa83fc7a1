package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/born-ml/xform/internal/core"
	"github.com/born-ml/xform/internal/ops"
)

// demo is a built-in scalar-valued function of one vector.
type demo struct {
	help string
	fn   func(m *core.Machine) core.Fn
}

var demos = map[string]demo{
	"sum_squares": {
		help: "sum(x * x)",
		fn: func(m *core.Machine) core.Fn {
			return func(args ...any) any {
				x := args[0]
				return ops.Sum(m, ops.Mul(m, x, x), nil, false)
			}
		},
	},
	"softplus": {
		help: "sum(log(1 + exp(x)))",
		fn: func(m *core.Machine) core.Fn {
			return func(args ...any) any {
				return ops.Sum(m, ops.Log(m, ops.Add(m, 1.0, ops.Exp(m, args[0]))), nil, false)
			}
		},
	},
	"sin_cos": {
		help: "sum(sin(x) * cos(x))",
		fn: func(m *core.Machine) core.Fn {
			return func(args ...any) any {
				x := args[0]
				return ops.Sum(m, ops.Mul(m, ops.Sin(m, x), ops.Cos(m, x)), nil, false)
			}
		},
	},
	"relu_mean": {
		help: "mean(maximum(x, 0))",
		fn: func(m *core.Machine) core.Fn {
			return func(args ...any) any {
				return ops.Mean(m, ops.Maximum(m, args[0], 0.0), nil, false)
			}
		},
	},
	"norm": {
		help: "sqrt(dot(x, x))",
		fn: func(m *core.Machine) core.Fn {
			return func(args ...any) any {
				return ops.Sqrt(m, ops.Dot(m, args[0], args[0]))
			}
		},
	},
}

func lookupDemo(name string) (demo, error) {
	d, ok := demos[name]
	if !ok {
		return demo{}, fmt.Errorf("unknown function %q (see xform list)", name)
	}
	return d, nil
}

func demoNames() []string {
	names := make([]string, 0, len(demos))
	for name := range demos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the built-in functions",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			var sb strings.Builder
			for _, name := range demoNames() {
				fmt.Fprintf(&sb, "%-12s %s\n", name, demos[name].help)
			}
			fmt.Fprint(cmd.OutOrStdout(), sb.String())
		},
	}
}
