// Package cli implements the xform command-line front end.
package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/born-ml/xform/internal/backend/cpu"
	"github.com/born-ml/xform/internal/config"
	"github.com/born-ml/xform/internal/core"
	"github.com/born-ml/xform/internal/ops"
)

// Version is the CLI version.
const Version = "v0.1.0-dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool

	cfg config.Config
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "xform",
		Short: "xform - program transformations by tracing",
		Long:  "Stage, differentiate, batch and evaluate built-in functions with the tracing engine.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if opts.ConfigPath != "" {
				loaded, err := config.Load(opts.ConfigPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			opts.cfg = cfg
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log trace events to stderr")

	cmd.AddCommand(NewListCommand())
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewEvalCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// newLogger returns a text logger on w at the configured level.
func (o *RootOptions) newLogger(w io.Writer) (*slog.Logger, error) {
	lvl, err := o.cfg.Level()
	if err != nil {
		return nil, err
	}
	if o.Verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// newMachine builds a machine with the standard vocabulary on the CPU
// backend.
func (o *RootOptions) newMachine(cmd *cobra.Command) (*core.Machine, error) {
	logger, err := o.newLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	reg, err := ops.NewRegistry()
	if err != nil {
		return nil, err
	}
	machineOpts, err := o.cfg.MachineOptions(logger)
	if err != nil {
		return nil, err
	}
	m, err := core.New(cpu.New(), reg, machineOpts...)
	if err != nil {
		return nil, fmt.Errorf("create machine: %w", err)
	}
	return m, nil
}

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "xform %s\n", Version)
		},
	}
}
