// Package config loads engine settings from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/xform/internal/core"
	"github.com/born-ml/xform/internal/tensor"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config holds the settings of a Machine.
type Config struct {
	Backend        string `yaml:"backend"`
	DefaultDType   string `yaml:"default_dtype"`
	InlineLiterals bool   `yaml:"inline_literals"`
	LogLevel       string `yaml:"log_level"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Backend:        "cpu",
		DefaultDType:   "float32",
		InlineLiterals: true,
		LogLevel:       "warn",
	}
}

// Load reads and validates the YAML file at path. Missing keys keep their
// defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates YAML. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field.
func (c Config) Validate() error {
	if c.Backend != "cpu" {
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend)
	}
	if _, err := c.DType(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// DType returns the default dtype as a DataType.
func (c Config) DType() (tensor.DataType, error) {
	dt, err := tensor.ParseDataType(c.DefaultDType)
	if err != nil {
		return 0, fmt.Errorf("%w: default_dtype: %w", ErrInvalid, err)
	}
	if !dt.IsFloat() {
		return 0, fmt.Errorf("%w: default_dtype %q is not a floating type", ErrInvalid, c.DefaultDType)
	}
	return dt, nil
}

// Level returns the log level.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log_level: %w", ErrInvalid, err)
	}
	return lvl, nil
}

// MachineOptions translates the settings into core options.
func (c Config) MachineOptions(logger *slog.Logger) ([]core.Option, error) {
	dt, err := c.DType()
	if err != nil {
		return nil, err
	}
	opts := []core.Option{
		core.WithDefaultDType(dt),
		core.WithInlineLiterals(c.InlineLiterals),
	}
	if logger != nil {
		opts = append(opts, core.WithLogger(logger))
	}
	return opts, nil
}
