package cli_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/xform/internal/cli"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := cli.NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func assertGolden(t *testing.T, name, got string) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(got))
}

func TestNewRootCommand(t *testing.T) {
	cmd := cli.NewRootCommand()

	assert.Equal(t, "xform", cmd.Use)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("verbose"))

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(t, names, []string{"list", "show", "eval", "version"})
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "xform "+cli.Version+"\n", out)
}

func TestListCommand(t *testing.T) {
	out, err := execute(t, "list")
	require.NoError(t, err)
	assertGolden(t, "list", out)
}

func TestShowCommand(t *testing.T) {
	tests := []struct {
		golden string
		args   []string
	}{
		{"show_sum_squares", []string{"show", "sum_squares"}},
		{"show_sum_squares_jvp", []string{"show", "sum_squares", "--transform", "jvp"}},
		{"show_sum_squares_vmap", []string{"show", "sum_squares", "-t", "vmap", "--batch", "3", "--shape", "5"}},
	}

	for _, tt := range tests {
		t.Run(tt.golden, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			require.NoError(t, err)
			assertGolden(t, tt.golden, out)
		})
	}
}

func TestShowCommand_OtherTransforms(t *testing.T) {
	out, err := execute(t, "show", "norm", "-t", "jit", "--shape", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "{ norm_jit a:f32[4] .")
	assert.Contains(t, out, "jit[program=norm] a")
	assert.Contains(t, out, "call[program=dot] a a")

	out, err = execute(t, "show", "softplus", "-t", "grad")
	require.NoError(t, err)
	assert.Contains(t, out, "{ softplus_grad a:f32[5] .")
	assert.Contains(t, out, "exp")
}

func TestShowCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown function", []string{"show", "nope"}, `unknown function "nope"`},
		{"unknown transform", []string{"show", "norm", "-t", "hessian"}, `unknown transform "hessian"`},
		{"bad batch", []string{"show", "norm", "-t", "vmap", "--batch", "0"}, "--batch must be positive"},
		{"bad shape", []string{"show", "norm", "--shape", "-1"}, "--shape"},
		{"missing arg", []string{"show"}, "accepts 1 arg(s)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEvalCommand(t *testing.T) {
	out, err := execute(t, "eval", "sum_squares", "1", "2", "3")
	require.NoError(t, err)
	assert.Equal(t, "sum_squares(f32[3]) = 14\n", out)

	out, err = execute(t, "eval", "sum_squares", "1", "2", "3", "--grad")
	require.NoError(t, err)
	assert.Equal(t, "sum_squares(f32[3]) = 14\ngrad = [2 4 6]\n", out)

	out, err = execute(t, "eval", "relu_mean", "-2", "2", "4", "--jit")
	require.NoError(t, err)
	assert.Equal(t, "relu_mean(f32[3]) = 2\n", out)
}

func TestEvalCommand_Errors(t *testing.T) {
	_, err := execute(t, "eval", "sum_squares", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "argument 0")

	_, err = execute(t, "eval", "nope", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown function")
}

func TestConfigFlag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xform.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default_dtype: float64\n"), 0o600))

	out, err := execute(t, "--config", path, "eval", "sum_squares", "1", "2")
	require.NoError(t, err)
	assert.Equal(t, "sum_squares(f64[2]) = 5\n", out)

	out, err = execute(t, "-c", path, "show", "sum_squares", "--shape", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "a:f64[2]")

	require.NoError(t, os.WriteFile(path, []byte("default_dtype: int32\n"), 0o600))
	_, err = execute(t, "-c", path, "list")
	require.Error(t, err)
}
