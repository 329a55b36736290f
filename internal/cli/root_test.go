package cli

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUnknownCommandError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "unknown command error",
			err:  stderrors.New(`unknown command "foo" for "vmctl"`),
			want: true,
		},
		{
			name: "unknown flag error",
			err:  stderrors.New(`unknown flag: --foo`),
			want: true,
		},
		{
			name: "unknown shorthand flag",
			err:  stderrors.New(`unknown shorthand flag: 'z' in -z`),
			want: true,
		},
		{
			name: "other error",
			err:  stderrors.New("connection refused"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUnknownCommandError(tt.err))
		})
	}
}

func TestExtractUnknownCommand(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "standard cobra format",
			err:  stderrors.New(`unknown command "foo" for "vmctl"`),
			want: "foo",
		},
		{
			name: "command with hyphen",
			err:  stderrors.New(`unknown command "start-all" for "vmctl"`),
			want: "start-all",
		},
		{
			name: "no quotes returns empty",
			err:  stderrors.New("unknown command foo"),
			want: "",
		},
		{
			name: "single quote returns empty",
			err:  stderrors.New(`unknown command "foo`),
			want: "",
		},
		{
			name: "flag errors have no command",
			err:  stderrors.New(`unknown flag: --bulk`),
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractUnknownCommand(tt.err))
		})
	}
}

func TestReportError(t *testing.T) {
	t.Run("structured error goes to stderr", func(t *testing.T) {
		setMachineMode(t, false)
		var stdout, stderr bytes.Buffer

		err := errors.New(errors.ErrRemote, "VM web1 not found", "Run 'vmctl list'")
		code := reportError(err, &stdout, &stderr)

		assert.Equal(t, 1, code)
		assert.Empty(t, stdout.String())
		assert.Contains(t, stderr.String(), "VM web1 not found")
		assert.Contains(t, stderr.String(), "Run 'vmctl list'")
	})

	t.Run("already reported prints nothing", func(t *testing.T) {
		setMachineMode(t, false)
		var stdout, stderr bytes.Buffer

		err := fmt.Errorf("start: %w", reportedError{err: stderrors.New("boom")})
		code := reportError(err, &stdout, &stderr)

		assert.Equal(t, 1, code)
		assert.Empty(t, stdout.String())
		assert.Empty(t, stderr.String())
	})

	t.Run("unknown command exits 2", func(t *testing.T) {
		setMachineMode(t, false)
		var stdout, stderr bytes.Buffer

		code := reportError(stderrors.New(`unknown command "lst" for "vmctl"`), &stdout, &stderr)

		assert.Equal(t, 2, code)
		assert.Contains(t, stderr.String(), "'lst' isn't a vmctl command")
		assert.Contains(t, stderr.String(), "vmctl --help")
	})

	t.Run("machine mode writes JSON to stdout", func(t *testing.T) {
		setMachineMode(t, true)
		var stdout, stderr bytes.Buffer

		err := reportedError{err: errors.New(errors.ErrTransport, "Can't reach the control plane", "")}
		code := reportError(err, &stdout, &stderr)

		assert.Equal(t, 1, code)
		assert.Empty(t, stderr.String())

		var env JSONEnvelope
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &env))
		assert.False(t, env.Success)
		require.NotNil(t, env.Error)
		assert.Equal(t, ErrCodeUnreachable, env.Error.Code)
	})
}

func TestRootCommandRegistration(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"list", "stats", "create", "start", "stop", "delete", "monitor", "simulate", "init", "provision", "version", "completion"} {
		assert.True(t, names[want], "missing command %q", want)
	}

	assert.Equal(t, "vmctl", rootCmd.Use)
	for _, flag := range []string{"config", "server", "json", "no-color"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(flag), "missing flag --%s", flag)
	}
}
