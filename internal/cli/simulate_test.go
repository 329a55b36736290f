package cli

import (
	"testing"

	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/rileyhilliard/vmctl/internal/logger"
	"github.com/rileyhilliard/vmctl/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVMSpec(t *testing.T) {
	tests := []struct {
		spec    string
		name    string
		running bool
		wantErr string
	}{
		{spec: "web1", name: "web1"},
		{spec: "web1:on", name: "web1", running: true},
		{spec: " web1 : running ", name: "web1", running: true},
		{spec: "db1:off", name: "db1"},
		{spec: "db1:Stopped", name: "db1"},
		{spec: "", wantErr: "isn't a valid VM name"},
		{spec: ":on", wantErr: "isn't a valid VM name"},
		{spec: "a/b", wantErr: "isn't a valid VM name"},
		{spec: "web1:paused", wantErr: "Unknown power state 'paused'"},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			name, running, err := parseVMSpec(tt.spec)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, errors.IsCode(err, errors.ErrValidation))
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.running, running)
		})
	}
}

func TestListenAddrFor(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{url: "http://127.0.0.1:5000", want: "127.0.0.1:5000"},
		{url: "http://hypervisor.lan:8080/", want: "hypervisor.lan:8080"},
		{url: "http://localhost", want: "localhost:80"},
		{url: "https://vms.example.com", want: "vms.example.com:443"},
		{url: "http://[::1]:5000", want: "[::1]:5000"},
		{url: "", want: "127.0.0.1:5000"},
		{url: "::not a url", want: "127.0.0.1:5000"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, listenAddrFor(tt.url))
		})
	}
}

func TestNewSimulator(t *testing.T) {
	sim, err := newSimulator(SimulateFlags{VMs: []string{"web1:on", "db1"}, Seed: 5}, logger.Noop(), metrics.New())
	require.NoError(t, err)

	vms := sim.VMs()
	require.Len(t, vms, 2)
	states := map[string]bool{}
	for _, vm := range vms {
		states[vm.Name] = vm.Running
	}
	assert.Equal(t, map[string]bool{"web1": true, "db1": false}, states)
}

func TestNewSimulator_Errors(t *testing.T) {
	_, err := newSimulator(SimulateFlags{VMs: []string{"web1", "web1:on"}}, logger.Noop(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Can't seed VM 'web1'")

	_, err = newSimulator(SimulateFlags{VMs: []string{"web1:maybe"}}, logger.Noop(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrValidation))
}

func TestSimulateFlagsDefaults(t *testing.T) {
	f := simulateCmd.Flags().Lookup("vms")
	require.NotNil(t, f)
	assert.Equal(t, "[web1:on,web2:on,db1]", f.DefValue)
	assert.NotNil(t, simulateCmd.Flags().Lookup("listen"))
	assert.NotNil(t, simulateCmd.Flags().Lookup("seed"))
	assert.NotNil(t, simulateCmd.Flags().Lookup("numeric-strings"))
}
