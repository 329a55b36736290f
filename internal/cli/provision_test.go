package cli

import (
	"bytes"
	"context"
	stderrors "errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rileyhilliard/vmctl/internal/config"
	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/rileyhilliard/vmctl/pkg/sshutil/sshtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// provisionConfig points every VM at srv.
func provisionConfig(t *testing.T, srv *sshtest.Server, commands ...string) config.ProvisionConfig {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SSH_AUTH_SOCK", "")

	pc := config.DefaultConfig().Provision
	pc.Host = srv.Host
	pc.Port = srv.Port
	pc.User = srv.User
	pc.Password = "secret"
	pc.SSHConfig = filepath.Join(t.TempDir(), "no_config")
	pc.KnownHosts = filepath.Join(t.TempDir(), "known_hosts")
	pc.Commands = commands
	pc.RetryDelay = 5 * time.Millisecond
	pc.ConnectTimeout = 2 * time.Second
	return pc
}

func TestRunProvision(t *testing.T) {
	setMachineMode(t, false)
	_, client := startSim(t, "hadoop1:on", "hadoop2:on", "web1:on")
	srv := sshtest.Start(t, sshtest.Options{})
	pc := provisionConfig(t, srv, "java -version", "hadoop version")

	var out, errOut bytes.Buffer
	err := runProvision(context.Background(), client, "hadoop", 2, pc, nil, &out, &errOut)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Provisioning 2 VMs (2 commands)...")
	assert.Contains(t, out.String(), "✓ hadoop1")
	assert.Contains(t, out.String(), "✓ hadoop2")
	assert.NotContains(t, out.String(), "web1")
	assert.Len(t, srv.Commands(), 4)
	assert.Empty(t, errOut.String())
}

func TestRunProvision_RetryIsReported(t *testing.T) {
	setMachineMode(t, false)
	_, client := startSim(t, "hadoop1:on")
	srv := sshtest.Start(t, sshtest.Options{DropFirst: 1})
	pc := provisionConfig(t, srv, "true")

	var out, errOut bytes.Buffer
	require.NoError(t, runProvision(context.Background(), client, "hadoop", 1, pc, nil, &out, &errOut))

	assert.Contains(t, errOut.String(), "hadoop1 attempt 1/5 failed")
	assert.Contains(t, out.String(), "✓ hadoop1")
	assert.Contains(t, out.String(), "2 attempts")
}

func TestRunProvision_SkipsStoppedAndMissingVMs(t *testing.T) {
	setMachineMode(t, false)
	_, client := startSim(t, "hadoop1:on", "hadoop2")
	srv := sshtest.Start(t, sshtest.Options{})
	pc := provisionConfig(t, srv, "true")

	var out, errOut bytes.Buffer
	err := runProvision(context.Background(), client, "hadoop", 3, pc, nil, &out, &errOut)
	require.Error(t, err)

	var reported reportedError
	assert.True(t, stderrors.As(err, &reported), "per-VM lines are already printed")
	assert.True(t, errors.IsCode(err, errors.ErrRemote))

	text := out.String()
	assert.Contains(t, text, "✓ hadoop1")
	assert.Contains(t, text, "✗ hadoop2 VM hadoop2 is not running")
	assert.Contains(t, text, "✗ hadoop3 VM hadoop3 not found")
	assert.Contains(t, text, "2 of 3 VMs failed to provision: hadoop2, hadoop3")
	assert.Equal(t, []string{"true"}, srv.Commands(), "only the running VM is contacted")
}

func TestRunProvision_JSON(t *testing.T) {
	setMachineMode(t, true)
	_, client := startSim(t, "db1:on")
	srv := sshtest.Start(t, sshtest.Options{})
	pc := provisionConfig(t, srv, "uptime")

	var out, errOut bytes.Buffer
	require.NoError(t, runProvision(context.Background(), client, "db", 1, pc, nil, &out, &errOut))

	var got provisionJSON
	decodeData(t, out.Bytes(), &got)
	assert.Equal(t, 1, got.Commands)
	assert.Equal(t, []provisionVMJSON{{VM: "db1", Host: srv.Host, Attempts: 1, Completed: 1}}, got.VMs)
}

func TestRunProvision_JSONFailureIsAnError(t *testing.T) {
	setMachineMode(t, true)
	_, client := startSim(t, "db1:on")
	srv := sshtest.Start(t, sshtest.Options{
		Handler: func(string) (string, int) { return "boom\n", 2 },
	})
	pc := provisionConfig(t, srv, "make install")
	pc.Attempts = 1

	var out, errOut bytes.Buffer
	err := runProvision(context.Background(), client, "db", 1, pc, nil, &out, &errOut)
	require.Error(t, err)
	assert.Empty(t, out.String(), "the error envelope is written by the caller")
	assert.Contains(t, errors.Short(err), "1 of 1 VM failed to provision: db1")
}

func TestRunProvision_RosterUnavailable(t *testing.T) {
	setMachineMode(t, false)
	srv := sshtest.Start(t, sshtest.Options{})
	pc := provisionConfig(t, srv)

	var out, errOut bytes.Buffer
	err := runProvision(context.Background(), deadClient(t), "web", 1, pc, nil, &out, &errOut)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrTransport))
	assert.Equal(t, 0, srv.Connections())
}

func TestRunProvision_InvalidBaseName(t *testing.T) {
	_, client := startSim(t)
	err := runProvision(context.Background(), client, "a b", 1, config.DefaultConfig().Provision, nil, &bytes.Buffer{}, &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrValidation))
}

func TestProvisionFlags_Apply(t *testing.T) {
	base := config.DefaultConfig().Provision

	pc, err := ProvisionFlags{
		Host:          "10.0.0.{n}",
		User:          "hduser",
		Commands:      []string{"whoami"},
		Attempts:      2,
		RetryDelay:    "250ms",
		Parallel:      8,
		HostKeyPolicy: "strict",
	}.Apply(base)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.{n}", pc.Host)
	assert.Equal(t, "hduser", pc.User)
	assert.Equal(t, []string{"whoami"}, pc.Commands)
	assert.Equal(t, 2, pc.Attempts)
	assert.Equal(t, 250*time.Millisecond, pc.RetryDelay)
	assert.Equal(t, 8, pc.Parallel)
	assert.Equal(t, config.HostKeyStrict, pc.HostKeyPolicy)
	assert.Equal(t, base.Port, pc.Port, "unset flags keep the config value")

	_, err = ProvisionFlags{RetryDelay: "soon"}.Apply(base)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'soon' doesn't look like a valid delay")

	_, err = ProvisionFlags{HostKeyPolicy: "trust-me"}.Apply(base)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}
