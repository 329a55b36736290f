package sshutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSSHConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestResolve_Alias(t *testing.T) {
	path := writeSSHConfig(t, `
Host hadoop*
    User hduser
    IdentityFile ~/.ssh/hadoop_key

Host hadoop1
    HostName 192.168.122.11
    Port 2222
`)
	t.Setenv("HOME", "/home/tester")

	s := Resolve("hadoop1", Options{ConfigPath: path, User: "fallback", Port: 22})
	assert.Equal(t, "hadoop1", s.Alias)
	assert.Equal(t, "192.168.122.11", s.Hostname)
	assert.Equal(t, "2222", s.Port)
	assert.Equal(t, "hduser", s.User)
	assert.Equal(t, "/home/tester/.ssh/hadoop_key", s.IdentityFile)
	assert.Equal(t, "192.168.122.11:2222", s.Address())
}

func TestResolve_NoEntryKeepsDefaults(t *testing.T) {
	path := writeSSHConfig(t, "Host other\n    HostName 10.0.0.1\n")

	s := Resolve("web1", Options{ConfigPath: path, User: "ubuntu", Port: 2200})
	assert.Equal(t, "web1", s.Hostname)
	assert.Equal(t, "2200", s.Port)
	assert.Equal(t, "ubuntu", s.User)
	assert.Equal(t, "web1:2200", s.Address())
}

func TestResolve_MissingConfigFile(t *testing.T) {
	t.Setenv("USER", "alice")

	s := Resolve("10.0.0.9", Options{ConfigPath: filepath.Join(t.TempDir(), "nope")})
	assert.Equal(t, "10.0.0.9", s.Hostname)
	assert.Equal(t, "22", s.Port)
	assert.Equal(t, "alice", s.User)
}

func TestResolve_ExplicitIdentityWins(t *testing.T) {
	path := writeSSHConfig(t, "Host web1\n    IdentityFile /keys/from_config\n")

	s := Resolve("web1", Options{ConfigPath: path, IdentityFile: "/keys/explicit"})
	assert.Equal(t, "/keys/explicit", s.IdentityFile)
}

func TestResolve_StopsAtMatchBlock(t *testing.T) {
	path := writeSSHConfig(t, `Host web1
    HostName 10.1.1.1

Match host web1 exec "true"
    Port 9999
`)

	s := Resolve("web1", Options{ConfigPath: path})
	assert.Equal(t, "10.1.1.1", s.Hostname)
	assert.Equal(t, "22", s.Port)
	assert.Equal(t, 4, s.MatchLine)
}
