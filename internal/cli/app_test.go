package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rileyhilliard/vmctl/internal/config"
	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/rileyhilliard/vmctl/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withGlobalFlags sets --config and --server for one test.
func withGlobalFlags(t *testing.T, config, server string) {
	t.Helper()
	oldConfig, oldServer := cfgFile, serverFlag
	cfgFile, serverFlag = config, server
	t.Cleanup(func() { cfgFile, serverFlag = oldConfig, oldServer })
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), config.ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("reads the file", func(t *testing.T) {
		withGlobalFlags(t, writeConfig(t, "control_plane:\n  url: http://hv.lan:5000\n"), "")

		cfg, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, "http://hv.lan:5000", cfg.ControlPlane.URL)
	})

	t.Run("server flag overrides", func(t *testing.T) {
		withGlobalFlags(t, writeConfig(t, "control_plane:\n  url: http://hv.lan:5000\n"), "http://10.0.0.9:5050")

		cfg, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, "http://10.0.0.9:5050", cfg.ControlPlane.URL)
	})

	t.Run("bad server flag", func(t *testing.T) {
		withGlobalFlags(t, writeConfig(t, "version: 1\n"), "qemu:///system")

		_, err := loadConfig()
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrConfig))
	})

	t.Run("missing explicit file", func(t *testing.T) {
		withGlobalFlags(t, filepath.Join(t.TempDir(), "nope.yaml"), "")

		_, err := loadConfig()
		require.Error(t, err)
		assert.Equal(t, ErrCodeConfigNotFound, ErrorToJSON(err).Code)
	})
}

func TestNewApp(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ControlPlane.URL = "http://hv.lan:5000"

	a, err := newApp(cfg, appOptions{component: "test", tui: true})
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "http://hv.lan:5000", a.client.BaseURL())
	assert.Same(t, cfg, a.cfg)
	assert.Empty(t, a.closers)
}

func TestOpenLogger(t *testing.T) {
	t.Run("log file gets the configured level", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vmctl.log")

		log, closer, err := openLogger(config.LogConfig{File: path, Level: "info"}, appOptions{component: "dispatch", tui: true})
		require.NoError(t, err)
		require.NotNil(t, closer)

		log.Debug("hidden")
		log.Info("started %s", "web1")
		require.NoError(t, closer.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "started web1")
		assert.Contains(t, string(data), "dispatch")
		assert.NotContains(t, string(data), "hidden")
	})

	t.Run("log file appends", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vmctl.log")
		require.NoError(t, os.WriteFile(path, []byte("earlier\n"), 0644))

		log, closer, err := openLogger(config.LogConfig{File: path, Level: "debug"}, appOptions{})
		require.NoError(t, err)
		log.Warn("later")
		require.NoError(t, closer.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "earlier\n")
		assert.Contains(t, string(data), "later")
	})

	t.Run("dashboard without a file logs nothing", func(t *testing.T) {
		log, closer, err := openLogger(config.LogConfig{Level: "debug"}, appOptions{tui: true})
		require.NoError(t, err)
		assert.Nil(t, closer)
		assert.IsType(t, logger.Noop(), log)
	})

	t.Run("stderr without a file", func(t *testing.T) {
		log, closer, err := openLogger(config.LogConfig{Level: "info"}, appOptions{})
		require.NoError(t, err)
		assert.Nil(t, closer)
		assert.NotNil(t, log)
	})

	t.Run("unwritable file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing-dir", "vmctl.log")

		_, _, err := openLogger(config.LogConfig{File: path, Level: "info"}, appOptions{})
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrConfig))
		assert.Contains(t, err.Error(), "Can't open log file")
	})
}
