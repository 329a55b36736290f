package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = ".vmctl.yaml"
	// GlobalConfigDir is the directory for global config.
	GlobalConfigDir = ".config/vmctl"
	// GlobalConfigFile is the global config file name.
	GlobalConfigFile = "config.yaml"
	// EnvPrefix prefixes environment overrides, e.g. VMCTL_CONTROL_PLANE_URL.
	EnvPrefix = "VMCTL"
)

// Load reads config from the specified path. An empty path yields the
// defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if os.IsNotExist(err) {
				return nil, errors.WrapWithCode(err, errors.ErrConfig,
					"Config file not found",
					"Run 'vmctl init' to create a config file, or specify one with --config")
			}
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to read config file",
				"Check the file exists and is valid YAML")
		}
	}

	cfg, err := parseConfig(v, path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Find locates the config file using the search order:
// 1. Explicit path (from --config flag)
// 2. .vmctl.yaml in current directory
// 3. .vmctl.yaml in parent directories (stops at home)
// 4. ~/.config/vmctl/config.yaml (global defaults)
//
// Returns the path to the config file, or empty string if not found.
func Find(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", errors.WrapWithCode(err, errors.ErrConfig,
					"Specified config file not found: "+explicit,
					"Check the path is correct")
			}
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot access config file: "+explicit,
				"Check file permissions")
		}
		return explicit, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot determine current directory",
			"Check directory permissions")
	}

	home, _ := os.UserHomeDir()
	dir := cwd
	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir || (home != "" && dir == home) {
			break
		}
		dir = parent
	}

	if home != "" {
		globalConfig := filepath.Join(home, GlobalConfigDir, GlobalConfigFile)
		if _, err := os.Stat(globalConfig); err == nil {
			return globalConfig, nil
		}
	}

	return "", nil
}

// LoadOrDefault finds and loads the config, falling back to defaults when
// no file exists anywhere in the search path.
func LoadOrDefault(explicit string) (*Config, error) {
	path, err := Find(explicit)
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// newViper returns a viper instance with every key defaulted so that
// environment overrides apply even without a config file.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// parseConfig converts viper config to our Config struct with defaults merged in.
func parseConfig(v *viper.Viper, path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		where := "the environment"
		if path != "" {
			where = path
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the YAML syntax in "+where)
	}

	cfg.ControlPlane.URL = strings.TrimRight(cfg.ControlPlane.URL, "/")
	return cfg, nil
}

// setDefaults mirrors DefaultConfig into viper.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("version", d.Version)
	v.SetDefault("control_plane.url", d.ControlPlane.URL)
	v.SetDefault("control_plane.timeout", d.ControlPlane.Timeout.String())
	v.SetDefault("control_plane.retries", d.ControlPlane.Retries)
	v.SetDefault("poll.roster_interval", d.Poll.RosterInterval.String())
	v.SetDefault("poll.telemetry_interval", d.Poll.TelemetryInterval.String())
	v.SetDefault("telemetry.history_size", d.Telemetry.HistorySize)
	v.SetDefault("telemetry.channels", d.Telemetry.Channels)
	v.SetDefault("create.base_disk", d.Create.BaseDisk)
	v.SetDefault("create.iso_image", d.Create.ISOImage)
	v.SetDefault("create.memory_mb", d.Create.MemoryMB)
	v.SetDefault("create.cpus", d.Create.CPUs)
	v.SetDefault("provision.host", d.Provision.Host)
	v.SetDefault("provision.host_offset", d.Provision.HostOffset)
	v.SetDefault("provision.port", d.Provision.Port)
	v.SetDefault("provision.user", d.Provision.User)
	v.SetDefault("provision.password", d.Provision.Password)
	v.SetDefault("provision.identity_file", d.Provision.IdentityFile)
	v.SetDefault("provision.ssh_config", d.Provision.SSHConfig)
	v.SetDefault("provision.known_hosts", d.Provision.KnownHosts)
	v.SetDefault("provision.host_key_policy", d.Provision.HostKeyPolicy)
	v.SetDefault("provision.commands", d.Provision.Commands)
	v.SetDefault("provision.attempts", d.Provision.Attempts)
	v.SetDefault("provision.retry_delay", d.Provision.RetryDelay.String())
	v.SetDefault("provision.connect_timeout", d.Provision.ConnectTimeout.String())
	v.SetDefault("provision.parallel", d.Provision.Parallel)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.level", d.Log.Level)
}
