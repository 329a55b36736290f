package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rileyhilliard/vmctl/internal/errors"
)

// MinPollInterval keeps the pollers from hammering the control plane.
const MinPollInterval = 500 * time.Millisecond

var knownChannels = map[string]bool{
	ChannelCPU:     true,
	ChannelMemory:  true,
	ChannelNetwork: true,
}

var knownLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the config for errors and returns structured error messages.
func Validate(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	if cfg.Version > CurrentConfigVersion {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("This config is from the future (version %d, but vmctl only knows up to %d)", cfg.Version, CurrentConfigVersion),
			"Upgrade vmctl or lower the version field")
	}

	if err := validateControlPlane(cfg.ControlPlane); err != nil {
		return err
	}

	if err := validateInterval("poll.roster_interval", cfg.Poll.RosterInterval); err != nil {
		return err
	}
	if err := validateInterval("poll.telemetry_interval", cfg.Poll.TelemetryInterval); err != nil {
		return err
	}

	if err := validateTelemetry(cfg.Telemetry); err != nil {
		return err
	}

	if cfg.Create.MemoryMB < 0 || cfg.Create.CPUs < 0 {
		return errors.New(errors.ErrConfig,
			"create.memory_mb and create.cpus can't be negative",
			"Remove them to use the defaults (1024 MB, 2 CPUs)")
	}

	if err := validateProvision(cfg.Provision); err != nil {
		return err
	}

	if cfg.Log.Level != "" && !knownLevels[strings.ToLower(cfg.Log.Level)] {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown log level '%s'", cfg.Log.Level),
			"Use one of: debug, info, warn, error")
	}

	return nil
}

func validateControlPlane(cp ControlPlaneConfig) error {
	if strings.TrimSpace(cp.URL) == "" {
		return errors.New(errors.ErrConfig,
			"control_plane.url is empty",
			"Set it to the control plane address, e.g. http://127.0.0.1:5000")
	}
	u, err := url.Parse(cp.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("control_plane.url '%s' isn't an http(s) URL", cp.URL),
			"Use something like http://127.0.0.1:5000")
	}
	if cp.Timeout <= 0 {
		return errors.New(errors.ErrConfig,
			"control_plane.timeout must be positive",
			"Try 10s")
	}
	if cp.Retries < 0 {
		return errors.New(errors.ErrConfig,
			"control_plane.retries can't be negative",
			"Use 0 to disable transport retries")
	}
	return nil
}

func validateInterval(field string, d time.Duration) error {
	if d < MinPollInterval {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("%s is too short (%s)", field, d),
			fmt.Sprintf("Minimum interval is %s to avoid overwhelming the control plane", MinPollInterval))
	}
	return nil
}

func validateTelemetry(t TelemetryConfig) error {
	if t.HistorySize < 1 {
		return errors.New(errors.ErrConfig,
			"telemetry.history_size must be at least 1",
			"The default window is 10 samples")
	}
	if len(t.Channels) == 0 {
		return errors.New(errors.ErrConfig,
			"telemetry.channels is empty",
			"Enable at least one of: cpu, memory, network")
	}
	seen := make(map[string]bool, len(t.Channels))
	for _, ch := range t.Channels {
		if !knownChannels[ch] {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Unknown telemetry channel '%s'", ch),
				"Valid channels: cpu, memory, network")
		}
		if seen[ch] {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Telemetry channel '%s' is listed twice", ch),
				"List each channel once in telemetry.channels")
		}
		seen[ch] = true
	}
	return nil
}

var knownHostKeyPolicies = map[string]bool{
	HostKeyAcceptNew: true,
	HostKeyStrict:    true,
	HostKeyOff:       true,
}

func validateProvision(p ProvisionConfig) error {
	if strings.TrimSpace(p.Host) == "" {
		return errors.New(errors.ErrConfig,
			"provision.host is empty",
			"Use {name} to reach VMs by name, or a template like 192.168.122.{n}")
	}
	if p.Port < 1 || p.Port > 65535 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("provision.port %d is out of range", p.Port),
			"SSH usually listens on 22")
	}
	if !knownHostKeyPolicies[p.HostKeyPolicy] {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown provision.host_key_policy '%s'", p.HostKeyPolicy),
			"Use one of: accept-new, strict, off")
	}
	if p.Attempts < 1 {
		return errors.New(errors.ErrConfig,
			"provision.attempts must be at least 1",
			"The default is 5 attempts, 2s apart")
	}
	if p.RetryDelay < 0 {
		return errors.New(errors.ErrConfig,
			"provision.retry_delay can't be negative",
			"Try 2s")
	}
	if p.ConnectTimeout <= 0 {
		return errors.New(errors.ErrConfig,
			"provision.connect_timeout must be positive",
			"Try 10s")
	}
	if p.Parallel < 1 {
		return errors.New(errors.ErrConfig,
			"provision.parallel must be at least 1",
			"Use 1 to provision one VM at a time")
	}
	return nil
}
