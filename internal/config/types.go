package config

import "time"

// CurrentConfigVersion is the schema version for the config file.
// Increment when making breaking changes to the config structure.
const CurrentConfigVersion = 1

// Telemetry channel names accepted in telemetry.channels.
const (
	ChannelCPU     = "cpu"
	ChannelMemory  = "memory"
	ChannelNetwork = "network"
)

// Config represents the complete .vmctl.yaml configuration file.
type Config struct {
	Version      int                `yaml:"version" mapstructure:"version"`
	ControlPlane ControlPlaneConfig `yaml:"control_plane" mapstructure:"control_plane"`
	Poll         PollConfig         `yaml:"poll" mapstructure:"poll"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" mapstructure:"telemetry"`
	Create       CreateDefaults     `yaml:"create" mapstructure:"create"`
	Provision    ProvisionConfig    `yaml:"provision" mapstructure:"provision"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// ControlPlaneConfig describes how to reach the service that manages VMs.
type ControlPlaneConfig struct {
	// URL is the base address, e.g. http://127.0.0.1:5000.
	URL string `yaml:"url" mapstructure:"url"`

	// Timeout bounds every single HTTP request.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// Retries is how many times a failed GET is retried at the transport
	// level. Lifecycle POSTs are never retried.
	Retries int `yaml:"retries" mapstructure:"retries"`
}

// PollConfig holds the periods of the two background pollers.
type PollConfig struct {
	RosterInterval    time.Duration `yaml:"roster_interval" mapstructure:"roster_interval"`
	TelemetryInterval time.Duration `yaml:"telemetry_interval" mapstructure:"telemetry_interval"`
}

// TelemetryConfig controls the per-VM live series.
type TelemetryConfig struct {
	// HistorySize is the capacity of every sliding window series.
	HistorySize int `yaml:"history_size" mapstructure:"history_size"`

	// Channels lists the enabled channels, any of cpu, memory, network.
	Channels []string `yaml:"channels" mapstructure:"channels"`
}

// CreateDefaults pre-fills `vmctl create` flags and the create form.
type CreateDefaults struct {
	BaseDisk string `yaml:"base_disk" mapstructure:"base_disk"`
	ISOImage string `yaml:"iso_image" mapstructure:"iso_image"`
	MemoryMB int    `yaml:"memory_mb" mapstructure:"memory_mb"`
	CPUs     int    `yaml:"cpus" mapstructure:"cpus"`
}

// Host key policies for provision.host_key_policy.
const (
	HostKeyAcceptNew = "accept-new"
	HostKeyStrict    = "strict"
	HostKeyOff       = "off"
)

// ProvisionConfig drives `vmctl provision`: how to reach new VMs over SSH
// and what to run on them.
type ProvisionConfig struct {
	// Host is the address template for a VM. {name} is the VM name, {index}
	// its number within the base name and {n} that number plus HostOffset.
	// The result may be an alias from the SSH config file.
	Host       string `yaml:"host" mapstructure:"host"`
	HostOffset int    `yaml:"host_offset" mapstructure:"host_offset"`
	Port       int    `yaml:"port" mapstructure:"port"`

	// User accepts the same placeholders as Host. A User entry in the SSH
	// config file wins for aliases. Empty means $USER.
	User string `yaml:"user" mapstructure:"user"`
	// Password is tried after keys. Prefer VMCTL_PROVISION_PASSWORD over
	// writing it here.
	Password     string `yaml:"password,omitempty" mapstructure:"password"`
	IdentityFile string `yaml:"identity_file,omitempty" mapstructure:"identity_file"`

	// SSHConfig and KnownHosts default to the files under ~/.ssh.
	SSHConfig     string `yaml:"ssh_config,omitempty" mapstructure:"ssh_config"`
	KnownHosts    string `yaml:"known_hosts,omitempty" mapstructure:"known_hosts"`
	HostKeyPolicy string `yaml:"host_key_policy" mapstructure:"host_key_policy"`

	// Commands run in order on every VM; a non-zero exit fails the step.
	Commands []string `yaml:"commands" mapstructure:"commands"`

	Attempts       int           `yaml:"attempts" mapstructure:"attempts"`
	RetryDelay     time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	Parallel       int           `yaml:"parallel" mapstructure:"parallel"`
}

// LogConfig controls where diagnostic logs go.
type LogConfig struct {
	// File receives logs; empty means stderr.
	File string `yaml:"file" mapstructure:"file"`

	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" mapstructure:"level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentConfigVersion,
		ControlPlane: ControlPlaneConfig{
			URL:     "http://127.0.0.1:5000",
			Timeout: 10 * time.Second,
			Retries: 1,
		},
		Poll: PollConfig{
			RosterInterval:    5 * time.Second,
			TelemetryInterval: 5 * time.Second,
		},
		Telemetry: TelemetryConfig{
			HistorySize: 10,
			Channels:    []string{ChannelCPU, ChannelMemory, ChannelNetwork},
		},
		Create: CreateDefaults{
			MemoryMB: 1024,
			CPUs:     2,
		},
		Provision: ProvisionConfig{
			Host:           "{name}",
			Port:           22,
			HostKeyPolicy:  HostKeyAcceptNew,
			Commands:       []string{},
			Attempts:       5,
			RetryDelay:     2 * time.Second,
			ConnectTimeout: 10 * time.Second,
			Parallel:       4,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
