// Package cli implements the vmctl command-line interface.
//
// Each Cobra command is a thin definition that parses flags and hands off
// to a command function taking its collaborators explicitly (a control plane
// client, a dispatcher, an output writer), so the behavior can be tested
// against the simulated control plane without going through os.Args.
//
// # Command Structure
//
//	vmctl list [--watch]            - Roster, once or continuously
//	vmctl stats <vm> [--watch]      - One sample, or a live telemetry session
//	vmctl create                    - Create VMs, prompting on a terminal
//	vmctl start|stop|delete <name>  - Lifecycle commands, --bulk for prefixes
//	vmctl monitor                   - Full-screen dashboard
//	vmctl simulate                  - In-process fake control plane
//	vmctl init                      - Write .vmctl.yaml
//	vmctl version                   - Build info
//
// # Flag Handling
//
// Global flags (--config, --server, --json, --no-color) live on the root
// command. --server overrides control_plane.url after the config file and
// VMCTL_* environment overrides are applied.
//
// # Machine Mode
//
// With --json every command writes a single JSONEnvelope to stdout (watch
// modes write one per update) and errors are reported inside the envelope
// instead of on stderr.
package cli
