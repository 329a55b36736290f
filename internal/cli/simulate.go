package cli

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/rileyhilliard/vmctl/internal/logger"
	"github.com/rileyhilliard/vmctl/internal/metrics"
	"github.com/rileyhilliard/vmctl/internal/simulator"
	"github.com/spf13/cobra"
)

// SimulateFlags holds the flags of `vmctl simulate`.
type SimulateFlags struct {
	Listen         string
	VMs            []string
	Seed           uint64
	NumericStrings bool
}

var simulateFlags SimulateFlags

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run an in-memory control plane for demos and tests",
	Long: `Serve the control plane API (/list_vms, /vm_stats/<name>, /create_vm,
/start_vm, /stop_vm, /delete_vm) from memory, with synthetic stats that
wander over time. Prometheus metrics are served at /metrics.

Seed VMs with --vms name[:on|off], comma-separated or repeated. VMs are
stopped unless marked :on.

Examples:
  vmctl simulate
  vmctl simulate --listen 127.0.0.1:5050 --vms web1:on,web2,db1:on
  vmctl --server http://127.0.0.1:5050 monitor`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		listen := simulateFlags.Listen
		if listen == "" {
			listen = listenAddrFor(cfg.ControlPlane.URL)
		}

		log := logger.New(os.Stderr, "simulator", cfg.Log.Level)
		sim, err := newSimulator(simulateFlags, log, metrics.New())
		if err != nil {
			return err
		}
		return sim.ListenAndServe(cmd.Context(), listen)
	},
}

func init() {
	f := simulateCmd.Flags()
	f.StringVar(&simulateFlags.Listen, "listen", "", "address to serve on (default: host:port of control_plane.url)")
	f.StringSliceVar(&simulateFlags.VMs, "vms", []string{"web1:on", "web2:on", "db1"}, "VMs to start with, as name[:on|off]")
	f.Uint64Var(&simulateFlags.Seed, "seed", 0, "seed for the synthetic stats (default: from the clock)")
	f.BoolVar(&simulateFlags.NumericStrings, "numeric-strings", false, "send stats values as JSON strings instead of numbers")
	rootCmd.AddCommand(simulateCmd)
}

// newSimulator builds a simulator seeded with flags.VMs.
func newSimulator(flags SimulateFlags, log logger.Logger, rec *metrics.Recorder) (*simulator.Server, error) {
	sim := simulator.New(simulator.Options{
		Logger:         log,
		Metrics:        rec,
		Seed:           flags.Seed,
		NumericStrings: flags.NumericStrings,
	})
	for _, spec := range flags.VMs {
		name, running, err := parseVMSpec(spec)
		if err != nil {
			return nil, err
		}
		if err := sim.Add(name, running); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrValidation,
				fmt.Sprintf("Can't seed VM '%s'", name),
				"Each name in --vms must be unique")
		}
	}
	return sim, nil
}

// parseVMSpec parses name, name:on or name:off.
func parseVMSpec(spec string) (string, bool, error) {
	name, state, hasState := strings.Cut(strings.TrimSpace(spec), ":")
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, "/ \t") {
		return "", false, errors.New(errors.ErrValidation,
			fmt.Sprintf("'%s' isn't a valid VM name", spec),
			"Use name or name:on, e.g. --vms web1:on,web2")
	}
	if !hasState {
		return name, false, nil
	}
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "on", "running":
		return name, true, nil
	case "off", "stopped":
		return name, false, nil
	default:
		return "", false, errors.New(errors.ErrValidation,
			fmt.Sprintf("Unknown power state '%s' for VM %s", state, name),
			"Use :on or :off")
	}
}

// listenAddrFor turns the configured control plane URL into a listen
// address, so a default config talks to a default simulator.
func listenAddrFor(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "127.0.0.1:5000"
	}
	if u.Port() == "" {
		if u.Scheme == "https" {
			return u.Hostname() + ":443"
		}
		return u.Hostname() + ":80"
	}
	return u.Host
}
