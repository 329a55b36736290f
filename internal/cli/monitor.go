package cli

import (
	"context"
	stderrors "errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rileyhilliard/vmctl/internal/dispatch"
	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/rileyhilliard/vmctl/internal/fleet"
	"github.com/rileyhilliard/vmctl/internal/metrics"
	"github.com/rileyhilliard/vmctl/internal/monitor"
	"github.com/rileyhilliard/vmctl/internal/telemetry"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	monitorIntervalFlag    string
	monitorMetricsAddrFlag string
)

// monitorCmd starts the TUI dashboard
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive dashboard for the VM fleet",
	Long: `Start an interactive TUI dashboard: the roster refreshes every
poll.roster_interval, and pressing Enter on a VM opens its live CPU, memory
and network graphs.

Keyboard shortcuts:
  q / Ctrl+C  Quit
  r           Refresh the roster now
  o           Cycle sort order (state/name)
  up/k        Select previous VM
  down/j      Select next VM
  Enter       Inspect the selected VM
  Esc         Back to the roster
  s / x       Start / stop the selected VM
  d           Delete the selected VM (asks first)
  ?           Show help

Examples:
  vmctl monitor
  vmctl monitor --interval 2s
  vmctl monitor --metrics-addr 127.0.0.1:9464`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, err := ParseInterval(monitorIntervalFlag)
		if err != nil {
			return err
		}
		return monitorCommand(cmd.Context(), interval, monitorMetricsAddrFlag)
	},
}

func init() {
	monitorCmd.Flags().StringVar(&monitorIntervalFlag, "interval", "", "telemetry sample interval (default: poll.telemetry_interval)")
	monitorCmd.Flags().StringVar(&monitorMetricsAddrFlag, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	rootCmd.AddCommand(monitorCmd)
}

// dashboard is everything the TUI runs on top of.
type dashboard struct {
	bridge    *monitor.Bridge
	poller    *fleet.Poller
	inspector *telemetry.Inspector
	model     monitor.Model
}

// newDashboard wires the poller, inspector and dispatcher to one bridge.
// interval overrides the telemetry interval when non-zero.
func newDashboard(a *app, interval time.Duration, rec *metrics.Recorder) *dashboard {
	if interval == 0 {
		interval = a.cfg.Poll.TelemetryInterval
	}

	bridge := monitor.NewBridge()
	poller := fleet.NewPoller(a.client, bridge, fleet.Options{
		Interval: a.cfg.Poll.RosterInterval,
		Logger:   a.log,
		Metrics:  rec,
	})
	inspector := telemetry.NewInspector(a.client, bridge, telemetry.Options{
		Interval:    interval,
		HistorySize: a.cfg.Telemetry.HistorySize,
		Channels:    a.cfg.Telemetry.Channels,
		Logger:      a.log,
		Metrics:     rec,
	})
	disp := dispatch.New(a.client, poller, a.log, rec)

	model := monitor.NewModel(monitor.Options{
		Roster:     poller,
		Inspector:  inspector,
		Dispatcher: disp,
		Bridge:     bridge,
		Server:     a.cfg.ControlPlane.URL,
	})

	return &dashboard{bridge: bridge, poller: poller, inspector: inspector, model: model}
}

// Close stops the live session and releases any bridge listeners.
func (d *dashboard) Close() {
	d.inspector.Close()
	d.bridge.Close()
}

// monitorCommand runs the dashboard, the roster poller and the optional
// metrics server together. The first to fail, or the user quitting, stops
// the rest.
func monitorCommand(ctx context.Context, interval time.Duration, metricsAddr string) error {
	a, err := loadApp(appOptions{component: "monitor", tui: true})
	if err != nil {
		return err
	}
	defer a.Close()

	var rec *metrics.Recorder
	if metricsAddr != "" {
		rec = metrics.New()
	}

	d := newDashboard(a, interval, rec)
	defer d.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	p := tea.NewProgram(d.model, tea.WithAltScreen(), tea.WithContext(gctx))
	g.Go(func() error {
		defer cancel()
		_, err := p.Run()
		if stderrors.Is(err, tea.ErrProgramKilled) {
			// stopped by a sibling's failure or an interrupt, not by the UI
			return nil
		}
		return err
	})
	g.Go(func() error { return d.poller.Run(gctx) })
	if rec != nil {
		g.Go(func() error {
			if err := rec.Serve(gctx, metricsAddr); err != nil {
				return errors.WrapWithCode(err, errors.ErrConfig,
					"Can't serve metrics on "+metricsAddr,
					"Pick a free host:port for --metrics-addr")
			}
			return nil
		})
	}

	return g.Wait()
}
