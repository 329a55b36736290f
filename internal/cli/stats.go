package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rileyhilliard/vmctl/internal/config"
	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/rileyhilliard/vmctl/internal/logger"
	"github.com/rileyhilliard/vmctl/internal/monitor"
	"github.com/rileyhilliard/vmctl/internal/telemetry"
	"github.com/rileyhilliard/vmctl/internal/ui"
	"github.com/spf13/cobra"
)

var (
	statsWatch    bool
	statsInterval string
)

var statsCmd = &cobra.Command{
	Use:   "stats <vm>",
	Short: "Show CPU, memory and network usage of a running VM",
	Long: `Fetch one telemetry sample for a VM and print it.

With --watch a telemetry session samples the VM every poll.telemetry_interval
(or --interval) and prints one line per sample with a sparkline of the recent
window (telemetry.history_size samples). Samples that fail to fetch or parse
are skipped.

Examples:
  vmctl stats web1
  vmctl stats web1 --watch --interval 2s`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, err := ParseInterval(statsInterval)
		if err != nil {
			return err
		}
		a, err := loadApp(appOptions{component: "session"})
		if err != nil {
			return err
		}
		defer a.Close()

		if statsWatch {
			if interval == 0 {
				interval = a.cfg.Poll.TelemetryInterval
			}
			opts := telemetry.Options{
				Interval:    interval,
				HistorySize: a.cfg.Telemetry.HistorySize,
				Channels:    a.cfg.Telemetry.Channels,
				Logger:      a.log,
			}
			return watchStats(cmd.Context(), a.client, args[0], opts, cmd.OutOrStdout())
		}
		return statsOnce(cmd.Context(), a.client, args[0], cmd.OutOrStdout(), time.Now)
	},
}

func init() {
	statsCmd.Flags().BoolVarP(&statsWatch, "watch", "w", false, "keep sampling until interrupted")
	statsCmd.Flags().StringVar(&statsInterval, "interval", "", "sample interval for --watch (e.g., 2s, 1m)")
	rootCmd.AddCommand(statsCmd)
}

// sampleJSON is the --json form of one sample. Optional fields are omitted
// when the control plane did not report them.
type sampleJSON struct {
	VM         string    `json:"vm"`
	CapturedAt time.Time `json:"captured_at"`
	CPUPercent float64   `json:"cpu_load_percent"`
	MemoryUsed float64   `json:"memory_used_mb"`
	MemoryMax  *float64  `json:"memory_max_mb,omitempty"`
	NetworkIn  *float64  `json:"net_in_bytes,omitempty"`
	NetworkOut *float64  `json:"net_out_bytes,omitempty"`
	WindowCPU  []float64 `json:"window_cpu,omitempty"`
}

func toSampleJSON(s telemetry.Sample) sampleJSON {
	out := sampleJSON{
		VM:         s.VMName,
		CapturedAt: s.CapturedAt,
		CPUPercent: s.CPULoadPercent,
		MemoryUsed: s.MemoryUsedMB,
	}
	if s.HasMemoryMax {
		v := s.MemoryMaxMB
		out.MemoryMax = &v
	}
	if s.HasNetwork {
		in, outBytes := s.NetIn, s.NetOut
		out.NetworkIn = &in
		out.NetworkOut = &outBytes
	}
	return out
}

// statsOnce fetches and prints a single sample.
func statsOnce(ctx context.Context, fetcher telemetry.Fetcher, vm string, out io.Writer, now func() time.Time) error {
	raw, err := fetcher.VMStats(ctx, vm)
	if err != nil {
		return err
	}
	sample, err := telemetry.ParseSample(vm, raw, now())
	if err != nil {
		return err
	}

	if MachineMode() {
		return WriteJSONSuccess(out, toSampleJSON(sample))
	}
	fmt.Fprint(out, renderSample(sample))
	return nil
}

func renderSample(s telemetry.Sample) string {
	rows := [][]string{
		{"VM", s.VMName},
		{"CPU load", monitor.MetricStyle(s.CPULoadPercent).Render(fmt.Sprintf("%.2f%%", s.CPULoadPercent))},
		{"Memory used", monitor.FormatMB(s.MemoryUsedMB)},
	}
	if s.HasMemoryMax {
		rows = append(rows, []string{"Memory max", monitor.FormatMB(s.MemoryMaxMB)})
	}
	if s.HasNetwork {
		rows = append(rows,
			[]string{"Network in", monitor.FormatBytes(s.NetIn)},
			[]string{"Network out", monitor.FormatBytes(s.NetOut)},
		)
	}

	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "%s %s\n", ui.MutedStyle().Render(fmt.Sprintf("%-12s", r[0]+":")), r[1])
	}
	return b.String()
}

// watchStats runs a telemetry session for vm until ctx ends.
func watchStats(ctx context.Context, fetcher telemetry.Fetcher, vm string, opts telemetry.Options, out io.Writer) error {
	// One direct fetch first, so a stopped or unknown VM fails fast instead
	// of sampling nothing forever.
	if _, err := fetcher.VMStats(ctx, vm); err != nil {
		return err
	}

	log := opts.Logger
	if log == nil {
		log = logger.Noop()
	}
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	// the sink runs on the session goroutine; writeErr is read after it exits
	var writeErr error
	sink := telemetry.SinkFunc(func(_ string, snap telemetry.Snapshot) {
		if writeErr != nil {
			return
		}
		if MachineMode() {
			js := toSampleJSON(snap.Sample)
			if ch, ok := snap.Channel(config.ChannelCPU); ok && len(ch.Series) > 0 {
				for _, p := range ch.Series[0].Points {
					js.WindowCPU = append(js.WindowCPU, p.Value)
				}
			}
			writeErr = WriteJSONSuccess(out, js)
		} else {
			_, writeErr = fmt.Fprintln(out, renderTickLine(snap))
		}
		if writeErr != nil {
			log.Error("stats for %s: can't write sample: %v", vm, writeErr)
			stop()
		}
	})

	session := telemetry.NewSession(vm, fetcher, sink, opts)
	if err := session.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-session.Done():
	}
	session.Cancel()

	if writeErr != nil {
		return errors.WrapWithCode(writeErr, errors.ErrData,
			fmt.Sprintf("Stopped watching %s: output can't be written", vm),
			"Check where stdout goes, e.g. a closed pipe")
	}
	return nil
}

// renderTickLine is one line per sample: time, then each enabled channel
// with its latest value and a sparkline of the window.
func renderTickLine(snap telemetry.Snapshot) string {
	const sparkWidth = 10

	parts := []string{ui.MutedStyle().Render(snap.At.Format("15:04:05")), snap.VM}
	for _, ch := range snap.Channels {
		switch ch.Name {
		case config.ChannelCPU:
			if len(ch.Series) == 0 || len(ch.Series[0].Points) == 0 {
				continue
			}
			vals := seriesValues(ch.Series[0])
			latest := vals[len(vals)-1]
			parts = append(parts, fmt.Sprintf("cpu %s %s",
				monitor.RenderColoredMiniSparkline(vals, sparkWidth, monitor.PercentScale, monitor.ColorGraph),
				monitor.MetricStyle(latest).Render(fmt.Sprintf("%5.1f%%", latest))))
		case config.ChannelMemory:
			if len(ch.Series) == 0 || len(ch.Series[0].Points) == 0 {
				continue
			}
			vals := seriesValues(ch.Series[0])
			used := monitor.FormatMB(vals[len(vals)-1])
			if ch.Ceiling > 0 {
				used += " / " + monitor.FormatMB(ch.Ceiling)
			}
			parts = append(parts, fmt.Sprintf("mem %s %s",
				monitor.RenderMiniSparkline(vals, sparkWidth, monitor.CeilingScale(vals, ch.Ceiling)), used))
		case config.ChannelNetwork:
			var in, out []float64
			for _, s := range ch.Series {
				switch s.Label {
				case telemetry.LabelIn:
					in = seriesValues(s)
				case telemetry.LabelOut:
					out = seriesValues(s)
				}
			}
			if len(in) == 0 || len(out) == 0 {
				continue
			}
			parts = append(parts, fmt.Sprintf("net in %s out %s",
				monitor.FormatBytes(in[len(in)-1]), monitor.FormatBytes(out[len(out)-1])))
		}
	}
	return strings.Join(parts, "  ")
}

func seriesValues(s telemetry.SeriesSnapshot) []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Value
	}
	return out
}
