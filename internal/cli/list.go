package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/rileyhilliard/vmctl/internal/fleet"
	"github.com/rileyhilliard/vmctl/internal/ui"
	"github.com/rileyhilliard/vmctl/internal/util"
	"github.com/spf13/cobra"
)

var (
	listWatch    bool
	listInterval string
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List VMs and their power state",
	Long: `Print the roster reported by the control plane, powered-on VMs first.

With --watch the roster is polled every poll.roster_interval (or --interval)
and reprinted whenever it changes, until interrupted. A failed fetch keeps
the previous roster.

Examples:
  vmctl list
  vmctl list --watch --interval 2s
  vmctl list --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, err := ParseInterval(listInterval)
		if err != nil {
			return err
		}
		a, err := loadApp(appOptions{component: "roster"})
		if err != nil {
			return err
		}
		defer a.Close()

		if listWatch {
			if interval == 0 {
				interval = a.cfg.Poll.RosterInterval
			}
			opts := fleet.Options{Interval: interval, Logger: a.log}
			return watchRoster(cmd.Context(), a.client, opts, cmd.OutOrStdout(), time.Now)
		}
		return listRoster(cmd.Context(), a.client, cmd.OutOrStdout())
	},
}

func init() {
	listCmd.Flags().BoolVarP(&listWatch, "watch", "w", false, "keep polling and reprint the roster")
	listCmd.Flags().StringVar(&listInterval, "interval", "", "poll interval for --watch (e.g., 2s, 1m)")
	rootCmd.AddCommand(listCmd)
}

// vmJSON is one roster row in --json output.
type vmJSON struct {
	Name      string `json:"name"`
	PoweredOn bool   `json:"powered_on"`
}

type rosterJSON struct {
	VMs     []vmJSON `json:"vms"`
	Total   int      `json:"total"`
	Running int      `json:"running"`
}

func toRosterJSON(vms []fleet.VMSummary) rosterJSON {
	out := rosterJSON{VMs: make([]vmJSON, 0, len(vms)), Total: len(vms)}
	for _, vm := range vms {
		out.VMs = append(out.VMs, vmJSON{Name: vm.Name, PoweredOn: vm.PoweredOn})
		if vm.PoweredOn {
			out.Running++
		}
	}
	return out
}

// listRoster fetches the roster once.
func listRoster(ctx context.Context, lister fleet.Lister, out io.Writer) error {
	entries, err := lister.ListVMs(ctx)
	if err != nil {
		return err
	}
	return printRoster(out, fleet.FromEntries(entries))
}

// watchRoster polls until ctx ends and prints the roster whenever it
// differs from the last one printed.
func watchRoster(ctx context.Context, lister fleet.Lister, opts fleet.Options, out io.Writer, now func() time.Time) error {
	var (
		mu   sync.Mutex
		last []fleet.VMSummary
		seen bool
	)
	sink := fleet.SinkFunc(func(vms []fleet.VMSummary) {
		mu.Lock()
		defer mu.Unlock()
		if seen && slices.Equal(last, vms) {
			return
		}
		last, seen = vms, true
		if !MachineMode() {
			fmt.Fprintln(out, ui.MutedStyle().Render("roster at "+now().Format("15:04:05")))
		}
		_ = printRoster(out, vms)
	})

	poller := fleet.NewPoller(lister, sink, opts)
	// The first fetch surfaces a bad URL or a dead control plane right away.
	if err := poller.Poll(ctx); err != nil {
		return err
	}
	return poller.Run(ctx)
}

func printRoster(out io.Writer, vms []fleet.VMSummary) error {
	if MachineMode() {
		return WriteJSONSuccess(out, toRosterJSON(vms))
	}
	fmt.Fprint(out, renderRoster(vms))
	return nil
}

// renderRoster prints the roster in display order with a summary line.
func renderRoster(vms []fleet.VMSummary) string {
	if len(vms) == 0 {
		return "No VMs. Create some with 'vmctl create'.\n"
	}

	sorted := fleet.SortForDisplay(vms)
	rows := make([][]string, 0, len(sorted))
	running := 0
	for _, vm := range sorted {
		state := ui.MutedStyle().Render(ui.SymbolOff + " stopped")
		if vm.PoweredOn {
			state = ui.SuccessStyle().Render(ui.SymbolOn + " running")
			running++
		}
		rows = append(rows, []string{vm.Name, state})
	}

	table := ui.RenderTable([]ui.TableColumn{{Title: "NAME", Width: 12}, {Title: "STATE"}}, rows)
	return table + ui.MutedStyle().Render(fmt.Sprintf("%s, %d running", util.Count(len(vms), "VM", "VMs"), running)) + "\n"
}
