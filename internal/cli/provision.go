package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rileyhilliard/vmctl/internal/config"
	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/rileyhilliard/vmctl/internal/fleet"
	"github.com/rileyhilliard/vmctl/internal/logger"
	"github.com/rileyhilliard/vmctl/internal/provision"
	"github.com/rileyhilliard/vmctl/internal/ui"
	"github.com/rileyhilliard/vmctl/internal/util"
	"github.com/rileyhilliard/vmctl/pkg/sshutil"
	"github.com/spf13/cobra"
)

// ProvisionFlags holds the flags of `vmctl provision`. Zero values fall back
// to the provision section of the config.
type ProvisionFlags struct {
	Count         int
	Host          string
	User          string
	Identity      string
	Commands      []string
	Attempts      int
	RetryDelay    string
	Parallel      int
	HostKeyPolicy string
}

var provisionFlags ProvisionFlags

var provisionCmd = &cobra.Command{
	Use:   "provision <base-name>",
	Short: "Run setup commands over SSH on VMs made by 'create'",
	Long: `Connect to <base-name>1 .. <base-name>N over SSH and run the commands
from provision.commands (or --command) on each, in order. A VM that isn't
reachable yet, or whose command fails, is retried up to provision.attempts
times, provision.retry_delay apart; commands that already succeeded on it
are not repeated.

provision.host maps a VM to an address: {name} is the VM name, {index} its
number and {n} the number plus provision.host_offset. The result may be an
alias from ~/.ssh/config. Every VM must exist and be powered on.

Examples:
  vmctl provision hadoop --count 3
  vmctl provision hadoop -c 3 --host '192.168.122.{n}' --user 'user{index}'
  vmctl provision web -c 2 --command 'sudo apt-get install -y openjdk-11-jdk'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(appOptions{component: "provision"})
		if err != nil {
			return err
		}
		defer a.Close()

		pc, err := provisionFlags.Apply(a.cfg.Provision)
		if err != nil {
			return err
		}
		return runProvision(cmd.Context(), a.client, args[0], provisionFlags.Count, pc, a.log,
			cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	f := provisionCmd.Flags()
	f.IntVarP(&provisionFlags.Count, "count", "c", 1, "how many VMs were created under the base name")
	f.StringVar(&provisionFlags.Host, "host", "", "address template (default: provision.host)")
	f.StringVarP(&provisionFlags.User, "user", "u", "", "SSH user template (default: provision.user)")
	f.StringVarP(&provisionFlags.Identity, "identity", "i", "", "private key file (default: provision.identity_file)")
	f.StringArrayVar(&provisionFlags.Commands, "command", nil, "command to run, repeatable (default: provision.commands)")
	f.IntVar(&provisionFlags.Attempts, "attempts", 0, "tries per VM (default: provision.attempts)")
	f.StringVar(&provisionFlags.RetryDelay, "retry-delay", "", "wait between tries, e.g. 2s (default: provision.retry_delay)")
	f.IntVar(&provisionFlags.Parallel, "parallel", 0, "VMs provisioned at once (default: provision.parallel)")
	f.StringVar(&provisionFlags.HostKeyPolicy, "host-key-policy", "", "accept-new, strict or off (default: provision.host_key_policy)")
	rootCmd.AddCommand(provisionCmd)
}

// Apply merges the flags over the config and validates the result.
func (f ProvisionFlags) Apply(pc config.ProvisionConfig) (config.ProvisionConfig, error) {
	if f.Host != "" {
		pc.Host = f.Host
	}
	if f.User != "" {
		pc.User = f.User
	}
	if f.Identity != "" {
		pc.IdentityFile = f.Identity
	}
	if len(f.Commands) > 0 {
		pc.Commands = f.Commands
	}
	if f.Attempts != 0 {
		pc.Attempts = f.Attempts
	}
	if f.RetryDelay != "" {
		d, err := time.ParseDuration(f.RetryDelay)
		if err != nil {
			return pc, errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("'%s' doesn't look like a valid delay", f.RetryDelay),
				"Try something like 500ms, 2s or 1m.")
		}
		pc.RetryDelay = d
	}
	if f.Parallel != 0 {
		pc.Parallel = f.Parallel
	}
	if f.HostKeyPolicy != "" {
		pc.HostKeyPolicy = f.HostKeyPolicy
	}

	cfg := config.DefaultConfig()
	cfg.Provision = pc
	if err := config.Validate(cfg); err != nil {
		return pc, err
	}
	return pc, nil
}

// provisionVMJSON is one VM in --json output.
type provisionVMJSON struct {
	VM        string `json:"vm"`
	Host      string `json:"host"`
	Attempts  int    `json:"attempts"`
	Completed int    `json:"completed"`
}

type provisionJSON struct {
	VMs      []provisionVMJSON `json:"vms"`
	Commands int               `json:"commands"`
}

// runProvision checks the targets against the roster, provisions the ones
// that are running and prints one line per VM. Any failure makes the
// command fail.
func runProvision(ctx context.Context, lister fleet.Lister, base string, count int, pc config.ProvisionConfig, log logger.Logger, out, errOut io.Writer) error {
	if log == nil {
		log = logger.Noop()
	}
	targets, err := provision.Targets(base, count, provision.Template{
		Host:     pc.Host,
		User:     pc.User,
		Password: pc.Password,
		Offset:   pc.HostOffset,
	})
	if err != nil {
		return err
	}

	entries, err := lister.ListVMs(ctx)
	if err != nil {
		return err
	}
	powered := make(map[string]bool, len(entries))
	for _, vm := range fleet.FromEntries(entries) {
		powered[vm.Name] = vm.PoweredOn
	}

	results := make([]provision.Result, len(targets))
	var ready []provision.Target
	var readyIdx []int
	for i, t := range targets {
		on, found := powered[t.VM]
		switch {
		case !found:
			results[i] = provision.Result{VM: t.VM, Host: t.Host, Err: errors.New(errors.ErrValidation,
				fmt.Sprintf("VM %s not found", t.VM),
				fmt.Sprintf("Create it first: vmctl create --base-name %s --count %d", strings.TrimSpace(base), count))}
		case !on:
			results[i] = provision.Result{VM: t.VM, Host: t.Host, Err: errors.New(errors.ErrValidation,
				fmt.Sprintf("VM %s is not running", t.VM),
				"Start it first: vmctl start "+t.VM)}
		default:
			ready = append(ready, t)
			readyIdx = append(readyIdx, i)
		}
	}

	if len(ready) > 0 {
		var mu sync.Mutex
		p := provision.New(provision.Options{
			SSH: sshutil.Options{
				ConfigPath:    pc.SSHConfig,
				Port:          pc.Port,
				IdentityFile:  pc.IdentityFile,
				KnownHosts:    pc.KnownHosts,
				HostKeyPolicy: pc.HostKeyPolicy,
				Timeout:       pc.ConnectTimeout,
			},
			Commands:   pc.Commands,
			Attempts:   pc.Attempts,
			RetryDelay: pc.RetryDelay,
			Parallel:   pc.Parallel,
			Logger:     log,
			OnRetry: func(vm string, attempt, attempts int, err error) {
				if MachineMode() {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				fmt.Fprintln(errOut, ui.WarningStyle().Render(
					fmt.Sprintf("%s attempt %d/%d failed: %s; retrying", vm, attempt, attempts, errors.Short(err))))
			},
		})

		if !MachineMode() {
			fmt.Fprintf(out, "Provisioning %s (%s)...\n",
				util.Count(len(ready), "VM", "VMs"), util.Count(len(pc.Commands), "command", "commands"))
		}
		for j, r := range p.Run(ctx, ready) {
			results[readyIdx[j]] = r
		}
	}

	return printProvision(out, results, len(pc.Commands))
}

func printProvision(out io.Writer, results []provision.Result, commands int) error {
	var failed []string
	var firstErr error
	for _, r := range results {
		if !r.OK() {
			failed = append(failed, r.VM)
			if firstErr == nil {
				firstErr = r.Err
			}
		}
	}

	var summary error
	if len(failed) > 0 {
		summary = errors.New(errors.ErrRemote,
			fmt.Sprintf("%d of %s failed to provision: %s", len(failed), util.Count(len(results), "VM", "VMs"), strings.Join(failed, ", ")),
			errors.Short(firstErr))
	}

	if MachineMode() {
		if summary != nil {
			return summary
		}
		payload := provisionJSON{VMs: make([]provisionVMJSON, 0, len(results)), Commands: commands}
		for _, r := range results {
			payload.VMs = append(payload.VMs, provisionVMJSON{
				VM:        r.VM,
				Host:      r.Host,
				Attempts:  r.Attempts,
				Completed: r.Completed,
			})
		}
		return WriteJSONSuccess(out, payload)
	}

	for _, r := range results {
		if r.OK() {
			fmt.Fprintf(out, "%s %s %s\n", ui.SuccessStyle().Render(ui.SymbolSuccess), r.VM,
				ui.MutedStyle().Render(fmt.Sprintf("(%s, %s)", r.Host, util.Count(r.Attempts, "attempt", "attempts"))))
			continue
		}
		fmt.Fprintf(out, "%s %s %s\n", ui.ErrorStyle().Render(ui.SymbolFail), r.VM,
			ui.MutedStyle().Render(errors.Short(r.Err)))
	}

	if summary != nil {
		fmt.Fprintln(out, ui.ErrorStyle().Render(errors.Short(summary)))
		return reportedError{err: summary}
	}
	return nil
}
