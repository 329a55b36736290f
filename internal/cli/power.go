package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/rileyhilliard/vmctl/internal/dispatch"
	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/rileyhilliard/vmctl/internal/lifecycle"
	"github.com/rileyhilliard/vmctl/internal/ui"
	"github.com/spf13/cobra"
)

var (
	startFlags  PowerFlags
	stopFlags   PowerFlags
	deleteFlags PowerFlags
)

var startCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Power on a VM, or every VM matching a prefix",
	Long: `Start a VM. With --bulk the name is a prefix and every VM whose name
starts with it is started; the VMs the control plane touched are listed.

Examples:
  vmctl start web1
  vmctl start web --bulk`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return powerCommand(cmd, lifecycle.VerbStart, args[0], startFlags)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Power off a VM, or every VM matching a prefix",
	Long: `Stop a VM. With --bulk the name is a prefix.

Examples:
  vmctl stop web1
  vmctl stop web --bulk`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return powerCommand(cmd, lifecycle.VerbStop, args[0], stopFlags)
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <name>",
	Aliases: []string{"rm"},
	Short:   "Delete a VM, or every VM matching a prefix",
	Long: `Delete a VM and its disk. With --bulk the name is a prefix.

On a terminal you are asked to confirm. Elsewhere (scripts, --json) pass
--yes.

Examples:
  vmctl delete web1
  vmctl delete web --bulk --yes`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return powerCommand(cmd, lifecycle.VerbDelete, args[0], deleteFlags)
	},
}

func init() {
	AddPowerFlags(startCmd, &startFlags, false)
	AddPowerFlags(stopCmd, &stopFlags, false)
	AddPowerFlags(deleteCmd, &deleteFlags, true)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(deleteCmd)
}

func powerCommand(cmd *cobra.Command, verb lifecycle.Verb, name string, flags PowerFlags) error {
	lc, err := lifecycle.Power(verb, flags.Target(name))
	if err != nil {
		return err
	}

	if verb == lifecycle.VerbDelete && !flags.Yes {
		ok, err := confirmDelete(lc, ui.Interactive(os.Stdin, os.Stdout) && !MachineMode())
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.ErrOrStderr(), "Cancelled.")
			return nil
		}
	}

	a, err := loadApp(appOptions{component: "dispatch"})
	if err != nil {
		return err
	}
	defer a.Close()

	d := dispatch.New(a.client, nil, a.log, nil)
	return runDispatch(cmd.Context(), d, lc, cmd.OutOrStdout())
}

// confirmDelete asks before a delete. Without a terminal there is nobody to
// ask, so the caller must have passed --yes.
func confirmDelete(lc lifecycle.Command, interactive bool) (bool, error) {
	if !interactive {
		return false, errors.New(errors.ErrValidation,
			fmt.Sprintf("Refusing to %s without confirmation", lc),
			"Pass --yes to delete without a prompt")
	}

	title := fmt.Sprintf("Delete VM %s?", lc.Target.Name)
	if lc.IsBulk() {
		title = fmt.Sprintf("Delete every VM whose name starts with '%s'?", lc.Target.Name)
	}

	var ok bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description("Disks are removed too. This can't be undone.").
				Affirmative("Delete").
				Negative("Keep").
				Value(&ok),
		),
	)
	if err := form.Run(); err != nil {
		return false, errors.WrapWithCode(err, errors.ErrValidation,
			"Failed to get confirmation",
			"Pass --yes to skip the prompt")
	}
	return ok, nil
}

// actionJSON is the --json payload for lifecycle commands.
type actionJSON struct {
	Command  string   `json:"command"`
	Verb     string   `json:"verb"`
	Bulk     bool     `json:"bulk"`
	Result   string   `json:"result"`
	Status   string   `json:"status,omitempty"`
	Message  string   `json:"message,omitempty"`
	Affected []string `json:"affected,omitempty"`
}

// Dispatcher sends one lifecycle command. *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd lifecycle.Command) dispatch.Result
}

// runDispatch sends lc with a spinner and prints the outcome. Failures come
// back as errors so the exit status is non-zero.
func runDispatch(ctx context.Context, d Dispatcher, lc lifecycle.Command, out io.Writer) error {
	if MachineMode() {
		res := d.Dispatch(ctx, lc)
		if !res.OK() {
			return resultError(res)
		}
		return WriteJSONSuccess(out, actionJSON{
			Command:  lc.String(),
			Verb:     string(lc.Verb),
			Bulk:     lc.IsBulk(),
			Result:   res.Kind.String(),
			Status:   res.Status,
			Message:  res.Message,
			Affected: res.Affected,
		})
	}

	spinner := ui.NewSpinner(out, lc.String())
	spinner.Start()
	res := d.Dispatch(ctx, lc)
	if !res.OK() {
		spinner.Fail(res.Summary())
		return reportedError{err: resultError(res)}
	}
	spinner.Success(res.Summary())
	return nil
}

func resultError(res dispatch.Result) error {
	if res.Err != nil {
		return res.Err
	}
	return errors.New(errors.ErrRemote, res.Summary(), "")
}
