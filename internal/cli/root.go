package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rileyhilliard/vmctl/internal/ui"
	"github.com/spf13/cobra"
)

// Global flags
var (
	cfgFile    string
	serverFlag string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "vmctl",
	Short: "Manage a fleet of virtual machines through its control plane",
	Long: `vmctl talks to a VM control plane over HTTP. It lists the roster,
creates, starts, stops and deletes VMs (one at a time or by name prefix),
and streams live CPU, memory and network telemetry.

Run 'vmctl monitor' for the interactive dashboard, or 'vmctl simulate' to
try everything against an in-memory control plane.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor || os.Getenv("NO_COLOR") != "" || machineMode {
			ui.DisableColors()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: .vmctl.yaml, searched upward, then ~/.config/vmctl/config.yaml)")
	pf.StringVar(&serverFlag, "server", "", "control plane URL, overrides control_plane.url")
	pf.BoolVar(&machineMode, "json", false, "machine-readable JSON output")
	pf.BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command. Interrupts cancel the command context so
// watch loops and the dashboard shut down cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(reportError(err, os.Stdout, os.Stderr))
	}
}

// reportedError wraps an error whose outcome has already been printed.
// Only the exit status is left to set.
type reportedError struct {
	err error
}

func (e reportedError) Error() string { return e.err.Error() }
func (e reportedError) Unwrap() error { return e.err }

// reportError prints err the way the current output mode expects and
// returns the process exit code.
func reportError(err error, stdout, stderr io.Writer) int {
	if machineMode {
		_ = WriteJSONFromError(stdout, err)
		return 1
	}

	var reported reportedError
	if stderrors.As(err, &reported) {
		return 1
	}

	if isUnknownCommandError(err) {
		msg := err.Error()
		if name := extractUnknownCommand(err); name != "" {
			msg = fmt.Sprintf("'%s' isn't a vmctl command", name)
		}
		fmt.Fprintf(stderr, "%s %s\n\n  Run 'vmctl --help' to see what's available.\n", ui.SymbolFail, msg)
		return 2
	}

	fmt.Fprint(stderr, err.Error())
	if !strings.HasSuffix(err.Error(), "\n") {
		fmt.Fprintln(stderr)
	}
	return 1
}

// isUnknownCommandError checks for the errors Cobra returns for a mistyped
// subcommand or flag.
func isUnknownCommandError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command") || strings.HasPrefix(msg, "unknown flag") ||
		strings.HasPrefix(msg, "unknown shorthand flag")
}

// extractUnknownCommand pulls the quoted command name out of Cobra's
// `unknown command "foo" for "vmctl"` message.
func extractUnknownCommand(err error) string {
	msg := err.Error()
	if !strings.HasPrefix(msg, "unknown command") {
		return ""
	}
	start := strings.Index(msg, `"`)
	if start < 0 {
		return ""
	}
	end := strings.Index(msg[start+1:], `"`)
	if end < 0 {
		return ""
	}
	return msg[start+1 : start+1+end]
}
