package cli

import (
	"fmt"
	"time"

	"github.com/rileyhilliard/vmctl/internal/config"
	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/rileyhilliard/vmctl/internal/lifecycle"
	"github.com/spf13/cobra"
)

// PowerFlags holds the flags shared by start, stop and delete.
type PowerFlags struct {
	Bulk bool
	Yes  bool
}

// AddPowerFlags registers --bulk on a lifecycle command, and --yes when
// the command asks for confirmation.
func AddPowerFlags(cmd *cobra.Command, flags *PowerFlags, confirm bool) {
	cmd.Flags().BoolVar(&flags.Bulk, "bulk", false, "treat the name as a prefix and act on every VM that starts with it")
	if confirm {
		cmd.Flags().BoolVarP(&flags.Yes, "yes", "y", false, "skip the confirmation prompt")
	}
}

// Target converts the positional name into a lifecycle target.
func (f PowerFlags) Target(name string) lifecycle.Target {
	if f.Bulk {
		return lifecycle.Bulk(name)
	}
	return lifecycle.Single(name)
}

// ParseInterval parses a polling interval flag. Empty returns zero, which
// callers treat as "use the config value".
func ParseInterval(flag string) (time.Duration, error) {
	if flag == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(flag)
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("'%s' doesn't look like a valid interval", flag),
			"Try something like 2s, 5s, or 1m.")
	}
	if d < config.MinPollInterval {
		return 0, errors.New(errors.ErrConfig,
			"Interval too short",
			fmt.Sprintf("Minimum interval is %s to avoid hammering the control plane", config.MinPollInterval))
	}
	return d, nil
}
