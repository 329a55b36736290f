package cli

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/rileyhilliard/vmctl/internal/config"
	"github.com/rileyhilliard/vmctl/internal/controlplane"
	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/rileyhilliard/vmctl/internal/ui"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// checkTimeout bounds the reachability check done before saving.
const checkTimeout = 5 * time.Second

var (
	initURLFlag  string
	initForce    bool
	initNoCheck  bool
	initBaseDisk string
	initISOImage string
)

// initCmd creates a new .vmctl.yaml configuration
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create .vmctl.yaml configuration",
	Long: `Create a .vmctl.yaml file in the current directory with sensible
defaults. On a terminal you are asked for the control plane URL; the URL is
checked by listing VMs before the file is written.

Examples:
  vmctl init
  vmctl init --url http://hypervisor.lan:5000
  vmctl init --force --no-check`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return Init(cmd.Context(), cmd.OutOrStdout(), InitOptions{
			URL:            initURLFlag,
			BaseDisk:       initBaseDisk,
			ISOImage:       initISOImage,
			Overwrite:      initForce,
			SkipCheck:      initNoCheck,
			NonInteractive: !ui.Interactive(os.Stdin, os.Stdout) || MachineMode(),
		})
	},
}

func init() {
	f := initCmd.Flags()
	f.StringVar(&initURLFlag, "url", "", "control plane URL (default: http://127.0.0.1:5000)")
	f.StringVar(&initBaseDisk, "base-disk", "", "default base disk image for 'vmctl create'")
	f.StringVar(&initISOImage, "iso", "", "default installer ISO for 'vmctl create'")
	f.BoolVarP(&initForce, "force", "f", false, "overwrite existing config")
	f.BoolVar(&initNoCheck, "no-check", false, "don't check the control plane is reachable")
	rootCmd.AddCommand(initCmd)
}

// InitOptions holds options for the init command.
type InitOptions struct {
	URL            string // Pre-specified control plane URL
	BaseDisk       string // Default base disk for create
	ISOImage       string // Default ISO for create
	Dir            string // Where to write the file; empty means the current directory
	Overwrite      bool   // Overwrite existing config without asking
	SkipCheck      bool   // Skip the control plane reachability check
	NonInteractive bool   // Skip prompts, use flags and defaults
}

// Init writes a new .vmctl.yaml configuration file.
func Init(ctx context.Context, out io.Writer, opts InitOptions) error {
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	configPath := filepath.Join(dir, config.ConfigFileName)

	if _, err := os.Stat(configPath); err == nil && !opts.Overwrite {
		if opts.NonInteractive {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Config file already exists: %s", configPath),
				"Use --force to overwrite")
		}

		var overwrite bool
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Config file '%s' already exists. Overwrite?", config.ConfigFileName)).
					Value(&overwrite),
			),
		)
		if err := form.Run(); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to get user input",
				"Try running with --force to overwrite")
		}
		if !overwrite {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	if opts.URL != "" {
		cfg.ControlPlane.URL = strings.TrimRight(strings.TrimSpace(opts.URL), "/")
	}
	cfg.Create.BaseDisk = opts.BaseDisk
	cfg.Create.ISOImage = opts.ISOImage

	if !opts.NonInteractive && opts.URL == "" {
		if err := promptInit(cfg); err != nil {
			return err
		}
	}

	if err := config.Validate(cfg); err != nil {
		return err
	}

	if !opts.SkipCheck {
		if err := checkControlPlane(ctx, out, cfg, opts.NonInteractive); err != nil {
			return err
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to generate config",
			"This shouldn't happen - please report this bug")
	}

	header := `# vmctl configuration
# Run 'vmctl list' to see your VMs, or 'vmctl monitor' for the dashboard
# See: https://github.com/rileyhilliard/vmctl for documentation

`
	if err := os.WriteFile(configPath, []byte(header+string(data)), 0644); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Failed to write config file: %s", configPath),
			"Check directory permissions")
	}

	if MachineMode() {
		return WriteJSONSuccess(out, map[string]string{
			"path": configPath,
			"url":  cfg.ControlPlane.URL,
		})
	}

	fmt.Fprintf(out, "%s Created %s\n\n", ui.SymbolSuccess, configPath)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  vmctl list                - Show the roster")
	fmt.Fprintln(out, "  vmctl create -n web -c 2  - Create web1 and web2")
	fmt.Fprintln(out, "  vmctl monitor             - Open the dashboard")
	return nil
}

func promptInit(cfg *config.Config) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Control plane URL").
				Description("Where the VM control plane listens").
				Placeholder(cfg.ControlPlane.URL).
				Value(&cfg.ControlPlane.URL).
				Validate(validateURL),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Base disk image (optional)").
				Description("Default for 'vmctl create --base-disk'").
				Placeholder("/var/lib/libvirt/images/base.qcow2").
				Value(&cfg.Create.BaseDisk),
			huh.NewInput().
				Title("ISO image (optional)").
				Description("Default for 'vmctl create --iso'").
				Placeholder("/var/lib/libvirt/images/installer.iso").
				Value(&cfg.Create.ISOImage),
		),
	)
	if err := form.Run(); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to get user input",
			"Pass --url to skip the prompts")
	}
	cfg.ControlPlane.URL = strings.TrimRight(strings.TrimSpace(cfg.ControlPlane.URL), "/")
	cfg.Create.BaseDisk = strings.TrimSpace(cfg.Create.BaseDisk)
	cfg.Create.ISOImage = strings.TrimSpace(cfg.Create.ISOImage)
	return nil
}

func validateURL(s string) error {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("enter an http(s) URL like http://127.0.0.1:5000")
	}
	return nil
}

// checkControlPlane lists VMs once. On a terminal a failure can be waved
// through, since the control plane may simply not be running yet.
func checkControlPlane(ctx context.Context, out io.Writer, cfg *config.Config, nonInteractive bool) error {
	client := controlplane.NewClient(cfg.ControlPlane.URL, controlplane.Options{
		Timeout: checkTimeout,
	})

	if MachineMode() {
		out = io.Discard
	}
	spinner := ui.NewSpinner(out, "Checking "+cfg.ControlPlane.URL)
	spinner.Start()

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	vms, err := client.ListVMs(ctx)
	if err == nil {
		spinner.Success(fmt.Sprintf("found %d VMs", len(vms)))
		return nil
	}
	spinner.Fail("unreachable")

	wrapped := errors.WrapWithCode(err, errors.ErrTransport,
		fmt.Sprintf("Can't reach the control plane at %s", cfg.ControlPlane.URL),
		"Check the URL, or pass --no-check to save it anyway")
	if nonInteractive {
		return wrapped
	}

	var saveAnyway bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save config anyway? (You can start the control plane later)").
				Value(&saveAnyway),
		),
	)
	if formErr := form.Run(); formErr != nil || !saveAnyway {
		return wrapped
	}
	return nil
}
