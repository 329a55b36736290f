package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/rileyhilliard/vmctl/internal/config"
	"github.com/rileyhilliard/vmctl/internal/dispatch"
	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/rileyhilliard/vmctl/internal/lifecycle"
	"github.com/rileyhilliard/vmctl/internal/ui"
	"github.com/spf13/cobra"
)

// CreateFlags holds the flags of `vmctl create`. Zero values fall back to
// the create section of the config.
type CreateFlags struct {
	BaseName string
	Count    int
	BaseDisk string
	ISOImage string
	MemoryMB int
	CPUs     int
}

var createFlags CreateFlags

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create one or more VMs",
	Long: `Create Count VMs named <base-name>1 .. <base-name>N, each with its own
randomly generated MAC address (52:54:00:xx:xx:xx). Disk image, ISO, memory
and CPU defaults come from the create section of .vmctl.yaml.

Run on a terminal without --base-name to fill in a form instead.

Examples:
  vmctl create --base-name web --count 3
  vmctl create --base-name db --memory 4096 --cpus 4 --base-disk /images/debian.qcow2`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(appOptions{component: "dispatch"})
		if err != nil {
			return err
		}
		defer a.Close()

		spec := createFlags.Spec(a.cfg.Create)
		if spec.BaseName == "" && ui.Interactive(os.Stdin, os.Stdout) && !MachineMode() {
			if err := promptCreate(&spec); err != nil {
				return err
			}
		}

		lc, err := lifecycle.Create(spec)
		if err != nil {
			return err
		}
		d := dispatch.New(a.client, nil, a.log, nil)
		return runDispatch(cmd.Context(), d, lc, cmd.OutOrStdout())
	},
}

func init() {
	f := createCmd.Flags()
	f.StringVarP(&createFlags.BaseName, "base-name", "n", "", "name prefix; VMs are named <base-name>1..N")
	f.IntVarP(&createFlags.Count, "count", "c", 1, "how many VMs to create")
	f.StringVar(&createFlags.BaseDisk, "base-disk", "", "base disk image (default: create.base_disk)")
	f.StringVar(&createFlags.ISOImage, "iso", "", "installer ISO image (default: create.iso_image)")
	f.IntVar(&createFlags.MemoryMB, "memory", 0, "memory per VM in MB (default: create.memory_mb)")
	f.IntVar(&createFlags.CPUs, "cpus", 0, "virtual CPUs per VM (default: create.cpus)")
	rootCmd.AddCommand(createCmd)
}

// Spec merges the flags over the config defaults.
func (f CreateFlags) Spec(defaults config.CreateDefaults) lifecycle.BulkCreateSpec {
	spec := lifecycle.BulkCreateSpec{
		BaseName: strings.TrimSpace(f.BaseName),
		Count:    f.Count,
		BaseDisk: f.BaseDisk,
		ISOImage: f.ISOImage,
		MemoryMB: f.MemoryMB,
		CPUs:     f.CPUs,
	}
	if spec.BaseDisk == "" {
		spec.BaseDisk = defaults.BaseDisk
	}
	if spec.ISOImage == "" {
		spec.ISOImage = defaults.ISOImage
	}
	if spec.MemoryMB == 0 {
		spec.MemoryMB = defaults.MemoryMB
	}
	if spec.CPUs == 0 {
		spec.CPUs = defaults.CPUs
	}
	return spec
}

// promptCreate fills spec from a form, prefilled with what is already known.
func promptCreate(spec *lifecycle.BulkCreateSpec) error {
	count := strconv.Itoa(max(spec.Count, 1))
	memory := strconv.Itoa(spec.MemoryMB)
	cpus := strconv.Itoa(spec.CPUs)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Base name").
				Description("VMs are named <base name>1, <base name>2, ...").
				Placeholder("web").
				Value(&spec.BaseName).
				Validate(func(s string) error {
					s = strings.TrimSpace(s)
					if s == "" {
						return fmt.Errorf("base name is required")
					}
					if strings.ContainsAny(s, "/ \t") {
						return fmt.Errorf("base name cannot contain slashes or whitespace")
					}
					return nil
				}),
			huh.NewInput().
				Title("How many").
				Value(&count).
				Validate(positiveInt),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Base disk image").
				Placeholder("/var/lib/libvirt/images/base.qcow2").
				Value(&spec.BaseDisk),
			huh.NewInput().
				Title("ISO image").
				Placeholder("/var/lib/libvirt/images/installer.iso").
				Value(&spec.ISOImage),
			huh.NewInput().
				Title("Memory (MB)").
				Value(&memory).
				Validate(positiveInt),
			huh.NewInput().
				Title("CPUs").
				Value(&cpus).
				Validate(positiveInt),
		),
	)

	if err := form.Run(); err != nil {
		return errors.WrapWithCode(err, errors.ErrValidation,
			"Failed to get user input",
			"Pass --base-name and the other flags to skip the form")
	}

	spec.BaseName = strings.TrimSpace(spec.BaseName)
	spec.Count, _ = strconv.Atoi(strings.TrimSpace(count))
	spec.MemoryMB, _ = strconv.Atoi(strings.TrimSpace(memory))
	spec.CPUs, _ = strconv.Atoi(strings.TrimSpace(cpus))
	return nil
}

func positiveInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return fmt.Errorf("enter a whole number of at least 1")
	}
	return nil
}
