// Package lifecycle builds well-formed create, start, stop and delete
// commands for the control plane. Nothing malformed leaves this package:
// every constructor validates its input and returns a VALIDATION error
// instead of a half-built command.
package lifecycle

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	"github.com/rileyhilliard/vmctl/internal/controlplane"
	"github.com/rileyhilliard/vmctl/internal/errors"
)

// Verb names a lifecycle operation.
type Verb string

const (
	VerbCreate Verb = "create"
	VerbStart  Verb = "start"
	VerbStop   Verb = "stop"
	VerbDelete Verb = "delete"
)

// Path returns the control plane endpoint for the verb.
func (v Verb) Path() string {
	switch v {
	case VerbCreate:
		return controlplane.PathCreateVM
	case VerbStart:
		return controlplane.PathStartVM
	case VerbStop:
		return controlplane.PathStopVM
	case VerbDelete:
		return controlplane.PathDeleteVM
	}
	return ""
}

// MACPrefix is the locally administered QEMU/KVM OUI every generated
// address starts with.
const MACPrefix = "52:54:00"

// Target selects one VM by exact name, or every VM whose name starts with
// a base name.
type Target struct {
	Name string
	Bulk bool
}

// Single targets exactly one VM.
func Single(name string) Target {
	return Target{Name: name}
}

// Bulk targets every VM whose name starts with base.
func Bulk(base string) Target {
	return Target{Name: base, Bulk: true}
}

func (t Target) String() string {
	if t.Bulk {
		return t.Name + "*"
	}
	return t.Name
}

// BulkCreateSpec describes Count VMs named BaseName1..BaseNameN.
type BulkCreateSpec struct {
	BaseName string
	Count    int
	BaseDisk string
	ISOImage string
	MemoryMB int
	CPUs     int
}

// VMCreateRequest is one element of the /create_vm payload.
type VMCreateRequest struct {
	VMName     string `json:"vm_name"`
	BaseDisk   string `json:"base_disk"`
	ISOImage   string `json:"iso_image"`
	Memory     int    `json:"memory"`
	CPUs       int    `json:"cpus"`
	MACAddress string `json:"mac_address"`
}

// PowerRequest is the payload shared by start, stop and delete. Exactly one
// of VMName and BaseName is set, matching Bulk.
type PowerRequest struct {
	VMName   string `json:"vm_name,omitempty"`
	BaseName string `json:"base_name,omitempty"`
	Bulk     bool   `json:"bulk"`
}

// Command is a validated lifecycle command ready to send.
type Command struct {
	Verb   Verb
	Target Target

	// Creates is set for VerbCreate only.
	Creates []VMCreateRequest
	// Power is set for start, stop and delete.
	Power *PowerRequest
}

// Path returns the endpoint to POST to.
func (c Command) Path() string {
	return c.Verb.Path()
}

// Payload returns the JSON body. A create of one VM is a single object,
// not a one-element array.
func (c Command) Payload() any {
	if c.Verb == VerbCreate {
		if len(c.Creates) == 1 {
			return c.Creates[0]
		}
		return c.Creates
	}
	return c.Power
}

// IsBulk reports whether the command may affect more than one VM.
func (c Command) IsBulk() bool {
	if c.Verb == VerbCreate {
		return len(c.Creates) > 1
	}
	return c.Target.Bulk
}

// Names returns the VM names the command is known to touch before it is
// sent: the expanded names for a create, the single name otherwise. Bulk
// power commands return nil since only the control plane knows the matches.
func (c Command) Names() []string {
	if c.Verb == VerbCreate {
		names := make([]string, len(c.Creates))
		for i, r := range c.Creates {
			names[i] = r.VMName
		}
		return names
	}
	if c.Target.Bulk {
		return nil
	}
	return []string{c.Target.Name}
}

// String describes the command for status lines, e.g. "stop web*".
func (c Command) String() string {
	if c.Verb == VerbCreate && len(c.Creates) > 0 {
		first, last := c.Creates[0].VMName, c.Creates[len(c.Creates)-1].VMName
		if first == last {
			return "create " + first
		}
		return fmt.Sprintf("create %s..%s", first, last)
	}
	return fmt.Sprintf("%s %s", c.Verb, c.Target)
}

// Builder constructs commands. The zero value is ready to use and draws MAC
// octets from crypto/rand.
type Builder struct {
	// Rand supplies random bytes for MAC addresses.
	Rand io.Reader
}

var defaultBuilder = &Builder{}

// Create expands spec into Count create requests using the default builder.
func Create(spec BulkCreateSpec) (Command, error) { return defaultBuilder.Create(spec) }

// Start builds a start command using the default builder.
func Start(t Target) (Command, error) { return defaultBuilder.Power(VerbStart, t) }

// Stop builds a stop command using the default builder.
func Stop(t Target) (Command, error) { return defaultBuilder.Power(VerbStop, t) }

// Delete builds a delete command using the default builder.
func Delete(t Target) (Command, error) { return defaultBuilder.Power(VerbDelete, t) }

// Power builds a start, stop or delete command chosen at runtime.
func Power(verb Verb, t Target) (Command, error) { return defaultBuilder.Power(verb, t) }

// Create validates spec and expands it into requests named BaseName1 through
// BaseNameN, each with its own random MAC. MACs are not checked for
// collisions.
func (b *Builder) Create(spec BulkCreateSpec) (Command, error) {
	base := strings.TrimSpace(spec.BaseName)
	if err := validateName(base, "VM name"); err != nil {
		return Command{}, err
	}
	if spec.Count <= 0 {
		return Command{}, errors.New(errors.ErrValidation,
			fmt.Sprintf("Count must be at least 1 (got %d)", spec.Count),
			"Use --count 1 to create a single VM")
	}
	if spec.MemoryMB <= 0 {
		return Command{}, errors.New(errors.ErrValidation,
			fmt.Sprintf("Memory must be positive (got %d MB)", spec.MemoryMB),
			"Try --memory 1024")
	}
	if spec.CPUs <= 0 {
		return Command{}, errors.New(errors.ErrValidation,
			fmt.Sprintf("CPU count must be positive (got %d)", spec.CPUs),
			"Try --cpus 2")
	}

	reqs := make([]VMCreateRequest, 0, spec.Count)
	for i := 1; i <= spec.Count; i++ {
		mac, err := b.mac()
		if err != nil {
			return Command{}, err
		}
		reqs = append(reqs, VMCreateRequest{
			VMName:     fmt.Sprintf("%s%d", base, i),
			BaseDisk:   spec.BaseDisk,
			ISOImage:   spec.ISOImage,
			Memory:     spec.MemoryMB,
			CPUs:       spec.CPUs,
			MACAddress: mac,
		})
	}

	return Command{
		Verb:    VerbCreate,
		Target:  Target{Name: base, Bulk: spec.Count > 1},
		Creates: reqs,
	}, nil
}

// Power builds a start, stop or delete command.
func (b *Builder) Power(verb Verb, t Target) (Command, error) {
	if verb != VerbStart && verb != VerbStop && verb != VerbDelete {
		return Command{}, errors.New(errors.ErrValidation,
			fmt.Sprintf("Unknown lifecycle verb '%s'", verb),
			"Use start, stop or delete")
	}

	name := strings.TrimSpace(t.Name)
	what := "VM name"
	if t.Bulk {
		what = "Base name"
	}
	if err := validateName(name, what); err != nil {
		return Command{}, err
	}

	req := &PowerRequest{Bulk: t.Bulk}
	if t.Bulk {
		req.BaseName = name
	} else {
		req.VMName = name
	}
	return Command{
		Verb:   verb,
		Target: Target{Name: name, Bulk: t.Bulk},
		Power:  req,
	}, nil
}

func (b *Builder) mac() (string, error) {
	r := b.Rand
	if r == nil {
		r = rand.Reader
	}
	var octets [3]byte
	if _, err := io.ReadFull(r, octets[:]); err != nil {
		return "", errors.WrapWithCode(err, errors.ErrValidation,
			"Couldn't generate a MAC address", "")
	}
	return fmt.Sprintf("%s:%02x:%02x:%02x", MACPrefix, octets[0], octets[1], octets[2]), nil
}

func validateName(name, what string) error {
	if name == "" {
		return errors.New(errors.ErrValidation,
			what+" is required",
			"Pass a name, e.g. 'web' or 'db1'")
	}
	if strings.ContainsAny(name, "/ \t\n") {
		return errors.New(errors.ErrValidation,
			fmt.Sprintf("%s '%s' can't contain slashes or whitespace", what, name),
			"Use letters, digits, '-' or '_'")
	}
	return nil
}
