package provision

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rileyhilliard/vmctl/internal/errors"
)

// Template turns a VM into SSH coordinates. Each string may use {name} (the
// VM name), {index} (its number, from 1) and {n} (index plus Offset).
type Template struct {
	Host     string
	User     string
	Password string
	Offset   int
}

// Target is one VM to provision.
type Target struct {
	VM       string
	Index    int
	Host     string
	User     string
	Password string
}

// Targets names the VMs a `create --base-name base --count count` produced,
// base1 through baseN, and fills in their SSH coordinates.
func Targets(base string, count int, tmpl Template) ([]Target, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return nil, errors.New(errors.ErrValidation,
			"Base name is required",
			"Pass the base name used with 'vmctl create', e.g. 'hadoop'")
	}
	if strings.ContainsAny(base, "/ \t\n") {
		return nil, errors.New(errors.ErrValidation,
			fmt.Sprintf("Base name '%s' can't contain slashes or whitespace", base),
			"Use letters, digits, '-' or '_'")
	}
	if count < 1 {
		return nil, errors.New(errors.ErrValidation,
			fmt.Sprintf("Count must be at least 1 (got %d)", count),
			"Use --count with the number of VMs created")
	}
	host := tmpl.Host
	if strings.TrimSpace(host) == "" {
		host = "{name}"
	}

	targets := make([]Target, 0, count)
	for i := 1; i <= count; i++ {
		name := fmt.Sprintf("%s%d", base, i)
		r := strings.NewReplacer(
			"{name}", name,
			"{index}", strconv.Itoa(i),
			"{n}", strconv.Itoa(i+tmpl.Offset),
		)
		targets = append(targets, Target{
			VM:       name,
			Index:    i,
			Host:     r.Replace(host),
			User:     r.Replace(tmpl.User),
			Password: r.Replace(tmpl.Password),
		})
	}
	return targets, nil
}
