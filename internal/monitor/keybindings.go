package monitor

import (
	"sort"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/rileyhilliard/vmctl/internal/fleet"
	"github.com/rileyhilliard/vmctl/internal/lifecycle"
)

// SortOrder defines how VMs are sorted in the dashboard.
type SortOrder int

const (
	// SortByState puts running VMs first, then sorts by name.
	SortByState SortOrder = iota
	SortByName
)

// String returns a human-readable label for the sort order.
func (s SortOrder) String() string {
	switch s {
	case SortByName:
		return "name"
	default:
		return "state"
	}
}

// Next cycles to the next sort order.
func (s SortOrder) Next() SortOrder {
	return SortOrder((int(s) + 1) % 2)
}

// Apply returns a sorted copy of vms.
func (s SortOrder) Apply(vms []fleet.VMSummary) []fleet.VMSummary {
	if s == SortByName {
		out := append([]fleet.VMSummary(nil), vms...)
		sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out
	}
	return fleet.SortForDisplay(vms)
}

// ViewMode defines the current display mode of the dashboard.
type ViewMode int

const (
	ViewList ViewMode = iota
	ViewDetail
)

// Key bindings as constants for consistency.
const (
	KeyQuit        = "q"
	KeyQuitAlt     = "ctrl+c"
	KeyRefresh     = "r"
	KeyCycleSort   = "o"
	KeySelectPrev  = "up"
	KeySelectPrevK = "k"
	KeySelectNext  = "down"
	KeySelectNextJ = "j"
	KeySelectFirst = "home"
	KeySelectLast  = "end"
	KeyInspect     = "enter"
	KeyBack        = "esc"
	KeyStart       = "s"
	KeyStop        = "x"
	KeyDelete      = "d"
	KeyConfirm     = "y"
	KeyToggleHelp  = "?"
)

// HandleKeyMsg processes keyboard input and returns updated model state and command.
// Returns true if the key was handled, false otherwise.
func (m *Model) HandleKeyMsg(msg tea.KeyMsg) (bool, tea.Cmd) {
	key := msg.String()

	if key == KeyQuitAlt {
		m.quitting = true
		return true, tea.Quit
	}

	// A pending delete swallows the next key
	if m.confirmDelete != "" {
		vm := m.confirmDelete
		m.confirmDelete = ""
		if key == KeyConfirm {
			return true, m.lifecycleCmd(lifecycle.VerbDelete, vm)
		}
		m.setStatus("delete "+vm+" cancelled", false)
		return true, nil
	}

	if key == KeyToggleHelp {
		m.showHelp = !m.showHelp
		return true, nil
	}

	if m.showHelp && key == KeyBack {
		m.showHelp = false
		return true, nil
	}

	switch key {
	case KeyQuit:
		m.quitting = true
		return true, tea.Quit

	case KeyRefresh:
		if m.opts.Roster != nil {
			m.opts.Roster.Refresh()
		}
		return true, nil

	case KeyStart, KeyStop, KeyDelete:
		vm := m.target()
		if vm == "" {
			return true, nil
		}
		switch key {
		case KeyStart:
			return true, m.lifecycleCmd(lifecycle.VerbStart, vm)
		case KeyStop:
			return true, m.lifecycleCmd(lifecycle.VerbStop, vm)
		default:
			m.confirmDelete = vm
			return true, nil
		}

	case KeyBack:
		if m.viewMode == ViewDetail {
			return true, m.stopInspecting()
		}
		return true, nil
	}

	// The remaining keys navigate the list; the detail viewport gets its own
	// up/down for scrolling.
	if m.viewMode == ViewDetail {
		return false, nil
	}

	switch key {
	case KeyCycleSort:
		m.sortOrder = m.sortOrder.Next()
		current := m.SelectedVM()
		m.vms = m.sortOrder.Apply(m.vms)
		for i, vm := range m.vms {
			if vm.Name == current {
				m.selected = i
			}
		}
		return true, nil

	case KeySelectPrev, KeySelectPrevK:
		if m.selected > 0 {
			m.selected--
		}
		return true, nil

	case KeySelectNext, KeySelectNextJ:
		if m.selected < len(m.vms)-1 {
			m.selected++
		}
		return true, nil

	case KeySelectFirst:
		if len(m.vms) > 0 {
			m.selected = 0
		}
		return true, nil

	case KeySelectLast:
		if len(m.vms) > 0 {
			m.selected = len(m.vms) - 1
		}
		return true, nil

	case KeyInspect:
		vm := m.SelectedVM()
		if vm == "" {
			return true, nil
		}
		return true, m.inspect(vm)
	}

	return false, nil
}

// target is the VM a lifecycle key applies to: the inspected VM in the
// detail view, the cursor otherwise.
func (m Model) target() string {
	if m.viewMode == ViewDetail {
		return m.inspected
	}
	return m.SelectedVM()
}

func (m *Model) lifecycleCmd(verb lifecycle.Verb, vm string) tea.Cmd {
	if m.opts.Dispatcher == nil {
		return nil
	}
	cmd, err := lifecycle.Power(verb, lifecycle.Single(vm))
	if err != nil {
		m.setStatus(errors.Short(err), true)
		return nil
	}
	return m.dispatchCmd(cmd)
}
