package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/rileyhilliard/vmctl/internal/config"
	"github.com/rileyhilliard/vmctl/internal/util"
)

// rowSparkWidth is the inline CPU sparkline next to the inspected VM.
const rowSparkWidth = 12

// renderDashboard renders the roster list view.
func (m Model) renderDashboard() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")
	b.WriteString(m.renderRoster())
	b.WriteString("\n\n")
	b.WriteString(m.renderFooter())

	return b.String()
}

// renderHeader renders the title bar with fleet counts and roster age.
func (m Model) renderHeader() string {
	var updateText string
	switch age := m.SecondsSinceUpdate(); {
	case age < 0:
		updateText = "waiting for roster"
	case age == 0:
		updateText = "last update just now"
	default:
		updateText = fmt.Sprintf("last update %ds ago", age)
	}

	title := lipgloss.NewStyle().
		Foreground(ColorAccent).
		Bold(true).
		Render("vmctl monitor")

	parts := []string{util.Count(len(m.vms), "VM", "VMs"), fmt.Sprintf("%d running", m.RunningCount()), updateText}
	if m.opts.Server != "" {
		parts = append([]string{m.opts.Server}, parts...)
	}
	stats := lipgloss.NewStyle().
		Foreground(ColorTextSecondary).
		Render(" | " + strings.Join(parts, " | "))

	header := title + stats
	if m.opts.Roster != nil && m.opts.Roster.LastError() != nil && m.fetched {
		header += lipgloss.NewStyle().Foreground(ColorWarning).Render(" | roster stale")
	}
	return HeaderStyle.Render(header)
}

// renderRoster renders one row per VM.
func (m Model) renderRoster() string {
	if !m.fetched {
		return LabelStyle.Render("  Fetching roster...")
	}
	if len(m.vms) == 0 {
		return LabelStyle.Render("  No VMs. Create some with `vmctl create`.")
	}

	nameWidth := 4
	for _, vm := range m.vms {
		if w := lipgloss.Width(vm.Name); w > nameWidth {
			nameWidth = w
		}
	}

	rows := make([]string, 0, len(m.vms))
	for i, vm := range m.vms {
		cursor := "  "
		nameStyle := VMNameStyle
		if i == m.selected {
			cursor = RowSelectedStyle.Render(GlyphInspected + " ")
			nameStyle = RowSelectedStyle
		}

		glyph, state := StatusStoppedStyle.Render(GlyphStopped), StatusStoppedStyle.Render("stopped")
		if vm.PoweredOn {
			glyph, state = StatusRunningStyle.Render(GlyphRunning), StatusRunningStyle.Render("running")
		}

		name := nameStyle.Render(vm.Name) + strings.Repeat(" ", nameWidth-lipgloss.Width(vm.Name))
		row := fmt.Sprintf("%s%s %s  %s", cursor, glyph, name, state)

		if vm.Name == m.inspected {
			row += "  " + m.renderInlineCPU()
		}
		rows = append(rows, row)
	}

	return strings.Join(rows, "\n")
}

// renderInlineCPU is the compact CPU readout for the inspected row.
func (m Model) renderInlineCPU() string {
	if m.snapshot == nil {
		return LabelStyle.Render("inspecting...")
	}
	ch, ok := m.snapshot.Channel(config.ChannelCPU)
	if !ok || len(ch.Series) == 0 || len(ch.Series[0].Points) == 0 {
		return LabelStyle.Render("inspecting")
	}
	data := pointValues(ch.Series[0].Points)
	latest := data[len(data)-1]
	return RenderColoredMiniSparkline(data, rowSparkWidth, PercentScale, ColorGraph) + " " +
		MetricStyle(latest).Render(fmt.Sprintf("%5.1f%%", latest))
}

// renderFooter renders the status line and key hints.
func (m Model) renderFooter() string {
	var status string
	switch {
	case m.confirmDelete != "":
		status = ConfirmStyle.Render(fmt.Sprintf("Delete %s? y to confirm, any other key cancels", m.confirmDelete))
	case m.status != "" && m.statusErr:
		status = StatusLineErrStyle.Render(m.status)
	case m.status != "":
		status = StatusLineOKStyle.Render(m.status)
	}

	hints := []string{"q quit", "r refresh", "↑↓ select", "enter inspect", "s start", "x stop", "d delete", "? help"}
	if m.viewMode == ViewDetail {
		hints = []string{"esc back", "s start", "x stop", "d delete", "↑↓ scroll", "? help"}
	}
	footer := FooterStyle.Render(strings.Join(hints, " | "))

	if status == "" {
		return footer
	}
	return status + "\n" + footer
}

// FormatMB formats a size in megabytes, switching to GB at 1024.
func FormatMB(mb float64) string {
	if mb >= 1024 {
		return fmt.Sprintf("%.1f GB", mb/1024)
	}
	return fmt.Sprintf("%.0f MB", mb)
}

// FormatBytes formats a byte count as a human-readable string.
func FormatBytes(bytes float64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%.0f B", bytes)
	}

	units := []string{"KB", "MB", "GB", "TB", "PB"}
	div, exp := float64(unit), 0
	for n := bytes / unit; n >= unit && exp < len(units)-1; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %s", bytes/div, units[exp])
}
