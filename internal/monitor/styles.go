package monitor

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Dashboard color palette
const (
	ColorDarkBg    = lipgloss.Color("#0D1117")
	ColorSurfaceBg = lipgloss.Color("#161B22")
	ColorBorder    = lipgloss.Color("#30363D")

	// Semantic colors for metrics
	ColorHealthy  = lipgloss.Color("#3FB950")
	ColorWarning  = lipgloss.Color("#D29922")
	ColorCritical = lipgloss.Color("#F85149")

	ColorTextPrimary   = lipgloss.Color("#E6EDF3")
	ColorTextSecondary = lipgloss.Color("#8B949E")
	ColorTextMuted     = lipgloss.Color("#6E7681")

	ColorAccent = lipgloss.Color("#58A6FF")

	// Graph colors for non-percentage channels
	ColorGraph    = lipgloss.Color("#39C5CF")
	ColorGraphAlt = lipgloss.Color("#BC8CFF")
)

// Thresholds for metric severity levels
const (
	WarningThreshold  = 70.0
	CriticalThreshold = 90.0
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(ColorTextPrimary).
			Background(ColorSurfaceBg).
			Bold(true).
			Padding(0, 1)

	FooterStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted).
			Padding(0, 1)

	VMNameStyle = lipgloss.NewStyle().
			Foreground(ColorTextPrimary).
			Bold(true)

	RowSelectedStyle = lipgloss.NewStyle().
				Foreground(ColorAccent).
				Bold(true)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorTextSecondary)

	ValueStyle = lipgloss.NewStyle().
			Foreground(ColorTextPrimary)

	StatusRunningStyle = lipgloss.NewStyle().
				Foreground(ColorHealthy)

	StatusStoppedStyle = lipgloss.NewStyle().
				Foreground(ColorTextMuted)

	StatusLineOKStyle = lipgloss.NewStyle().
				Foreground(ColorHealthy).
				Padding(0, 1)

	StatusLineErrStyle = lipgloss.NewStyle().
				Foreground(ColorCritical).
				Padding(0, 1)

	ConfirmStyle = lipgloss.NewStyle().
			Foreground(ColorWarning).
			Bold(true).
			Padding(0, 1)
)

// Power state glyphs
const (
	GlyphRunning   = "◉"
	GlyphStopped   = "◌"
	GlyphInspected = "▸"
)

// MetricColor returns the color for a percentage: green below 70, yellow
// below 90, red above.
func MetricColor(percent float64) lipgloss.Color {
	switch {
	case percent >= CriticalThreshold:
		return ColorCritical
	case percent >= WarningThreshold:
		return ColorWarning
	default:
		return ColorHealthy
	}
}

// MetricStyle returns a style with the appropriate foreground color for the metric.
func MetricStyle(percent float64) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(MetricColor(percent))
}

// ProgressBar renders a bar of the given width filled to percent, colored by threshold.
func ProgressBar(width int, percent float64) string {
	if width < 1 {
		width = 1
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	filled := int(percent / 100.0 * float64(width))
	if filled > width {
		filled = width
	}

	bar := strings.Repeat("▰", filled) + strings.Repeat("▱", width-filled)
	return lipgloss.NewStyle().Foreground(MetricColor(percent)).Render(bar)
}

// SectionHeader renders a section header with the title on the left and value on the right.
// Format: ╭─ Title ──────────────── Value ╮
func SectionHeader(title, value string, width int) string {
	if width < 10 {
		width = 10
	}

	leftWidth := 3 + lipgloss.Width(title) + 1
	rightWidth := 1 + lipgloss.Width(value) + 2

	fillWidth := width - leftWidth - rightWidth
	if fillWidth < 1 {
		fillWidth = 1
	}
	middle := strings.Repeat("─", fillWidth)

	borderStyle := lipgloss.NewStyle().Foreground(ColorBorder)
	titleStyle := lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	valueStyle := lipgloss.NewStyle().Foreground(ColorTextPrimary).Bold(true)

	return borderStyle.Render("╭─ ") +
		titleStyle.Render(title) +
		borderStyle.Render(" "+middle+" ") +
		valueStyle.Render(value) +
		borderStyle.Render(" ╮")
}

// SectionFooter renders the bottom border of a section.
func SectionFooter(width int) string {
	if width < 2 {
		width = 2
	}
	borderStyle := lipgloss.NewStyle().Foreground(ColorBorder)
	return borderStyle.Render("╰" + strings.Repeat("─", width-2) + "╯")
}

// SectionContentLine renders a content line with left and right borders, padded to width.
// Multi-line content is split and each line framed.
func SectionContentLine(content string, width int) string {
	if width < 4 {
		width = 4
	}

	borderStyle := lipgloss.NewStyle().Foreground(ColorBorder)
	innerWidth := width - 4

	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		padding := innerWidth - lipgloss.Width(line)
		if padding < 0 {
			padding = 0
		}
		out = append(out, borderStyle.Render("│")+" "+line+strings.Repeat(" ", padding)+" "+borderStyle.Render("│"))
	}
	return strings.Join(out, "\n")
}
