package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// TableColumn defines a table column with name and minimum width.
type TableColumn struct {
	Title string
	Width int
}

// RenderTable renders a non-interactive table for CLI output. Columns grow
// to fit their widest cell; cells may carry ANSI styling.
func RenderTable(columns []TableColumn, rows [][]string) string {
	if len(columns) == 0 {
		return ""
	}

	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = max(c.Width, lipgloss.Width(c.Title))
	}
	for _, row := range rows {
		for i := range columns {
			if i < len(row) {
				widths[i] = max(widths[i], lipgloss.Width(row[i]))
			}
		}
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
	var b strings.Builder

	titles := make([]string, len(columns))
	for i, c := range columns {
		titles[i] = c.Title
	}
	b.WriteString(headerStyle.Render(joinCells(titles, widths)))
	b.WriteString("\n")

	for _, row := range rows {
		b.WriteString(joinCells(row, widths))
		b.WriteString("\n")
	}
	return b.String()
}

func joinCells(cells []string, widths []int) string {
	parts := make([]string, len(widths))
	for i, w := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		if i == len(widths)-1 {
			parts[i] = cell
			continue
		}
		parts[i] = padRight(cell, w)
	}
	return strings.TrimRight(strings.Join(parts, "  "), " ")
}

// padRight pads s with spaces to width, measured in visible cells.
func padRight(s string, width int) string {
	n := width - lipgloss.Width(s)
	if n <= 0 {
		return s
	}
	return s + strings.Repeat(" ", n)
}
