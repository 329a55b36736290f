package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/rileyhilliard/vmctl/internal/config"
	"github.com/rileyhilliard/vmctl/internal/telemetry"
)

const (
	graphHeight  = 3
	minSectionW  = 40
	networkSpark = 20
)

// renderDetailView renders the inspected VM: header, scrollable channel
// sections, footer.
func (m Model) renderDetailView() string {
	var b strings.Builder
	b.WriteString(m.renderDetailHeader())
	b.WriteString("\n\n")

	if m.viewportReady {
		b.WriteString(m.detailViewport.View())
	} else {
		b.WriteString(m.renderDetailContent())
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

// renderDetailHeader renders the VM name, its power state and the sample time.
func (m Model) renderDetailHeader() string {
	title := lipgloss.NewStyle().
		Foreground(ColorAccent).
		Bold(true).
		Render(m.inspected)

	state := StatusStoppedStyle.Render(GlyphStopped + " stopped")
	if m.poweredOn(m.inspected) {
		state = StatusRunningStyle.Render(GlyphRunning + " running")
	}

	line := fmt.Sprintf("%s  %s", title, state)
	if m.snapshot != nil {
		line += LabelStyle.Render("  sampled " + m.snapshot.At.Format("15:04:05"))
	}
	return HeaderStyle.Render(line)
}

// renderDetailContent renders one section per enabled channel.
func (m Model) renderDetailContent() string {
	if m.inspected == "" {
		return LabelStyle.Render("No VM selected")
	}
	if m.snapshot == nil {
		return LabelStyle.Render("Waiting for the first sample from " + m.inspected + "...")
	}

	width := m.width - 2
	if width < minSectionW {
		width = minSectionW
	}

	var sections []string
	for _, ch := range m.snapshot.Channels {
		switch ch.Name {
		case config.ChannelCPU:
			sections = append(sections, renderCPUSection(ch, width))
		case config.ChannelMemory:
			sections = append(sections, renderMemorySection(ch, width))
		case config.ChannelNetwork:
			sections = append(sections, renderNetworkSection(ch, width))
		}
	}
	return strings.Join(sections, "\n")
}

func firstSeries(ch telemetry.ChannelSnapshot) []float64 {
	if len(ch.Series) == 0 {
		return nil
	}
	return pointValues(ch.Series[0].Points)
}

func renderCPUSection(ch telemetry.ChannelSnapshot, width int) string {
	data := firstSeries(ch)
	if len(data) == 0 {
		return section("CPU", "n/a", LabelStyle.Render("no samples yet"), width)
	}

	latest := data[len(data)-1]
	value := MetricStyle(latest).Render(fmt.Sprintf("%.1f%%", latest))

	inner := width - 4
	lines := []string{
		ProgressBar(inner, latest),
		RenderBrailleSparkline(data, inner, graphHeight, PercentScale, ColorGraph),
	}
	return section("CPU", value, strings.Join(lines, "\n"), width)
}

func renderMemorySection(ch telemetry.ChannelSnapshot, width int) string {
	data := firstSeries(ch)
	if len(data) == 0 {
		return section("Memory", "n/a", LabelStyle.Render("no samples yet"), width)
	}

	latest := data[len(data)-1]
	inner := width - 4
	scale := CeilingScale(data, ch.Ceiling)

	var value string
	var lines []string
	if ch.Ceiling > 0 {
		pct := latest / ch.Ceiling * 100
		value = fmt.Sprintf("%s / %s (%.0f%%)", FormatMB(latest), FormatMB(ch.Ceiling), pct)
		lines = append(lines, ProgressBar(inner, pct))
		// draw against the ceiling but color by usage
		scale.Percent = false
		lines = append(lines, RenderBrailleSparkline(data, inner, graphHeight, scale, MetricColor(pct)))
	} else {
		value = FormatMB(latest)
		lines = append(lines, RenderBrailleSparkline(data, inner, graphHeight, scale, ColorGraph))
	}
	return section("Memory", value, strings.Join(lines, "\n"), width)
}

func renderNetworkSection(ch telemetry.ChannelSnapshot, width int) string {
	var lines []string
	var latest []string
	for i, s := range ch.Series {
		data := pointValues(s.Points)
		if len(data) == 0 {
			continue
		}
		color := ColorGraph
		if i > 0 {
			color = ColorGraphAlt
		}
		last := FormatBytes(data[len(data)-1])
		latest = append(latest, fmt.Sprintf("%s %s", s.Label, last))
		label := LabelStyle.Render(fmt.Sprintf("%-4s", s.Label))
		spark := RenderColoredMiniSparkline(data, networkSpark, AutoScale(data), color)
		lines = append(lines, fmt.Sprintf("%s %s %s", label, spark, ValueStyle.Render(last)))
	}

	if len(lines) == 0 {
		return section("Network", "n/a", LabelStyle.Render("not reported by the control plane"), width)
	}
	return section("Network", strings.Join(latest, " / "), strings.Join(lines, "\n"), width)
}

func section(title, value, body string, width int) string {
	return SectionHeader(title, value, width) + "\n" +
		SectionContentLine(body, width) + "\n" +
		SectionFooter(width)
}
