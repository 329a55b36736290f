package ui

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewSpinner(t *testing.T) {
	s := NewSpinner(&bytes.Buffer{}, "start web1")
	assert.Equal(t, SpinnerPending, s.State())
	assert.False(t, s.animated, "a buffer is not a terminal")
}

func TestSpinner_NonTerminalPrintsOnlyFinalLine(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner(&buf, "start web1")

	s.Start()
	assert.Equal(t, SpinnerInProgress, s.State())
	assert.Empty(t, buf.String())

	s.Success("VM web1 started successfully.")
	assert.Equal(t, SpinnerSuccess, s.State())

	out := buf.String()
	assert.Contains(t, out, SymbolSuccess)
	assert.Contains(t, out, "VM web1 started successfully.")
	assert.NotContains(t, out, "\r")
}

func TestSpinner_FailDefaultsToLabel(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner(&buf, "stop web1")
	s.Start()
	s.Fail("")

	assert.Equal(t, SpinnerFailed, s.State())
	assert.Contains(t, buf.String(), SymbolFail+" stop web1")
}

func TestSpinner_AnimatesAndClears(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner(&buf, "delete web1")
	s.animated = true

	s.Start()
	time.Sleep(3 * frameInterval)
	s.Success("done")

	out := buf.String()
	assert.Contains(t, out, "delete web1...")
	assert.Contains(t, out, "\r")
	assert.Contains(t, out, "done")
}

func TestSpinner_StopWithoutStart(t *testing.T) {
	s := NewSpinner(&bytes.Buffer{}, "noop")
	assert.NotPanics(t, func() {
		s.Stop()
		s.Success("")
	})
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0.05s", formatDuration(50*time.Millisecond))
	assert.Equal(t, "1.2s", formatDuration(1200*time.Millisecond))
}
