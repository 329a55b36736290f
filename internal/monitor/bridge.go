package monitor

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rileyhilliard/vmctl/internal/fleet"
	"github.com/rileyhilliard/vmctl/internal/telemetry"
)

// tickBuffer bounds how many telemetry snapshots can wait for the UI.
const tickBuffer = 8

// rosterMsg carries a fresh roster from the poller.
type rosterMsg struct {
	vms []fleet.VMSummary
}

// telemetryMsg carries one session tick.
type telemetryMsg struct {
	snap telemetry.Snapshot
}

// Bridge hands poller and session callbacks to the Bubble Tea loop. It
// implements fleet.Sink and telemetry.Sink and never blocks the caller: a
// pending roster is replaced by a newer one, and ticks are dropped when the
// UI falls behind.
type Bridge struct {
	roster chan []fleet.VMSummary
	ticks  chan telemetry.Snapshot

	closeOnce sync.Once
	done      chan struct{}
}

// NewBridge creates an open bridge.
func NewBridge() *Bridge {
	return &Bridge{
		roster: make(chan []fleet.VMSummary, 1),
		ticks:  make(chan telemetry.Snapshot, tickBuffer),
		done:   make(chan struct{}),
	}
}

// OnRosterUpdated implements fleet.Sink. Only the latest roster matters.
func (b *Bridge) OnRosterUpdated(vms []fleet.VMSummary) {
	for {
		select {
		case <-b.done:
			return
		case b.roster <- vms:
			return
		default:
		}
		// drop the stale one and try again
		select {
		case <-b.roster:
		default:
		}
	}
}

// OnTelemetryTick implements telemetry.Sink.
func (b *Bridge) OnTelemetryTick(_ string, snap telemetry.Snapshot) {
	select {
	case <-b.done:
	case b.ticks <- snap:
	default:
	}
}

// Close stops delivery and releases a pending Listen.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

// Listen waits for the next roster or tick. The model re-issues it after
// every delivery. It returns nil once the bridge is closed.
func (b *Bridge) Listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-b.done:
			return nil
		case vms := <-b.roster:
			return rosterMsg{vms: vms}
		case snap := <-b.ticks:
			return telemetryMsg{snap: snap}
		}
	}
}
