// Package monitor implements the fleet dashboard behind `vmctl monitor`.
//
// The dashboard lists the roster, lets the user inspect one VM at a time
// and sends start, stop and delete commands from the keyboard.
//
// # Architecture
//
// The package uses Bubble Tea's Model-Update-View loop. Nothing in Update
// blocks on the network:
//
//   - Roster polls and telemetry ticks arrive through a Bridge, which
//     implements fleet.Sink and telemetry.Sink and turns callbacks into
//     rosterMsg and telemetryMsg.
//   - Selecting a VM runs Inspector.Select inside a tea.Cmd, so cancelling
//     the previous session never stalls rendering.
//   - Lifecycle commands run through the Dispatcher inside a tea.Cmd and
//     come back as dispatchMsg; a success pokes the poller for a refresh.
//
// # Views
//
//	ViewList    - roster rows, powered-on first, with an inline CPU
//	              sparkline next to the inspected VM
//	ViewDetail  - scrollable sections for each telemetry channel: CPU,
//	              memory against its ceiling, network in and out
//
// # Keyboard Shortcuts
//
//	q, Ctrl+C   - Quit
//	r           - Refresh the roster now
//	o           - Toggle sort order
//	j/k, ↑/↓    - Navigate the roster
//	Enter       - Inspect the selected VM
//	Esc         - Stop inspecting
//	s / x / d   - Start / stop / delete
//	?           - Toggle help overlay
package monitor
