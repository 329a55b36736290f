// Package telemetry turns raw control plane stats into live, bounded
// time series for one VM at a time.
//
// The pieces, leaf to root:
//
//   - Sample: one parsed reading. Numeric fields may arrive as JSON numbers
//     or numeric strings; anything non-numeric or non-finite rejects the
//     whole reading.
//   - Series: a fixed-capacity ring buffer of timestamped points.
//   - Session: a goroutine that fetches a sample, pushes it into the enabled
//     channels (cpu, memory, network) and hands a Snapshot to a Sink. A
//     fetch that completes after Cancel is dropped.
//   - Inspector: owns the one live Session and replaces it on every Select.
package telemetry
