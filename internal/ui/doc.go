// Package ui provides the small terminal components vmctl's one-shot
// commands print with: a spinner for lifecycle commands, a plain table for
// rosters and samples, status symbols and a shared color palette.
//
// # Color Scheme
//
//	ColorSuccess (green)  - powered on, command succeeded
//	ColorError   (red)    - failures
//	ColorWarning (yellow) - "info" answers from the control plane
//	ColorMuted   (gray)   - timings, secondary text
//
// Use DisableColors() to switch to monochrome output (for --no-color flag).
//
// # Spinner Usage
//
//	s := ui.NewSpinner(os.Stderr, "start web1")
//	s.Start()
//	// ... dispatch ...
//	s.Success() // or s.Fail()
//
// A spinner writing to something that is not a terminal prints only the
// final line.
//
// The full-screen dashboard lives in internal/monitor and has its own styles.
package ui
