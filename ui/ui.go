// Package ui displays live scheduler progress. Two implementations
// exist: a tview terminal UI and a plain stdout fallback.
package ui

import (
	"go-forge/sched"
)

// Monitor consumes scheduler snapshots for display.
type Monitor interface {
	// Start initializes the display.
	Start() error

	// Stop restores the terminal. Safe to call multiple times.
	Stop()

	// OnSnapshot receives the scheduler state once per sampling tick.
	OnSnapshot(snap sched.Snapshot)

	// LogEvent shows a one-line event (build finished, download failed).
	LogEvent(message string)
}
