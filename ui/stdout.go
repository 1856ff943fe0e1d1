package ui

import (
	"fmt"
	"sync"
	"time"

	"go-forge/sched"
)

// StdoutMonitor prints a throttled status line and events to stdout.
// Used when the terminal UI is disabled with --no-ui.
type StdoutMonitor struct {
	mu        sync.Mutex
	lastPrint time.Time
}

// NewStdoutMonitor creates the stdout monitor.
func NewStdoutMonitor() *StdoutMonitor {
	return &StdoutMonitor{}
}

// Start implements Monitor (no-op).
func (m *StdoutMonitor) Start() error {
	return nil
}

// Stop implements Monitor.
func (m *StdoutMonitor) Stop() {
	fmt.Println()
}

// OnSnapshot prints a condensed status line, at most every 5 seconds.
func (m *StdoutMonitor) OnSnapshot(snap sched.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if now.Sub(m.lastPrint) < 5*time.Second {
		return
	}
	m.lastPrint = now

	fmt.Printf("\r[%s] load %d | done %d/%d | building %d | paused %d | downloading %d",
		now.Format("15:04:05"), snap.LoadMedian, snap.Done, snap.JobCount,
		len(snap.Running), len(snap.Paused), len(snap.Downloading))
}

// LogEvent prints a one-line event.
func (m *StdoutMonitor) LogEvent(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fmt.Printf("\r%-80s\n", message)
}
