package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"go-forge/sched"
)

// NcursesMonitor shows scheduler state in a tview TUI: a status header,
// the running/paused/downloading tables and a scrolling event log.
type NcursesMonitor struct {
	app        *tview.Application
	statusText *tview.TextView
	jobsText   *tview.TextView
	eventsText *tview.TextView
	layout     *tview.Flex

	mu          sync.Mutex
	eventLines  []string
	maxEvents   int
	stopped     bool
	onInterrupt func()
}

// NewNcursesMonitor creates the TUI monitor.
func NewNcursesMonitor() *NcursesMonitor {
	return &NcursesMonitor{maxEvents: 100}
}

// SetInterruptHandler registers a callback for Ctrl+C / q.
func (m *NcursesMonitor) SetInterruptHandler(handler func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onInterrupt = handler
}

// Start initializes the terminal UI.
func (m *NcursesMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.app = tview.NewApplication()

	m.statusText = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	m.statusText.SetBorder(true).SetTitle(" go-forge ").SetTitleAlign(tview.AlignLeft)
	m.statusText.SetText("[yellow]Initializing...[white]")

	m.jobsText = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	m.jobsText.SetBorder(true).SetTitle(" Jobs ").SetTitleAlign(tview.AlignLeft)

	m.eventsText = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetChangedFunc(func() {
			m.app.Draw()
		})
	m.eventsText.SetBorder(true).SetTitle(" Events ").SetTitleAlign(tview.AlignLeft)

	m.layout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(m.statusText, 3, 0, false).
		AddItem(m.jobsText, 0, 2, false).
		AddItem(m.eventsText, 0, 1, false)

	m.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		interrupt := event.Key() == tcell.KeyCtrlC ||
			(event.Key() == tcell.KeyRune && (event.Rune() == 'q' || event.Rune() == 'Q'))
		if !interrupt {
			return event
		}
		m.app.Stop()
		m.mu.Lock()
		handler := m.onInterrupt
		m.mu.Unlock()
		if handler != nil {
			go handler()
		}
		return nil
	})

	go func() {
		// tview returns when Stop is called; nothing to report
		_ = m.app.SetRoot(m.layout, true).Run()
	}()

	// give the terminal a moment to switch to the alternate screen
	time.Sleep(100 * time.Millisecond)

	return nil
}

// Stop restores the terminal.
func (m *NcursesMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	m.stopped = true
	if m.app != nil {
		m.app.Stop()
	}
}

// OnSnapshot implements Monitor.
func (m *NcursesMonitor) OnSnapshot(snap sched.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || m.app == nil {
		return
	}

	status := fmt.Sprintf("Load median: [yellow]%d[white]  Done: %d/%d  Runnable: %d  Waiting downloads: %d",
		snap.LoadMedian, snap.Done, snap.JobCount, snap.Runnable, snap.WaitingDL)

	var jobs strings.Builder
	writeList := func(title string, names []string) {
		fmt.Fprintf(&jobs, "[green]%s[white] (%d)\n", title, len(names))
		for _, name := range names {
			fmt.Fprintf(&jobs, "  %s\n", name)
		}
	}
	writeList("Running", snap.Running)
	writeList("Paused", snap.Paused)
	writeList("Downloading", snap.Downloading)
	writeList("Verifying", snap.Verifying)

	m.app.QueueUpdateDraw(func() {
		m.statusText.SetText(status)
		m.jobsText.SetText(jobs.String())
	})
}

// LogEvent implements Monitor.
func (m *NcursesMonitor) LogEvent(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || m.app == nil {
		return
	}

	timestamp := time.Now().Format("15:04:05")
	m.eventLines = append(m.eventLines, fmt.Sprintf("[%s] %s", timestamp, message))
	if len(m.eventLines) > m.maxEvents {
		m.eventLines = m.eventLines[len(m.eventLines)-m.maxEvents:]
	}
	text := strings.Join(m.eventLines, "\n")

	m.app.QueueUpdateDraw(func() {
		m.eventsText.SetText(text)
		m.eventsText.ScrollToEnd()
	})
}
