// Package log provides go-forge's logging: the LibraryLogger interface
// used by all library packages, a file-backed session logger writing the
// result list files under the logs directory, and a per-build logger.
package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Logger manages the session log files for one build run.
type Logger struct {
	resultsFile *os.File
	successFile *os.File
	failureFile *os.File
	debugFile   *os.File
	mu          sync.Mutex
}

// NewLogger creates the logs directory and opens the session log files.
func NewLogger(logsPath string) (*Logger, error) {
	if err := os.MkdirAll(logsPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	l := &Logger{}

	var err error
	l.resultsFile, err = os.Create(filepath.Join(logsPath, "00_last_results.log"))
	if err != nil {
		return nil, err
	}
	l.successFile, err = os.Create(filepath.Join(logsPath, "01_success_list.log"))
	if err != nil {
		return nil, err
	}
	l.failureFile, err = os.Create(filepath.Join(logsPath, "02_failure_list.log"))
	if err != nil {
		return nil, err
	}
	l.debugFile, err = os.Create(filepath.Join(logsPath, "07_debug.log"))
	if err != nil {
		return nil, err
	}

	l.writeHeaders()

	return l, nil
}

// Close closes all log files.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, f := range []*os.File{l.resultsFile, l.successFile, l.failureFile, l.debugFile} {
		if f != nil {
			f.Close()
		}
	}
}

func (l *Logger) writeHeaders() {
	timestamp := time.Now().Format(time.RFC3339)

	fmt.Fprintf(l.resultsFile, "go-forge build log - %s\n", timestamp)
	fmt.Fprintf(l.resultsFile, "%s\n\n", strings.Repeat("=", 70))

	fmt.Fprintf(l.successFile, "Successful builds - %s\n\n", timestamp)
	fmt.Fprintf(l.failureFile, "Failed builds - %s\n\n", timestamp)
	fmt.Fprintf(l.debugFile, "Debug log - %s\n\n", timestamp)
}

// Success logs a successful build.
func (l *Logger) Success(build string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("15:04:05")
	fmt.Fprintf(l.resultsFile, "[%s] SUCCESS: %s\n", timestamp, build)
	l.successFile.WriteString(build + "\n")

	l.resultsFile.Sync()
	l.successFile.Sync()
}

// Failed logs a failed build with the failure reason.
func (l *Logger) Failed(build, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("15:04:05")
	fmt.Fprintf(l.resultsFile, "[%s] FAILED: %s (%s)\n", timestamp, build, reason)
	fmt.Fprintf(l.failureFile, "%s (%s)\n", build, reason)

	l.resultsFile.Sync()
	l.failureFile.Sync()
}

// Info logs an informational message to the results log.
func (l *Logger) Info(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("15:04:05")
	fmt.Fprintf(l.resultsFile, "[%s] INFO: %s\n", timestamp, fmt.Sprintf(format, args...))
	l.resultsFile.Sync()
}

// Debug logs a diagnostic message to the debug log.
func (l *Logger) Debug(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("15:04:05")
	fmt.Fprintf(l.debugFile, "[%s] %s\n", timestamp, fmt.Sprintf(format, args...))
	l.debugFile.Sync()
}

// Warn logs a warning to both the results and debug logs.
func (l *Logger) Warn(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("15:04:05")
	msg := fmt.Sprintf("[%s] WARN: %s\n", timestamp, fmt.Sprintf(format, args...))
	l.resultsFile.WriteString(msg)
	l.debugFile.WriteString(msg)

	l.resultsFile.Sync()
	l.debugFile.Sync()
}

// Error logs an error to both the results and debug logs.
func (l *Logger) Error(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("15:04:05")
	msg := fmt.Sprintf("[%s] ERROR: %s\n", timestamp, fmt.Sprintf(format, args...))
	l.resultsFile.WriteString(msg)
	l.debugFile.WriteString(msg)

	l.resultsFile.Sync()
	l.debugFile.Sync()
}

// WriteSummary appends the final run summary to the results log.
func (l *Logger) WriteSummary(total, success, failed int, duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintf(l.resultsFile, "\n%s\n", strings.Repeat("=", 70))
	fmt.Fprintf(l.resultsFile, "BUILD SUMMARY\n")
	fmt.Fprintf(l.resultsFile, "%s\n", strings.Repeat("=", 70))
	fmt.Fprintf(l.resultsFile, "Total builds:      %d\n", total)
	fmt.Fprintf(l.resultsFile, "Success:           %d\n", success)
	fmt.Fprintf(l.resultsFile, "Failed:            %d\n", failed)
	fmt.Fprintf(l.resultsFile, "Duration:          %s\n", duration)
	fmt.Fprintf(l.resultsFile, "%s\n", strings.Repeat("=", 70))

	l.resultsFile.Sync()
}
