package log

import (
	"fmt"
	"strings"
	"sync"
)

// MemoryLogger captures all log messages in memory for testing.
// Thread-safe for concurrent use.
type MemoryLogger struct {
	mu       sync.Mutex
	messages []LogMessage
}

// LogMessage is a captured log entry.
type LogMessage struct {
	Level   string // "INFO", "DEBUG", "WARN", "ERROR"
	Message string
}

// NewMemoryLogger creates a MemoryLogger.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{messages: make([]LogMessage, 0)}
}

func (m *MemoryLogger) record(level, format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, LogMessage{
		Level:   level,
		Message: fmt.Sprintf(format, args...),
	})
}

func (m *MemoryLogger) Info(format string, args ...any)  { m.record("INFO", format, args...) }
func (m *MemoryLogger) Debug(format string, args ...any) { m.record("DEBUG", format, args...) }
func (m *MemoryLogger) Warn(format string, args ...any)  { m.record("WARN", format, args...) }
func (m *MemoryLogger) Error(format string, args ...any) { m.record("ERROR", format, args...) }

// Messages returns a copy of all captured messages.
func (m *MemoryLogger) Messages() []LogMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]LogMessage, len(m.messages))
	copy(result, m.messages)
	return result
}

// Contains reports whether any captured message of the given level
// contains substr.
func (m *MemoryLogger) Contains(level, substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.Level == level && strings.Contains(msg.Message, substr) {
			return true
		}
	}
	return false
}
