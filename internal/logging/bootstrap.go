package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/tis24dev/vzsave/internal/types"
)

type bootstrapEntry struct {
	level   types.LogLevel
	message string
}

// BootstrapLogger collects messages produced before the configuration is
// loaded, so they can be replayed into the main logger (and its log file).
type BootstrapLogger struct {
	mu       sync.Mutex
	entries  []bootstrapEntry
	flushed  bool
	minLevel types.LogLevel
}

// NewBootstrapLogger creates a bootstrap logger with INFO as minimum level.
func NewBootstrapLogger() *BootstrapLogger {
	return &BootstrapLogger{
		minLevel: types.LogLevelInfo,
	}
}

// SetLevel updates the minimum level used at flush time.
func (b *BootstrapLogger) SetLevel(level types.LogLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.minLevel = level
}

// Debug records a debug message without printing it.
func (b *BootstrapLogger) Debug(format string, args ...interface{}) {
	b.record(types.LogLevelDebug, fmt.Sprintf(format, args...))
}

// Info prints an early informational message to stdout and records it.
func (b *BootstrapLogger) Info(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(msg)
	b.record(types.LogLevelInfo, msg)
}

// Warning prints an early warning to stderr and records it.
func (b *BootstrapLogger) Warning(format string, args ...interface{}) {
	b.stderr(types.LogLevelWarning, fmt.Sprintf(format, args...))
}

// Error prints an early error to stderr and records it.
func (b *BootstrapLogger) Error(format string, args ...interface{}) {
	b.stderr(types.LogLevelError, fmt.Sprintf(format, args...))
}

func (b *BootstrapLogger) stderr(level types.LogLevel, msg string) {
	msg = strings.TrimSuffix(msg, "\n")
	fmt.Fprintln(os.Stderr, msg)
	b.record(level, msg)
}

func (b *BootstrapLogger) record(level types.LogLevel, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, bootstrapEntry{level: level, message: message})
}

// Flush replays the recorded entries into logger. Only the first call has an effect.
func (b *BootstrapLogger) Flush(logger *Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.flushed || logger == nil {
		return
	}
	for _, entry := range b.entries {
		if entry.level > b.minLevel {
			continue
		}
		switch entry.level {
		case types.LogLevelDebug:
			logger.Debug("%s", entry.message)
		case types.LogLevelWarning:
			logger.Warning("%s", entry.message)
		case types.LogLevelError:
			logger.Error("%s", entry.message)
		case types.LogLevelCritical:
			logger.Critical("%s", entry.message)
		default:
			logger.Info("%s", entry.message)
		}
	}
	b.flushed = true
	b.entries = nil
}
