// Package logging provides the leveled logger used across vzsave.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/tis24dev/vzsave/internal/types"
)

// sink is the state shared by a logger and all of its prefixed children.
type sink struct {
	mu           sync.Mutex
	level        types.LogLevel
	useColor     bool
	output       io.Writer
	timeFormat   string
	logFile      *os.File
	warningCount int64
	errorCount   int64
	exitFunc     func(int)
}

// Logger handles application logging. Loggers returned by WithPrefix share
// output, level and counters with their parent.
type Logger struct {
	sink   *sink
	prefix string
}

// New creates a new logger writing to stdout.
func New(level types.LogLevel, useColor bool) *Logger {
	return &Logger{
		sink: &sink{
			level:      level,
			useColor:   useColor,
			output:     os.Stdout,
			timeFormat: "2006-01-02 15:04:05",
			exitFunc:   os.Exit,
		},
	}
}

// WithPrefix returns a child logger that prepends "[prefix]" to every message.
func (l *Logger) WithPrefix(prefix string) *Logger {
	if l == nil {
		return nil
	}
	p := "[" + prefix + "] "
	return &Logger{sink: l.sink, prefix: l.prefix + p}
}

// SetOutput sets the logger output writer. A nil writer restores stdout.
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if w == nil {
		l.sink.output = os.Stdout
		return
	}
	l.sink.output = w
}

// SetLevel sets the logging level.
func (l *Logger) SetLevel(level types.LogLevel) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// GetLevel returns the current log level.
func (l *Logger) GetLevel() types.LogLevel {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.level
}

// SetExitFunc allows customizing the exit function (useful for tests).
// If fn is nil, it restores os.Exit.
func (l *Logger) SetExitFunc(fn func(int)) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if fn == nil {
		l.sink.exitFunc = os.Exit
		return
	}
	l.sink.exitFunc = fn
}

// OpenLogFile mirrors every log line (without colors) into logPath.
func (l *Logger) OpenLogFile(logPath string) error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.logFile != nil {
		l.sink.logFile.Close()
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	l.sink.logFile = file
	return nil
}

// CloseLogFile closes the log file, if any.
func (l *Logger) CloseLogFile() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.logFile == nil {
		return nil
	}

	err := l.sink.logFile.Close()
	l.sink.logFile = nil
	return err
}

// GetLogFilePath returns the path of the currently open log file (or "" if none).
func (l *Logger) GetLogFilePath() string {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.logFile == nil {
		return ""
	}
	return l.sink.logFile.Name()
}

func (l *Logger) log(level types.LogLevel, format string, args ...interface{}) {
	l.logWithLabel(level, "", "", format, args...)
}

func (l *Logger) logWithLabel(level types.LogLevel, label string, colorOverride string, format string, args ...interface{}) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if level > s.level {
		return
	}

	switch level {
	case types.LogLevelWarning:
		s.warningCount++
	case types.LogLevelError, types.LogLevelCritical:
		s.errorCount++
	}

	timestamp := time.Now().Format(s.timeFormat)
	levelStr := level.String()
	if label != "" {
		levelStr = label
	}
	message := l.prefix + fmt.Sprintf(format, args...)

	var colorCode, resetCode string
	if s.useColor {
		resetCode = "\033[0m"
		if colorOverride != "" {
			colorCode = colorOverride
		} else {
			colorCode = levelColor(level)
		}
	}

	fmt.Fprintf(s.output, "[%s] %s%-8s%s %s\n", timestamp, colorCode, levelStr, resetCode, message)
	if s.logFile != nil {
		fmt.Fprintf(s.logFile, "[%s] %-8s %s\n", timestamp, levelStr, message)
	}
}

func levelColor(level types.LogLevel) string {
	switch level {
	case types.LogLevelDebug:
		return "\033[36m" // Cyan
	case types.LogLevelInfo:
		return "\033[32m" // Green
	case types.LogLevelWarning:
		return "\033[33m" // Yellow
	case types.LogLevelError:
		return "\033[31m" // Red
	case types.LogLevelCritical:
		return "\033[1;31m" // Bold Red
	default:
		return ""
	}
}

// HasWarnings returns true if at least one warning was logged.
func (l *Logger) HasWarnings() bool {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.warningCount > 0
}

// HasErrors returns true if at least one error or critical message was logged.
func (l *Logger) HasErrors() bool {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.errorCount > 0
}

// Debug writes a debug log.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(types.LogLevelDebug, format, args...)
}

// Info writes an informational log.
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(types.LogLevelInfo, format, args...)
}

// Phase writes an informational log with the PHASE label.
func (l *Logger) Phase(format string, args ...interface{}) {
	l.labelled("PHASE", "\033[34m", format, args...)
}

// Step writes an informational log with the STEP label.
func (l *Logger) Step(format string, args ...interface{}) {
	l.labelled("STEP", "\033[34m", format, args...)
}

// Skip writes an informational log with the SKIP label.
func (l *Logger) Skip(format string, args ...interface{}) {
	l.labelled("SKIP", "\033[35m", format, args...)
}

func (l *Logger) labelled(label, color, format string, args ...interface{}) {
	if l == nil {
		return
	}
	colorOverride := ""
	if l.sink.useColor {
		colorOverride = color
	}
	l.logWithLabel(types.LogLevelInfo, label, colorOverride, format, args...)
}

// Warning writes a warning log.
func (l *Logger) Warning(format string, args ...interface{}) {
	l.log(types.LogLevelWarning, format, args...)
}

// Error writes an error log.
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(types.LogLevelError, format, args...)
}

// Critical writes a critical log.
func (l *Logger) Critical(format string, args ...interface{}) {
	l.log(types.LogLevelCritical, format, args...)
}

// Fatal writes a critical log and exits with the specified code.
func (l *Logger) Fatal(exitCode types.ExitCode, format string, args ...interface{}) {
	l.Critical(format, args...)
	l.sink.mu.Lock()
	exit := l.sink.exitFunc
	l.sink.mu.Unlock()
	if exit == nil {
		exit = os.Exit
	}
	exit(exitCode.Int())
}
