package logging

import (
	"fmt"
	"time"
)

// TraceOperation logs the start of operation at DEBUG level and returns a
// function that logs its end, outcome and duration.
func TraceOperation(logger *Logger, operation string, format string, args ...interface{}) func(error) {
	if logger == nil {
		return func(error) {}
	}

	if format != "" {
		logger.Debug("Start %s: %s", operation, fmt.Sprintf(format, args...))
	} else {
		logger.Debug("Start %s", operation)
	}

	started := time.Now()
	return func(err error) {
		elapsed := time.Since(started).Round(time.Millisecond)
		if err != nil {
			logger.Debug("End %s (error=%v, duration=%s)", operation, err, elapsed)
			return
		}
		logger.Debug("End %s (ok, duration=%s)", operation, elapsed)
	}
}
