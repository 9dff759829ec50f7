package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tis24dev/vzsave/pkg/utils"
)

// OpenRunLog mirrors logger into a new file under dir named after the host,
// the start time and the run id. It returns the log path.
func OpenRunLog(logger *Logger, dir, runID string, now time.Time) (string, error) {
	if err := utils.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("create log directory: %w", err)
	}

	short := sanitizeName(runID)
	if len(short) > 8 {
		short = short[:8]
	}
	name := fmt.Sprintf("vzsave-%s-%s-%s.log", detectHostname(), now.Format("20060102-150405"), short)
	logPath := filepath.Join(dir, name)

	if err := logger.OpenLogFile(logPath); err != nil {
		return "", err
	}
	return logPath, nil
}

func sanitizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	sanitized := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, name)
	sanitized = strings.Trim(sanitized, "-")
	for strings.Contains(sanitized, "--") {
		sanitized = strings.ReplaceAll(sanitized, "--", "-")
	}
	if sanitized == "" {
		sanitized = "run"
	}
	return sanitized
}

func detectHostname() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return "host"
	}
	return sanitizeName(host)
}
