package checks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tis24dev/vzsave/internal/config"
	"github.com/tis24dev/vzsave/internal/logging"
	"github.com/tis24dev/vzsave/internal/types"
)

func newTestLogger() *logging.Logger {
	logger := logging.New(types.LogLevelDebug, false)
	logger.SetOutput(io.Discard)
	return logger
}

func newTestConfig(t *testing.T) *CheckerConfig {
	t.Helper()
	tmpDir := t.TempDir()
	return &CheckerConfig{
		StoragePaths: []string{tmpDir},
		LockFilePath: filepath.Join(tmpDir, "vzsave.lock"),
		MaxLockAge:   time.Hour,
	}
}

func TestNewCheckerConfig(t *testing.T) {
	two := 2
	cfg := &config.Config{
		Path: "/etc/vzsave/config.json",
		Global: config.Global{
			FTP:       &config.FTPConfig{Host: "ftp"},
			MinFreeGB: 5,
		},
		Machines: []config.Machine{
			{ID: "101", StoragePath: "/var/lib/vz/dump", FTPBacklog: &two},
			{ID: "102", StoragePath: "/var/lib/vz/dump", FTPBacklog: &two},
			{ID: "103", StoragePath: "/mnt/other"},
		},
	}

	cc := NewCheckerConfig(cfg)
	if len(cc.StoragePaths) != 1 || cc.StoragePaths[0] != "/var/lib/vz/dump" {
		t.Errorf("StoragePaths = %v", cc.StoragePaths)
	}
	if cc.LockFilePath != filepath.Join(os.TempDir(), "vzsave.lock") {
		t.Errorf("LockFilePath = %q", cc.LockFilePath)
	}
	if cc.MinFreeGB != 5 || cc.ConfigPath != cfg.Path || cc.MaxLockAge != DefaultMaxLockAge {
		t.Errorf("unexpected config %+v", cc)
	}

	cfg.Global.LockFile = "/run/vzsave.lock"
	if got := NewCheckerConfig(cfg).LockFilePath; got != "/run/vzsave.lock" {
		t.Errorf("configured lock path ignored: %q", got)
	}
}

func TestCheckerConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CheckerConfig)
	}{
		{"empty lock path", func(c *CheckerConfig) { c.LockFilePath = "" }},
		{"negative free space", func(c *CheckerConfig) { c.MinFreeGB = -1 }},
		{"zero lock age", func(c *CheckerConfig) { c.MaxLockAge = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cc := newTestConfig(t)
			tt.mutate(cc)
			if err := cc.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCheckLockFile(t *testing.T) {
	cc := newTestConfig(t)
	checker := NewChecker(newTestLogger(), cc)

	result := checker.CheckLockFile()
	if !result.Passed {
		t.Fatalf("CheckLockFile failed: %s", result.Message)
	}
	data, err := os.ReadFile(cc.LockFilePath)
	if err != nil {
		t.Fatalf("lock file should exist: %v", err)
	}
	if !strings.Contains(string(data), fmt.Sprintf("pid=%d", os.Getpid())) {
		t.Errorf("lock content = %q", data)
	}

	// our own pid is alive, so a second checker must be refused
	other := NewChecker(newTestLogger(), cc)
	if result := other.CheckLockFile(); result.Passed {
		t.Fatal("second lock should fail while the first is held")
	}

	if err := checker.ReleaseLock(); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}
	if _, err := os.Stat(cc.LockFilePath); !os.IsNotExist(err) {
		t.Fatal("lock file should be removed")
	}
}

func TestCheckLockFileStaleLock(t *testing.T) {
	cc := newTestConfig(t)
	content := fmt.Sprintf("pid=%d\n", os.Getpid())
	if err := os.WriteFile(cc.LockFilePath, []byte(content), 0o640); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(cc.LockFilePath, old, old); err != nil {
		t.Fatal(err)
	}

	if result := NewChecker(newTestLogger(), cc).CheckLockFile(); !result.Passed {
		t.Fatalf("stale lock should be replaced: %s", result.Message)
	}
}

func TestCheckLockFileDeadOwner(t *testing.T) {
	cc := newTestConfig(t)
	// pid_max on Linux is at most 4194304
	if err := os.WriteFile(cc.LockFilePath, []byte("pid=4194305\n"), 0o640); err != nil {
		t.Fatal(err)
	}

	if result := NewChecker(newTestLogger(), cc).CheckLockFile(); !result.Passed {
		t.Fatalf("lock of a terminated run should be replaced: %s", result.Message)
	}
}

func TestReleaseLockWithoutLock(t *testing.T) {
	cc := newTestConfig(t)
	if err := os.WriteFile(cc.LockFilePath, []byte("pid=1\n"), 0o640); err != nil {
		t.Fatal(err)
	}
	if err := NewChecker(newTestLogger(), cc).ReleaseLock(); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}
	if _, err := os.Stat(cc.LockFilePath); err != nil {
		t.Fatal("a lock not taken by this checker must be left alone")
	}
}

func TestCheckStoragePaths(t *testing.T) {
	cc := newTestConfig(t)
	checker := NewChecker(newTestLogger(), cc)
	if result := checker.CheckStoragePaths(context.Background()); !result.Passed {
		t.Fatalf("existing path should pass: %s", result.Message)
	}

	missing := filepath.Join(t.TempDir(), "missing")
	cc.StoragePaths = append(cc.StoragePaths, missing)
	result := checker.CheckStoragePaths(context.Background())
	if result.Passed || !strings.Contains(result.Message, missing) {
		t.Fatalf("missing path should be reported, got %+v", result)
	}
}

func TestCheckDiskSpace(t *testing.T) {
	origFreeGB := freeGB
	t.Cleanup(func() { freeGB = origFreeGB })
	freeGB = func(context.Context, string, time.Duration) (float64, error) { return 2, nil }
	ctx := context.Background()

	cc := newTestConfig(t)
	checker := NewChecker(newTestLogger(), cc)

	if result := checker.CheckDiskSpace(ctx); !result.Passed {
		t.Fatalf("disabled check should pass: %s", result.Message)
	}

	cc.MinFreeGB = 1
	if result := checker.CheckDiskSpace(ctx); !result.Passed {
		t.Fatalf("2 GB free should satisfy 1 GB: %s", result.Message)
	}

	cc.MinFreeGB = 10
	if result := checker.CheckDiskSpace(ctx); result.Passed {
		t.Fatal("2 GB free should not satisfy 10 GB")
	}

	freeGB = func(context.Context, string, time.Duration) (float64, error) { return 0, errors.New("statfs failed") }
	if result := checker.CheckDiskSpace(ctx); !result.Passed {
		t.Fatal("unreadable paths are skipped")
	}
}

func TestCheckConfigPermissions(t *testing.T) {
	cc := newTestConfig(t)
	cc.ConfigPath = filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(cc.ConfigPath, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	checker := NewChecker(newTestLogger(), cc)

	if result := checker.CheckConfigPermissions(context.Background()); !result.Passed {
		t.Fatalf("0600 should pass: %s", result.Message)
	}

	if err := os.Chmod(cc.ConfigPath, 0o644); err != nil {
		t.Fatal(err)
	}
	if result := checker.CheckConfigPermissions(context.Background()); result.Passed || !strings.Contains(result.Message, "world-readable") {
		t.Fatalf("0644 should warn, got %+v", result)
	}
}

func TestRunAllChecks(t *testing.T) {
	cc := newTestConfig(t)
	cc.StoragePaths = append(cc.StoragePaths, filepath.Join(t.TempDir(), "missing"))
	checker := NewChecker(newTestLogger(), cc)

	results, err := checker.RunAllChecks(context.Background())
	if err != nil {
		t.Fatalf("warnings must not abort the run: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].Passed {
		t.Error("missing storage path should be reported")
	}
	defer checker.ReleaseLock()

	_, err = NewChecker(newTestLogger(), cc).RunAllChecks(context.Background())
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestRunAllChecksCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewChecker(newTestLogger(), newTestConfig(t)).RunAllChecks(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
