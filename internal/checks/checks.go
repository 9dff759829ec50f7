package checks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/tis24dev/vzsave/internal/config"
	"github.com/tis24dev/vzsave/internal/logging"
	"github.com/tis24dev/vzsave/internal/safefs"
)

var (
	osRemove   = os.Remove
	osOpenFile = os.OpenFile
	syncFile   = func(f *os.File) error { return f.Sync() }
	freeGB     = safefs.FreeGB
)

// DefaultMaxLockAge is the age after which a leftover lock file is considered stale.
const DefaultMaxLockAge = 24 * time.Hour

// ErrLocked is returned by RunAllChecks when another run holds the lock.
var ErrLocked = errors.New("another vzsave run is in progress")

// Checker performs pre-run validation checks
type Checker struct {
	logger *logging.Logger
	config *CheckerConfig
	locked bool
}

// CheckerConfig holds configuration for pre-run checks
type CheckerConfig struct {
	ConfigPath   string
	StoragePaths []string
	MinFreeGB    float64
	LockFilePath string
	MaxLockAge   time.Duration
	FSTimeout    time.Duration
}

// NewCheckerConfig derives the checks of a run from cfg. Only the storage
// paths of machines archived on FTP are checked, since nothing else reads them.
func NewCheckerConfig(cfg *config.Config) *CheckerConfig {
	cc := &CheckerConfig{
		ConfigPath:   cfg.Path,
		MinFreeGB:    cfg.Global.MinFreeGB,
		LockFilePath: cfg.Global.LockFile,
		MaxLockAge:   DefaultMaxLockAge,
		FSTimeout:    safefs.DefaultTimeout,
	}
	if cc.LockFilePath == "" {
		cc.LockFilePath = filepath.Join(os.TempDir(), "vzsave.lock")
	}
	seen := make(map[string]bool)
	for _, m := range cfg.Machines {
		if !cfg.ArchiveEnabled(m) || m.StoragePath == "" || seen[m.StoragePath] {
			continue
		}
		seen[m.StoragePath] = true
		cc.StoragePaths = append(cc.StoragePaths, m.StoragePath)
	}
	return cc
}

// Validate checks if the checker configuration is valid
func (c *CheckerConfig) Validate() error {
	if c.LockFilePath == "" {
		return fmt.Errorf("lock file path cannot be empty")
	}
	if c.MinFreeGB < 0 {
		return fmt.Errorf("minimum free space cannot be negative")
	}
	if c.MaxLockAge <= 0 {
		return fmt.Errorf("max lock age must be positive")
	}
	return nil
}

// CheckResult holds the result of a validation check
type CheckResult struct {
	Name    string
	Passed  bool
	Message string
	Error   error
}

// NewChecker creates a new pre-run checker
func NewChecker(logger *logging.Logger, config *CheckerConfig) *Checker {
	return &Checker{
		logger: logger,
		config: config,
	}
}

// RunAllChecks performs all pre-run checks. Storage, space and permission
// findings are logged as warnings; only failing to take the lock aborts.
func (c *Checker) RunAllChecks(ctx context.Context) ([]CheckResult, error) {
	c.logger.Debug("Running pre-run checks")
	if err := c.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid checker configuration: %w", err)
	}

	var results []CheckResult
	for _, check := range []func(context.Context) CheckResult{c.CheckStoragePaths, c.CheckDiskSpace, c.CheckConfigPermissions} {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result := check(ctx)
		results = append(results, result)
		if !result.Passed {
			c.logger.Warning("%s: %s", result.Name, result.Message)
		}
	}

	lockResult := c.CheckLockFile()
	results = append(results, lockResult)
	if !lockResult.Passed {
		if lockResult.Error != nil {
			return results, fmt.Errorf("lock file check failed: %w", lockResult.Error)
		}
		return results, fmt.Errorf("%w: %s", ErrLocked, lockResult.Message)
	}

	c.logger.Debug("All pre-run checks done")
	return results, nil
}

// CheckStoragePaths verifies the local backup directories exist.
func (c *Checker) CheckStoragePaths(ctx context.Context) CheckResult {
	result := CheckResult{Name: "Storage paths"}

	var missing []string
	for _, dir := range c.config.StoragePaths {
		info, err := safefs.Stat(ctx, dir, c.config.FSTimeout)
		if errors.Is(err, safefs.ErrTimeout) {
			missing = append(missing, dir+" (not responding)")
			continue
		}
		if err != nil || !info.IsDir() {
			missing = append(missing, dir)
			continue
		}
		c.logger.Debug("Storage path OK: %s", dir)
	}
	if len(missing) > 0 {
		result.Message = "missing storage directories: " + strings.Join(missing, ", ")
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("%d storage path(s) present", len(c.config.StoragePaths))
	return result
}

// CheckDiskSpace verifies each storage path has at least MinFreeGB available.
func (c *Checker) CheckDiskSpace(ctx context.Context) CheckResult {
	result := CheckResult{Name: "Disk space"}
	if c.config.MinFreeGB <= 0 {
		result.Passed = true
		result.Message = "disk space check disabled"
		return result
	}

	var low []string
	for _, dir := range c.config.StoragePaths {
		free, err := freeGB(ctx, dir, c.config.FSTimeout)
		if err != nil {
			c.logger.Debug("Unable to read free space of %s: %v", dir, err)
			continue
		}
		c.logger.Debug("Free space on %s: %.2f GB", dir, free)
		if free < c.config.MinFreeGB {
			low = append(low, fmt.Sprintf("%s (%.2f GB)", dir, free))
		}
	}
	if len(low) > 0 {
		result.Message = fmt.Sprintf("less than %.2f GB free on %s", c.config.MinFreeGB, strings.Join(low, ", "))
		return result
	}

	result.Passed = true
	result.Message = "sufficient disk space"
	return result
}

// CheckConfigPermissions warns when the configuration, which carries SMTP,
// FTP and bot credentials, is readable by other users.
func (c *Checker) CheckConfigPermissions(ctx context.Context) CheckResult {
	result := CheckResult{Name: "Config permissions"}
	if c.config.ConfigPath == "" {
		result.Passed = true
		return result
	}

	info, err := safefs.Stat(ctx, c.config.ConfigPath, c.config.FSTimeout)
	if err != nil {
		result.Error = err
		result.Message = fmt.Sprintf("cannot stat %s: %v", c.config.ConfigPath, err)
		return result
	}
	if mode := info.Mode().Perm(); mode&0o004 != 0 {
		result.Message = fmt.Sprintf("%s is world-readable (%#o); consider chmod 600", c.config.ConfigPath, mode)
		return result
	}

	result.Passed = true
	result.Message = "configuration not world-readable"
	return result
}

// CheckLockFile takes the run lock. A lock older than MaxLockAge or held by a
// process that no longer exists is replaced.
func (c *Checker) CheckLockFile() CheckResult {
	result := CheckResult{Name: "Lock file"}
	lockPath := c.config.LockFilePath
	c.logger.Debug("Lock file path: %s", lockPath)

	if info, err := os.Stat(lockPath); err == nil {
		age := time.Since(info.ModTime())
		switch {
		case age > c.config.MaxLockAge:
			c.logger.Warning("Removing stale lock file (age: %v)", age.Round(time.Second))
		case !lockOwnerAlive(lockPath):
			c.logger.Warning("Removing lock file left by a terminated run")
		default:
			result.Message = fmt.Sprintf("another run holds %s (lock age: %v)", lockPath, age.Round(time.Second))
			c.logger.Error("%s", result.Message)
			return result
		}
		if err := osRemove(lockPath); err != nil {
			result.Error = fmt.Errorf("failed to remove stale lock: %w", err)
			result.Message = result.Error.Error()
			return result
		}
	}

	f, err := osOpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		if os.IsExist(err) {
			result.Message = "another run acquired the lock"
			c.logger.Error("%s", result.Message)
			return result
		}
		result.Error = fmt.Errorf("failed to create lock file: %w", err)
		result.Message = result.Error.Error()
		return result
	}
	defer f.Close()

	hostname, _ := os.Hostname()
	lockContent := fmt.Sprintf("pid=%d\nhost=%s\ntime=%s\n", os.Getpid(), hostname, time.Now().Format(time.RFC3339))
	if _, err := f.WriteString(lockContent); err != nil {
		result.Error = fmt.Errorf("failed to write lock file: %w", err)
		result.Message = result.Error.Error()
		return result
	}
	if err := syncFile(f); err != nil {
		c.logger.Warning("Failed to sync lock file %s: %v", lockPath, err)
	}

	c.locked = true
	result.Passed = true
	result.Message = "lock acquired"
	return result
}

// ReleaseLock removes the lock file taken by CheckLockFile.
func (c *Checker) ReleaseLock() error {
	if !c.locked {
		return nil
	}
	if err := osRemove(c.config.LockFilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	c.locked = false
	c.logger.Debug("Lock file released: %s", c.config.LockFilePath)
	return nil
}

// lockOwnerAlive reports whether the pid recorded in the lock still runs.
// Unreadable locks are treated as held.
func lockOwnerAlive(lockPath string) bool {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return true
	}
	for _, line := range strings.Split(string(data), "\n") {
		value, ok := strings.CutPrefix(line, "pid=")
		if !ok {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || pid <= 0 {
			return true
		}
		err = syscall.Kill(pid, 0)
		return err == nil || errors.Is(err, syscall.EPERM)
	}
	return true
}
