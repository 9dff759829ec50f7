// Package backup runs the hypervisor backup command for a machine and judges
// its outcome from the captured output.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/tis24dev/vzsave/internal/config"
	"github.com/tis24dev/vzsave/internal/logging"
)

// Runner produces a backup of one machine and returns the command output.
type Runner interface {
	Run(ctx context.Context, machine config.Machine) (string, error)
}

// VZDump runs "vzdump <id> --storage <storage> <args...>".
type VZDump struct {
	cfg    config.BackupConfig
	logger *logging.Logger
	deps   RunnerDeps
}

// NewVZDump creates a runner for cfg.
func NewVZDump(cfg config.BackupConfig, logger *logging.Logger) *VZDump {
	return &VZDump{cfg: cfg, logger: logger, deps: defaultRunnerDeps()}
}

// Command returns the command line used for machine.
func (v *VZDump) Command(machine config.Machine) (string, []string) {
	args := []string{machine.ID}
	if machine.Storage != "" {
		args = append(args, "--storage", machine.Storage)
	}
	args = append(args, v.cfg.Args...)
	return v.cfg.Command, args
}

// Run executes the backup synchronously and returns its combined output.
// A non-zero exit status is logged and returned alongside the output; the
// verdict on the backup is left to Succeeded.
func (v *VZDump) Run(ctx context.Context, machine config.Machine) (string, error) {
	name, args := v.Command(machine)
	if _, err := v.deps.LookPath(name); err != nil {
		return "", fmt.Errorf("backup command %q not found: %w", name, err)
	}

	if timeout := v.cfg.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := logging.TraceOperation(v.logger, "backup command", "%s %s", name, strings.Join(args, " "))
	started := time.Now()
	out, err := v.deps.RunCommand(ctx, name, args...)
	done(err)

	output := string(out)
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			err = fmt.Errorf("backup command timed out after %s: %w", v.cfg.Timeout(), err)
		case errors.As(err, &exitErr):
			err = fmt.Errorf("backup command exited with status %d: %w", exitErr.ExitCode(), err)
		default:
			err = fmt.Errorf("backup command failed: %w", err)
		}
		v.logger.Warning("%v", err)
		return output, err
	}

	v.logger.Debug("Backup command completed in %s (%d bytes of output)", time.Since(started).Round(time.Second), len(out))
	return output, nil
}

// Succeeded reports whether output contains marker anywhere. Empty output
// never counts as success.
func Succeeded(output, marker string) bool {
	if output == "" || marker == "" {
		return false
	}
	return strings.Contains(output, marker)
}
