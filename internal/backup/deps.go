package backup

import (
	"context"
	"os/exec"
)

var (
	execLookPath = exec.LookPath

	runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return exec.CommandContext(ctx, name, args...).CombinedOutput()
	}
)

// RunnerDeps allows injecting external dependencies for the VZDump runner.
type RunnerDeps struct {
	LookPath   func(string) (string, error)
	RunCommand func(context.Context, string, ...string) ([]byte, error)
}

func defaultRunnerDeps() RunnerDeps {
	return RunnerDeps{
		LookPath: func(name string) (string, error) {
			return execLookPath(name)
		},
		RunCommand: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return runCommand(ctx, name, args...)
		},
	}
}
