package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/tis24dev/vzsave/internal/backup"
	"github.com/tis24dev/vzsave/internal/checks"
	"github.com/tis24dev/vzsave/internal/cli"
	"github.com/tis24dev/vzsave/internal/config"
	"github.com/tis24dev/vzsave/internal/environment"
	"github.com/tis24dev/vzsave/internal/logging"
	"github.com/tis24dev/vzsave/internal/metrics"
	"github.com/tis24dev/vzsave/internal/notify"
	"github.com/tis24dev/vzsave/internal/orchestrator"
	"github.com/tis24dev/vzsave/internal/storage"
	"github.com/tis24dev/vzsave/internal/tui"
	"github.com/tis24dev/vzsave/internal/types"
	"github.com/tis24dev/vzsave/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	bootstrap := logging.NewBootstrapLogger()

	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			bootstrap.Error("PANIC: %v", r)
			fmt.Fprintf(os.Stderr, "panic: %v\n%s\n", r, stack)
			os.Exit(types.ExitPanicError.Int())
		}
	}()

	// SIGINT/SIGTERM cancel the run; machines not yet started are skipped.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args, err := cli.Parse(os.Args[1:], os.Stdout, os.Stderr)
	if err != nil {
		bootstrap.Error("ERROR: %v", err)
		bootstrap.Error("Run 'vzsave --help' for usage.")
		return types.ExitConfigError.Int()
	}
	if args.ShowHelp {
		return types.ExitSuccess.Int()
	}
	if args.ShowVersion {
		fmt.Fprintln(os.Stdout, version.Info())
		return types.ExitSuccess.Int()
	}

	bootstrap.Debug("Configuration path %s (%s)", args.ConfigPath, args.ConfigPathSource)
	cfg, err := config.Load(args.ConfigPath)
	if err != nil {
		bootstrap.Error("ERROR: %v", describeConfigError(args.ConfigPath, err))
		return types.ExitConfigError.Int()
	}

	useColor := term.IsTerminal(int(os.Stdout.Fd()))
	level := resolveLogLevel(args)
	logger := logging.New(level, useColor)
	bootstrap.SetLevel(level)
	bootstrap.Flush(logger)

	runID := uuid.NewString()
	if dir := resolveLogDir(args, cfg); dir != "" && !args.Plan {
		logPath, err := logging.OpenRunLog(logger, dir, runID, time.Now())
		if err != nil {
			logger.Warning("Unable to open run log in %s: %v", dir, err)
		} else {
			defer logger.CloseLogFile()
			logger.Debug("Run log: %s", logPath)
		}
	}

	notifiers := notify.NewFactory(cfg, runID, logger)

	if args.Plan {
		return showPlan(ctx, cfg, notifiers, logger, useColor)
	}

	logger.Phase("vzsave %s", version.String())
	logger.Info("Run id %s, configuration %s, %d machine(s)", runID, cfg.Path, len(cfg.Machines))
	logEnvironment(ctx, cfg, logger)

	checker := checks.NewChecker(logger, checks.NewCheckerConfig(cfg))
	if _, err := checker.RunAllChecks(ctx); err != nil {
		logger.Error("Pre-run checks failed: %v", err)
		return types.ExitGenericError.Int()
	}
	defer func() {
		if err := checker.ReleaseLock(); err != nil {
			logger.Warning("%v", err)
		}
	}()

	var archiver storage.Archiver
	if cfg.Global.FTP != nil {
		ftpArchiver, err := storage.NewFTPArchiver(cfg.Global.FTP, logger)
		if err != nil {
			logger.Error("FTP configuration: %v", err)
			return types.ExitConfigError.Int()
		}
		archiver = ftpArchiver
	} else {
		logger.Skip("FTP archiving disabled (no global.ftp section)")
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Logger:    logger,
		Config:    cfg,
		Runner:    backup.NewVZDump(cfg.Global.Backup, logger),
		Archiver:  archiver,
		Notifiers: orchestrator.DispatcherFactory(notifiers),
	})
	if err != nil {
		logger.Error("%v", err)
		return types.ExitGenericError.Int()
	}

	summary := orch.Run(ctx)
	if ctx.Err() != nil {
		logger.Warning("Run interrupted by signal")
	}

	if dir := cfg.Global.Metrics.TextfileDir; dir != "" {
		exporter := metrics.NewPrometheusExporter(dir, logger)
		if err := exporter.Export(summary.Metrics(hostname(), version.String())); err != nil {
			logger.Warning("Prometheus export failed: %v", err)
		}
	}

	code := summary.ExitCode()
	printFinalSummary(os.Stdout, summary, code, useColor)
	return code.Int()
}

// logEnvironment reports the host; vzdump itself fails per machine when missing.
func logEnvironment(ctx context.Context, cfg *config.Config, logger *logging.Logger) {
	env, err := environment.Detect(ctx, cfg.Global.Backup.Command)
	if err != nil {
		logger.Warning("Host check: %v", err)
	} else {
		logger.Info("Host: %s", env)
	}
	if env.VZDumpPath == "" {
		logger.Warning("Backup command %q not found in PATH", cfg.Global.Backup.Command)
		return
	}
	logger.Debug("Backup command: %s", env.VZDumpPath)
}

func showPlan(ctx context.Context, cfg *config.Config, notifiers *notify.Factory, logger *logging.Logger, interactive bool) int {
	rows := tui.BuildPlan(cfg, func(m config.Machine) []string {
		return notifiers.ForMachine(m, logger).Channels()
	})

	if interactive && term.IsTerminal(int(os.Stdin.Fd())) {
		tui.SetAbortContext(ctx)
		err := tui.ShowPlan(rows)
		if err == nil {
			return types.ExitSuccess.Int()
		}
		logger.Debug("Plan view unavailable, falling back to text: %v", err)
	}
	if err := tui.WritePlanText(os.Stdout, rows); err != nil {
		logger.Error("Write plan: %v", err)
		return types.ExitGenericError.Int()
	}
	return types.ExitSuccess.Int()
}

// resolveLogLevel applies the INFO default when no level was requested.
func resolveLogLevel(args *cli.Args) types.LogLevel {
	if !args.LogLevelSet {
		return types.LogLevelInfo
	}
	return args.LogLevel
}

// resolveLogDir gives --log-dir precedence over global.log_dir.
func resolveLogDir(args *cli.Args, cfg *config.Config) string {
	if args.LogDir != "" {
		return args.LogDir
	}
	return cfg.Global.LogDir
}

func describeConfigError(path string, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("configuration file %s not found", path)
	case errors.Is(err, config.ErrEmptyConfig):
		return fmt.Errorf("configuration file %s is empty", path)
	default:
		return err
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}

func printFinalSummary(w io.Writer, summary *orchestrator.RunSummary, code types.ExitCode, useColor bool) {
	colorReset := "\033[0m"
	color := ""
	switch {
	case code == types.ExitSuccess:
		color = "\033[32m"
	case code == types.ExitStorageError:
		color = "\033[33m"
	default:
		color = "\033[31m"
	}
	if !useColor {
		color, colorReset = "", ""
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s===========================================\n", color)
	fmt.Fprintf(w, "vzsave %s - %d ok, %d backup failed, %d storage failed\n",
		version.String(),
		summary.Count(orchestrator.OutcomeSuccess),
		summary.Count(orchestrator.OutcomeBackupFailed),
		summary.Count(orchestrator.OutcomeStorageFailed))
	fmt.Fprintf(w, "exit code %d (%s)\n", code.Int(), code)
	fmt.Fprintf(w, "===========================================%s\n", colorReset)
}
