// Package orchestrator drives the per-machine backup workflow: start,
// backup command, verdict, optional FTP archive and notifications.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tis24dev/vzsave/internal/backup"
	"github.com/tis24dev/vzsave/internal/config"
	"github.com/tis24dev/vzsave/internal/logging"
	"github.com/tis24dev/vzsave/internal/metrics"
	"github.com/tis24dev/vzsave/internal/notify"
	"github.com/tis24dev/vzsave/internal/storage"
	"github.com/tis24dev/vzsave/internal/types"
	"github.com/tis24dev/vzsave/pkg/utils"
)

// Outcome is the final state of one machine in a run.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeBackupFailed  Outcome = "backup-failed"
	OutcomeStorageFailed Outcome = "storage-failed"
)

// MachineResult reports what happened to one machine.
type MachineResult struct {
	ID            string
	Outcome       Outcome
	Archived      bool
	Duration      time.Duration
	Output        string
	Archive       *storage.ArchiveResult
	Notifications []*notify.NotificationResult
	Err           error
}

// NotificationFailures counts undelivered notifications.
func (r *MachineResult) NotificationFailures() int {
	n := 0
	for _, res := range r.Notifications {
		if res != nil && !res.Success {
			n++
		}
	}
	return n
}

// RunSummary collects the results of a run in configuration order.
type RunSummary struct {
	StartTime time.Time
	EndTime   time.Time
	Machines  []*MachineResult
}

// Count returns how many machines ended with outcome.
func (s *RunSummary) Count(outcome Outcome) int {
	n := 0
	for _, m := range s.Machines {
		if m != nil && m.Outcome == outcome {
			n++
		}
	}
	return n
}

// ExitCode maps the summary to the process exit code. Backup failures take
// precedence over storage failures.
func (s *RunSummary) ExitCode() types.ExitCode {
	switch {
	case s.Count(OutcomeBackupFailed) > 0:
		return types.ExitBackupError
	case s.Count(OutcomeStorageFailed) > 0:
		return types.ExitStorageError
	default:
		return types.ExitSuccess
	}
}

// Metrics converts the summary into the exported metrics snapshot.
func (s *RunSummary) Metrics(hostname, version string) *metrics.RunMetrics {
	m := &metrics.RunMetrics{
		Hostname:  hostname,
		Version:   version,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		ExitCode:  s.ExitCode().Int(),
	}
	for _, r := range s.Machines {
		if r == nil {
			continue
		}
		mm := metrics.MachineMetrics{
			ID:                   r.ID,
			Outcome:              string(r.Outcome),
			Duration:             r.Duration,
			NotificationFailures: r.NotificationFailures(),
		}
		if r.Archive != nil {
			mm.BytesUploaded = r.Archive.Bytes
			mm.RotatedFiles = len(r.Archive.Deleted)
		}
		m.Machines = append(m.Machines, mm)
	}
	return m
}

// Orchestrator runs the backup workflow for every configured machine.
type Orchestrator struct {
	cfg       *config.Config
	logger    *logging.Logger
	runner    backup.Runner
	archiver  storage.Archiver
	notifiers NotifierFactory
	clock     TimeProvider
}

// New creates an orchestrator. Archiver may be nil when FTP is not configured.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Config == nil {
		return nil, errors.New("orchestrator: configuration is required")
	}
	if deps.Runner == nil {
		return nil, errors.New("orchestrator: backup runner is required")
	}
	if deps.Logger == nil {
		return nil, errors.New("orchestrator: logger is required")
	}
	o := &Orchestrator{
		cfg:       deps.Config,
		logger:    deps.Logger,
		runner:    deps.Runner,
		archiver:  deps.Archiver,
		notifiers: deps.Notifiers,
		clock:     deps.Time,
	}
	if o.notifiers == nil {
		o.notifiers = func(config.Machine, *logging.Logger) Notifier { return noopNotifier{} }
	}
	if o.clock == nil {
		o.clock = realTimeProvider{}
	}
	return o, nil
}

// Run processes every machine and returns the summary. Machines run one at a
// time unless global.concurrency allows more; the steps of one machine are
// always sequential. A cancelled context stops machines that have not started.
func (o *Orchestrator) Run(ctx context.Context) *RunSummary {
	summary := &RunSummary{
		StartTime: o.clock.Now(),
		Machines:  make([]*MachineResult, len(o.cfg.Machines)),
	}

	limit := o.cfg.Global.Concurrency
	if limit < 1 {
		limit = 1
	}
	o.logger.Phase("Backing up %d machine(s), concurrency %d", len(o.cfg.Machines), limit)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, machine := range o.cfg.Machines {
		i, machine := i, machine
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				summary.Machines[i] = &MachineResult{ID: machine.ID, Outcome: OutcomeBackupFailed, Err: err}
				o.logger.Skip("Machine %s not started: %v", machine.ID, err)
				return nil
			}
			summary.Machines[i] = o.processMachine(gctx, machine)
			return nil
		})
	}
	_ = g.Wait()

	summary.EndTime = o.clock.Now()
	o.logSummary(summary)
	return summary
}

// Stages of processMachine, used to classify a recovered panic.
const (
	stageBackup = iota
	stageArchive
	stageNotify
)

func (o *Orchestrator) processMachine(ctx context.Context, machine config.Machine) (result *MachineResult) {
	logger := o.logger.WithPrefix("vm " + machine.ID)
	notifier := o.notifiers(machine, logger)
	started := o.clock.Now()
	result = &MachineResult{ID: machine.ID}
	stage := stageBackup

	emit := func(eventType notify.EventType, message string) {
		result.Notifications = append(result.Notifications, notifier.Notify(ctx, eventType, message)...)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Critical("Panic while processing machine: %v", r)
			panicErr := fmt.Errorf("panic: %v", r)
			switch stage {
			case stageBackup:
				result.Outcome = OutcomeBackupFailed
				result.Err = panicErr
				o.emitAfterPanic(logger, emit, notify.EventFailure, failureMessage(result.Output, panicErr))
			case stageArchive:
				result.Outcome = OutcomeStorageFailed
				result.Err = panicErr
				o.emitAfterPanic(logger, emit, notify.EventStoringFailed, result.Output+"\n\nFTP error: "+panicErr.Error())
			default:
				// Outcome was already decided; only delivery of the final event broke.
				if result.Err == nil && result.Outcome != OutcomeSuccess {
					result.Err = panicErr
				}
			}
		}
		result.Duration = o.clock.Now().Sub(started)
	}()

	logger.Step("Starting backup into storage %q", machine.Storage)
	emit(notify.EventStarted, fmt.Sprintf("Backup started for %s into storage `%s`.", machine.ID, machine.Storage))

	output, runErr := o.runner.Run(ctx, machine)
	result.Output = output
	if !backup.Succeeded(output, o.cfg.Global.Backup.SuccessMarker) {
		result.Outcome = OutcomeBackupFailed
		result.Err = runErr
		if result.Err == nil {
			result.Err = fmt.Errorf("backup output does not contain %q", o.cfg.Global.Backup.SuccessMarker)
		}
		logger.Error("Backup failed: %v", result.Err)
		stage = stageNotify
		emit(notify.EventFailure, failureMessage(output, runErr))
		return result
	}
	if runErr != nil {
		logger.Warning("Backup reported success despite: %v", runErr)
	}
	logger.Info("Backup completed")

	if !o.cfg.ArchiveEnabled(machine) || o.archiver == nil {
		logger.Skip("FTP archiving not configured")
		result.Outcome = OutcomeSuccess
		stage = stageNotify
		emit(notify.EventSuccess, output)
		return result
	}

	stage = stageArchive
	emit(notify.EventStoring, output)
	archive, err := o.archiver.Archive(ctx, machine)
	result.Archive = archive
	if err != nil {
		result.Outcome = OutcomeStorageFailed
		result.Err = err
		logger.Error("FTP archive failed: %v", err)
		stage = stageNotify
		emit(notify.EventStoringFailed, output+"\n\nFTP error: "+err.Error())
		return result
	}

	result.Archived = true
	result.Outcome = OutcomeSuccess
	if archive != nil {
		logger.Info("Archived to %s (%s, %d rotated)", archive.RemotePath, utils.FormatBytes(archive.Bytes), len(archive.Deleted))
	}
	stage = stageNotify
	emit(notify.EventSuccess, output)
	return result
}

// emitAfterPanic sends the terminal event for a machine whose processing
// panicked. A second panic inside the notifiers is logged and dropped.
func (o *Orchestrator) emitAfterPanic(logger *logging.Logger, emit func(notify.EventType, string), eventType notify.EventType, message string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Critical("Panic while sending %s notification: %v", eventType, r)
		}
	}()
	emit(eventType, message)
}

func failureMessage(output string, err error) string {
	switch {
	case output == "" && err != nil:
		return err.Error()
	case err != nil:
		return output + "\n\n" + err.Error()
	default:
		return output
	}
}

func (o *Orchestrator) logSummary(s *RunSummary) {
	total := len(s.Machines)
	ok := s.Count(OutcomeSuccess)
	o.logger.Phase("Run finished in %s: %d/%d succeeded", utils.FormatDuration(s.EndTime.Sub(s.StartTime)), ok, total)
	for _, r := range s.Machines {
		if r == nil || r.Outcome == OutcomeSuccess {
			continue
		}
		o.logger.Warning("Machine %s: %s (%v)", r.ID, r.Outcome, r.Err)
	}
}
