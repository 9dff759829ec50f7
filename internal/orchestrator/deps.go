package orchestrator

import (
	"context"
	"time"

	"github.com/tis24dev/vzsave/internal/backup"
	"github.com/tis24dev/vzsave/internal/config"
	"github.com/tis24dev/vzsave/internal/logging"
	"github.com/tis24dev/vzsave/internal/notify"
	"github.com/tis24dev/vzsave/internal/storage"
)

// Notifier delivers the lifecycle events of one machine.
type Notifier interface {
	Notify(ctx context.Context, eventType notify.EventType, message string) []*notify.NotificationResult
}

// NotifierFactory returns the notifier of a machine. The logger carries the
// machine prefix.
type NotifierFactory func(machine config.Machine, logger *logging.Logger) Notifier

// TimeProvider abstracts time acquisition for determinism in tests.
type TimeProvider interface {
	Now() time.Time
}

type realTimeProvider struct{}

func (realTimeProvider) Now() time.Time { return time.Now() }

// Deps groups the orchestrator dependencies.
type Deps struct {
	Logger    *logging.Logger
	Config    *config.Config
	Runner    backup.Runner
	Archiver  storage.Archiver
	Notifiers NotifierFactory
	Time      TimeProvider
}

// DispatcherFactory adapts a notify.Factory to a NotifierFactory.
func DispatcherFactory(f *notify.Factory) NotifierFactory {
	return func(machine config.Machine, logger *logging.Logger) Notifier {
		return f.ForMachine(machine, logger)
	}
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, notify.EventType, string) []*notify.NotificationResult {
	return nil
}
