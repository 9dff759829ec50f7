// Package notify provides notification services for backup operations.
// It supports email and Telegram channels; every channel is attempted
// independently and a failed notification never aborts a backup.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/tis24dev/vzsave/internal/config"
	"github.com/tis24dev/vzsave/internal/logging"
)

// EventType is the stage of a machine backup being reported.
type EventType int

const (
	EventStarted EventType = iota
	EventFailure
	EventSuccess
	EventStoring
	EventStoringFailed
)

// Label returns the human label sent in subjects and chat messages.
func (e EventType) Label() string {
	switch e {
	case EventStarted:
		return "started"
	case EventFailure:
		return "failure"
	case EventSuccess:
		return "success"
	case EventStoring:
		return "storing on FTP"
	case EventStoringFailed:
		return "failed to store on FTP"
	default:
		return "unknown"
	}
}

func (e EventType) String() string {
	return e.Label()
}

// IsProblem reports whether the event signals a failure.
func (e EventType) IsProblem() bool {
	return e == EventFailure || e == EventStoringFailed
}

// Event is one status message about a machine.
type Event struct {
	Type      EventType
	MachineID string
	Message   string
	RunID     string
	Time      time.Time
}

// NotificationResult represents the result of a notification attempt
type NotificationResult struct {
	Success  bool
	Method   string // "email", "telegram"
	Error    error
	Duration time.Duration
	Metadata map[string]interface{} // Additional info (HTTP status, etc.)
}

// Notifier is the interface that must be implemented by all notification providers
type Notifier interface {
	// Name returns the notifier name (e.g., "Telegram", "Email")
	Name() string

	// Send delivers the event. Delivery problems are reported in the result;
	// the error is reserved for programming mistakes such as a nil event.
	Send(ctx context.Context, event *Event) (*NotificationResult, error)
}

// Dispatcher fans an event out to the channels configured for one machine.
type Dispatcher struct {
	machineID string
	runID     string
	notifiers []Notifier
	logger    *logging.Logger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher over the given notifiers.
func NewDispatcher(machineID, runID string, logger *logging.Logger, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{
		machineID: machineID,
		runID:     runID,
		notifiers: notifiers,
		logger:    logger,
		now:       time.Now,
	}
}

// Channels returns the names of the configured notifiers.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.notifiers))
	for _, n := range d.notifiers {
		names = append(names, n.Name())
	}
	return names
}

// Notify sends an event of the given type to every channel. A failing or
// panicking channel does not prevent the others from being attempted.
func (d *Dispatcher) Notify(ctx context.Context, eventType EventType, message string) []*NotificationResult {
	event := &Event{
		Type:      eventType,
		MachineID: d.machineID,
		Message:   message,
		RunID:     d.runID,
		Time:      d.now(),
	}

	results := make([]*NotificationResult, 0, len(d.notifiers))
	for _, n := range d.notifiers {
		result := d.send(ctx, n, event)
		if result.Success {
			d.logger.Debug("%s notification %q sent (%s)", n.Name(), eventType.Label(), result.Duration.Round(time.Millisecond))
		} else {
			d.logger.Warning("%s notification %q failed: %v", n.Name(), eventType.Label(), result.Error)
		}
		results = append(results, result)
	}
	return results
}

func (d *Dispatcher) send(ctx context.Context, n Notifier, event *Event) (result *NotificationResult) {
	defer func() {
		if r := recover(); r != nil {
			result = &NotificationResult{Method: n.Name(), Error: fmt.Errorf("notifier panic: %v", r)}
		}
	}()

	result, err := n.Send(ctx, event)
	if result == nil {
		result = &NotificationResult{Method: n.Name()}
	}
	if err != nil {
		result.Success = false
		if result.Error == nil {
			result.Error = err
		}
	}
	return result
}

// Factory builds per-machine dispatchers from the run configuration. The
// Telegram client and its rate limiter and breakers are shared by every
// dispatcher it creates.
type Factory struct {
	cfg      *config.Config
	runID    string
	logger   *logging.Logger
	telegram *TelegramClient
	mailer   Mailer
}

// NewFactory creates a factory for cfg.
func NewFactory(cfg *config.Config, runID string, logger *logging.Logger) *Factory {
	f := &Factory{
		cfg:      cfg,
		runID:    runID,
		logger:   logger,
		telegram: NewTelegramClient(logger),
	}
	if cfg.Global.SMTP != nil {
		f.mailer = NewSMTPMailer(cfg.Global.SMTP)
	}
	return f
}

// ForMachine returns the dispatcher for m. Email is enabled when SMTP is
// configured and m has an address; Telegram when m has a bot and a channel.
func (f *Factory) ForMachine(m config.Machine, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = f.logger
	}

	var notifiers []Notifier
	if f.mailer != nil && m.Email != "" {
		notifiers = append(notifiers, NewEmailNotifier(f.cfg.Global.SMTP, m.Email, f.mailer, logger))
	}
	if m.Telegram != nil && m.Telegram.Bot != "" && m.Telegram.Channel != "" {
		notifiers = append(notifiers, NewTelegramNotifier(*m.Telegram, m.ID, f.telegram, logger))
	}
	if len(notifiers) == 0 {
		logger.Debug("No notification channel configured")
	}
	return NewDispatcher(m.ID, f.runID, logger, notifiers...)
}
