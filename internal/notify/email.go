package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/wneessen/go-mail"

	"github.com/tis24dev/vzsave/internal/config"
	"github.com/tis24dev/vzsave/internal/logging"
)

// HeaderRunID carries the run id so that all mails of one run can be grouped.
const HeaderRunID mail.Header = "X-Vzsave-Run-Id"

var validate = validator.New()

// Mailer delivers a composed message.
type Mailer interface {
	Send(ctx context.Context, msg *mail.Msg) error
}

// SMTPMailer submits messages to the configured SMTP server, one session
// per message.
type SMTPMailer struct {
	cfg *config.SMTPConfig
}

// NewSMTPMailer creates a mailer for cfg.
func NewSMTPMailer(cfg *config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// Send implements Mailer.
func (s *SMTPMailer) Send(ctx context.Context, msg *mail.Msg) error {
	client, err := mail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("create SMTP client for %s: %w", s.cfg.Host, err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send via %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	return nil
}

func (s *SMTPMailer) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(s.cfg.Timeout()),
	}

	// PLAIN refuses unencrypted sessions; the NoEnc variant is used where
	// the configuration allows a session without TLS.
	auth := mail.SMTPAuthPlainNoEnc
	switch strings.ToLower(strings.TrimSpace(s.cfg.Security)) {
	case "tls", "ssl":
		opts = append(opts, mail.WithSSL())
		auth = mail.SMTPAuthPlain
	case "mandatory":
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
		auth = mail.SMTPAuthPlain
	case "none":
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(auth),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password))
	}
	return opts
}

// EmailNotifier implements the Notifier interface for Email
type EmailNotifier struct {
	smtp      *config.SMTPConfig
	recipient string
	mailer    Mailer
	logger    *logging.Logger
}

// NewEmailNotifier creates a notifier sending to recipient through mailer.
func NewEmailNotifier(smtp *config.SMTPConfig, recipient string, mailer Mailer, logger *logging.Logger) *EmailNotifier {
	return &EmailNotifier{
		smtp:      smtp,
		recipient: strings.TrimSpace(recipient),
		mailer:    mailer,
		logger:    logger,
	}
}

// Name returns the notifier name
func (e *EmailNotifier) Name() string {
	return "Email"
}

// Send sends an email notification
func (e *EmailNotifier) Send(ctx context.Context, event *Event) (*NotificationResult, error) {
	if event == nil {
		return nil, fmt.Errorf("nil event")
	}
	startTime := time.Now()
	result := &NotificationResult{
		Method:   "email",
		Metadata: map[string]interface{}{"recipient": e.recipient},
	}

	msg, err := e.buildMessage(event)
	if err != nil {
		result.Error = err
		result.Duration = time.Since(startTime)
		return result, nil
	}

	e.logger.Debug("Sending email %q to %s", BuildEmailSubject(event), e.recipient)
	if err := e.mailer.Send(ctx, msg); err != nil {
		result.Error = err
		result.Duration = time.Since(startTime)
		return result, nil
	}

	result.Success = true
	result.Duration = time.Since(startTime)
	return result, nil
}

func (e *EmailNotifier) buildMessage(event *Event) (*mail.Msg, error) {
	if err := validate.Var(e.recipient, "required,email"); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", e.recipient, err)
	}
	from := e.sender()
	if err := validate.Var(from, "required,email"); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", from, err)
	}

	msg := mail.NewMsg()
	if e.smtp.FromName != "" {
		if err := msg.FromFormat(e.smtp.FromName, from); err != nil {
			return nil, fmt.Errorf("set sender: %w", err)
		}
	} else if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(e.recipient); err != nil {
		return nil, fmt.Errorf("set recipient: %w", err)
	}

	msg.Subject(BuildEmailSubject(event))
	msg.SetDate()
	msg.SetMessageID()
	if event.RunID != "" {
		msg.SetGenHeader(HeaderRunID, event.RunID)
	}
	msg.SetBodyString(mail.TypeTextPlain, BuildEmailPlainText(event))
	msg.AddAlternativeString(mail.TypeTextHTML, BuildEmailHTML(event))
	return msg, nil
}

// sender falls back to the SMTP username when from_mail is not set.
func (e *EmailNotifier) sender() string {
	if from := strings.TrimSpace(e.smtp.FromMail); from != "" {
		return from
	}
	return strings.TrimSpace(e.smtp.Username)
}
