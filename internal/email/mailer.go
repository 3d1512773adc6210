// Package email sends transactional mail through a configurable provider.
package email

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mathsnotes/server/internal/circuitbreaker"
	"github.com/mathsnotes/server/internal/config"
	"github.com/mathsnotes/server/internal/logger"
	"github.com/mathsnotes/server/internal/metrics"
	"github.com/rs/zerolog"
)

// ErrNotConfigured is returned when the selected provider lacks credentials.
var ErrNotConfigured = errors.New("email: provider not configured")

// Message is one outbound email. Template names the kind of email for metrics.
type Message struct {
	To       string
	ReplyTo  string
	Subject  string
	HTML     string
	Text     string
	Template string
}

// Mailer sends one message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// ProviderError is a non-2xx answer from an HTTP email API.
type ProviderError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("email: %s returned %d: %s", e.Provider, e.Status, e.Body)
}

// Sender is the From identity.
type Sender struct {
	Address string
	Name    string
}

func (s Sender) header() string {
	if s.Name == "" {
		return s.Address
	}
	return fmt.Sprintf("%q <%s>", s.Name, s.Address)
}

// New builds the configured provider wrapped with metrics, breaker and pacing.
func New(cfg config.EmailConfig, breakers *circuitbreaker.Manager, m *metrics.Metrics, log zerolog.Logger) (Mailer, error) {
	from := Sender{Address: cfg.FromAddress, Name: cfg.FromName}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var provider Mailer
	switch strings.ToLower(cfg.Provider) {
	case "sendgrid":
		if cfg.SendGridAPIKey == "" {
			return nil, fmt.Errorf("%w: sendgrid api key missing", ErrNotConfigured)
		}
		provider = NewSendGrid(cfg.SendGridAPIKey, from, timeout)
	case "mailgun":
		if cfg.MailgunAPIKey == "" || cfg.MailgunDomain == "" {
			return nil, fmt.Errorf("%w: mailgun api key and domain required", ErrNotConfigured)
		}
		provider = NewMailgun(cfg.MailgunAPIKey, cfg.MailgunDomain, cfg.MailgunRegion, from, timeout)
	case "smtp":
		if cfg.SMTPHost == "" {
			return nil, fmt.Errorf("%w: smtp host missing", ErrNotConfigured)
		}
		provider = NewSMTP(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, from)
	case "log":
		provider = NewLogMailer(log)
	default:
		return nil, fmt.Errorf("email: unknown provider %q", cfg.Provider)
	}

	var mailer Mailer = &Instrumented{
		next:     provider,
		provider: strings.ToLower(cfg.Provider),
		breakers: breakers,
		metrics:  m,
	}
	if cfg.MaxPerSecond > 0 {
		mailer = NewThrottled(mailer, cfg.MaxPerSecond, cfg.Burst)
	}
	return mailer, nil
}

// Instrumented records metrics and routes sends through the email breaker.
type Instrumented struct {
	next     Mailer
	provider string
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
}

// NewInstrumented wraps next.
func NewInstrumented(next Mailer, provider string, breakers *circuitbreaker.Manager, m *metrics.Metrics) *Instrumented {
	return &Instrumented{next: next, provider: provider, breakers: breakers, metrics: m}
}

// Send implements Mailer.
func (i *Instrumented) Send(ctx context.Context, msg Message) error {
	start := time.Now()
	err := circuitbreaker.Run(i.breakers, circuitbreaker.ServiceEmail, func() error {
		return i.next.Send(ctx, msg)
	})
	i.metrics.ObserveEmail(i.provider, msg.Template, err, time.Since(start))

	log := logger.FromContext(ctx)
	evt := log.Debug()
	if err != nil {
		evt = log.Error().Err(err)
	}
	evt.Str("provider", i.provider).
		Str("template", msg.Template).
		Str("to", logger.RedactEmail(msg.To)).
		Dur("duration", time.Since(start)).
		Msg("email.send")
	return err
}

// stripHeader removes CR and LF so user input cannot inject headers.
func stripHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
