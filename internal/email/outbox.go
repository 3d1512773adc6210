package email

import (
	"context"
	"sync"

	"github.com/mathsnotes/server/internal/logger"
	"github.com/rs/zerolog"
)

// LogMailer logs recipients and subjects instead of sending. Bodies are
// never logged because they carry verification codes and signed links.
type LogMailer struct {
	log zerolog.Logger
}

// NewLogMailer creates a development mailer.
func NewLogMailer(log zerolog.Logger) *LogMailer {
	return &LogMailer{log: log}
}

// Send implements Mailer.
func (l *LogMailer) Send(_ context.Context, msg Message) error {
	l.log.Info().
		Str("to", logger.RedactEmail(msg.To)).
		Str("subject", msg.Subject).
		Str("template", msg.Template).
		Int("html_bytes", len(msg.HTML)).
		Msg("email.logged")
	return nil
}

// Recorder keeps sent messages in memory and can be told to fail.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

// Send implements Mailer.
func (r *Recorder) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

// FailWith makes subsequent sends return err (nil to recover).
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Sent returns a copy of the recorded messages.
func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.sent))
	copy(out, r.sent)
	return out
}

// Last returns the most recent message.
func (r *Recorder) Last() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return Message{}, false
	}
	return r.sent[len(r.sent)-1], true
}
