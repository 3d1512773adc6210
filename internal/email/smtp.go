package email

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTP sends through a mail relay.
type SMTP struct {
	host     string
	port     int
	username string
	password string
	from     Sender

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now  func() time.Time
}

// NewSMTP creates an SMTP mailer. Port defaults to 587.
func NewSMTP(host string, port int, username, password string, from Sender) *SMTP {
	if port == 0 {
		port = 587
	}
	return &SMTP{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		send:     smtp.SendMail,
		now:      time.Now,
	}
}

// Send implements Mailer. net/smtp has no context support, so ctx is only
// checked before dialing.
func (s *SMTP) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}
	addr := s.host + ":" + strconv.Itoa(s.port)
	if err := s.send(addr, auth, s.from.Address, []string{msg.To}, s.build(msg)); err != nil {
		return fmt.Errorf("email: smtp send: %w", err)
	}
	return nil
}

func (s *SMTP) build(msg Message) []byte {
	var b strings.Builder
	fromHeader := s.from.Address
	if s.from.Name != "" {
		fromHeader = mime.QEncoding.Encode("utf-8", s.from.Name) + " <" + s.from.Address + ">"
	}
	fmt.Fprintf(&b, "From: %s\r\n", fromHeader)
	fmt.Fprintf(&b, "To: %s\r\n", stripHeader(msg.To))
	if msg.ReplyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\r\n", stripHeader(msg.ReplyTo))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", stripHeader(msg.Subject)))
	fmt.Fprintf(&b, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	return []byte(b.String())
}
