package email

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mathsnotes/server/internal/httputil"
)

// Mailgun sends through the Mailgun messages API.
type Mailgun struct {
	apiKey  string
	domain  string
	baseURL string
	from    Sender
	client  *http.Client
}

// NewMailgun creates a Mailgun mailer; region "eu" selects the EU endpoint.
func NewMailgun(apiKey, domain, region string, from Sender, timeout time.Duration) *Mailgun {
	base := "https://api.mailgun.net"
	if strings.EqualFold(region, "eu") {
		base = "https://api.eu.mailgun.net"
	}
	return &Mailgun{
		apiKey:  apiKey,
		domain:  domain,
		baseURL: base,
		from:    from,
		client:  httputil.NewClient(timeout),
	}
}

// Send implements Mailer.
func (m *Mailgun) Send(ctx context.Context, msg Message) error {
	form := url.Values{}
	form.Set("from", m.from.header())
	form.Set("to", msg.To)
	form.Set("subject", stripHeader(msg.Subject))
	form.Set("html", msg.HTML)
	if msg.Text != "" {
		form.Set("text", msg.Text)
	}
	if msg.ReplyTo != "" {
		form.Set("h:Reply-To", stripHeader(msg.ReplyTo))
	}

	endpoint := fmt.Sprintf("%s/v3/%s/messages", m.baseURL, url.PathEscape(m.domain))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("email: build mailgun request: %w", err)
	}
	req.SetBasicAuth("api", m.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("email: mailgun request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &ProviderError{Provider: "mailgun", Status: resp.StatusCode, Body: string(body)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
