package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mathsnotes/server/internal/httputil"
)

const sendGridURL = "https://api.sendgrid.com/v3/mail/send"

// SendGrid sends through the v3 mail/send API.
type SendGrid struct {
	apiKey   string
	from     Sender
	endpoint string
	client   *http.Client
}

// NewSendGrid creates a SendGrid mailer.
func NewSendGrid(apiKey string, from Sender, timeout time.Duration) *SendGrid {
	return &SendGrid{apiKey: apiKey, from: from, endpoint: sendGridURL, client: httputil.NewClient(timeout)}
}

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgPersonalization struct {
	To []sgAddress `json:"to"`
}

type sgRequest struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	ReplyTo          *sgAddress          `json:"reply_to,omitempty"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
}

// Send implements Mailer.
func (s *SendGrid) Send(ctx context.Context, msg Message) error {
	req := sgRequest{
		Personalizations: []sgPersonalization{{To: []sgAddress{{Email: msg.To}}}},
		From:             sgAddress{Email: s.from.Address, Name: s.from.Name},
		Subject:          stripHeader(msg.Subject),
	}
	if msg.ReplyTo != "" {
		req.ReplyTo = &sgAddress{Email: msg.ReplyTo}
	}
	// text/plain must precede text/html.
	if msg.Text != "" {
		req.Content = append(req.Content, sgContent{Type: "text/plain", Value: msg.Text})
	}
	req.Content = append(req.Content, sgContent{Type: "text/html", Value: msg.HTML})

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("email: encode sendgrid request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("email: build sendgrid request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("email: sendgrid request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &ProviderError{Provider: "sendgrid", Status: resp.StatusCode, Body: string(respBody)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
