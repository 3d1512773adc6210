package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mathsnotes/server/internal/circuitbreaker"
	"github.com/mathsnotes/server/internal/config"
	"github.com/mathsnotes/server/internal/metrics"
	"github.com/mathsnotes/server/internal/money"
	stripeapi "github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/paymentintent"
	"github.com/stripe/stripe-go/v72/webhook"
)

// Metadata keys written to payment intents.
const (
	MetaEmail       = "email"
	MetaCartHash    = "cartHash"
	MetaItemsPrefix = "items"
	MetaEmailSent   = "email_sent"
	MetaEmailSentAt = "email_sent_at"
)

// Webhook event types the server reacts to.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
)

// StatusSucceeded is the payment intent status after a successful charge.
const StatusSucceeded = string(stripeapi.PaymentIntentStatusSucceeded)

var (
	// ErrInvalidSignature is returned when a webhook payload fails verification.
	ErrInvalidSignature = errors.New("stripe: invalid webhook signature")

	// ErrWebhookNotConfigured is returned when no signing secret is set.
	ErrWebhookNotConfigured = errors.New("stripe: webhook secret not configured")
)

// Client wraps the stripe-go payment intent operations used by checkout.
type Client struct {
	cfg      config.StripeConfig
	intents  paymentintent.Client
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option customises a Client.
type Option func(*Client)

// WithBackend routes API calls through b instead of the default Stripe backend.
func WithBackend(b stripeapi.Backend) Option {
	return func(c *Client) { c.intents.B = b }
}

// NewClient sets up stripe-go with the provided credentials.
func NewClient(cfg config.StripeConfig, breakers *circuitbreaker.Manager, metricsCollector *metrics.Metrics, opts ...Option) *Client {
	stripeapi.Key = cfg.SecretKey
	c := &Client{
		cfg: cfg,
		intents: paymentintent.Client{
			B:   stripeapi.GetBackend(stripeapi.APIBackend),
			Key: cfg.SecretKey,
		},
		breakers: breakers,
		metrics:  metricsCollector,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PaymentIntentRequest captures what checkout needs to open a payment.
type PaymentIntentRequest struct {
	Amount       money.Cents
	Currency     string
	ReceiptEmail string
	Description  string
	Metadata     map[string]string
}

// Intent is the subset of a payment intent the server works with.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
	Amount       money.Cents
	Currency     string
	ReceiptEmail string
	Metadata     map[string]string
}

// Succeeded reports whether the intent has been paid.
func (i Intent) Succeeded() bool {
	return i.Status == StatusSucceeded
}

// CreatePaymentIntent opens a card payment with automatic payment methods enabled.
func (c *Client) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (Intent, error) {
	if err := money.ValidateStripeAmount(req.Amount); err != nil {
		return Intent{}, err
	}
	params := &stripeapi.PaymentIntentParams{
		Amount:   stripeapi.Int64(int64(req.Amount)),
		Currency: stripeapi.String(strings.ToLower(firstNonEmpty(req.Currency, c.cfg.Currency, "usd"))),
		AutomaticPaymentMethods: &stripeapi.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripeapi.Bool(true),
		},
	}
	if req.ReceiptEmail != "" {
		params.ReceiptEmail = stripeapi.String(req.ReceiptEmail)
	}
	if req.Description != "" {
		params.Description = stripeapi.String(req.Description)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	pi, err := c.call("create_payment_intent", func() (*stripeapi.PaymentIntent, error) {
		return c.intents.New(params)
	})
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	return toIntent(pi), nil
}

// GetPaymentIntent re-reads an intent so callers see its current status and metadata.
func (c *Client) GetPaymentIntent(ctx context.Context, id string) (Intent, error) {
	if strings.TrimSpace(id) == "" {
		return Intent{}, errors.New("stripe: payment intent id required")
	}
	params := &stripeapi.PaymentIntentParams{}
	params.Context = ctx
	pi, err := c.call("get_payment_intent", func() (*stripeapi.PaymentIntent, error) {
		return c.intents.Get(id, params)
	})
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: get payment intent %s: %w", id, err)
	}
	return toIntent(pi), nil
}

// MarkFulfilled records on the intent that the download email went out.
func (c *Client) MarkFulfilled(ctx context.Context, id string, at time.Time) error {
	params := &stripeapi.PaymentIntentParams{}
	params.AddMetadata(MetaEmailSent, "true")
	params.AddMetadata(MetaEmailSentAt, at.UTC().Format(time.RFC3339))
	params.Context = ctx
	_, err := c.call("update_payment_intent", func() (*stripeapi.PaymentIntent, error) {
		return c.intents.Update(id, params)
	})
	if err != nil {
		return fmt.Errorf("stripe: mark payment intent %s fulfilled: %w", id, err)
	}
	return nil
}

func (c *Client) call(operation string, fn func() (*stripeapi.PaymentIntent, error)) (*stripeapi.PaymentIntent, error) {
	done := metrics.MeasureCall(c.metrics.ObserveStripeCall, operation)
	pi, err := circuitbreaker.Do(c.breakers, circuitbreaker.ServiceStripe, fn)
	done(err)
	return pi, err
}

// WebhookEvent represents a verified Stripe webhook event.
type WebhookEvent struct {
	ID             string
	Type           string
	IntentID       string
	Status         string
	Amount         money.Cents
	Currency       string
	ReceiptEmail   string
	FailureMessage string
	Metadata       map[string]string
}

// Handled reports whether the event type is one the server acts on.
func (e WebhookEvent) Handled() bool {
	return e.Type == EventIntentSucceeded || e.Type == EventIntentFailed
}

// ParseWebhook validates the signature and decodes payment intent events.
// Events of other types come back with only ID and Type set.
func (c *Client) ParseWebhook(payload []byte, signature string) (WebhookEvent, error) {
	if c.cfg.WebhookSecret == "" {
		return WebhookEvent{}, ErrWebhookNotConfigured
	}
	event, err := webhook.ConstructEvent(payload, signature, c.cfg.WebhookSecret)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := WebhookEvent{ID: event.ID, Type: string(event.Type)}
	switch out.Type {
	case EventIntentSucceeded, EventIntentFailed:
		if event.Data == nil {
			return WebhookEvent{}, errors.New("stripe: webhook event has no data")
		}
		var pi stripeapi.PaymentIntent
		if err := jsonExtract(event.Data.Raw, &pi); err != nil {
			return WebhookEvent{}, err
		}
		intent := toIntent(&pi)
		out.IntentID = intent.ID
		out.Status = intent.Status
		out.Amount = intent.Amount
		out.Currency = intent.Currency
		out.ReceiptEmail = intent.ReceiptEmail
		out.Metadata = intent.Metadata
		if pi.LastPaymentError != nil {
			out.FailureMessage = pi.LastPaymentError.Msg
		}
	}
	return out, nil
}

func toIntent(pi *stripeapi.PaymentIntent) Intent {
	if pi == nil {
		return Intent{}
	}
	md := make(map[string]string, len(pi.Metadata))
	for k, v := range pi.Metadata {
		md[k] = v
	}
	return Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       money.Cents(pi.Amount),
		Currency:     string(pi.Currency),
		ReceiptEmail: pi.ReceiptEmail,
		Metadata:     md,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func jsonExtract(data []byte, v any) error {
	if len(data) == 0 {
		return errors.New("stripe: webhook payload empty")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("stripe: decode webhook payload: %w", err)
	}
	return nil
}
