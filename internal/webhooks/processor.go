// Package webhooks turns verified payment processor events into fulfillment.
package webhooks

import (
	"context"
	"errors"
	"fmt"

	"github.com/mathsnotes/server/internal/fulfillment"
	"github.com/mathsnotes/server/internal/logger"
	"github.com/mathsnotes/server/internal/metrics"
	"github.com/mathsnotes/server/internal/stripe"
)

// ErrInvalidSignature is returned for payloads that fail verification. The
// caller answers 400 and changes no state.
var ErrInvalidSignature = errors.New("webhooks: invalid signature")

// EventParser verifies and decodes a raw webhook delivery.
type EventParser interface {
	ParseWebhook(payload []byte, signature string) (stripe.WebhookEvent, error)
}

// IntentFulfiller delivers a paid order at most once.
type IntentFulfiller interface {
	FulfillIntent(ctx context.Context, intentID, trigger string) (fulfillment.Outcome, error)
}

// Result describes how an event was handled.
type Result struct {
	EventID  string
	Type     string
	IntentID string
	Handled  bool
	Outcome  fulfillment.Outcome
}

// Processor dispatches webhook events.
type Processor struct {
	parser    EventParser
	fulfiller IntentFulfiller
	metrics   *metrics.Metrics
}

// NewProcessor creates a processor.
func NewProcessor(parser EventParser, fulfiller IntentFulfiller, m *metrics.Metrics) *Processor {
	return &Processor{parser: parser, fulfiller: fulfiller, metrics: m}
}

// Handle verifies payload and acts on it. A returned error other than
// ErrInvalidSignature means the processor should redeliver.
func (p *Processor) Handle(ctx context.Context, payload []byte, signature string) (Result, error) {
	log := logger.FromContext(ctx)

	event, err := p.parser.ParseWebhook(payload, signature)
	if err != nil {
		p.metrics.ObserveStripeEvent("unknown", "rejected")
		log.Warn().Err(err).Msg("webhook.rejected")
		if errors.Is(err, stripe.ErrInvalidSignature) || errors.Is(err, stripe.ErrWebhookNotConfigured) {
			return Result{}, ErrInvalidSignature
		}
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	res := Result{EventID: event.ID, Type: event.Type, IntentID: event.IntentID, Handled: event.Handled()}
	log = log.With().
		Str("event_id", event.ID).
		Str("event_type", event.Type).
		Str("payment_intent", event.IntentID).
		Logger()

	switch event.Type {
	case stripe.EventIntentSucceeded:
		outcome, err := p.fulfiller.FulfillIntent(ctx, event.IntentID, fulfillment.TriggerWebhook)
		res.Outcome = outcome
		if err != nil {
			p.metrics.ObserveStripeEvent(event.Type, "error")
			log.Error().Err(err).Msg("webhook.fulfillment_failed")
			return res, err
		}
		p.metrics.ObserveStripeEvent(event.Type, string(outcome))
		log.Info().Str("outcome", string(outcome)).Msg("webhook.payment_succeeded")

	case stripe.EventIntentFailed:
		p.metrics.ObserveStripeEvent(event.Type, "logged")
		log.Warn().
			Str("email", logger.RedactEmail(event.ReceiptEmail)).
			Int64("amount_cents", int64(event.Amount)).
			Str("reason", event.FailureMessage).
			Msg("webhook.payment_failed")

	default:
		p.metrics.ObserveStripeEvent(event.Type, "ignored")
		log.Debug().Msg("webhook.ignored")
	}
	return res, nil
}
