package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mathsnotes/server/internal/callbacks"
	"github.com/mathsnotes/server/internal/cart"
	"github.com/mathsnotes/server/internal/email"
	"github.com/mathsnotes/server/internal/logger"
	"github.com/mathsnotes/server/internal/metachunk"
	"github.com/mathsnotes/server/internal/metrics"
	"github.com/mathsnotes/server/internal/money"
	"github.com/mathsnotes/server/internal/stripe"
)

// Triggers name what started a fulfillment.
const (
	TriggerWebhook = "webhook"
	TriggerDirect  = "direct"
	TriggerFree    = "free"
)

// Outcome is the result of FulfillIntent.
type Outcome string

const (
	OutcomeSent        Outcome = "sent"
	OutcomeAlreadySent Outcome = "already_sent"
	OutcomeFailed      Outcome = "failed"
)

var (
	// ErrNotPaid is returned when the intent has not succeeded.
	ErrNotPaid = errors.New("fulfillment: payment intent has not succeeded")

	// ErrMissingMetadata is returned when the intent lacks the buyer email or items.
	ErrMissingMetadata = errors.New("fulfillment: payment intent metadata incomplete")

	// ErrNoItems is returned for a purchase with nothing to deliver.
	ErrNoItems = errors.New("fulfillment: purchase has no items")
)

// Presigner issues time-limited download URLs.
type Presigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// IntentStore reads and annotates payment intents.
type IntentStore interface {
	GetPaymentIntent(ctx context.Context, id string) (stripe.Intent, error)
	MarkFulfilled(ctx context.Context, id string, at time.Time) error
}

// Purchase is everything needed to deliver one order.
type Purchase struct {
	Email     string
	Items     []cart.Item
	IsFree    bool
	Amount    money.Cents
	Reference string // payment intent id; empty for free orders
}

// Config tunes the fulfiller.
type Config struct {
	LinkTTL     time.Duration // default 7 days
	LockTTL     time.Duration // default 2 minutes
	ProductNoun string        // default "maths note"
}

func (c Config) withDefaults() Config {
	if c.LinkTTL <= 0 {
		c.LinkTTL = 7 * 24 * time.Hour
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * time.Minute
	}
	if c.ProductNoun == "" {
		c.ProductNoun = "maths note"
	}
	return c
}

// Fulfiller presigns download links and emails them exactly once per intent.
type Fulfiller struct {
	cfg     Config
	links   Presigner
	mailer  email.Mailer
	intents IntentStore
	locker  Locker
	notify  callbacks.Notifier
	metrics *metrics.Metrics
	now     func() time.Time
}

// New wires a fulfiller. A nil locker falls back to a MemoryLocker and a nil
// notifier to callbacks.NoopNotifier.
func New(cfg Config, links Presigner, mailer email.Mailer, intents IntentStore, locker Locker, notify callbacks.Notifier, m *metrics.Metrics) *Fulfiller {
	if locker == nil {
		locker = NewMemoryLocker()
	}
	if notify == nil {
		notify = callbacks.NoopNotifier{}
	}
	return &Fulfiller{
		cfg:     cfg.withDefaults(),
		links:   links,
		mailer:  mailer,
		intents: intents,
		locker:  locker,
		notify:  notify,
		metrics: m,
		now:     time.Now,
	}
}

// Fulfill presigns every item and sends one download email. Errors are
// returned to the caller untouched by alerting.
func (f *Fulfiller) Fulfill(ctx context.Context, p Purchase) error {
	if len(p.Items) == 0 {
		return ErrNoItems
	}
	if strings.TrimSpace(p.Email) == "" {
		return fmt.Errorf("%w: buyer email", ErrMissingMetadata)
	}

	lines := make([]email.DownloadLine, 0, len(p.Items))
	for _, it := range p.Items {
		url, err := f.links.PresignGet(ctx, it.Key, f.cfg.LinkTTL)
		if err != nil {
			return fmt.Errorf("fulfillment: presign %s: %w", it.Key, err)
		}
		lines = append(lines, email.DownloadLine{
			Title: it.Title,
			Price: money.FromFloat(it.UnitPrice),
			URL:   url,
		})
	}

	msg, err := email.RenderDownloads(email.DownloadsEmail{
		To:          p.Email,
		Items:       lines,
		Total:       p.Amount,
		Reference:   p.Reference,
		IsFree:      p.IsFree,
		ExpiresIn:   f.cfg.LinkTTL,
		ProductNoun: f.cfg.ProductNoun,
	}, f.now())
	if err != nil {
		return fmt.Errorf("fulfillment: render email: %w", err)
	}
	if err := f.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("fulfillment: send download email: %w", err)
	}
	return nil
}

// FulfillFree delivers a zero-cost order. Failures are logged and alerted,
// never returned, because the buyer already saw a success screen.
func (f *Fulfiller) FulfillFree(ctx context.Context, p Purchase) {
	start := f.now()
	log := logger.FromContext(ctx)
	p.IsFree = true

	if err := f.Fulfill(ctx, p); err != nil {
		f.metrics.ObserveFulfillment(TriggerFree, string(OutcomeFailed), f.now().Sub(start))
		log.Error().
			Err(err).
			Str("email", logger.RedactEmail(p.Email)).
			Int("items", len(p.Items)).
			Msg("fulfillment.free_failed")
		f.notify.FulfillmentFailed(ctx, callbacks.FulfillmentFailedEvent{
			Reference: "free",
			Email:     p.Email,
			ItemKeys:  cart.Keys(p.Items),
			Trigger:   TriggerFree,
			Error:     err.Error(),
		})
		return
	}

	f.metrics.ObserveFulfillment(TriggerFree, string(OutcomeSent), f.now().Sub(start))
	log.Info().
		Str("email", logger.RedactEmail(p.Email)).
		Int("items", len(p.Items)).
		Msg("fulfillment.free_sent")
	f.notify.PurchaseCompleted(ctx, callbacks.PurchaseEvent{
		Reference: "free",
		Email:     p.Email,
		ItemKeys:  cart.Keys(p.Items),
		IsFree:    true,
		Trigger:   TriggerFree,
	})
}

// FulfillIntent delivers a paid order at most once per intent, whichever
// trigger gets there first. The email_sent metadata flag is the dedupe record;
// the per-intent lock keeps concurrent triggers from both reading it unset.
func (f *Fulfiller) FulfillIntent(ctx context.Context, intentID, trigger string) (Outcome, error) {
	start := f.now()
	outcome, err := f.fulfillIntent(ctx, intentID, trigger)
	f.metrics.ObserveFulfillment(trigger, string(outcome), f.now().Sub(start))
	return outcome, err
}

func (f *Fulfiller) fulfillIntent(ctx context.Context, intentID, trigger string) (Outcome, error) {
	log := logger.FromContext(ctx).With().
		Str("payment_intent", intentID).
		Str("trigger", trigger).
		Logger()

	if strings.TrimSpace(intentID) == "" {
		return OutcomeFailed, errors.New("fulfillment: payment intent id required")
	}

	release, err := f.locker.Acquire(ctx, "fulfill:"+intentID, f.cfg.LockTTL)
	if err != nil {
		return OutcomeFailed, err
	}
	defer release()

	intent, err := f.intents.GetPaymentIntent(ctx, intentID)
	if err != nil {
		return OutcomeFailed, err
	}
	if !intent.Succeeded() {
		return OutcomeFailed, fmt.Errorf("%w: status %s", ErrNotPaid, intent.Status)
	}
	if intent.Metadata[stripe.MetaEmailSent] == "true" {
		log.Info().Msg("fulfillment.already_sent")
		return OutcomeAlreadySent, nil
	}

	buyer := firstNonEmpty(intent.Metadata[stripe.MetaEmail], intent.ReceiptEmail)
	items, err := metachunk.UnpackItems(stripe.MetaItemsPrefix, intent.Metadata)
	if err == nil && buyer == "" {
		err = errors.New("buyer email missing")
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrMissingMetadata, err)
		f.alertFailure(ctx, intentID, buyer, nil, trigger, err)
		return OutcomeFailed, err
	}

	purchase := Purchase{
		Email:     buyer,
		Items:     items,
		Amount:    intent.Amount,
		Reference: intentID,
	}
	if err := f.Fulfill(ctx, purchase); err != nil {
		log.Error().Err(err).Msg("fulfillment.send_failed")
		f.alertFailure(ctx, intentID, buyer, items, trigger, err)
		return OutcomeFailed, err
	}

	// The email is out. A failed flag write is logged rather than returned so
	// the processor does not redeliver and trigger a second send.
	if err := f.intents.MarkFulfilled(ctx, intentID, f.now()); err != nil {
		log.Error().Err(err).Msg("fulfillment.mark_failed")
	}

	log.Info().
		Str("email", logger.RedactEmail(buyer)).
		Int("items", len(items)).
		Int64("amount_cents", int64(intent.Amount)).
		Msg("fulfillment.sent")
	f.notify.PurchaseCompleted(ctx, callbacks.PurchaseEvent{
		Reference:   intentID,
		Email:       buyer,
		ItemKeys:    cart.Keys(items),
		AmountCents: int64(intent.Amount),
		Currency:    intent.Currency,
		Trigger:     trigger,
	})
	return OutcomeSent, nil
}

func (f *Fulfiller) alertFailure(ctx context.Context, reference, buyer string, items []cart.Item, trigger string, err error) {
	f.notify.FulfillmentFailed(ctx, callbacks.FulfillmentFailedEvent{
		Reference: reference,
		Email:     buyer,
		ItemKeys:  cart.Keys(items),
		Trigger:   trigger,
		Error:     err.Error(),
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
