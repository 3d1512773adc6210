// Package checkout runs the email-verified checkout: issue a code bound to a
// cart, verify it against the authoritative price, then either fulfill a free
// cart or open a payment intent for a paid one.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mathsnotes/server/internal/cart"
	"github.com/mathsnotes/server/internal/config"
	"github.com/mathsnotes/server/internal/email"
	"github.com/mathsnotes/server/internal/fulfillment"
	"github.com/mathsnotes/server/internal/logger"
	"github.com/mathsnotes/server/internal/metachunk"
	"github.com/mathsnotes/server/internal/metrics"
	"github.com/mathsnotes/server/internal/money"
	"github.com/mathsnotes/server/internal/otp"
	"github.com/mathsnotes/server/internal/ratelimit"
	"github.com/mathsnotes/server/internal/stripe"
)

// State is a step of the client-observable checkout flow.
type State string

const (
	StateCollectingEmail  State = "collecting_email"
	StateCodeIssued       State = "code_issued"
	StateCodeVerified     State = "code_verified"
	StateFreeFulfilled    State = "free_fulfilled"
	StatePaymentPending   State = "payment_pending"
	StatePaymentConfirmed State = "payment_confirmed"
)

// maxMetadataKeys is the processor's per-object metadata key ceiling.
const maxMetadataKeys = 50

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether addr has the basic local@domain.tld shape.
func ValidEmail(addr string) bool {
	return emailPattern.MatchString(strings.TrimSpace(addr))
}

// PriceChecker recomputes cart totals from the catalog of record.
type PriceChecker interface {
	AuthoritativeTotal(ctx context.Context, keys []string) (float64, error)
	Check(declared, authoritative float64) error
}

// Payments creates and reads payment intents.
type Payments interface {
	CreatePaymentIntent(ctx context.Context, req stripe.PaymentIntentRequest) (stripe.Intent, error)
}

// Fulfiller delivers download links.
type Fulfiller interface {
	FulfillFree(ctx context.Context, p fulfillment.Purchase)
	FulfillIntent(ctx context.Context, intentID, trigger string) (fulfillment.Outcome, error)
}

// Config holds checkout policy.
type Config struct {
	CodeTTL           time.Duration
	IssuePolicy       ratelimit.Policy
	VerifyPolicy      ratelimit.Policy
	Currency          string
	Trigger           string
	MetadataChunkSize int
	TitleMaxLength    int
	ProductNoun       string
}

// ConfigFrom maps loaded configuration onto checkout policy.
func ConfigFrom(cfg *config.Config) Config {
	co := cfg.Checkout
	return Config{
		CodeTTL:           co.CodeTTL.Duration,
		IssuePolicy:       ratelimit.Policy{Operation: "issue", Max: co.IssueLimit, Window: co.IssueWindow.Duration},
		VerifyPolicy:      ratelimit.Policy{Operation: "verify", Max: co.VerifyLimit, Window: co.VerifyWindow.Duration},
		Currency:          cfg.Stripe.Currency,
		Trigger:           co.FulfillmentTrigger,
		MetadataChunkSize: co.MetadataChunkSize,
		TitleMaxLength:    co.TitleMaxLength,
		ProductNoun:       co.ProductNoun,
	}
}

func (c Config) withDefaults() Config {
	if c.CodeTTL <= 0 {
		c.CodeTTL = 10 * time.Minute
	}
	if c.IssuePolicy.Operation == "" {
		c.IssuePolicy = ratelimit.Policy{Operation: "issue", Max: 3, Window: 10 * time.Minute}
	}
	if c.VerifyPolicy.Operation == "" {
		c.VerifyPolicy = ratelimit.Policy{Operation: "verify", Max: 5, Window: 10 * time.Minute}
	}
	if c.Currency == "" {
		c.Currency = "usd"
	}
	if c.Trigger == "" {
		c.Trigger = config.TriggerWebhookOnly
	}
	if c.MetadataChunkSize <= 0 {
		c.MetadataChunkSize = 490
	}
	if c.TitleMaxLength <= 0 {
		c.TitleMaxLength = 40
	}
	if c.ProductNoun == "" {
		c.ProductNoun = "maths note"
	}
	return c
}

// Service implements the checkout operations.
type Service struct {
	cfg       Config
	codes     otp.Store
	limiter   ratelimit.Limiter
	prices    PriceChecker
	payments  Payments
	mailer    email.Mailer
	fulfiller Fulfiller
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewService wires the checkout service. limiter may be nil to disable the
// per-operation limits.
func NewService(cfg Config, codes otp.Store, limiter ratelimit.Limiter, prices PriceChecker, payments Payments, mailer email.Mailer, fulfiller Fulfiller, m *metrics.Metrics) *Service {
	return &Service{
		cfg:       cfg.withDefaults(),
		codes:     codes,
		limiter:   limiter,
		prices:    prices,
		payments:  payments,
		mailer:    mailer,
		fulfiller: fulfiller,
		metrics:   m,
		now:       time.Now,
	}
}

// DirectTriggerEnabled reports whether ConfirmClientPayment may fulfill.
func (s *Service) DirectTriggerEnabled() bool {
	return s.cfg.Trigger == config.TriggerDirectAndWebhook
}

// IssueRequest starts verification for a cart.
type IssueRequest struct {
	Email     string
	CartTotal float64
	Items     []cart.Item
	Client    string
}

// IssueResult is returned once the code email is out.
type IssueResult struct {
	CartHash string
	State    State
}

// IssueCode validates the cart, issues a code bound to its fingerprint and
// emails it. The code is deleted again if the email cannot be sent.
func (s *Service) IssueCode(ctx context.Context, req IssueRequest) (IssueResult, error) {
	log := logger.FromContext(ctx)
	addr := strings.TrimSpace(req.Email)

	if err := validateCart(addr, req.Items, req.CartTotal); err != nil {
		s.metrics.ObserveCodeIssued("invalid")
		return IssueResult{}, err
	}
	if err := s.allow(ctx, s.cfg.IssuePolicy, req.Client); err != nil {
		s.metrics.ObserveCodeIssued("rate_limited")
		return IssueResult{}, err
	}

	hash := cart.Fingerprint(req.Items)
	code, err := s.codes.Issue(ctx, addr, hash)
	if err != nil {
		s.metrics.ObserveCodeIssued("error")
		return IssueResult{}, fmt.Errorf("checkout: issue code: %w", err)
	}

	msg, err := email.RenderCode(email.CodeEmail{
		To:          addr,
		Code:        code,
		ItemCount:   len(req.Items),
		Total:       money.FromFloat(req.CartTotal),
		ExpiresIn:   s.cfg.CodeTTL,
		ProductNoun: s.cfg.ProductNoun,
	}, s.now())
	if err == nil {
		err = s.mailer.Send(ctx, msg)
	}
	if err != nil {
		if derr := s.codes.Delete(ctx, addr); derr != nil {
			log.Warn().Err(derr).Msg("checkout.code_delete_failed")
		}
		s.metrics.ObserveCodeIssued("email_failed")
		log.Error().
			Err(err).
			Str("email", logger.RedactEmail(addr)).
			Msg("checkout.code_email_failed")
		return IssueResult{}, fmt.Errorf("%w: %v", ErrEmailDelivery, err)
	}

	s.metrics.ObserveCodeIssued("sent")
	log.Info().
		Str("email", logger.RedactEmail(addr)).
		Int("items", len(req.Items)).
		Str("cart_hash", logger.TruncateKey(hash)).
		Msg("checkout.code_issued")
	return IssueResult{CartHash: hash, State: StateCodeIssued}, nil
}

// VerifyRequest completes verification for a cart.
type VerifyRequest struct {
	Email    string
	Code     string
	CartHash string
	Items    []cart.Item
	Total    float64
	Client   string
}

// VerifyResult is either a free delivery or an open payment intent.
type VerifyResult struct {
	State           State
	IsFree          bool
	Items           []cart.Item
	ClientSecret    string
	PaymentIntentID string
}

// VerifyCode checks the cart fingerprint and the code, then the declared total,
// and branches on the authoritative price. A rejected total reopens the code:
// the attempt stays counted but the code is not used up. A verified code is
// left in the store until it expires so a replay reports it as used.
func (s *Service) VerifyCode(ctx context.Context, req VerifyRequest) (VerifyResult, error) {
	log := logger.FromContext(ctx)
	addr := strings.TrimSpace(req.Email)
	code := strings.TrimSpace(req.Code)

	if err := validateCart(addr, req.Items, req.Total); err != nil {
		s.metrics.ObserveCodeVerify("invalid")
		return VerifyResult{}, err
	}
	if code == "" {
		s.metrics.ObserveCodeVerify("invalid")
		return VerifyResult{}, invalid("code", "verification code is required")
	}
	if strings.TrimSpace(req.CartHash) == "" {
		s.metrics.ObserveCodeVerify("invalid")
		return VerifyResult{}, invalid("cartHash", "cart hash is required")
	}
	if err := s.allow(ctx, s.cfg.VerifyPolicy, req.Client); err != nil {
		s.metrics.ObserveCodeVerify("rate_limited")
		return VerifyResult{}, err
	}

	if cart.Fingerprint(req.Items) != req.CartHash {
		s.metrics.ObserveCodeVerify("cart_mismatch")
		log.Warn().Str("email", logger.RedactEmail(addr)).Msg("checkout.cart_changed")
		return VerifyResult{}, otp.ErrCartMismatch
	}

	if err := s.codes.Verify(ctx, addr, code, req.CartHash); err != nil {
		s.metrics.ObserveCodeVerify(verifyOutcome(err))
		return VerifyResult{}, err
	}

	authoritative, err := s.prices.AuthoritativeTotal(ctx, cart.Keys(req.Items))
	if err == nil {
		err = s.prices.Check(req.Total, authoritative)
		if err != nil {
			log.Warn().
				Str("email", logger.RedactEmail(addr)).
				Float64("declared", req.Total).
				Float64("authoritative", authoritative).
				Msg("checkout.price_mismatch")
		}
	}
	if err != nil {
		s.metrics.ObserveCodeVerify("price_rejected")
		s.reopenCode(ctx, addr, req.CartHash)
		return VerifyResult{}, err
	}
	s.metrics.ObserveCodeVerify("verified")

	amount := money.FromFloat(authoritative)
	if amount == 0 {
		s.fulfiller.FulfillFree(ctx, fulfillment.Purchase{
			Email:  addr,
			Items:  req.Items,
			IsFree: true,
		})
		s.metrics.ObserveCheckout("free", 0, len(req.Items))
		return VerifyResult{State: StateFreeFulfilled, IsFree: true, Items: req.Items}, nil
	}

	md, err := metachunk.PackItems(stripe.MetaItemsPrefix, req.Items, s.cfg.TitleMaxLength, s.cfg.MetadataChunkSize)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("checkout: encode items: %w", err)
	}
	md[stripe.MetaEmail] = addr
	md[stripe.MetaCartHash] = req.CartHash
	if len(md) > maxMetadataKeys {
		return VerifyResult{}, invalid("items", "cart is too large to check out in one order")
	}

	intent, err := s.payments.CreatePaymentIntent(ctx, stripe.PaymentIntentRequest{
		Amount:       amount,
		Currency:     s.cfg.Currency,
		ReceiptEmail: addr,
		Description:  fmt.Sprintf("Purchase of %d %s(s)", len(req.Items), s.cfg.ProductNoun),
		Metadata:     md,
	})
	if err != nil {
		log.Error().Err(err).Str("email", logger.RedactEmail(addr)).Msg("checkout.intent_failed")
		return VerifyResult{}, &PaymentProcessorError{Err: err}
	}

	s.metrics.ObserveCheckout("paid", int64(amount), len(req.Items))
	log.Info().
		Str("email", logger.RedactEmail(addr)).
		Str("payment_intent", intent.ID).
		Int64("amount_cents", int64(amount)).
		Msg("checkout.intent_created")
	return VerifyResult{
		State:           StatePaymentPending,
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
	}, nil
}

// ConfirmResult reports a direct-trigger fulfillment.
type ConfirmResult struct {
	State   State
	Outcome fulfillment.Outcome
}

// ConfirmClientPayment is the browser-side fulfillment trigger. It shares the
// webhook's per-intent dedupe and is refused unless the direct trigger is on.
func (s *Service) ConfirmClientPayment(ctx context.Context, intentID string) (ConfirmResult, error) {
	if !s.DirectTriggerEnabled() {
		return ConfirmResult{}, ErrDirectTriggerDisabled
	}
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return ConfirmResult{}, invalid("paymentIntentId", "payment intent id is required")
	}

	outcome, err := s.fulfiller.FulfillIntent(ctx, intentID, fulfillment.TriggerDirect)
	switch {
	case errors.Is(err, fulfillment.ErrNotPaid):
		return ConfirmResult{Outcome: outcome}, fmt.Errorf("%w: %v", ErrPaymentIncomplete, err)
	case err != nil:
		return ConfirmResult{Outcome: outcome}, err
	}
	return ConfirmResult{State: StatePaymentConfirmed, Outcome: outcome}, nil
}

func (s *Service) allow(ctx context.Context, p ratelimit.Policy, client string) error {
	if s.limiter == nil {
		return nil
	}
	d, err := p.AllowClient(ctx, s.limiter, client)
	if err != nil {
		// Fail open.
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("operation", p.Operation).Msg("checkout.rate_limit_unavailable")
		return nil
	}
	if !d.Allowed {
		s.metrics.ObserveRateLimit(p.Operation)
		return &RateLimitedError{Operation: p.Operation, RetryAfter: d.RetryAfter}
	}
	return nil
}

func (s *Service) reopenCode(ctx context.Context, addr, fingerprint string) {
	if err := s.codes.Reopen(ctx, addr, fingerprint); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("checkout.code_reopen_failed")
	}
}

func validateCart(addr string, items []cart.Item, total float64) error {
	switch {
	case addr == "":
		return invalid("email", "email is required")
	case !emailPattern.MatchString(addr):
		return invalid("email", "email address is not valid")
	case len(items) == 0:
		return invalid("items", "cart is empty")
	case total < 0:
		return invalid("total", "total must not be negative")
	}
	for _, it := range items {
		if strings.TrimSpace(it.Key) == "" || it.UnitPrice < 0 {
			return invalid("items", "cart contains an invalid item")
		}
	}
	return nil
}

func verifyOutcome(err error) string {
	switch {
	case errors.Is(err, otp.ErrNotFound):
		return "not_found"
	case errors.Is(err, otp.ErrExpired):
		return "expired"
	case errors.Is(err, otp.ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, otp.ErrCartMismatch):
		return "cart_mismatch"
	case errors.Is(err, otp.ErrTooManyAttempts):
		return "too_many_attempts"
	case errors.Is(err, otp.ErrInvalidCode):
		return "invalid_code"
	default:
		return "error"
	}
}
