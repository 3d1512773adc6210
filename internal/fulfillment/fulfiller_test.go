package fulfillment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mathsnotes/server/internal/callbacks"
	"github.com/mathsnotes/server/internal/cart"
	"github.com/mathsnotes/server/internal/email"
	"github.com/mathsnotes/server/internal/metachunk"
	"github.com/mathsnotes/server/internal/stripe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresigner struct {
	mu   sync.Mutex
	keys []string
	ttl  time.Duration
	err  error
}

func (p *fakePresigner) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.keys = append(p.keys, key)
	p.ttl = ttl
	return "https://r2.example.com/" + key + "?X-Amz-Signature=abc", nil
}

type fakeIntents struct {
	mu      sync.Mutex
	intents map[string]stripe.Intent
	marks   int
	markErr error
}

func (f *fakeIntents) GetPaymentIntent(_ context.Context, id string) (stripe.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.intents[id]
	if !ok {
		return stripe.Intent{}, errors.New("no such intent")
	}
	md := make(map[string]string, len(in.Metadata))
	for k, v := range in.Metadata {
		md[k] = v
	}
	in.Metadata = md
	return in, nil
}

func (f *fakeIntents) MarkFulfilled(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks++
	if f.markErr != nil {
		return f.markErr
	}
	in := f.intents[id]
	in.Metadata[stripe.MetaEmailSent] = "true"
	in.Metadata[stripe.MetaEmailSentAt] = at.UTC().Format(time.RFC3339)
	f.intents[id] = in
	return nil
}

var testItems = []cart.Item{
	{Key: "files/algebra.pdf", Title: "Algebra Basics", UnitPrice: 19.99},
	{Key: "files/calculus.pdf", Title: "Calculus I", UnitPrice: 10},
}

func paidIntent(t *testing.T, id string) stripe.Intent {
	t.Helper()
	md, err := metachunk.PackItems(stripe.MetaItemsPrefix, testItems, 40, 490)
	require.NoError(t, err)
	md[stripe.MetaEmail] = "buyer@example.com"
	md[stripe.MetaCartHash] = cart.Fingerprint(testItems)
	return stripe.Intent{ID: id, Status: stripe.StatusSucceeded, Amount: 2999, Currency: "usd", Metadata: md}
}

type harness struct {
	f       *Fulfiller
	links   *fakePresigner
	mail    *email.Recorder
	intents *fakeIntents
	alerts  *callbacks.Recorder
}

func newHarness(t *testing.T, intents ...stripe.Intent) *harness {
	t.Helper()
	h := &harness{
		links:   &fakePresigner{},
		mail:    &email.Recorder{},
		intents: &fakeIntents{intents: map[string]stripe.Intent{}},
		alerts:  &callbacks.Recorder{},
	}
	for _, in := range intents {
		h.intents.intents[in.ID] = in
	}
	h.f = New(Config{}, h.links, h.mail, h.intents, NewMemoryLocker(), h.alerts, nil)
	return h
}

func TestFulfillSendsOneEmail(t *testing.T) {
	h := newHarness(t)

	err := h.f.Fulfill(context.Background(), Purchase{
		Email:     "buyer@example.com",
		Items:     testItems,
		Amount:    2999,
		Reference: "pi_1",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"files/algebra.pdf", "files/calculus.pdf"}, h.links.keys)
	assert.Equal(t, 7*24*time.Hour, h.links.ttl)

	sent := h.mail.Sent()
	require.Len(t, sent, 1)
	msg := sent[0]
	assert.Equal(t, "buyer@example.com", msg.To)
	assert.Equal(t, email.TemplateDownloads, msg.Template)
	assert.Contains(t, msg.Text, "Algebra Basics ($19.99)")
	assert.Contains(t, msg.Text, "files/calculus.pdf")
	assert.Contains(t, msg.Text, "$29.99")
	assert.Contains(t, msg.Text, "pi_1")
}

func TestFulfillErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("no items", func(t *testing.T) {
		h := newHarness(t)
		assert.ErrorIs(t, h.f.Fulfill(ctx, Purchase{Email: "a@b.co"}), ErrNoItems)
	})

	t.Run("presign failure sends nothing", func(t *testing.T) {
		h := newHarness(t)
		h.links.err = errors.New("breaker open")
		err := h.f.Fulfill(ctx, Purchase{Email: "a@b.co", Items: testItems})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "breaker open")
		assert.Empty(t, h.mail.Sent())
	})

	t.Run("mailer failure", func(t *testing.T) {
		h := newHarness(t)
		h.mail.FailWith(errors.New("smtp 451"))
		err := h.f.Fulfill(ctx, Purchase{Email: "a@b.co", Items: testItems})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "smtp 451")
	})
}

func TestFulfillFree(t *testing.T) {
	ctx := context.Background()
	free := []cart.Item{{Key: "files/sample.pdf", Title: "Sample", UnitPrice: 0}}

	t.Run("success alerts purchase", func(t *testing.T) {
		h := newHarness(t)
		h.f.FulfillFree(ctx, Purchase{Email: "buyer@example.com", Items: free})

		require.Len(t, h.mail.Sent(), 1)
		assert.Contains(t, h.mail.Sent()[0].HTML, "Your Free Downloads")
		purchases := h.alerts.Purchases()
		require.Len(t, purchases, 1)
		assert.True(t, purchases[0].IsFree)
		assert.Empty(t, h.alerts.Failures())
	})

	t.Run("failure is alerted not returned", func(t *testing.T) {
		h := newHarness(t)
		h.mail.FailWith(errors.New("provider down"))
		h.f.FulfillFree(ctx, Purchase{Email: "buyer@example.com", Items: free})

		failures := h.alerts.Failures()
		require.Len(t, failures, 1)
		assert.Equal(t, TriggerFree, failures[0].Trigger)
		assert.Contains(t, failures[0].Error, "provider down")
		assert.Equal(t, []string{"files/sample.pdf"}, failures[0].ItemKeys)
	})
}

func TestFulfillIntentSendsAndMarks(t *testing.T) {
	h := newHarness(t, paidIntent(t, "pi_ok"))

	outcome, err := h.f.FulfillIntent(context.Background(), "pi_ok", TriggerWebhook)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)

	require.Len(t, h.mail.Sent(), 1)
	assert.Equal(t, "buyer@example.com", h.mail.Sent()[0].To)
	assert.Equal(t, 1, h.intents.marks)
	assert.Equal(t, "true", h.intents.intents["pi_ok"].Metadata[stripe.MetaEmailSent])

	purchases := h.alerts.Purchases()
	require.Len(t, purchases, 1)
	assert.Equal(t, "pi_ok", purchases[0].Reference)
	assert.Equal(t, int64(2999), purchases[0].AmountCents)

	outcome, err = h.f.FulfillIntent(context.Background(), "pi_ok", TriggerWebhook)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadySent, outcome)
	assert.Len(t, h.mail.Sent(), 1)
}

func TestFulfillIntentConcurrentTriggersSendOnce(t *testing.T) {
	h := newHarness(t, paidIntent(t, "pi_race"))

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 8)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			trigger := TriggerWebhook
			if i%2 == 0 {
				trigger = TriggerDirect
			}
			outcomes[i], _ = h.f.FulfillIntent(context.Background(), "pi_race", trigger)
		}(i)
	}
	wg.Wait()

	assert.Len(t, h.mail.Sent(), 1)
	sent := 0
	for _, o := range outcomes {
		if o == OutcomeSent {
			sent++
		} else {
			assert.Equal(t, OutcomeAlreadySent, o)
		}
	}
	assert.Equal(t, 1, sent)
}

func TestFulfillIntentRejectsUnpaid(t *testing.T) {
	in := paidIntent(t, "pi_pending")
	in.Status = "requires_payment_method"
	h := newHarness(t, in)

	outcome, err := h.f.FulfillIntent(context.Background(), "pi_pending", TriggerDirect)
	assert.ErrorIs(t, err, ErrNotPaid)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Empty(t, h.mail.Sent())
}

func TestFulfillIntentMissingMetadataAlerts(t *testing.T) {
	in := stripe.Intent{ID: "pi_bare", Status: stripe.StatusSucceeded, Metadata: map[string]string{stripe.MetaEmail: "x@example.com"}}
	h := newHarness(t, in)

	_, err := h.f.FulfillIntent(context.Background(), "pi_bare", TriggerWebhook)
	assert.ErrorIs(t, err, ErrMissingMetadata)
	require.Len(t, h.alerts.Failures(), 1)
	assert.Equal(t, "pi_bare", h.alerts.Failures()[0].Reference)
}

func TestFulfillIntentSendFailureNotMarked(t *testing.T) {
	h := newHarness(t, paidIntent(t, "pi_fail"))
	h.mail.FailWith(errors.New("mailgun 500"))

	outcome, err := h.f.FulfillIntent(context.Background(), "pi_fail", TriggerWebhook)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 0, h.intents.marks)
	require.Len(t, h.alerts.Failures(), 1)

	h.mail.FailWith(nil)
	outcome, err = h.f.FulfillIntent(context.Background(), "pi_fail", TriggerWebhook)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)
}

func TestFulfillIntentMarkFailureStillSent(t *testing.T) {
	h := newHarness(t, paidIntent(t, "pi_mark"))
	h.intents.markErr = errors.New("stripe 503")

	outcome, err := h.f.FulfillIntent(context.Background(), "pi_mark", TriggerWebhook)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)
	assert.Len(t, h.mail.Sent(), 1)
}

func TestFulfillIntentBlankID(t *testing.T) {
	h := newHarness(t)
	_, err := h.f.FulfillIntent(context.Background(), "  ", TriggerDirect)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "required"))
}
