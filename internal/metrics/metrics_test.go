package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCodeIssued("sent")
	m.ObserveCodeVerify("ok")
	m.ObservePriceCheck("ok")
	m.ObserveCheckout("paid", 100, 1)
	m.ObserveFulfillment("webhook", "sent", time.Second)
	m.ObserveStripeEvent("payment_intent.succeeded", "processed")
	m.ObserveEmail("log", "code", nil, time.Millisecond)
	m.ObserveAlert("purchase.completed", "success", 1, false)
	m.ObserveStripeCall("create_intent", nil, time.Millisecond)
	m.ObserveStorageCall("presign", nil, time.Millisecond)
	m.ObserveRateLimit("send-otp")
	m.ObserveCatalogLoad("yaml", nil)
	m.ObserveDBQuery("list_items", "postgres", time.Millisecond)
	MeasureDBQuery(m, "list_items", "postgres")()
}

func TestObserveCheckout(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveCheckout("paid", 2998, 2)
	m.ObserveCheckout("free", 0, 1)

	if got := promtest.ToFloat64(m.CheckoutsTotal.WithLabelValues("paid")); got != 1 {
		t.Errorf("expected 1 paid checkout, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.CheckoutAmountSum); got != 2998 {
		t.Errorf("expected 2998 cents, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.CheckoutItemsTotal); got != 3 {
		t.Errorf("expected 3 items, got %.0f", got)
	}
}

func TestObserveEmail(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveEmail("sendgrid", "code", nil, 100*time.Millisecond)
	m.ObserveEmail("sendgrid", "code", errors.New("503"), 100*time.Millisecond)

	if got := promtest.ToFloat64(m.EmailsTotal.WithLabelValues("code", "success")); got != 1 {
		t.Errorf("expected 1 success, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.EmailsTotal.WithLabelValues("code", "error")); got != 1 {
		t.Errorf("expected 1 error, got %.0f", got)
	}
}

func TestObserveAlertRetriesAndDLQ(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveAlert("fulfillment.failed", "failed", 3, true)
	m.ObserveAlert("fulfillment.failed", "failed", 9, false)

	if got := promtest.ToFloat64(m.AlertRetriesTotal.WithLabelValues("fulfillment.failed", "3")); got != 1 {
		t.Errorf("expected retry attempt 3 recorded, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.AlertRetriesTotal.WithLabelValues("fulfillment.failed", "5+")); got != 1 {
		t.Errorf("expected retry attempt 5+ recorded, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.AlertDLQTotal.WithLabelValues("fulfillment.failed")); got != 1 {
		t.Errorf("expected 1 DLQ entry, got %.0f", got)
	}
}

func TestMeasureCall(t *testing.T) {
	m := New(prometheus.NewRegistry())

	done := MeasureCall(m.ObserveStripeCall, "create_intent")
	done(errors.New("card_declined"))

	if got := promtest.ToFloat64(m.StripeCallsTotal.WithLabelValues("create_intent", "error")); got != 1 {
		t.Errorf("expected 1 errored call, got %.0f", got)
	}
	if got := promtest.CollectAndCount(m.StripeCallDuration); got != 1 {
		t.Errorf("expected 1 histogram series, got %d", got)
	}
}

func TestFulfillmentAndRateLimit(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveFulfillment("webhook", "sent", time.Second)
	m.ObserveFulfillment("webhook", "already_sent", time.Millisecond)
	m.ObserveRateLimit("send-otp")
	m.ObserveRateLimit("send-otp")

	if got := promtest.ToFloat64(m.FulfillmentsTotal.WithLabelValues("webhook", "sent")); got != 1 {
		t.Errorf("expected 1 sent fulfillment, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.RateLimitHitsTotal.WithLabelValues("send-otp")); got != 2 {
		t.Errorf("expected 2 rate limit hits, got %.0f", got)
	}
}
