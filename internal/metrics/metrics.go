package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the shop. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Verification codes
	CodesIssuedTotal   *prometheus.CounterVec
	CodeVerifyTotal    *prometheus.CounterVec
	PriceChecksTotal   *prometheus.CounterVec
	CheckoutsTotal     *prometheus.CounterVec
	CheckoutAmountSum  prometheus.Counter
	CheckoutItemsTotal prometheus.Counter

	// Fulfillment
	FulfillmentsTotal   *prometheus.CounterVec
	FulfillmentDuration *prometheus.HistogramVec
	StripeEventsTotal   *prometheus.CounterVec

	// Outbound
	EmailsTotal         *prometheus.CounterVec
	EmailDuration       *prometheus.HistogramVec
	AlertsTotal         *prometheus.CounterVec
	AlertRetriesTotal   *prometheus.CounterVec
	AlertDLQTotal       *prometheus.CounterVec
	StripeCallsTotal    *prometheus.CounterVec
	StripeCallDuration  *prometheus.HistogramVec
	StorageCallsTotal   *prometheus.CounterVec
	StorageCallDuration *prometheus.HistogramVec

	// Rate limiting
	RateLimitHitsTotal *prometheus.CounterVec

	// Catalog
	CatalogLoadsTotal *prometheus.CounterVec
	DBQueryDuration   *prometheus.HistogramVec
}

// New creates and registers all metrics on registry (default registerer when nil).
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		CodesIssuedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notes_codes_issued_total",
				Help: "Verification codes issued, by outcome",
			},
			[]string{"outcome"},
		),
		CodeVerifyTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notes_code_verifications_total",
				Help: "Verification code checks, by outcome",
			},
			[]string{"outcome"},
		),
		PriceChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notes_price_checks_total",
				Help: "Cart price checks against the catalog, by outcome",
			},
			[]string{"outcome"},
		),
		CheckoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notes_checkouts_total",
				Help: "Verified checkouts, by path (free or paid)",
			},
			[]string{"path"},
		),
		CheckoutAmountSum: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "notes_checkout_amount_cents_total",
				Help: "Sum of authoritative totals of verified paid checkouts, in cents",
			},
		),
		CheckoutItemsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "notes_checkout_items_total",
				Help: "Items in verified checkouts",
			},
		),

		FulfillmentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notes_fulfillments_total",
				Help: "Fulfillment attempts, by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),
		FulfillmentDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notes_fulfillment_duration_seconds",
				Help:    "Time to sign links and send the downloads email",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"trigger"},
		),
		StripeEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notes_stripe_events_total",
				Help: "Stripe webhook events received, by type and outcome",
			},
			[]string{"event_type", "outcome"},
		),

		EmailsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notes_emails_total",
				Help: "Outbound emails, by template and status",
			},
			[]string{"template", "status"},
		),
		EmailDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notes_email_duration_seconds",
				Help:    "Email provider call latency",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"provider"},
		),
		AlertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notes_alerts_total",
				Help: "Operator alerts delivered, by event type and status",
			},
			[]string{"event_type", "status"},
		),
		AlertRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notes_alert_retries_total",
				Help: "Operator alert retry attempts",
			},
			[]string{"event_type", "attempt"},
		),
		AlertDLQTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notes_alert_dlq_total",
				Help: "Operator alerts written to the dead letter queue",
			},
			[]string{"event_type"},
		),
		StripeCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notes_stripe_calls_total",
				Help: "Stripe API calls, by operation and status",
			},
			[]string{"operation", "status"},
		),
		StripeCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notes_stripe_call_duration_seconds",
				Help:    "Stripe API call latency",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"operation"},
		),
		StorageCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notes_storage_calls_total",
				Help: "Object storage calls, by operation and status",
			},
			[]string{"operation", "status"},
		),
		StorageCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notes_storage_call_duration_seconds",
				Help:    "Object storage call latency",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"operation"},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notes_rate_limit_hits_total",
				Help: "Requests rejected by a rate limit, by scope",
			},
			[]string{"scope"},
		),

		CatalogLoadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notes_catalog_loads_total",
				Help: "Catalog loads from the backing source, by source and status",
			},
			[]string{"source", "status"},
		),
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notes_db_query_duration_seconds",
				Help:    "Database query duration",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
	}
}

// ObserveCodeIssued records a send-code outcome (sent, rate_limited, email_failed, invalid).
func (m *Metrics) ObserveCodeIssued(outcome string) {
	if m == nil {
		return
	}
	m.CodesIssuedTotal.WithLabelValues(outcome).Inc()
}

// ObserveCodeVerify records a verify-code outcome; outcome is an error code or "ok".
func (m *Metrics) ObserveCodeVerify(outcome string) {
	if m == nil {
		return
	}
	m.CodeVerifyTotal.WithLabelValues(outcome).Inc()
}

// ObservePriceCheck records a price authority result (ok, mismatch, unknown_item, error).
func (m *Metrics) ObservePriceCheck(outcome string) {
	if m == nil {
		return
	}
	m.PriceChecksTotal.WithLabelValues(outcome).Inc()
}

// ObserveCheckout records a verified checkout.
func (m *Metrics) ObserveCheckout(path string, amountCents int64, items int) {
	if m == nil {
		return
	}
	m.CheckoutsTotal.WithLabelValues(path).Inc()
	if amountCents > 0 {
		m.CheckoutAmountSum.Add(float64(amountCents))
	}
	m.CheckoutItemsTotal.Add(float64(items))
}

// ObserveFulfillment records one fulfillment attempt.
func (m *Metrics) ObserveFulfillment(trigger, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.FulfillmentsTotal.WithLabelValues(trigger, outcome).Inc()
	m.FulfillmentDuration.WithLabelValues(trigger).Observe(duration.Seconds())
}

// ObserveStripeEvent records an inbound Stripe event.
func (m *Metrics) ObserveStripeEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.StripeEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// ObserveEmail records an outbound email.
func (m *Metrics) ObserveEmail(provider, template string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.EmailsTotal.WithLabelValues(template, statusOf(err)).Inc()
	m.EmailDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// ObserveAlert records an operator alert delivery.
func (m *Metrics) ObserveAlert(eventType, status string, attempt int, sentToDLQ bool) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(eventType, status).Inc()
	if attempt > 1 {
		m.AlertRetriesTotal.WithLabelValues(eventType, formatAttempt(attempt)).Inc()
	}
	if sentToDLQ {
		m.AlertDLQTotal.WithLabelValues(eventType).Inc()
	}
}

// ObserveStripeCall records a Stripe API call.
func (m *Metrics) ObserveStripeCall(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.StripeCallsTotal.WithLabelValues(operation, statusOf(err)).Inc()
	m.StripeCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveStorageCall records an object storage call.
func (m *Metrics) ObserveStorageCall(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.StorageCallsTotal.WithLabelValues(operation, statusOf(err)).Inc()
	m.StorageCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveRateLimit records a rate limit rejection.
func (m *Metrics) ObserveRateLimit(scope string) {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.WithLabelValues(scope).Inc()
}

// ObserveCatalogLoad records a catalog reload from source.
func (m *Metrics) ObserveCatalogLoad(source string, err error) {
	if m == nil {
		return
	}
	m.CatalogLoadsTotal.WithLabelValues(source, statusOf(err)).Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func formatAttempt(attempt int) string {
	if attempt <= 5 {
		return strconv.Itoa(attempt)
	}
	return "5+"
}
