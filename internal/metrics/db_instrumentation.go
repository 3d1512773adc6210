package metrics

import (
	"time"
)

// MeasureDBQuery times a catalog query:
//
//	defer metrics.MeasureDBQuery(m, "list_items", "postgres")()
func MeasureDBQuery(m *Metrics, operation, backend string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.ObserveDBQuery(operation, backend, time.Since(start))
	}
}

// MeasureCall times an outbound call and records it with observe once the
// returned func receives the call's error.
//
//	done := metrics.MeasureCall(m.ObserveStripeCall, "create_intent")
//	pi, err := paymentintent.New(params)
//	done(err)
func MeasureCall(observe func(operation string, err error, d time.Duration), operation string) func(error) {
	start := time.Now()
	return func(err error) {
		observe(operation, err, time.Since(start))
	}
}
