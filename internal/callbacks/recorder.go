package callbacks

import (
	"context"
	"sync"
)

// Recorder keeps every alert in memory. Tests in other packages use it to
// assert what operators would have been told.
type Recorder struct {
	mu        sync.Mutex
	purchases []PurchaseEvent
	failures  []FulfillmentFailedEvent
}

func (r *Recorder) PurchaseCompleted(_ context.Context, event PurchaseEvent) {
	PreparePurchaseEvent(&event)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purchases = append(r.purchases, event)
}

func (r *Recorder) FulfillmentFailed(_ context.Context, event FulfillmentFailedEvent) {
	PrepareFulfillmentFailedEvent(&event)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, event)
}

// Purchases returns a copy of the recorded purchase events.
func (r *Recorder) Purchases() []PurchaseEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PurchaseEvent(nil), r.purchases...)
}

// Failures returns a copy of the recorded failure events.
func (r *Recorder) Failures() []FulfillmentFailedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FulfillmentFailedEvent(nil), r.failures...)
}
