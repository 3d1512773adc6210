package callbacks

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Alert event types.
const (
	EventPurchaseCompleted = "purchase.completed"
	EventFulfillmentFailed = "fulfillment.failed"
)

// Notifier delivers operator alerts. Delivery is best effort and never blocks
// the purchase flow.
type Notifier interface {
	PurchaseCompleted(ctx context.Context, event PurchaseEvent)
	FulfillmentFailed(ctx context.Context, event FulfillmentFailedEvent)
}

// NoopNotifier ignores all events.
type NoopNotifier struct{}

func (NoopNotifier) PurchaseCompleted(context.Context, PurchaseEvent)          {}
func (NoopNotifier) FulfillmentFailed(context.Context, FulfillmentFailedEvent) {}

// PurchaseEvent is emitted once the download email for a purchase went out.
// EventID is stable across delivery retries so consumers can dedupe on it.
type PurchaseEvent struct {
	EventID        string    `json:"eventId"`
	EventType      string    `json:"eventType"`
	EventTimestamp time.Time `json:"eventTimestamp"`

	Reference   string   `json:"reference"` // payment intent id, or "free" for zero-cost carts
	Email       string   `json:"email"`
	ItemKeys    []string `json:"itemKeys"`
	AmountCents int64    `json:"amountCents"`
	Currency    string   `json:"currency"`
	IsFree      bool     `json:"isFree"`
	Trigger     string   `json:"trigger,omitempty"`
}

// FulfillmentFailedEvent is emitted when download links could not be delivered
// to a buyer. Operators use it to resend manually.
type FulfillmentFailedEvent struct {
	EventID        string    `json:"eventId"`
	EventType      string    `json:"eventType"`
	EventTimestamp time.Time `json:"eventTimestamp"`

	Reference string   `json:"reference"`
	Email     string   `json:"email,omitempty"`
	ItemKeys  []string `json:"itemKeys,omitempty"`
	Trigger   string   `json:"trigger,omitempty"`
	Error     string   `json:"error"`
}

// ErrAlertsDisabled is returned by SendOnce when no destination is configured.
var ErrAlertsDisabled = errors.New("callbacks: alerts disabled")

// generateEventID returns "evt_" followed by a lower-case ULID, so ids sort by
// creation time.
func generateEventID() string {
	return "evt_" + strings.ToLower(ulid.Make().String())
}

func prepareEventFields(eventID *string, eventType *string, eventTimestamp *time.Time, defaultEventType string) {
	if *eventID == "" {
		*eventID = generateEventID()
	}
	if *eventType == "" {
		*eventType = defaultEventType
	}
	if eventTimestamp.IsZero() {
		*eventTimestamp = time.Now().UTC()
	}
}

// PreparePurchaseEvent fills in the idempotency fields. An existing EventID is
// preserved.
func PreparePurchaseEvent(event *PurchaseEvent) {
	prepareEventFields(&event.EventID, &event.EventType, &event.EventTimestamp, EventPurchaseCompleted)
	if event.Currency == "" && !event.IsFree {
		event.Currency = "usd"
	}
}

// PrepareFulfillmentFailedEvent fills in the idempotency fields.
func PrepareFulfillmentFailedEvent(event *FulfillmentFailedEvent) {
	prepareEventFields(&event.EventID, &event.EventType, &event.EventTimestamp, EventFulfillmentFailed)
}
