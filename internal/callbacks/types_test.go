package callbacks

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateEventID(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := generateEventID()
		if !strings.HasPrefix(id, "evt_") {
			t.Fatalf("EventID missing 'evt_' prefix: %s", id)
		}
		if got := len(strings.TrimPrefix(id, "evt_")); got != 26 {
			t.Fatalf("EventID ulid part has length %d: %s", got, id)
		}
		if id != strings.ToLower(id) {
			t.Fatalf("EventID not lower-case: %s", id)
		}
		if ids[id] {
			t.Fatalf("Duplicate EventID generated: %s", id)
		}
		ids[id] = true
	}
}

func TestPreparePurchaseEvent(t *testing.T) {
	tests := []struct {
		name  string
		event PurchaseEvent
		check func(t *testing.T, event PurchaseEvent)
	}{
		{
			name:  "fills missing fields",
			event: PurchaseEvent{Reference: "pi_1"},
			check: func(t *testing.T, event PurchaseEvent) {
				if !strings.HasPrefix(event.EventID, "evt_") {
					t.Errorf("EventID = %q", event.EventID)
				}
				if event.EventType != EventPurchaseCompleted {
					t.Errorf("EventType = %q", event.EventType)
				}
				if event.EventTimestamp.IsZero() {
					t.Error("EventTimestamp not set")
				}
				if event.Currency != "usd" {
					t.Errorf("Currency = %q, want usd", event.Currency)
				}
			},
		},
		{
			name:  "preserves existing id for retries",
			event: PurchaseEvent{EventID: "evt_existing", EventTimestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
			check: func(t *testing.T, event PurchaseEvent) {
				if event.EventID != "evt_existing" {
					t.Errorf("EventID = %q", event.EventID)
				}
				if event.EventTimestamp.Year() != 2026 {
					t.Errorf("EventTimestamp overwritten: %v", event.EventTimestamp)
				}
			},
		},
		{
			name:  "free purchases carry no currency",
			event: PurchaseEvent{IsFree: true},
			check: func(t *testing.T, event PurchaseEvent) {
				if event.Currency != "" {
					t.Errorf("Currency = %q, want empty", event.Currency)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := tt.event
			PreparePurchaseEvent(&event)
			tt.check(t, event)
		})
	}
}

func TestPrepareFulfillmentFailedEvent(t *testing.T) {
	event := FulfillmentFailedEvent{Reference: "pi_1", Error: "boom"}
	PrepareFulfillmentFailedEvent(&event)
	if event.EventType != EventFulfillmentFailed {
		t.Errorf("EventType = %q", event.EventType)
	}
	if event.EventID == "" {
		t.Error("EventID not generated")
	}
}
