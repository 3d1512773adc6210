// Package cart holds the canonical purchase line item and the content
// fingerprint used to detect a cart that changed between checkout steps.
package cart

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mathsnotes/server/internal/money"
)

var (
	// ErrEmpty is returned when a cart has no items.
	ErrEmpty = errors.New("cart: no items")
	// ErrInvalidItem is returned for items with no key or a negative price.
	ErrInvalidItem = errors.New("cart: invalid item")
)

// Item is one line of a purchase. Key is the storage object key of the file.
type Item struct {
	Key       string  `json:"key"`
	Title     string  `json:"title"`
	UnitPrice float64 `json:"price"`
}

// WireItem is an item as browsers send it. Older clients send "id" instead of
// "key"; both are accepted here and nowhere else.
type WireItem struct {
	Key   string  `json:"key"`
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Price float64 `json:"price"`
}

// FromWire converts browser items into canonical items, preserving order.
func FromWire(in []WireItem) ([]Item, error) {
	if len(in) == 0 {
		return nil, ErrEmpty
	}
	out := make([]Item, 0, len(in))
	for i, w := range in {
		key := strings.TrimSpace(w.Key)
		if key == "" {
			key = strings.TrimSpace(w.ID)
		}
		if key == "" {
			return nil, fmt.Errorf("%w: item %d has no key", ErrInvalidItem, i)
		}
		if w.Price < 0 {
			return nil, fmt.Errorf("%w: item %q has a negative price", ErrInvalidItem, key)
		}
		out = append(out, Item{Key: key, Title: strings.TrimSpace(w.Title), UnitPrice: w.Price})
	}
	return out, nil
}

// Fingerprint returns the hex SHA-256 of the canonical JSON encoding of items in
// submitted order. Any change to membership, order, key, title or price changes it.
func Fingerprint(items []Item) string {
	// encoding/json output for this struct is deterministic: fixed field order,
	// shortest float formatting.
	payload, err := json.Marshal(canonical(items))
	if err != nil {
		// Only unsupported float values (NaN, Inf) can fail; fold them in textually.
		payload = []byte(fmt.Sprintf("%v", items))
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func canonical(items []Item) []Item {
	if items == nil {
		return []Item{}
	}
	return items
}

// Total sums unit prices in cents.
func Total(items []Item) money.Cents {
	var total money.Cents
	for _, it := range items {
		total += money.FromFloat(it.UnitPrice)
	}
	return total
}

// Keys returns the item keys in order.
func Keys(items []Item) []string {
	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = it.Key
	}
	return keys
}
