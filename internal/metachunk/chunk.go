// Package metachunk stores a payload larger than one metadata value across
// numbered fields (items_0, items_1, ...) and reassembles it.
package metachunk

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mathsnotes/server/internal/cart"
)

// MaxValueLength is the processor's per-value metadata ceiling.
const MaxValueLength = 500

var (
	// ErrMissing is returned when no chunk with the prefix exists.
	ErrMissing = errors.New("metachunk: no chunks present")
	// ErrGap is returned when chunk indices are not contiguous from 0.
	ErrGap = errors.New("metachunk: chunk sequence has a gap")
)

// Split cuts payload into size-byte chunks keyed prefix_0..prefix_N. Cuts never
// land inside a multi-byte rune, so a chunk may be slightly shorter than size.
// An empty payload produces a single empty chunk so Join can tell "empty" from
// "absent".
func Split(prefix, payload string, size int) map[string]string {
	if size <= 0 || size > MaxValueLength {
		size = MaxValueLength
	}
	out := make(map[string]string)
	if payload == "" {
		out[Key(prefix, 0)] = ""
		return out
	}
	for i := 0; len(payload) > 0; i++ {
		cut := size
		if cut >= len(payload) {
			cut = len(payload)
		} else {
			for cut > 0 && !utf8.RuneStart(payload[cut]) {
				cut--
			}
			if cut == 0 {
				cut = size
			}
		}
		out[Key(prefix, i)] = payload[:cut]
		payload = payload[cut:]
	}
	return out
}

// Join concatenates prefix_0..prefix_N in index order.
func Join(prefix string, metadata map[string]string) (string, error) {
	count := Count(prefix, metadata)
	if count == 0 {
		return "", ErrMissing
	}
	var b strings.Builder
	for i := 0; i < count; i++ {
		part, ok := metadata[Key(prefix, i)]
		if !ok {
			return "", fmt.Errorf("%w: %s missing", ErrGap, Key(prefix, i))
		}
		b.WriteString(part)
	}
	return b.String(), nil
}

// Count returns 1 + the highest chunk index present for prefix, or 0.
func Count(prefix string, metadata map[string]string) int {
	highest := -1
	lead := prefix + "_"
	for k := range metadata {
		rest, ok := strings.CutPrefix(k, lead)
		if !ok {
			continue
		}
		idx, err := strconv.Atoi(rest)
		if err != nil || idx < 0 || strconv.Itoa(idx) != rest {
			continue
		}
		if idx > highest {
			highest = idx
		}
	}
	return highest + 1
}

// Key names chunk i of prefix.
func Key(prefix string, i int) string {
	return prefix + "_" + strconv.Itoa(i)
}

// compactItem keeps the metadata small: short field names, truncated titles.
type compactItem struct {
	K string  `json:"k"`
	T string  `json:"t"`
	P float64 `json:"p"`
}

// EncodeItems renders items as the compact JSON array stored in metadata,
// truncating titles to titleMax runes (0 = no limit).
func EncodeItems(items []cart.Item, titleMax int) (string, error) {
	compact := make([]compactItem, len(items))
	for i, it := range items {
		compact[i] = compactItem{K: it.Key, T: truncate(it.Title, titleMax), P: it.UnitPrice}
	}
	raw, err := json.Marshal(compact)
	if err != nil {
		return "", fmt.Errorf("metachunk: encode items: %w", err)
	}
	return string(raw), nil
}

// DecodeItems expands the compact encoding back into cart items.
func DecodeItems(payload string) ([]cart.Item, error) {
	var compact []compactItem
	if err := json.Unmarshal([]byte(payload), &compact); err != nil {
		return nil, fmt.Errorf("metachunk: decode items: %w", err)
	}
	items := make([]cart.Item, len(compact))
	for i, c := range compact {
		items[i] = cart.Item{Key: c.K, Title: c.T, UnitPrice: c.P}
	}
	return items, nil
}

// PackItems encodes and splits items in one step.
func PackItems(prefix string, items []cart.Item, titleMax, chunkSize int) (map[string]string, error) {
	payload, err := EncodeItems(items, titleMax)
	if err != nil {
		return nil, err
	}
	return Split(prefix, payload, chunkSize), nil
}

// UnpackItems joins and decodes items in one step.
func UnpackItems(prefix string, metadata map[string]string) ([]cart.Item, error) {
	payload, err := Join(prefix, metadata)
	if err != nil {
		return nil, err
	}
	return DecodeItems(payload)
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
