package metachunk

import (
	"fmt"
	"strings"
	"testing"

	"github.com/mathsnotes/server/internal/cart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitJoin(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		size       int
		wantChunks int
	}{
		{"empty", "", 10, 1},
		{"below boundary", strings.Repeat("a", 9), 10, 1},
		{"exact boundary", strings.Repeat("a", 10), 10, 1},
		{"just above boundary", strings.Repeat("a", 11), 10, 2},
		{"many chunks", strings.Repeat("abc", 100), 7, 43},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Split("items", tt.payload, tt.size)
			assert.Len(t, chunks, tt.wantChunks)
			for k, v := range chunks {
				assert.LessOrEqual(t, len(v), tt.size, k)
			}
			got, err := Join("items", chunks)
			require.NoError(t, err)
			assert.Equal(t, tt.payload, got)
		})
	}
}

func TestSplitDoesNotCutRunes(t *testing.T) {
	payload := strings.Repeat("é", 20) // 2 bytes each
	chunks := Split("items", payload, 5)
	for k, v := range chunks {
		assert.True(t, len(v) <= 5, k)
		assert.Equal(t, v, strings.ToValidUTF8(v, "?"), "chunk %s holds a partial rune", k)
	}
	got, err := Join("items", chunks)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestSplitClampsSize(t *testing.T) {
	chunks := Split("items", strings.Repeat("x", 1200), 0)
	assert.Len(t, chunks, 3)
	assert.Len(t, chunks["items_0"], MaxValueLength)
}

func TestJoinOrdersNumerically(t *testing.T) {
	md := map[string]string{"email": "a@b.c"}
	for i := 0; i < 12; i++ {
		md[Key("items", i)] = fmt.Sprintf("%d,", i)
	}
	got, err := Join("items", md)
	require.NoError(t, err)
	assert.Equal(t, "0,1,2,3,4,5,6,7,8,9,10,11,", got)
}

func TestJoinErrors(t *testing.T) {
	_, err := Join("items", map[string]string{"email": "x"})
	assert.ErrorIs(t, err, ErrMissing)

	_, err = Join("items", map[string]string{"items_0": "a", "items_2": "c"})
	assert.ErrorIs(t, err, ErrGap)
}

func TestCountIgnoresForeignKeys(t *testing.T) {
	md := map[string]string{"items_0": "", "items_1": "", "items_x": "", "items_01": "", "itemsfoo_3": ""}
	assert.Equal(t, 2, Count("items", md))
}

func TestItemsRoundTrip(t *testing.T) {
	items := make([]cart.Item, 0, 30)
	for i := 0; i < 30; i++ {
		items = append(items, cart.Item{
			Key:       fmt.Sprintf("files/1700000000%03d-note-%d.pdf", i, i),
			Title:     fmt.Sprintf("Note %d", i),
			UnitPrice: float64(i) + 0.99,
		})
	}

	md, err := PackItems("items", items, 40, 490)
	require.NoError(t, err)
	assert.Greater(t, len(md), 1, "payload should span several chunks")

	got, err := UnpackItems("items", md)
	require.NoError(t, err)
	assert.Equal(t, items, got)
}

func TestItemsJustAboveBoundary(t *testing.T) {
	items := []cart.Item{{Key: "k", Title: "", UnitPrice: 1}}
	payload, err := EncodeItems(items, 40)
	require.NoError(t, err)

	// Pad the title until the encoding is one byte over the chunk size.
	size := len(payload) + 10
	items[0].Title = strings.Repeat("t", 11)
	md, err := PackItems("items", items, 0, size)
	require.NoError(t, err)
	require.Len(t, md, 2)

	got, err := UnpackItems("items", md)
	require.NoError(t, err)
	assert.Equal(t, items, got)
}

func TestEncodeTruncatesTitles(t *testing.T) {
	items := []cart.Item{{Key: "k", Title: strings.Repeat("ü", 60), UnitPrice: 2.5}}
	payload, err := EncodeItems(items, 40)
	require.NoError(t, err)

	got, err := DecodeItems(payload)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("ü", 40), got[0].Title)
	assert.Equal(t, "k", got[0].Key)
	assert.Equal(t, 2.5, got[0].UnitPrice)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeItems("{not json")
	assert.Error(t, err)
}
