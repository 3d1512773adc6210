package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/mathsnotes/server/internal/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPrices map[string]money.Cents

func (s staticPrices) Prices(context.Context) (map[string]money.Cents, error) { return s, nil }

type failingPrices struct{ err error }

func (f failingPrices) Prices(context.Context) (map[string]money.Cents, error) { return nil, f.err }

func TestAuthoritativeTotal(t *testing.T) {
	a := NewAuthority(staticPrices{"files/a.pdf": 1999, "files/b.pdf": 1, "files/free.pdf": 0}, 0, nil)
	ctx := context.Background()

	total, err := a.AuthoritativeTotal(ctx, []string{"files/a.pdf", "files/b.pdf"})
	require.NoError(t, err)
	assert.Equal(t, 20.00, total)

	total, err = a.AuthoritativeTotal(ctx, []string{"files/free.pdf"})
	require.NoError(t, err)
	assert.Zero(t, total)

	total, err = a.AuthoritativeTotal(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestAuthoritativeTotalSumsInCents(t *testing.T) {
	// 0.1 + 0.2 in floats is 0.30000000000000004.
	a := NewAuthority(staticPrices{"x": 10, "y": 20}, 0, nil)
	total, err := a.AuthoritativeTotal(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, 0.3, total)
}

func TestAuthoritativeTotalUnknownItem(t *testing.T) {
	a := NewAuthority(staticPrices{"files/a.pdf": 100}, 0, nil)

	_, err := a.AuthoritativeTotal(context.Background(), []string{"files/a.pdf", "files/deleted.pdf"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownItem)

	var unknown *UnknownItemError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "files/deleted.pdf", unknown.Key)
}

func TestAuthoritativeTotalSourceError(t *testing.T) {
	boom := errors.New("r2 down")
	_, err := NewAuthority(failingPrices{boom}, 0, nil).AuthoritativeTotal(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrUnknownItem)
}

func TestCheck(t *testing.T) {
	a := NewAuthority(staticPrices{}, 0, nil)

	tests := []struct {
		declared, authoritative float64
		ok                      bool
	}{
		{29.99, 29.99, true},
		{29.99, 30.00, true},
		{29.98, 30.00, false},
		{0, 0, true},
		{0, 0.01, true},
		{5, 50, false},
		{29.990000001, 29.99, true},
	}
	for _, tt := range tests {
		err := a.Check(tt.declared, tt.authoritative)
		if tt.ok {
			assert.NoError(t, err, "%v vs %v", tt.declared, tt.authoritative)
		} else {
			assert.ErrorIs(t, err, ErrPriceMismatch, "%v vs %v", tt.declared, tt.authoritative)
		}
	}
}
