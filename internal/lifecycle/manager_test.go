package lifecycle

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerClosesInReverseOrder(t *testing.T) {
	m := NewManager(zerolog.Nop())
	var order []string
	for _, name := range []string{"redis", "postgres", "otp-sweeper"} {
		name := name
		m.RegisterFunc(name, func() error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, m.Close())
	assert.Equal(t, []string{"otp-sweeper", "postgres", "redis"}, order)
}

func TestManagerJoinsErrorsAndKeepsClosing(t *testing.T) {
	m := NewManager(zerolog.Nop())
	closed := 0
	m.RegisterFunc("a", func() error { closed++; return errors.New("a failed") })
	m.RegisterFunc("b", func() error { closed++; return errors.New("b failed") })

	err := m.Close()
	require.Error(t, err)
	assert.Equal(t, 2, closed)
	assert.Contains(t, err.Error(), "close a: a failed")
	assert.Contains(t, err.Error(), "close b: b failed")
}

func TestManagerCloseIsIdempotent(t *testing.T) {
	m := NewManager(zerolog.Nop())
	calls := 0
	m.RegisterFunc("x", func() error { calls++; return nil })
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Equal(t, 1, calls)

	m.RegisterFunc("late", func() error { calls++; return nil })
	assert.Equal(t, 2, calls)
}
