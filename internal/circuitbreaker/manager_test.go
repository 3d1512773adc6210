package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledManagerPassesThrough(t *testing.T) {
	m := NewManager(Config{Enabled: false}, zerolog.Nop())

	v, err := Do(m, ServiceStripe, func() (string, error) { return "pi_123", nil })
	require.NoError(t, err)
	assert.Equal(t, "pi_123", v)
	assert.Equal(t, "disabled", m.State(ServiceStripe))
}

func TestNilManagerPassesThrough(t *testing.T) {
	var m *Manager
	require.NoError(t, Run(m, ServiceEmail, func() error { return nil }))
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	m := NewManager(Config{
		Enabled: true,
		Email: BreakerConfig{
			MaxRequests:         1,
			Timeout:             time.Minute,
			ConsecutiveFailures: 3,
		},
	}, zerolog.Nop())

	boom := errors.New("provider down")
	for i := 0; i < 3; i++ {
		if i == 2 {
			assert.Equal(t, uint32(2), m.Counts(ServiceEmail).ConsecutiveFailures)
		}
		err := Run(m, ServiceEmail, func() error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.False(t, IsOpen(err))
	}

	assert.Equal(t, "open", m.State(ServiceEmail))
	called := false
	err := Run(m, ServiceEmail, func() error { called = true; return nil })
	assert.True(t, IsOpen(err))
	assert.False(t, called)

	assert.Equal(t, "closed", m.State(ServiceStripe), "other services unaffected")
	// Tripping resets the generation's counts.
	assert.Equal(t, uint32(0), m.Counts(ServiceEmail).ConsecutiveFailures)
}

func TestDoReturnsTypedZeroOnError(t *testing.T) {
	m := NewManager(DefaultConfig(), zerolog.Nop())
	v, err := Do(m, ServiceStorage, func() (int, error) { return 0, errors.New("nope") })
	require.Error(t, err)
	assert.Equal(t, 0, v)
}
