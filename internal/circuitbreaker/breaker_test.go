package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	b := New(DefaultConfig("test"))

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.Record(false)
	}

	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrOpen)
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	b := New(DefaultConfig("test"))

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.Record(false)
	}
	require.NoError(t, b.Allow())
	b.Record(true)

	require.NoError(t, b.Allow())
	b.Record(false)

	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenProbeRecovers(t *testing.T) {
	cfg := DefaultConfig("test")
	cfg.Timeout = 10 * time.Millisecond
	b := New(cfg)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.Record(false)
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(15 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Allow())
	b.Record(true)

	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenProbeFailureReopens(t *testing.T) {
	cfg := DefaultConfig("test")
	cfg.Timeout = 10 * time.Millisecond
	b := New(cfg)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.Record(false)
	}

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, b.Allow())
	b.Record(false)

	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrOpen)
}

func TestHalfOpenLimitsProbes(t *testing.T) {
	cfg := DefaultConfig("test")
	cfg.Timeout = 10 * time.Millisecond
	b := New(cfg)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.Record(false)
	}

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, b.Allow())

	// Second concurrent probe before the first resolves.
	assert.ErrorIs(t, b.Allow(), ErrTooManyRequests)
}

func TestStateChangeCallback(t *testing.T) {
	var transitions []string
	cfg := DefaultConfig("durable-store")
	cfg.OnStateChange = func(name string, from, to State) {
		transitions = append(transitions, from.String()+">"+to.String())
	}
	b := New(cfg)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.Record(false)
	}

	assert.Equal(t, []string{"CLOSED>OPEN"}, transitions)
}
