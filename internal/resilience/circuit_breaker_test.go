package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterThresholdConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 3, Timeout: time.Minute, HalfOpenRequests: 1})
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		err := cb.Execute(context.Background(), func() error { return boom })
		assert.Equal(t, boom, err)
	}
	assert.Equal(t, StateClosed, cb.State(), "threshold not yet reached")

	err := cb.Execute(context.Background(), func() error { return boom })
	assert.Equal(t, boom, err)
	assert.Equal(t, StateOpen, cb.State(), "the Nth consecutive failure must trip the breaker open")

	err = cb.Execute(context.Background(), func() error { return nil })
	assert.Equal(t, ErrCircuitOpen, err, "an open breaker must reject calls without invoking fn")
}

func TestCircuitBreaker_SuccessResetsFailureCountWhileClosed(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 2, Timeout: time.Minute, HalfOpenRequests: 1})
	boom := errors.New("boom")

	require.Equal(t, boom, cb.Execute(context.Background(), func() error { return boom }))
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))

	// Failure count reset by the success above, so a single further
	// failure must not yet trip a Threshold:2 breaker.
	require.Equal(t, boom, cb.Execute(context.Background(), func() error { return boom }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenAfterTimeoutThenClosesOnEnoughSuccesses(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 1, Timeout: 10 * time.Millisecond, HalfOpenRequests: 2})
	boom := errors.New("boom")

	require.Equal(t, boom, cb.Execute(context.Background(), func() error { return boom }))
	require.Equal(t, StateOpen, cb.State())

	require.Equal(t, ErrCircuitOpen, cb.Execute(context.Background(), func() error { return nil }),
		"still within the cooldown window")

	time.Sleep(15 * time.Millisecond)
	require.True(t, cb.CanExecute(), "cooldown elapsed: a probe call must be allowed")
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State(), "one success is short of HalfOpenRequests:2")

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State(), "HalfOpenRequests consecutive successes must close the breaker")
}

func TestCircuitBreaker_FailureDuringHalfOpenReopensImmediately(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 1, Timeout: 10 * time.Millisecond, HalfOpenRequests: 3})
	boom := errors.New("boom")

	require.Equal(t, boom, cb.Execute(context.Background(), func() error { return boom }))
	time.Sleep(15 * time.Millisecond)
	require.True(t, cb.CanExecute())

	require.Equal(t, boom, cb.Execute(context.Background(), func() error { return boom }))
	assert.Equal(t, StateOpen, cb.State(), "a single half-open probe failure must reopen the breaker")
}

func TestCircuitBreaker_Reset_ForcesClosed(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 1, Timeout: time.Minute, HalfOpenRequests: 1})
	_ = cb.Execute(context.Background(), func() error { return errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.CanExecute())
}

func TestDefaultCircuitBreakerConfig_FillsZeroValues(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.CanExecute())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
