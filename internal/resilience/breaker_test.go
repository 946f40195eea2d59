package resilience

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(t *testing.T) (*CircuitBreaker, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	return NewCircuitBreaker(BreakerConfig{FailureThreshold: 3, Timeout: 30 * time.Second}, clk), clk
}

func TestBreakerTripsOnceAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(t)
	var transitions []State
	b.OnTransition(func(_, to State) { transitions = append(transitions, to) })

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		assert.Equal(t, StateClosed, b.State())
		assert.True(t, b.Allow())
	}
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, []State{StateOpen}, transitions)
	assert.False(t, b.Allow())
}

func TestBreakerDeniesUntilTimeoutElapses(t *testing.T) {
	b, clk := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}

	clk.Add(30 * time.Second)
	assert.False(t, b.Allow(), "timeout must be strictly exceeded")
	assert.Equal(t, StateOpen, b.State())

	clk.Add(time.Millisecond)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreakerHalfOpenSuccessCloses(t *testing.T) {
	b, clk := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clk.Add(31 * time.Second)
	require.True(t, b.Allow())

	b.RecordSuccess()
	snap := b.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Zero(t, snap.FailureCount)
	assert.False(t, snap.ProbeInFlight)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clk.Add(31 * time.Second)
	require.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerSingleFlightProbe(t *testing.T) {
	b, clk := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clk.Add(31 * time.Second)

	require.True(t, b.Allow(), "first caller takes the probe")
	assert.False(t, b.Allow(), "second caller is denied while the probe is in flight")

	b.Release()
	assert.True(t, b.Allow(), "released lease can be taken again")
}

func TestBreakerAbandonedProbeExpires(t *testing.T) {
	b, clk := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clk.Add(31 * time.Second)
	require.True(t, b.Allow())

	clk.Add(31 * time.Second)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreakerSuccessResetsFailureCountWhileClosed(t *testing.T) {
	b, _ := newTestBreaker(t)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
}
