package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(cfg Config) (*Breaker, *time.Time) {
	b := NewBreaker("test", cfg)
	clock := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }
	return b, &clock
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 5, Window: time.Minute, Cooldown: 30 * time.Second})

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerWindowSlides(t *testing.T) {
	b, clock := newTestBreaker(Config{Threshold: 3, Window: time.Minute, Cooldown: 30 * time.Second})

	b.RecordFailure()
	b.RecordFailure()
	*clock = clock.Add(2 * time.Minute)
	// The early failures have left the window.
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 1, b.FailureCount())
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	b, clock := newTestBreaker(Config{Threshold: 1, Window: time.Minute, Cooldown: 30 * time.Second})

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())

	*clock = clock.Add(31 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
	// Exactly one trial call is admitted.
	assert.True(t, b.Allow())
	assert.False(t, b.Allow())
	assert.False(t, b.Allow())
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(Config{Threshold: 1, Window: time.Minute, Cooldown: 30 * time.Second, CooldownMultiplier: 2})

	b.RecordFailure()
	*clock = clock.Add(31 * time.Second)
	require.True(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
	assert.Equal(t, 0, b.FailureCount())
}

func TestBreakerProbeFailureDoublesCooldown(t *testing.T) {
	b, clock := newTestBreaker(Config{
		Threshold:          1,
		Window:             time.Minute,
		Cooldown:           30 * time.Second,
		CooldownMax:        100 * time.Second,
		CooldownMultiplier: 2,
	})

	b.RecordFailure()
	*clock = clock.Add(31 * time.Second)
	require.True(t, b.Allow())
	b.RecordFailure() // failed probe: cooldown 30s -> 60s

	*clock = clock.Add(31 * time.Second)
	assert.False(t, b.Allow(), "still inside the doubled cooldown")
	*clock = clock.Add(30 * time.Second)
	require.True(t, b.Allow())
	b.RecordFailure() // 60s -> 120s, capped at 100s

	*clock = clock.Add(99 * time.Second)
	assert.False(t, b.Allow())
	*clock = clock.Add(2 * time.Second)
	assert.True(t, b.Allow())
}

func TestBreakerSuccessfulProbeResetsCooldown(t *testing.T) {
	b, clock := newTestBreaker(Config{Threshold: 1, Window: time.Minute, Cooldown: 10 * time.Second, CooldownMultiplier: 2})

	b.RecordFailure()
	*clock = clock.Add(11 * time.Second)
	require.True(t, b.Allow())
	b.RecordFailure() // cooldown now 20s

	*clock = clock.Add(21 * time.Second)
	require.True(t, b.Allow())
	b.RecordSuccess() // back to closed, cooldown reset

	b.RecordFailure()
	*clock = clock.Add(11 * time.Second)
	assert.True(t, b.Allow(), "cooldown resets to the base value after recovery")
}

func TestBreakerStateChangeHandler(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 1, Window: time.Minute, Cooldown: 30 * time.Second})

	changes := make(chan State, 4)
	b.SetStateChangeHandler(func(name string, from, to State) {
		changes <- to
	})

	b.RecordFailure()
	select {
	case to := <-changes:
		assert.Equal(t, StateOpen, to)
	case <-time.After(time.Second):
		t.Fatal("state change handler was not invoked")
	}
}
