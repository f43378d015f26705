package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelaySchedule(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 350 * time.Millisecond, Multiplier: 2}

	assert.Equal(t, time.Duration(0), p.Delay(1))
	assert.Equal(t, 100*time.Millisecond, p.Delay(2))
	assert.Equal(t, 200*time.Millisecond, p.Delay(3))
	assert.Equal(t, 350*time.Millisecond, p.Delay(4), "delay caps at MaxDelay")
	assert.Equal(t, 350*time.Millisecond, p.Delay(5))
}

func TestRetryStopsOnSuccess(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	calls := 0
	err := p.Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	boom := errors.New("boom")
	calls := 0
	err := p.Retry(context.Background(), func() error {
		calls++
		return boom
	}, nil)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetryHonorsRetryable(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	fatal := errors.New("fatal")
	calls := 0
	err := p.Retry(context.Background(), func() error {
		calls++
		return fatal
	}, func(err error) bool { return !errors.Is(err, fatal) })

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls, "non-retryable errors end the loop immediately")
}

func TestRetryRespectsContext(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := p.Retry(ctx, func() error { return errors.New("transient") }, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestZeroPolicyRunsOnce(t *testing.T) {
	calls := 0
	err := Policy{}.Retry(context.Background(), func() error {
		calls++
		return errors.New("nope")
	}, nil)

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
