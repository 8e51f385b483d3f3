package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastConfig(retries int) BackoffConfig {
	return BackoffConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     4 * time.Millisecond,
		Multiplier:      2,
		MaxRetries:      retries,
	}
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff(BackoffConfig{InitialInterval: 100 * time.Millisecond, MaxInterval: time.Second, Multiplier: 2})
	assert.Equal(t, 100*time.Millisecond, b(1))
	assert.Equal(t, 200*time.Millisecond, b(2))
	assert.Equal(t, 400*time.Millisecond, b(3))
	assert.Equal(t, time.Second, b(10))

	j := ExponentialBackoff(BackoffConfig{InitialInterval: 100 * time.Millisecond, Multiplier: 2, Jitter: true})
	for i := 0; i < 50; i++ {
		d := j(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.Less(t, d, 100*time.Millisecond)
	}
}

func TestWithRetrySucceedsEventually(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	}, fastConfig(5))
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryGivesUp(t *testing.T) {
	base := errors.New("down")
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return base
	}, fastConfig(2))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestWithRetryStop(t *testing.T) {
	base := errors.New("bad credentials")
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return Stop(base)
	}, fastConfig(5))
	assert.Equal(t, base, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsStopError(Stop(base)))
}

func TestWithRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithRetry(ctx, func() error { return errors.New("down") }, fastConfig(5))
	assert.ErrorIs(t, err, context.Canceled)
}
