package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func failing(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func succeeding() func(context.Context) error {
	return func(context.Context) error { return nil }
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := New(WithFailureThreshold(3), WithCooldown(time.Minute), WithClock(clock.Now))

	boom := errors.New("connection refused")
	for i := 0; i < 3; i++ {
		err := b.Call(context.Background(), "postgres", failing(boom))
		require.ErrorIs(t, err, boom)
	}
	assert.True(t, b.Open("postgres"))

	// Now the call is rejected without being invoked.
	invoked := false
	err := b.Call(context.Background(), "postgres", func(context.Context) error {
		invoked = true
		return nil
	})
	require.ErrorIs(t, err, ErrServiceUnavailable)
	assert.False(t, invoked)
}

func TestBreakerProbesAfterCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := New(WithFailureThreshold(1), WithCooldown(time.Minute), WithClock(clock.Now))

	require.Error(t, b.Call(context.Background(), "redis", failing(errors.New("timeout"))))
	require.ErrorIs(t, b.Call(context.Background(), "redis", succeeding()), ErrServiceUnavailable)

	clock.Advance(61 * time.Second)

	// The probe goes through and closes the circuit.
	require.NoError(t, b.Call(context.Background(), "redis", succeeding()))
	assert.False(t, b.Open("redis"))
	require.NoError(t, b.Call(context.Background(), "redis", succeeding()))
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := New(WithFailureThreshold(2), WithCooldown(time.Minute), WithClock(clock.Now))

	boom := errors.New("still down")
	require.Error(t, b.Call(context.Background(), "neo4j", failing(boom)))
	require.Error(t, b.Call(context.Background(), "neo4j", failing(boom)))
	require.True(t, b.Open("neo4j"))

	clock.Advance(61 * time.Second)

	// Failed probe re-opens immediately, restarting the cooldown.
	require.ErrorIs(t, b.Call(context.Background(), "neo4j", failing(boom)), boom)
	assert.True(t, b.Open("neo4j"))
	require.ErrorIs(t, b.Call(context.Background(), "neo4j", succeeding()), ErrServiceUnavailable)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := New(WithFailureThreshold(2))

	boom := errors.New("flaky")
	require.Error(t, b.Call(context.Background(), "vector", failing(boom)))
	require.NoError(t, b.Call(context.Background(), "vector", succeeding()))
	require.Error(t, b.Call(context.Background(), "vector", failing(boom)))

	// One failure after a success is below the threshold.
	assert.False(t, b.Open("vector"))
}

func TestBreakerIsolatesServices(t *testing.T) {
	b := New(WithFailureThreshold(1), WithCooldown(time.Minute))

	require.Error(t, b.Call(context.Background(), "postgres", failing(errors.New("down"))))
	assert.True(t, b.Open("postgres"))
	assert.False(t, b.Open("redis"))
	require.NoError(t, b.Call(context.Background(), "redis", succeeding()))
}
