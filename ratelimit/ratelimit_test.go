package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/hupe1980/colloquy/core"
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

func newLimiter(clock *fakeClock) *Limiter {
	return New(func(o *Options) {
		o.Limit = rate.Every(2 * time.Second)
		o.Burst = 1
		o.Now = clock.Now
	})
}

func TestLimiter_DeniesWithWaitTime(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := newLimiter(clock)
	ctx := context.Background()

	d, err := l.CanMakeRequest(ctx, "openai", "acct")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.CanMakeRequest(ctx, "openai", "acct")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 2*time.Second, d.WaitTime)

	clock.Advance(500 * time.Millisecond)
	d, _ = l.CanMakeRequest(ctx, "openai", "acct")
	assert.False(t, d.Allowed)
	assert.Equal(t, 1500*time.Millisecond, d.WaitTime, "a denied request consumes nothing")

	clock.Advance(1500 * time.Millisecond)
	d, _ = l.CanMakeRequest(ctx, "openai", "acct")
	assert.True(t, d.Allowed)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	l := newLimiter(clock)
	ctx := context.Background()

	for _, k := range [][2]string{{"openai", "a"}, {"openai", "b"}, {"anthropic", "a"}} {
		d, err := l.CanMakeRequest(ctx, k[0], k[1])
		require.NoError(t, err)
		assert.True(t, d.Allowed, "%v", k)
	}
	assert.Equal(t, 3, l.Keys())
}

func TestLimiter_Overrides(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	l := New(func(o *Options) {
		o.Limit = rate.Every(time.Minute)
		o.Overrides = map[string]rate.Limit{"mock": rate.Inf}
		o.Now = clock.Now
	})
	for i := 0; i < 5; i++ {
		d, err := l.CanMakeRequest(context.Background(), "mock", "x")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
}

func TestLimiter_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().CanMakeRequest(ctx, "p", "i")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromConfig(t *testing.T) {
	assert.Nil(t, FromConfig(core.RateLimitConfig{}, nil))

	l := FromConfig(core.RateLimitConfig{Requests: 6, Per: core.Duration(time.Minute), Burst: 2}, nil)
	require.NotNil(t, l)
	assert.Equal(t, rate.Every(10*time.Second), l.opts.Limit)
	assert.Equal(t, 2, l.opts.Burst)
}
