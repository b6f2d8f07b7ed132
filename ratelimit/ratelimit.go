// Package ratelimit implements core.RateLimiter with one token bucket per
// (platform, identity) key.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/logging"
)

var _ core.RateLimiter = (*Limiter)(nil)

// Options configures a Limiter.
type Options struct {
	// Limit is the sustained request rate per key. rate.Inf disables limiting.
	Limit rate.Limit
	// Burst is the bucket size per key.
	Burst int
	// Overrides sets a different rate for specific platforms.
	Overrides map[string]rate.Limit
	Logger    logging.Logger
	Now       func() time.Time
}

// Limiter keeps one bucket per key. The key map is guarded by a mutex; each
// bucket serializes itself so distinct keys never contend beyond the lookup.
type Limiter struct {
	opts Options

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New creates a Limiter. The default allows one request per second with a
// burst of one.
func New(optFns ...func(o *Options)) *Limiter {
	opts := Options{
		Limit: rate.Every(time.Second),
		Burst: 1,
		Now:   time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoop(opts.Logger)
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	return &Limiter{opts: opts, buckets: make(map[string]*rate.Limiter)}
}

// FromConfig builds a Limiter from dialogue configuration. It returns nil
// when limiting is disabled.
func FromConfig(cfg core.RateLimitConfig, logger logging.Logger) *Limiter {
	if cfg.Requests <= 0 {
		return nil
	}
	per := cfg.Per.Std()
	if per <= 0 {
		per = time.Minute
	}
	return New(func(o *Options) {
		o.Limit = rate.Every(per / time.Duration(cfg.Requests))
		o.Burst = cfg.Burst
		o.Logger = logger
	})
}

func key(platform, identity string) string { return platform + "\x00" + identity }

func (l *Limiter) bucket(platform, identity string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key(platform, identity)
	b, ok := l.buckets[k]
	if !ok {
		limit := l.opts.Limit
		if o, ok := l.opts.Overrides[platform]; ok {
			limit = o
		}
		b = rate.NewLimiter(limit, l.opts.Burst)
		l.buckets[k] = b
	}
	return b
}

// CanMakeRequest implements core.RateLimiter. An allowed decision consumes a
// token; a denied one reports how long until a token becomes available and
// consumes nothing.
func (l *Limiter) CanMakeRequest(ctx context.Context, platform, identity string) (core.RateDecision, error) {
	if err := ctx.Err(); err != nil {
		return core.RateDecision{}, err
	}
	now := l.opts.Now()
	r := l.bucket(platform, identity).ReserveN(now, 1)
	if !r.OK() {
		return core.RateDecision{}, core.NewConfigurationError("rate_limit.burst", "burst of %d cannot serve a request", l.opts.Burst)
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		l.opts.Logger.Debug("rate limit denied", "platform", platform, "identity", identity, "wait", wait)
		return core.RateDecision{Allowed: false, WaitTime: wait}, nil
	}
	return core.RateDecision{Allowed: true}, nil
}

// Wait blocks until a request for the key is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, platform, identity string) error {
	return l.bucket(platform, identity).Wait(ctx)
}

// Keys returns the number of keys with a bucket.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
