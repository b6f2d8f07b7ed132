package spectator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/logging"
)

// DefaultMaxObservers bounds the number of concurrent subscriptions per bus.
const DefaultMaxObservers = 32

// ErrTooManyObservers is returned by Subscribe when the bus is full.
var ErrTooManyObservers = errors.New("too many observers")

// Options configures a Bus.
type Options struct {
	// MaxObservers bounds concurrent subscriptions. Zero uses DefaultMaxObservers.
	MaxObservers int

	Logger logging.Logger

	// OnObserverError is called after an observer fails or panics.
	OnObserverError func(id string, event core.Event, err error)
}

type subscription struct {
	id       string
	observer Observer
	types    map[core.EventType]struct{} // empty means all
}

func (s *subscription) wants(t core.EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Bus is a synchronous, ordered, error-isolating event bus.
//
// Publish holds no lock while observers run, so observers may subscribe,
// unsubscribe or publish from within a callback.
type Bus struct {
	mu   sync.RWMutex
	subs []*subscription // subscription order
	opts Options
}

// New creates a bus.
func New(optFns ...func(o *Options)) *Bus {
	opts := Options{
		MaxObservers: DefaultMaxObservers,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxObservers <= 0 {
		opts.MaxObservers = DefaultMaxObservers
	}
	opts.Logger = logging.OrNoop(opts.Logger)
	return &Bus{opts: opts}
}

// Subscribe registers an observer for the given event types, or all types
// when none are given, and returns its subscription id.
func (b *Bus) Subscribe(observer Observer, types ...core.EventType) (string, error) {
	if observer == nil {
		return "", core.NewConfigurationError("observer", "must not be nil")
	}
	sub := &subscription{id: core.NewID(), observer: observer}
	if len(types) > 0 {
		sub.types = make(map[core.EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subs) >= b.opts.MaxObservers {
		return "", fmt.Errorf("%w: limit is %d", ErrTooManyObservers, b.opts.MaxObservers)
	}
	b.subs = append(b.subs, sub)
	return sub.id, nil
}

// Unsubscribe removes a subscription. It reports whether the id was known.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers event to every matching observer in subscription order.
func (b *Bus) Publish(ctx context.Context, event core.Event) {
	b.mu.RLock()
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.wants(event.Type) {
			continue
		}
		if err := b.deliver(ctx, s, event); err != nil {
			b.opts.Logger.Warn("observer failed",
				"subscription", s.id,
				"event_type", string(event.Type),
				"error", err.Error(),
			)
			if b.opts.OnObserverError != nil {
				b.opts.OnObserverError(s.id, event, err)
			}
		}
	}
}

func (b *Bus) deliver(ctx context.Context, s *subscription, event core.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v\n%s", r, debug.Stack())
		}
	}()
	return s.observer.OnEvent(ctx, event)
}
