package spectator

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/logging"
)

// Observer receives events published on a Bus.
//
// Implementations should be fast: events are delivered synchronously on the
// publisher's goroutine. Errors returned by OnEvent are reported to the bus
// logger and never propagate to the publisher.
type Observer interface {
	OnEvent(ctx context.Context, event core.Event) error
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(ctx context.Context, event core.Event) error

// OnEvent calls f.
func (f ObserverFunc) OnEvent(ctx context.Context, event core.Event) error {
	return f(ctx, event)
}

// Handlers is an Observer with one optional typed callback per event type.
// Nil callbacks are ignored.
type Handlers struct {
	OnTurnStart          func(ctx context.Context, e core.Event, p core.TurnStartPayload)
	OnTurnEnd            func(ctx context.Context, e core.Event, p core.TurnEndPayload)
	OnStreamingChunk     func(ctx context.Context, e core.Event, p core.StreamingChunkPayload)
	OnContextSynthesized func(ctx context.Context, e core.Event, p core.ContextSynthesizedPayload)
	OnAgentStatusChanged func(ctx context.Context, e core.Event, p core.AgentStatusChangedPayload)
	OnInterjectionAdded  func(ctx context.Context, e core.Event, p core.InterjectionAddedPayload)
	OnError              func(ctx context.Context, e core.Event, p core.ErrorPayload)
	OnReplayStarted      func(ctx context.Context, e core.Event, p core.ReplayStartedPayload)
	OnReplayExchange     func(ctx context.Context, e core.Event, p core.ReplayExchangePayload)
	OnReplayPaused       func(ctx context.Context, e core.Event, p core.ReplayPausedPayload)
	OnReplayCompleted    func(ctx context.Context, e core.Event, p core.ReplayCompletedPayload)
}

// OnEvent dispatches to the callback matching the event type. A payload of
// the wrong type is reported as an error.
func (h Handlers) OnEvent(ctx context.Context, e core.Event) error {
	switch e.Type {
	case core.EventTurnStart:
		return dispatch(ctx, e, h.OnTurnStart)
	case core.EventTurnEnd:
		return dispatch(ctx, e, h.OnTurnEnd)
	case core.EventStreamingChunk:
		return dispatch(ctx, e, h.OnStreamingChunk)
	case core.EventContextSynthesized:
		return dispatch(ctx, e, h.OnContextSynthesized)
	case core.EventAgentStatusChanged:
		return dispatch(ctx, e, h.OnAgentStatusChanged)
	case core.EventInterjectionAdded:
		return dispatch(ctx, e, h.OnInterjectionAdded)
	case core.EventError:
		return dispatch(ctx, e, h.OnError)
	case core.EventReplayStarted:
		return dispatch(ctx, e, h.OnReplayStarted)
	case core.EventReplayExchange:
		return dispatch(ctx, e, h.OnReplayExchange)
	case core.EventReplayPaused:
		return dispatch(ctx, e, h.OnReplayPaused)
	case core.EventReplayCompleted:
		return dispatch(ctx, e, h.OnReplayCompleted)
	}
	return nil
}

func dispatch[P any](ctx context.Context, e core.Event, fn func(context.Context, core.Event, P)) error {
	if fn == nil {
		return nil
	}
	switch p := e.Payload.(type) {
	case P:
		fn(ctx, e, p)
	case *P:
		if p == nil {
			return fmt.Errorf("nil payload for %s", e.Type)
		}
		fn(ctx, e, *p)
	default:
		return fmt.Errorf("unexpected payload %T for %s", e.Payload, e.Type)
	}
	return nil
}

// LoggingObserver writes one structured log line per event.
type LoggingObserver struct {
	logger logging.Logger
}

// NewLoggingObserver creates an observer logging to logger at info level.
func NewLoggingObserver(logger logging.Logger) *LoggingObserver {
	return &LoggingObserver{logger: logging.OrNoop(logger)}
}

// OnEvent logs the event.
func (o *LoggingObserver) OnEvent(_ context.Context, e core.Event) error {
	o.logger.Info("dialogue event",
		"type", string(e.Type),
		"dialogue_id", e.DialogueID,
		"event_id", e.ID,
	)
	return nil
}

// ChannelObserver forwards events to a buffered channel. When the buffer is
// full the event is dropped and counted, so a slow consumer never blocks the
// publisher.
type ChannelObserver struct {
	ch      chan core.Event
	dropped chan struct{}
	drops   atomic.Int64
}

// NewChannelObserver creates a channel observer with the given buffer size.
func NewChannelObserver(buffer int) *ChannelObserver {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelObserver{
		ch:      make(chan core.Event, buffer),
		dropped: make(chan struct{}, 1),
	}
}

// Events returns the receive side of the observer channel.
func (o *ChannelObserver) Events() <-chan core.Event { return o.ch }

// Dropped is signalled (non-blocking, coalesced) each time an event is dropped.
func (o *ChannelObserver) Dropped() <-chan struct{} { return o.dropped }

// DropCount returns the number of events dropped so far.
func (o *ChannelObserver) DropCount() int64 { return o.drops.Load() }

// OnEvent enqueues the event without blocking.
func (o *ChannelObserver) OnEvent(_ context.Context, e core.Event) error {
	select {
	case o.ch <- e:
		return nil
	default:
	}
	o.drops.Add(1)
	select {
	case o.dropped <- struct{}{}:
	default:
	}
	return fmt.Errorf("observer buffer full, dropped %s", e.Type)
}
