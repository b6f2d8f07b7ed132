package spectator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colloquy/core"
)

type recordingObserver struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *recordingObserver) OnEvent(_ context.Context, e core.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingObserver) types() []core.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func TestBus_PublishInOrder(t *testing.T) {
	bus := New()
	rec := &recordingObserver{}
	_, err := bus.Subscribe(rec)
	require.NoError(t, err)

	ctx := context.Background()
	bus.Publish(ctx, core.NewEvent(core.EventTurnStart, "d1", core.TurnStartPayload{}))
	bus.Publish(ctx, core.NewEvent(core.EventStreamingChunk, "d1", core.StreamingChunkPayload{Chunk: "a"}))
	bus.Publish(ctx, core.NewEvent(core.EventTurnEnd, "d1", core.TurnEndPayload{}))

	assert.Equal(t, []core.EventType{core.EventTurnStart, core.EventStreamingChunk, core.EventTurnEnd}, rec.types())
}

func TestBus_FilterByType(t *testing.T) {
	bus := New()
	rec := &recordingObserver{}
	_, err := bus.Subscribe(rec, core.EventTurnEnd)
	require.NoError(t, err)

	ctx := context.Background()
	bus.Publish(ctx, core.NewEvent(core.EventTurnStart, "d1", core.TurnStartPayload{}))
	bus.Publish(ctx, core.NewEvent(core.EventTurnEnd, "d1", core.TurnEndPayload{}))

	assert.Equal(t, []core.EventType{core.EventTurnEnd}, rec.types())
}

func TestBus_IsolatesFailingObservers(t *testing.T) {
	var failures []error
	bus := New(func(o *Options) {
		o.OnObserverError = func(_ string, _ core.Event, err error) {
			failures = append(failures, err)
		}
	})

	_, err := bus.Subscribe(ObserverFunc(func(context.Context, core.Event) error {
		panic("boom")
	}))
	require.NoError(t, err)
	_, err = bus.Subscribe(ObserverFunc(func(context.Context, core.Event) error {
		return errors.New("nope")
	}))
	require.NoError(t, err)
	rec := &recordingObserver{}
	_, err = bus.Subscribe(rec)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), core.NewEvent(core.EventError, "d1", core.ErrorPayload{Message: "x"}))
	})
	assert.Len(t, rec.types(), 1, "healthy observers still receive the event")
	require.Len(t, failures, 2)
	assert.Contains(t, failures[0].Error(), "boom")
	assert.EqualError(t, failures[1], "nope")
}

func TestBus_MaxObservers(t *testing.T) {
	bus := New(func(o *Options) { o.MaxObservers = 2 })

	id1, err := bus.Subscribe(&recordingObserver{})
	require.NoError(t, err)
	_, err = bus.Subscribe(&recordingObserver{})
	require.NoError(t, err)

	_, err = bus.Subscribe(&recordingObserver{})
	assert.ErrorIs(t, err, ErrTooManyObservers)

	assert.True(t, bus.Unsubscribe(id1))
	assert.False(t, bus.Unsubscribe(id1))
	_, err = bus.Subscribe(&recordingObserver{})
	assert.NoError(t, err)
	assert.Equal(t, 2, bus.Len())
}

func TestBus_UnsubscribeFromCallback(t *testing.T) {
	bus := New()
	calls := 0
	var id string
	id, err := bus.Subscribe(ObserverFunc(func(context.Context, core.Event) error {
		calls++
		bus.Unsubscribe(id)
		return nil
	}))
	require.NoError(t, err)

	ctx := context.Background()
	bus.Publish(ctx, core.NewEvent(core.EventTurnStart, "d1", nil))
	bus.Publish(ctx, core.NewEvent(core.EventTurnStart, "d1", nil))
	assert.Equal(t, 1, calls)
}

func TestHandlers_Dispatch(t *testing.T) {
	var got []string
	h := Handlers{
		OnTurnEnd: func(_ context.Context, _ core.Event, p core.TurnEndPayload) {
			got = append(got, p.Exchange.Response)
		},
		OnStreamingChunk: func(_ context.Context, _ core.Event, p core.StreamingChunkPayload) {
			got = append(got, p.Chunk)
		},
	}
	ctx := context.Background()

	require.NoError(t, h.OnEvent(ctx, core.NewEvent(core.EventStreamingChunk, "d", core.StreamingChunkPayload{Chunk: "he"})))
	require.NoError(t, h.OnEvent(ctx, core.NewEvent(core.EventTurnEnd, "d", &core.TurnEndPayload{Exchange: core.Exchange{Response: "hello"}})))
	require.NoError(t, h.OnEvent(ctx, core.NewEvent(core.EventTurnStart, "d", core.TurnStartPayload{})), "missing handlers are ignored")
	assert.Equal(t, []string{"he", "hello"}, got)

	err := h.OnEvent(ctx, core.NewEvent(core.EventTurnEnd, "d", "not a payload"))
	assert.Error(t, err)
}

func TestChannelObserver_DropsWhenFull(t *testing.T) {
	obs := NewChannelObserver(1)
	bus := New()
	_, err := bus.Subscribe(obs)
	require.NoError(t, err)

	ctx := context.Background()
	bus.Publish(ctx, core.NewEvent(core.EventTurnStart, "d1", nil))
	bus.Publish(ctx, core.NewEvent(core.EventTurnEnd, "d1", nil))

	e := <-obs.Events()
	assert.Equal(t, core.EventTurnStart, e.Type)
	select {
	case <-obs.Dropped():
	default:
		t.Fatal("expected drop signal")
	}
	assert.Equal(t, int64(1), obs.DropCount())
}
