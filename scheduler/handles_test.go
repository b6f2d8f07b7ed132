package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/spectator"
)

// scriptedHandle answers every prompt through fn and remembers the prompts.
type scriptedHandle struct {
	id string
	fn func(ctx context.Context, call int, prompt string) (string, error)

	mu      sync.Mutex
	prompts []string
}

func newScripted(id string) *scriptedHandle {
	return &scriptedHandle{id: id, fn: func(_ context.Context, call int, _ string) (string, error) {
		return fmt.Sprintf("%s reply %d", id, call), nil
	}}
}

func (h *scriptedHandle) ID() string { return h.id }
func (h *scriptedHandle) Name() string { return strings.ToUpper(h.id) }
func (h *scriptedHandle) Init(context.Context) error { return nil }
func (h *scriptedHandle) Close(context.Context) error { return nil }
func (h *scriptedHandle) Platform() string { return "mock" }
func (h *scriptedHandle) Identity() string { return h.id }

func (h *scriptedHandle) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.prompts)
}

func (h *scriptedHandle) prompt(i int) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.prompts[i]
}

func (h *scriptedHandle) Send(ctx context.Context, prompt string) (string, error) {
	h.mu.Lock()
	h.prompts = append(h.prompts, prompt)
	call := len(h.prompts)
	h.mu.Unlock()
	return h.fn(ctx, call, prompt)
}

// streamingHandle splits its reply into words.
type streamingHandle struct {
	*scriptedHandle
}

func (h streamingHandle) SendStream(ctx context.Context, prompt string, onChunk func(string)) (string, error) {
	resp, err := h.Send(ctx, prompt)
	if err != nil {
		return "", err
	}
	for i, w := range strings.Fields(resp) {
		if i > 0 {
			w = " " + w
		}
		onChunk(w)
	}
	return resp, nil
}

func (h streamingHandle) LastTokenCount() int { return 7 }

// mockHandle is a testify mock of core.AgentHandle.
type mockHandle struct {
	mock.Mock
	id string
}

func (m *mockHandle) ID() string { return m.id }
func (m *mockHandle) Name() string { return m.id }
func (m *mockHandle) Init(context.Context) error { return nil }
func (m *mockHandle) Close(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *mockHandle) Send(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

// stubLimiter denies the first n requests with wait.
type stubLimiter struct {
	mu     sync.Mutex
	deny   int
	wait   time.Duration
	checks []string
}

func (l *stubLimiter) CanMakeRequest(_ context.Context, platform, identity string) (core.RateDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checks = append(l.checks, platform+"/"+identity)
	if l.deny > 0 {
		l.deny--
		return core.RateDecision{Allowed: false, WaitTime: l.wait}, nil
	}
	return core.RateDecision{Allowed: true}, nil
}

type staticMemory string

func (m staticMemory) MemoryContext(context.Context, string, string) (string, error) {
	return string(m), nil
}

type eventLog struct {
	mu     sync.Mutex
	events []core.Event
}

func (l *eventLog) OnEvent(_ context.Context, e core.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) ofType(t core.EventType) []core.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []core.Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) types() []core.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]core.EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

type sleepLog struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepLog) nonZero() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []time.Duration
	for _, d := range s.waits {
		if d > 0 {
			out = append(out, d)
		}
	}
	return out
}

// newTestScheduler wires a scheduler with an event log and instant sleeps.
func newTestScheduler(t *testing.T, agents []core.AgentHandle, optFns ...func(o *Options)) (*Scheduler, *eventLog, *sleepLog) {
	t.Helper()
	bus := spectator.New()
	log := &eventLog{}
	_, err := bus.Subscribe(log)
	require.NoError(t, err)
	sl := &sleepLog{}

	fns := append([]func(o *Options){func(o *Options) {
		o.DialogueID = "dlg-1"
		o.InitialPrompt = "Let us begin."
		o.Publisher = bus
		o.Sleep = sl.sleep
	}}, optFns...)
	s, err := New(agents, fns...)
	require.NoError(t, err)
	return s, log, sl
}

func handles(hs ...core.AgentHandle) []core.AgentHandle { return hs }
