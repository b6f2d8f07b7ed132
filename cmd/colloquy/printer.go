package main

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/spectator"
)

// printer renders dialogue and replay events as plain text.
type printer struct {
	mu        sync.Mutex
	w         io.Writer
	names     map[string]string
	streaming bool // a streaming line is open
	showAll   bool
}

func newPrinter(w io.Writer, agents []core.Agent, showAll bool) *printer {
	p := &printer{w: w, names: make(map[string]string), showAll: showAll}
	p.setAgents(agents)
	return p
}

func (p *printer) setAgents(agents []core.Agent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range agents {
		p.names[a.ID] = a.Name
	}
}

func (p *printer) name(id string) string {
	if n, ok := p.names[id]; ok && n != "" {
		return n
	}
	return id
}

func (p *printer) closeStreamLocked() {
	if p.streaming {
		printf(p.w, "\n")
		p.streaming = false
	}
}

func (p *printer) observer() spectator.Observer {
	return spectator.Handlers{
		OnTurnStart: func(_ context.Context, _ core.Event, e core.TurnStartPayload) {
			if !p.showAll {
				return
			}
			p.mu.Lock()
			defer p.mu.Unlock()
			printf(p.w, "--- round %d, turn %d: %s\n", e.Round+1, e.Turn+1, p.name(e.AgentID))
		},
		OnStreamingChunk: func(_ context.Context, _ core.Event, e core.StreamingChunkPayload) {
			if !p.showAll {
				return
			}
			p.mu.Lock()
			defer p.mu.Unlock()
			p.streaming = true
			printf(p.w, "%s", e.Chunk)
		},
		OnTurnEnd: func(_ context.Context, _ core.Event, e core.TurnEndPayload) {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.closeStreamLocked()
			p.printExchange(e.Exchange)
		},
		OnInterjectionAdded: func(_ context.Context, _ core.Event, e core.InterjectionAddedPayload) {
			p.mu.Lock()
			defer p.mu.Unlock()
			printf(p.w, ">>> %s for %s: %s\n", e.Interjection.Type, e.Interjection.Target, e.Interjection.Text)
		},
		OnAgentStatusChanged: func(_ context.Context, _ core.Event, e core.AgentStatusChangedPayload) {
			p.mu.Lock()
			defer p.mu.Unlock()
			state := "inactive"
			if e.Active {
				state = "active"
			}
			printf(p.w, "*** %s is now %s\n", p.name(e.AgentID), state)
		},
		OnError: func(_ context.Context, _ core.Event, e core.ErrorPayload) {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.closeStreamLocked()
			printf(p.w, "!!! %s\n", e.Message)
		},
		OnReplayStarted: func(_ context.Context, _ core.Event, e core.ReplayStartedPayload) {
			p.mu.Lock()
			defer p.mu.Unlock()
			printf(p.w, "=== replaying %s (%d exchanges)\n", e.SessionID, e.Total)
		},
		OnReplayExchange: func(_ context.Context, _ core.Event, e core.ReplayExchangePayload) {
			p.mu.Lock()
			defer p.mu.Unlock()
			if e.Interjection != nil {
				printf(p.w, ">>> %s for %s: %s\n", e.Interjection.Type, e.Interjection.Target, e.Interjection.Text)
			}
			p.printExchange(e.Exchange)
		},
		OnReplayCompleted: func(_ context.Context, _ core.Event, e core.ReplayCompletedPayload) {
			p.mu.Lock()
			defer p.mu.Unlock()
			if e.Stopped {
				printf(p.w, "=== replay stopped\n")
				return
			}
			printf(p.w, "=== replay finished (%d exchanges)\n", e.Total)
		},
	}
}

func (p *printer) printExchange(ex core.Exchange) {
	if ex.Failed() {
		printf(p.w, "[%d.%d] %s failed: %s\n", ex.Round+1, ex.Turn+1, p.name(ex.From), ex.Error)
		return
	}
	printf(p.w, "[%d.%d] %s -> %s:\n%s\n\n", ex.Round+1, ex.Turn+1, p.name(ex.From), p.name(ex.To), strings.TrimSpace(ex.Response))
}
