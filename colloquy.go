// Package colloquy provides a high-level facade over the dialogue
// orchestration components (scheduler, context synthesis, interjections,
// spectators, recording and replay). Most applications interact with this
// package by:
//  1. Creating a Manager via New() (optionally overriding the default
//     in-memory snapshot store, rate limiter and memory provider)
//  2. Creating dialogues from a core.DialogueConfig
//  3. Starting, stepping, pausing and interjecting while spectators observe
//     the event stream
//  4. Exporting sessions and replaying them without calling any agent
//
// Every operation returns a core.Result and never panics across the API
// boundary.
package colloquy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/handle"
	"github.com/hupe1980/colloquy/logging"
	"github.com/hupe1980/colloquy/memory"
	"github.com/hupe1980/colloquy/ratelimit"
	"github.com/hupe1980/colloquy/recorder"
	"github.com/hupe1980/colloquy/replay"
	"github.com/hupe1980/colloquy/session"
	"github.com/hupe1980/colloquy/spectator"
)

// Options configures the Manager.
type Options struct {
	// Registry creates agent handles from declarations. Defaults to the
	// openai, anthropic and mock kinds.
	Registry *handle.Registry

	// SnapshotStore persists exported sessions (defaults to in-memory).
	SnapshotStore core.SnapshotStore

	// RateLimiter is shared by every dialogue. When nil, dialogues declaring
	// a rate_limit share one limiter per distinct setting.
	RateLimiter core.RateLimiter

	// Memory supplies memory context to every dialogue (defaults to an
	// in-memory store without content).
	Memory core.MemoryProvider

	// MaxObservers bounds the spectator bus.
	MaxObservers int

	// AutoSave stores the snapshot of a dialogue once its loop ends.
	AutoSave bool

	// Logger (defaults to a discarding logger if nil)
	Logger *logging.DialogueLogger

	Tracer trace.Tracer
}

// Manager is the registry of concurrent dialogues and replays.
type Manager struct {
	opts   Options
	bus    *spectator.Bus
	replay *replay.Engine
	logger *logging.DialogueLogger

	baseCtx context.Context // bounds background loops and replays
	cancel  context.CancelFunc

	mu        sync.RWMutex
	dialogues map[string]*Dialogue
	limiters  map[core.RateLimitConfig]*ratelimit.Limiter
}

// New creates a Manager. Any unset service is initialized with an in-memory
// implementation.
func New(optFns ...func(o *Options)) (*Manager, error) {
	opts := Options{
		SnapshotStore: session.NewInMemoryStore(),
		MaxObservers:  spectator.DefaultMaxObservers,
		AutoSave:      true,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDiscardLogger()
	}
	if opts.Registry == nil {
		opts.Registry = handle.NewDefaultRegistry(opts.Logger.WithComponent("handle"))
	}
	if opts.SnapshotStore == nil {
		opts.SnapshotStore = session.NewInMemoryStore()
	}
	if opts.Memory == nil {
		store, err := memory.NewInMemoryStore()
		if err != nil {
			return nil, err
		}
		opts.Memory = store
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/hupe1980/colloquy")
	}

	logger := opts.Logger.WithComponent("manager")
	bus := spectator.New(func(o *spectator.Options) {
		o.MaxObservers = opts.MaxObservers
		o.Logger = opts.Logger.WithComponent("spectator")
	})
	baseCtx, cancel := context.WithCancel(context.Background())

	return &Manager{
		opts:   opts,
		bus:    bus,
		logger: logger,
		replay: replay.New(bus, func(o *replay.Options) {
			o.Logger = opts.Logger.WithComponent("replay")
			o.Tracer = opts.Tracer
		}),
		baseCtx:   baseCtx,
		cancel:    cancel,
		dialogues: make(map[string]*Dialogue),
		limiters:  make(map[core.RateLimitConfig]*ratelimit.Limiter),
	}, nil
}

// Bus returns the spectator bus every dialogue and replay publishes to.
func (m *Manager) Bus() *spectator.Bus { return m.bus }

// Store returns the snapshot store.
func (m *Manager) Store() core.SnapshotStore { return m.opts.SnapshotStore }

// Memory returns the memory provider shared by all dialogues.
func (m *Manager) Memory() core.MemoryProvider { return m.opts.Memory }

// guard converts a (data, error) pair into a Result and recovers panics.
func (m *Manager) guard(op string, fn func() (any, error)) (res core.Result) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic recovered", "operation", op, "panic", r)
			res = core.Fail(fmt.Errorf("%s: internal error: %v", op, r))
		}
	}()
	data, err := fn()
	if err != nil {
		m.logger.Debug("operation failed", "operation", op, "error", err)
		return core.Fail(err)
	}
	return core.OK(data)
}

func (m *Manager) dialogue(id string) (*Dialogue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.dialogues[id]
	if !ok {
		return nil, fmt.Errorf("dialogue %s: %w", id, core.ErrNotFound)
	}
	return d, nil
}

func (m *Manager) limiterFor(cfg core.RateLimitConfig) core.RateLimiter {
	if m.opts.RateLimiter != nil {
		return m.opts.RateLimiter
	}
	if cfg.Requests <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.limiters[cfg]
	if !ok {
		l = ratelimit.FromConfig(cfg, m.opts.Logger.WithComponent("ratelimit"))
		m.limiters[cfg] = l
	}
	return l
}

// CreateDialogue validates cfg, creates one handle per declared agent through
// the registry, initializes them and registers the dialogue. Data is the
// initial core.DialogueState.
func (m *Manager) CreateDialogue(ctx context.Context, cfg core.DialogueConfig) core.Result {
	return m.guard("create dialogue", func() (any, error) {
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		handles, err := m.opts.Registry.CreateAll(ctx, cfg.Agents)
		if err != nil {
			return nil, core.NewConfigurationError("agents", "%v", err)
		}
		d, err := m.register(ctx, cfg, handles)
		if err != nil {
			return nil, err
		}
		return d.State(), nil
	})
}

// CreateDialogueWithHandles registers a dialogue over caller supplied handles.
// cfg.Agents may be empty; it is then derived from the handles.
func (m *Manager) CreateDialogueWithHandles(ctx context.Context, cfg core.DialogueConfig, handles []core.AgentHandle) core.Result {
	return m.guard("create dialogue", func() (any, error) {
		if len(cfg.Agents) == 0 {
			for _, h := range handles {
				if h == nil {
					return nil, core.NewConfigurationError("agents", "nil handle")
				}
				cfg.Agents = append(cfg.Agents, core.AgentSpec{ID: h.ID(), Name: h.Name(), Kind: "custom"})
			}
		}
		if len(cfg.Agents) != len(handles) {
			return nil, core.NewConfigurationError("agents", "%d declarations for %d handles", len(cfg.Agents), len(handles))
		}
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		for i, h := range handles {
			if h == nil || h.ID() != cfg.Agents[i].ID {
				return nil, core.NewConfigurationError(fmt.Sprintf("agents[%d]", i), "handle does not match declaration %q", cfg.Agents[i].ID)
			}
		}
		d, err := m.register(ctx, cfg, handles)
		if err != nil {
			return nil, err
		}
		return d.State(), nil
	})
}

func (m *Manager) register(ctx context.Context, cfg core.DialogueConfig, handles []core.AgentHandle) (*Dialogue, error) {
	if err := handle.InitAll(ctx, handles); err != nil {
		_ = handle.CloseAll(context.WithoutCancel(ctx), handles)
		return nil, &core.AgentCallError{Kind: core.AgentCallPlatform, Err: err}
	}
	d, err := newDialogue(m, cfg, handles)
	if err != nil {
		_ = handle.CloseAll(context.WithoutCancel(ctx), handles)
		return nil, err
	}
	m.mu.Lock()
	m.dialogues[d.ID()] = d
	m.mu.Unlock()
	m.logger.Info("dialogue created", "dialogue_id", d.ID(), "name", cfg.Name, "type", string(cfg.Type), "agents", len(handles))
	return d, nil
}

// Dialogue returns a registered dialogue for direct use.
func (m *Manager) Dialogue(id string) (*Dialogue, error) { return m.dialogue(id) }

// ListDialogues returns the state of every dialogue ordered by id.
func (m *Manager) ListDialogues() core.Result {
	return m.guard("list dialogues", func() (any, error) {
		m.mu.RLock()
		out := make([]core.DialogueState, 0, len(m.dialogues))
		for _, d := range m.dialogues {
			out = append(out, d.State())
		}
		m.mu.RUnlock()
		sort.Slice(out, func(i, j int) bool { return out[i].DialogueID < out[j].DialogueID })
		return out, nil
	})
}

// with runs fn against a registered dialogue.
func (m *Manager) with(op, id string, fn func(d *Dialogue) (any, error)) core.Result {
	return m.guard(op, func() (any, error) {
		d, err := m.dialogue(id)
		if err != nil {
			return nil, err
		}
		return fn(d)
	})
}

// Start runs the dialogue loop in the background. Data is the state after
// starting.
func (m *Manager) Start(_ context.Context, id string) core.Result {
	return m.with("start", id, func(d *Dialogue) (any, error) {
		if err := d.start(m.baseCtx); err != nil {
			return nil, err
		}
		return d.State(), nil
	})
}

// Wait blocks until the background loop of a dialogue ends or ctx is done.
// Data is the final state; a halted dialogue fails with its agent error.
func (m *Manager) Wait(ctx context.Context, id string) core.Result {
	return m.with("wait", id, func(d *Dialogue) (any, error) {
		if err := d.wait(ctx); err != nil {
			return nil, err
		}
		return d.State(), nil
	})
}

// Step performs exactly one turn. Data is the produced *core.Exchange.
func (m *Manager) Step(ctx context.Context, id string) core.Result {
	return m.with("step", id, func(d *Dialogue) (any, error) {
		ex, err := d.sched.RunOnce(ctx)
		if err != nil {
			return nil, err
		}
		return ex, nil
	})
}

// Pause asks the loop to halt at the next turn boundary.
func (m *Manager) Pause(_ context.Context, id string) core.Result {
	return m.with("pause", id, func(d *Dialogue) (any, error) {
		if err := d.sched.Pause(); err != nil {
			return nil, err
		}
		return d.State(), nil
	})
}

// Resume continues a paused dialogue.
func (m *Manager) Resume(_ context.Context, id string) core.Result {
	return m.with("resume", id, func(d *Dialogue) (any, error) {
		if err := d.sched.Resume(); err != nil {
			return nil, err
		}
		return d.State(), nil
	})
}

// Stop ends the dialogue. The in-flight agent call, if any, completes and is
// recorded.
func (m *Manager) Stop(_ context.Context, id string) core.Result {
	return m.with("stop", id, func(d *Dialogue) (any, error) {
		d.sched.Stop()
		return d.State(), nil
	})
}

// State returns the core.DialogueState of a dialogue.
func (m *Manager) State(id string) core.Result {
	return m.with("state", id, func(d *Dialogue) (any, error) {
		return d.State(), nil
	})
}

// Exchanges returns the recorded []core.Exchange of a dialogue.
func (m *Manager) Exchanges(id string) core.Result {
	return m.with("exchanges", id, func(d *Dialogue) (any, error) {
		return d.sched.Recorder().Exchanges(), nil
	})
}

// AddInterjection queues an interjection. Pause and resume interjections
// also pause a running or resume a paused dialogue. Data is the stored
// core.Interjection.
func (m *Manager) AddInterjection(ctx context.Context, id string, in core.Interjection) core.Result {
	return m.with("add interjection", id, func(d *Dialogue) (any, error) {
		return d.AddInterjection(ctx, in)
	})
}

// Interjections returns every interjection of a dialogue, consumed or not.
func (m *Manager) Interjections(id string) core.Result {
	return m.with("interjections", id, func(d *Dialogue) (any, error) {
		return d.sched.Queue().All(), nil
	})
}

// SetAgentActive toggles whether an agent takes turns.
func (m *Manager) SetAgentActive(ctx context.Context, id, agentID string, active bool) core.Result {
	return m.with("set agent active", id, func(d *Dialogue) (any, error) {
		if err := d.sched.SetAgentActive(ctx, agentID, active); err != nil {
			return nil, err
		}
		return d.State(), nil
	})
}

// Export returns the *core.Snapshot of a dialogue.
func (m *Manager) Export(_ context.Context, id string) core.Result {
	return m.with("export", id, func(d *Dialogue) (any, error) {
		return d.Snapshot(), nil
	})
}

// Save exports a dialogue into the snapshot store. Data is the summary.
func (m *Manager) Save(ctx context.Context, id string) core.Result {
	return m.with("save", id, func(d *Dialogue) (any, error) {
		snap := d.Snapshot()
		if err := m.opts.SnapshotStore.Save(ctx, snap); err != nil {
			return nil, err
		}
		return snap.Summary(), nil
	})
}

// RemoveDialogue stops a dialogue, closes its handles and forgets it.
func (m *Manager) RemoveDialogue(ctx context.Context, id string) core.Result {
	return m.guard("remove dialogue", func() (any, error) {
		m.mu.Lock()
		d, ok := m.dialogues[id]
		delete(m.dialogues, id)
		m.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("dialogue %s: %w", id, core.ErrNotFound)
		}
		if err := d.close(ctx); err != nil {
			return nil, err
		}
		if f, ok := m.opts.Memory.(interface{ Forget(string) }); ok {
			f.Forget(id)
		}
		return nil, nil
	})
}

// Import validates a snapshot and stores it. Data is the summary.
func (m *Manager) Import(ctx context.Context, snap *core.Snapshot) core.Result {
	return m.guard("import", func() (any, error) {
		if snap == nil {
			return nil, &core.ReplayError{Message: "snapshot not found"}
		}
		snap = snap.Clone()
		if snap.ID == "" {
			snap.ID = core.NewID()
		}
		if snap.CreatedAt.IsZero() {
			snap.CreatedAt = time.Now().UTC()
		}
		if err := recorder.Validate(snap); err != nil {
			return nil, err
		}
		// Rebuild through a recorder so stored timestamps are normalized the
		// same way as locally recorded sessions.
		rec, err := recorder.Import(snap)
		if err != nil {
			return nil, err
		}
		snap = rec.Export(recorder.HeaderOf(snap))
		if err := m.opts.SnapshotStore.Save(ctx, snap); err != nil {
			return nil, err
		}
		return snap.Summary(), nil
	})
}

// Sessions lists stored snapshots.
func (m *Manager) Sessions(ctx context.Context) core.Result {
	return m.guard("list sessions", func() (any, error) {
		return m.opts.SnapshotStore.List(ctx)
	})
}

// LoadSession returns a stored *core.Snapshot.
func (m *Manager) LoadSession(ctx context.Context, sessionID string) core.Result {
	return m.guard("load session", func() (any, error) {
		return m.loadSnapshot(ctx, sessionID)
	})
}

// DeleteSession removes a stored snapshot.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) core.Result {
	return m.guard("delete session", func() (any, error) {
		return nil, m.opts.SnapshotStore.Delete(ctx, sessionID)
	})
}

// loadSnapshot maps a missing session onto a *core.ReplayError.
func (m *Manager) loadSnapshot(ctx context.Context, sessionID string) (*core.Snapshot, error) {
	snap, err := m.opts.SnapshotStore.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, &core.ReplayError{SessionID: sessionID, Message: "snapshot not found", Err: err}
		}
		return nil, err
	}
	return snap, nil
}

// Subscribe registers a spectator for all or the given event types. Data is
// the subscription id.
func (m *Manager) Subscribe(obs spectator.Observer, types ...core.EventType) core.Result {
	return m.guard("subscribe", func() (any, error) {
		return m.bus.Subscribe(obs, types...)
	})
}

// Unsubscribe removes a spectator.
func (m *Manager) Unsubscribe(subscriptionID string) core.Result {
	return m.guard("unsubscribe", func() (any, error) {
		if !m.bus.Unsubscribe(subscriptionID) {
			return nil, fmt.Errorf("subscription %s: %w", subscriptionID, core.ErrNotFound)
		}
		return nil, nil
	})
}

// Close stops every dialogue and replay, waits for the loops to return
// (until ctx is done) and closes all handles.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	dialogues := make([]*Dialogue, 0, len(m.dialogues))
	for _, d := range m.dialogues {
		dialogues = append(dialogues, d)
	}
	m.dialogues = make(map[string]*Dialogue)
	m.mu.Unlock()

	for _, st := range m.replay.List() {
		_ = m.replay.Stop(ctx, st.ID)
	}

	var g errgroup.Group
	for _, d := range dialogues {
		g.Go(func() error { return d.close(ctx) })
	}
	err := g.Wait()
	m.cancel()
	return err
}

// DataAs extracts the typed data of a successful Result.
func DataAs[T any](r core.Result) (T, error) {
	var zero T
	if err := r.Err(); err != nil {
		return zero, err
	}
	v, ok := r.Data.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected result data %T", r.Data)
	}
	return v, nil
}
