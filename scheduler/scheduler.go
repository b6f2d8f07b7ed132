package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/interjection"
	"github.com/hupe1980/colloquy/logging"
	"github.com/hupe1980/colloquy/recorder"
	"github.com/hupe1980/colloquy/synth"
)

// Publisher receives dialogue events. *spectator.Bus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, event core.Event)
}

// Options configures a Scheduler. Zero values select the documented
// defaults.
type Options struct {
	DialogueID string
	Type       core.DialogueType
	// InitialPrompt opens the dialogue. It is combined with the synthesized
	// context while the history is still empty.
	InitialPrompt string
	// StartWith is the id of the first speaker. Defaults to the first agent.
	StartWith string
	// MaxRounds ends the loop after that many rounds. Zero means unbounded.
	MaxRounds int
	// TurnDelay is the pause between two turns of Run.
	TurnDelay          time.Duration
	SkipInactiveAgents bool
	// Inactive lists agent ids that start deactivated.
	Inactive []string
	Failure  core.FailureConfig

	Synth       *synth.Synthesizer
	Queue       *interjection.Queue
	Recorder    *recorder.Recorder
	Publisher   Publisher
	RateLimiter core.RateLimiter
	Memory      core.MemoryProvider
	Logger      *logging.DialogueLogger
	Tracer      trace.Tracer

	// Sleep waits for d or until ctx is done. Tests replace it to observe
	// backoff without waiting.
	Sleep func(ctx context.Context, d time.Duration) error
}

type member struct {
	handle core.AgentHandle
	active bool
}

// Scheduler runs one dialogue.
type Scheduler struct {
	opts    Options
	members []*member // speaking order, rotated so StartWith is first
	byID    map[string]*member

	turnMu sync.Mutex // serializes agent calls

	stopCtx    context.Context // cancelled when the dialogue stops
	cancelStop context.CancelFunc

	mu         sync.Mutex
	status     core.Status
	stopReason core.StopReason
	loopActive bool
	changed    chan struct{} // closed and replaced on every state change
	round      int
	turn       int
	pos        int
}

// New creates a scheduler over agents in declaration order.
func New(agents []core.AgentHandle, optFns ...func(o *Options)) (*Scheduler, error) {
	opts := Options{
		Failure: core.FailureConfig{
			Policy:      core.FailureRetry,
			MaxAttempts: core.DefaultMaxAttempts,
			Backoff:     core.DurationOf(core.DefaultRetryBackoff.Std()),
			OnExhausted: core.FailureSkip,
		},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if len(agents) < 2 {
		return nil, core.NewConfigurationError("agents", "at least two agents are required, got %d", len(agents))
	}
	if opts.Type == "" {
		opts.Type = core.DialogueRoundRobin
		if len(agents) == 2 {
			opts.Type = core.DialoguePairwise
		}
	}
	switch opts.Type {
	case core.DialoguePairwise:
		if len(agents) != 2 {
			return nil, core.NewConfigurationError("type", "pairwise dialogues need exactly two agents, got %d", len(agents))
		}
	case core.DialogueRoundRobin:
	default:
		return nil, core.NewConfigurationError("type", "unknown dialogue type %q", opts.Type)
	}
	if opts.MaxRounds < 0 {
		return nil, core.NewConfigurationError("max_rounds", "must not be negative")
	}
	if !opts.Failure.Policy.Valid() {
		return nil, core.NewConfigurationError("failure.policy", "unknown policy %q", opts.Failure.Policy)
	}
	if opts.Failure.OnExhausted == "" {
		opts.Failure.OnExhausted = core.FailureSkip
	}
	if opts.Failure.OnExhausted != core.FailureSkip && opts.Failure.OnExhausted != core.FailureHalt {
		return nil, core.NewConfigurationError("failure.on_exhausted", "must be skip or halt, got %q", opts.Failure.OnExhausted)
	}
	if opts.Failure.MaxAttempts < 1 {
		opts.Failure.MaxAttempts = 1
	}

	s := &Scheduler{
		byID:    make(map[string]*member, len(agents)),
		status:  core.StatusIdle,
		changed: make(chan struct{}),
	}
	s.stopCtx, s.cancelStop = context.WithCancel(context.Background())
	ids := make([]string, 0, len(agents))
	members := make([]*member, 0, len(agents))
	for i, a := range agents {
		if a == nil {
			return nil, core.NewConfigurationError("agents", "agent %d is nil", i)
		}
		if _, dup := s.byID[a.ID()]; dup {
			return nil, core.NewConfigurationError("agents", "duplicate agent id %q", a.ID())
		}
		m := &member{handle: a, active: true}
		s.byID[a.ID()] = m
		members = append(members, m)
		ids = append(ids, a.ID())
	}
	for _, id := range opts.Inactive {
		m, ok := s.byID[id]
		if !ok {
			return nil, core.NewConfigurationError("agents", "unknown inactive agent %q", id)
		}
		m.active = false
	}

	start := 0
	if opts.StartWith != "" {
		start = -1
		for i, id := range ids {
			if id == opts.StartWith {
				start = i
			}
		}
		if start < 0 {
			return nil, core.NewConfigurationError("start_with", "unknown agent %q", opts.StartWith)
		}
	}
	s.members = append(members[start:len(members):len(members)], members[:start]...)

	if opts.DialogueID == "" {
		opts.DialogueID = core.NewID()
	}
	if opts.Synth == nil {
		sy, err := synth.New(synth.Config{Strategy: core.StrategyRecent, Window: core.DefaultContextWindow})
		if err != nil {
			return nil, err
		}
		opts.Synth = sy
	}
	if opts.Queue == nil {
		opts.Queue = interjection.NewQueue(ids)
	}
	if opts.Recorder == nil {
		opts.Recorder = recorder.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDiscardLogger()
	}
	opts.Logger = opts.Logger.WithComponent("scheduler").WithDialogue(opts.DialogueID)
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/hupe1980/colloquy/scheduler")
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	s.opts = opts
	return s, nil
}

// ID returns the dialogue id.
func (s *Scheduler) ID() string { return s.opts.DialogueID }

// Recorder returns the exchange log the scheduler appends to.
func (s *Scheduler) Recorder() *recorder.Recorder { return s.opts.Recorder }

// Queue returns the interjection queue consulted before every turn.
func (s *Scheduler) Queue() *interjection.Queue { return s.opts.Queue }

// Agents returns the participants in declaration order of the speaking cycle.
func (s *Scheduler) Agents() []core.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentsLocked()
}

func (s *Scheduler) agentsLocked() []core.Agent {
	out := make([]core.Agent, len(s.members))
	for i, m := range s.members {
		out[i] = agentOf(m)
	}
	return out
}

func agentOf(m *member) core.Agent {
	a := core.Agent{ID: m.handle.ID(), Name: m.handle.Name(), Active: m.active}
	if p, ok := m.handle.(core.PlatformHandle); ok {
		a.Platform = p.Platform()
	}
	return a
}

// State returns a read-only view of the dialogue.
func (s *Scheduler) State() core.DialogueState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.DialogueState{
		DialogueID:           s.opts.DialogueID,
		Round:                s.round,
		Turn:                 s.turn,
		Status:               s.status,
		IsRunning:            s.status == core.StatusRunning,
		IsPaused:             s.status == core.StatusPaused,
		StopReason:           s.stopReason,
		Agents:               s.agentsLocked(),
		Exchanges:            s.opts.Recorder.Len(),
		PendingInterjections: s.opts.Queue.Len(),
	}
}

// Status returns the current state machine status.
func (s *Scheduler) Status() core.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Done returns a channel closed on the next state change.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

var transitions = map[core.Status]map[core.Status]bool{
	core.StatusIdle:    {core.StatusRunning: true, core.StatusStopped: true},
	core.StatusRunning: {core.StatusPaused: true, core.StatusStopped: true},
	core.StatusPaused:  {core.StatusRunning: true, core.StatusStopped: true},
}

func (s *Scheduler) transitionLocked(to core.Status) error {
	if !transitions[s.status][to] {
		if s.status == core.StatusStopped {
			return core.ErrStopped
		}
		return fmt.Errorf("%w: cannot move from %s to %s", core.ErrInvalidTransition, s.status, to)
	}
	s.status = to
	s.notifyLocked()
	return nil
}

func (s *Scheduler) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Pause asks the loop to halt at the next turn boundary.
func (s *Scheduler) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == core.StatusPaused {
		return nil
	}
	if err := s.transitionLocked(core.StatusPaused); err != nil {
		return err
	}
	s.opts.Logger.Info("dialogue paused", "round", s.round, "turn", s.turn)
	return nil
}

// Resume continues a paused dialogue.
func (s *Scheduler) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == core.StatusRunning {
		return nil
	}
	if s.status != core.StatusPaused {
		if s.status == core.StatusStopped {
			return core.ErrStopped
		}
		return fmt.Errorf("%w: dialogue is %s", core.ErrInvalidTransition, s.status)
	}
	if err := s.transitionLocked(core.StatusRunning); err != nil {
		return err
	}
	s.opts.Logger.Info("dialogue resumed", "round", s.round, "turn", s.turn)
	return nil
}

// Stop ends the dialogue for good. Stopping a stopped dialogue is a no-op.
func (s *Scheduler) Stop() {
	s.stop(core.StopReasonStopped)
}

func (s *Scheduler) stop(reason core.StopReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == core.StatusStopped {
		return
	}
	_ = s.transitionLocked(core.StatusStopped)
	s.stopReason = reason
	s.cancelStop()
	s.opts.Logger.Info("dialogue stopped", "reason", string(reason), "round", s.round, "turn", s.turn)
}

// SetAgentActive toggles whether an agent takes turns and emits
// agent_status_changed when the flag changes.
func (s *Scheduler) SetAgentActive(ctx context.Context, agentID string, active bool) error {
	s.mu.Lock()
	m, ok := s.byID[agentID]
	if !ok {
		s.mu.Unlock()
		return core.NewConfigurationError("agent_id", "unknown agent %q", agentID)
	}
	if m.active == active {
		s.mu.Unlock()
		return nil
	}
	m.active = active
	s.notifyLocked()
	s.mu.Unlock()

	s.emit(ctx, core.EventAgentStatusChanged, core.AgentStatusChangedPayload{AgentID: agentID, Active: active})
	return nil
}

// AddInterjection validates and queues an interjection, then emits
// interjection_added.
func (s *Scheduler) AddInterjection(ctx context.Context, in core.Interjection) (core.Interjection, error) {
	if s.Status() == core.StatusStopped {
		return core.Interjection{}, core.ErrStopped
	}
	stored, err := s.opts.Queue.Add(in)
	if err != nil {
		return core.Interjection{}, err
	}
	s.opts.Recorder.RecordInterjection(stored)
	s.emit(ctx, core.EventInterjectionAdded, core.InterjectionAddedPayload{Interjection: stored})
	return stored, nil
}

// Close closes every agent handle.
func (s *Scheduler) Close(ctx context.Context) error {
	s.Stop()
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	var firstErr error
	for _, m := range s.members {
		if err := m.handle.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close agent %s: %w", m.handle.ID(), err)
		}
	}
	return firstErr
}

func (s *Scheduler) emit(ctx context.Context, eventType core.EventType, payload any) {
	if s.opts.Publisher == nil {
		return
	}
	s.opts.Publisher.Publish(ctx, core.NewEvent(eventType, s.opts.DialogueID, payload))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
