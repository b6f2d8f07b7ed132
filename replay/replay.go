// Package replay plays recorded sessions back through the spectator event
// bus without calling any agent.
package replay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/logging"
	"github.com/hupe1980/colloquy/recorder"
)

// Speed selects the delay between replayed exchanges.
type Speed string

const (
	SpeedInstant Speed = "instant"
	SpeedFast    Speed = "fast"
	SpeedNormal  Speed = "normal"
	SpeedSlow    Speed = "slow"
)

// Delay returns the pause inserted between two exchanges at speed s.
func (s Speed) Delay() (time.Duration, error) {
	switch s {
	case SpeedInstant:
		return 0, nil
	case SpeedFast:
		return 250 * time.Millisecond, nil
	case SpeedNormal, "":
		return time.Second, nil
	case SpeedSlow:
		return 3 * time.Second, nil
	}
	return 0, core.NewConfigurationError("speed", "unknown replay speed %q", s)
}

// State is the playback state of a replay session.
type State string

const (
	StateReady     State = "ready"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateStopped   State = "stopped"
)

// ErrPlaying is returned by Play when the replay is already playing.
var ErrPlaying = errors.New("replay is already playing")

// Config controls playback. Use DefaultConfig for the documented defaults.
type Config struct {
	Speed Speed `json:"speed"`
	// Loop restarts from the first exchange after the last one.
	Loop bool `json:"loop"`
	// AutoAdvance plays exchanges continuously; when false each Play emits a
	// single exchange and pauses.
	AutoAdvance bool `json:"auto_advance"`
	// ShowInterjections attaches the consumed interjection to each exchange event.
	ShowInterjections bool `json:"show_interjections"`
}

// DefaultConfig returns normal speed, auto advance, interjections shown.
func DefaultConfig() Config {
	return Config{Speed: SpeedNormal, AutoAdvance: true, ShowInterjections: true}
}

// Status is a point-in-time view of a replay session.
type Status struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	State     State  `json:"state"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
	Loops     int    `json:"loops"`
	Config    Config `json:"config"`
}

// Publisher receives replay events. *spectator.Bus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, event core.Event)
}

// Options configures an Engine.
type Options struct {
	Logger logging.Logger
	Tracer trace.Tracer
}

// Engine owns the replay sessions created from snapshots.
type Engine struct {
	mu       sync.RWMutex
	sessions map[string]*session
	pub      Publisher
	logger   logging.Logger
	tracer   trace.Tracer
}

// New creates a replay engine publishing to pub.
func New(pub Publisher, optFns ...func(o *Options)) *Engine {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/hupe1980/colloquy/replay")
	}
	return &Engine{
		sessions: make(map[string]*session),
		pub:      pub,
		logger:   logging.OrNoop(opts.Logger),
		tracer:   opts.Tracer,
	}
}

type session struct {
	mu            sync.Mutex
	id            string
	snap          *core.Snapshot
	interjections map[string]core.Interjection
	cfg           Config
	state         State
	index         int
	loops         int
	running       bool
	interrupt     chan struct{}
}

func (s *session) statusLocked() Status {
	return Status{
		ID:        s.id,
		SessionID: s.snap.ID,
		State:     s.state,
		Index:     s.index,
		Total:     len(s.snap.Exchanges),
		Loops:     s.loops,
		Config:    s.cfg,
	}
}

// Create registers a replay of snap. A nil or invalid snapshot yields a
// *core.ReplayError.
func (e *Engine) Create(snap *core.Snapshot, cfg Config) (Status, error) {
	if snap == nil {
		return Status{}, &core.ReplayError{Message: "snapshot not found"}
	}
	if err := recorder.Validate(snap); err != nil {
		return Status{}, err
	}
	if _, err := cfg.Speed.Delay(); err != nil {
		return Status{}, err
	}
	if cfg.Speed == "" {
		cfg.Speed = SpeedNormal
	}

	s := &session{
		id:            core.NewID(),
		snap:          snap.Clone(),
		interjections: make(map[string]core.Interjection, len(snap.Interjections)),
		cfg:           cfg,
		state:         StateReady,
	}
	for _, in := range s.snap.Interjections {
		s.interjections[in.ID] = in
	}

	e.mu.Lock()
	e.sessions[s.id] = s
	e.mu.Unlock()

	e.logger.Info("replay created", "replay_id", s.id, "session_id", snap.ID, "exchanges", len(snap.Exchanges))
	return s.statusLocked(), nil
}

func (e *Engine) get(id string) (*session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	if !ok {
		return nil, core.NewConfigurationError("replay_id", "unknown replay %q", id)
	}
	return s, nil
}

// Get returns the status of a replay.
func (e *Engine) Get(id string) (Status, error) {
	s, err := e.get(id)
	if err != nil {
		return Status{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked(), nil
}

// List returns the status of every replay ordered by id.
func (e *Engine) List() []Status {
	e.mu.RLock()
	sessions := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.RUnlock()

	out := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		out = append(out, s.statusLocked())
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Play plays the replay from its current index and blocks until it pauses,
// completes or is stopped. A completed replay restarts from the beginning.
// Cancelling ctx pauses playback and returns ctx.Err().
func (e *Engine) Play(ctx context.Context, id string) error {
	s, started, err := e.begin(id)
	if err != nil {
		return err
	}
	e.emit(ctx, s, core.EventReplayStarted, started)
	return e.run(ctx, s)
}

// Start is the non-blocking form of Play. It returns once the replay is
// playing; errors of the background run are logged.
func (e *Engine) Start(ctx context.Context, id string) (Status, error) {
	s, started, err := e.begin(id)
	if err != nil {
		return Status{}, err
	}
	s.mu.Lock()
	status := s.statusLocked()
	s.mu.Unlock()

	go func() {
		e.emit(ctx, s, core.EventReplayStarted, started)
		if err := e.run(ctx, s); err != nil {
			e.logger.Warn("replay interrupted", "replay_id", id, "error", err)
		}
	}()
	return status, nil
}

func (e *Engine) begin(id string) (*session, core.ReplayStartedPayload, error) {
	s, err := e.get(id)
	if err != nil {
		return nil, core.ReplayStartedPayload{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.running:
		return nil, core.ReplayStartedPayload{}, ErrPlaying
	case s.state == StateStopped:
		return nil, core.ReplayStartedPayload{}, fmt.Errorf("replay %s: %w", id, core.ErrStopped)
	case s.state == StateCompleted:
		s.index = 0
	}
	s.state = StatePlaying
	s.running = true
	s.interrupt = make(chan struct{})
	return s, core.ReplayStartedPayload{
		ReplayID:  s.id,
		SessionID: s.snap.ID,
		Total:     len(s.snap.Exchanges),
		Index:     s.index,
		Speed:     string(s.cfg.Speed),
	}, nil
}

func (e *Engine) run(ctx context.Context, s *session) error {
	total := len(s.snap.Exchanges)
	ctx, span := e.tracer.Start(ctx, "replay.run", trace.WithAttributes(
		attribute.String("replay.id", s.id),
		attribute.Int("replay.total", total),
	))
	defer span.End()
	for {
		s.mu.Lock()
		if s.state != StatePlaying {
			e.finishLocked(ctx, s)
			return nil
		}
		if s.index >= total {
			if s.cfg.Loop && total > 0 {
				s.loops++
				s.index = 0
			} else {
				s.state = StateCompleted
				e.finishLocked(ctx, s)
				return nil
			}
		}
		idx := s.index
		payload := core.ReplayExchangePayload{
			ReplayID: s.id,
			Index:    idx,
			Total:    total,
			Exchange: s.snap.Exchanges[idx].Clone(),
		}
		if s.cfg.ShowInterjections && payload.Exchange.InterjectionID != "" {
			if in, ok := s.interjections[payload.Exchange.InterjectionID]; ok {
				in = in.Clone()
				payload.Interjection = &in
			}
		}
		s.index++
		autoAdvance := s.cfg.AutoAdvance
		last := s.index >= total && !s.cfg.Loop
		delay, _ := s.cfg.Speed.Delay()
		interrupt := s.interrupt
		s.mu.Unlock()

		e.emit(ctx, s, core.EventReplayExchange, payload)

		if last {
			continue
		}
		if !autoAdvance {
			s.mu.Lock()
			if s.state == StatePlaying {
				s.state = StatePaused
			}
			e.finishLocked(ctx, s)
			return nil
		}
		if delay <= 0 {
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-interrupt:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			s.mu.Lock()
			if s.state == StatePlaying {
				s.state = StatePaused
			}
			e.finishLocked(ctx, s)
			return ctx.Err()
		}
	}
}

// finishLocked ends a run, emitting the event matching the final state, and
// releases s.mu.
func (e *Engine) finishLocked(ctx context.Context, s *session) {
	s.running = false
	eventType, payload := terminalEvent(s)
	s.mu.Unlock()
	e.emit(context.WithoutCancel(ctx), s, eventType, payload)
}

func terminalEvent(s *session) (core.EventType, any) {
	switch s.state {
	case StatePaused:
		return core.EventReplayPaused, core.ReplayPausedPayload{ReplayID: s.id, Index: s.index}
	default:
		return core.EventReplayCompleted, core.ReplayCompletedPayload{
			ReplayID: s.id,
			Total:    len(s.snap.Exchanges),
			Loops:    s.loops,
			Stopped:  s.state == StateStopped,
		}
	}
}

// Pause pauses a playing replay. Pausing a replay that is not playing is a
// no-op.
func (e *Engine) Pause(ctx context.Context, id string) error {
	return e.transition(ctx, id, StatePaused)
}

// Stop ends a replay for good and emits replay_completed with Stopped set.
func (e *Engine) Stop(ctx context.Context, id string) error {
	return e.transition(ctx, id, StateStopped)
}

func (e *Engine) transition(ctx context.Context, id string, to State) error {
	s, err := e.get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	switch {
	case s.state == StateStopped:
		s.mu.Unlock()
		return nil
	case to == StatePaused && s.state != StatePlaying:
		s.mu.Unlock()
		return nil
	}
	s.state = to
	if s.running {
		// The running loop observes the new state and emits the event.
		close(s.interrupt)
		s.interrupt = make(chan struct{})
		s.mu.Unlock()
		return nil
	}
	e.finishLocked(ctx, s)
	return nil
}

// Jump moves the playback cursor to index. The next played exchange is the
// one at index.
func (e *Engine) Jump(id string, index int) (Status, error) {
	s, err := e.get(id)
	if err != nil {
		return Status{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.snap.Exchanges) {
		return Status{}, core.NewConfigurationError("index", "index %d out of range [0,%d)", index, len(s.snap.Exchanges))
	}
	if s.state == StateStopped {
		return Status{}, fmt.Errorf("replay %s: %w", id, core.ErrStopped)
	}
	s.index = index
	if s.state == StateCompleted {
		s.state = StatePaused
	}
	return s.statusLocked(), nil
}

// SetSpeed changes the delay used for the following exchanges.
func (e *Engine) SetSpeed(id string, speed Speed) (Status, error) {
	if _, err := speed.Delay(); err != nil {
		return Status{}, err
	}
	s, err := e.get(id)
	if err != nil {
		return Status{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Speed = speed
	return s.statusLocked(), nil
}

// Remove stops and forgets a replay.
func (e *Engine) Remove(ctx context.Context, id string) error {
	if err := e.Stop(ctx, id); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.sessions, id)
	e.mu.Unlock()
	return nil
}

func (e *Engine) emit(ctx context.Context, s *session, eventType core.EventType, payload any) {
	if e.pub == nil {
		return
	}
	e.pub.Publish(ctx, core.NewEvent(eventType, s.snap.ID, payload))
}
