package colloquy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/interjection"
	"github.com/hupe1980/colloquy/logging"
	"github.com/hupe1980/colloquy/recorder"
	"github.com/hupe1980/colloquy/scheduler"
	"github.com/hupe1980/colloquy/synth"
)

// Dialogue binds a scheduler to the configuration it was created from and
// tracks its background loop.
type Dialogue struct {
	cfg       core.DialogueConfig
	createdAt time.Time
	sched     *scheduler.Scheduler
	logger    *logging.DialogueLogger
	onDone    func(d *Dialogue)

	mu      sync.Mutex
	loop    chan struct{} // closed when the background loop returns
	loopErr error
}

func newDialogue(m *Manager, cfg core.DialogueConfig, handles []core.AgentHandle) (*Dialogue, error) {
	names := make(map[string]string, len(cfg.Agents))
	var inactive []string
	for _, a := range cfg.Agents {
		names[a.ID] = a.DisplayName()
		if a.Inactive {
			inactive = append(inactive, a.ID)
		}
	}
	sy, err := synth.New(synth.Config{
		Strategy: cfg.Context.Strategy,
		Window:   cfg.Context.Window,
		Budget:   cfg.Context.Budget,
		Template: cfg.Context.Template,
		Names:    names,
	})
	if err != nil {
		return nil, err
	}

	id := core.NewID()
	logger := m.opts.Logger.WithDialogue(id)
	sched, err := scheduler.New(handles, func(o *scheduler.Options) {
		o.DialogueID = id
		o.Type = cfg.Type
		o.InitialPrompt = cfg.InitialPrompt
		o.StartWith = cfg.StartWith
		o.MaxRounds = cfg.Rounds()
		o.TurnDelay = cfg.Delay()
		o.SkipInactiveAgents = cfg.SkipInactiveAgents
		o.Inactive = inactive
		o.Failure = cfg.Failure
		o.Synth = sy
		o.Queue = interjection.NewQueue(cfg.AgentIDs())
		o.Recorder = recorder.New()
		o.Publisher = m.bus
		o.RateLimiter = m.limiterFor(cfg.RateLimit)
		o.Memory = m.opts.Memory
		o.Logger = m.opts.Logger
		o.Tracer = m.opts.Tracer
	})
	if err != nil {
		return nil, err
	}

	d := &Dialogue{
		cfg:       cfg,
		createdAt: time.Now().UTC(),
		sched:     sched,
		logger:    logger,
	}
	if m.opts.AutoSave {
		d.onDone = func(d *Dialogue) {
			if err := m.opts.SnapshotStore.Save(context.Background(), d.Snapshot()); err != nil {
				d.logger.Error("autosave failed", "error", err)
			}
		}
	}
	return d, nil
}

// ID returns the dialogue id.
func (d *Dialogue) ID() string { return d.sched.ID() }

// Config returns the configuration with defaults applied.
func (d *Dialogue) Config() core.DialogueConfig { return d.cfg.Clone() }

// Scheduler exposes the underlying scheduler.
func (d *Dialogue) Scheduler() *scheduler.Scheduler { return d.sched }

// State returns the current dialogue state.
func (d *Dialogue) State() core.DialogueState { return d.sched.State() }

// Snapshot exports the dialogue under its own id.
func (d *Dialogue) Snapshot() *core.Snapshot {
	return d.sched.Recorder().Export(recorder.Header{
		ID:        d.ID(),
		Name:      d.cfg.Name,
		Type:      d.cfg.Type,
		Agents:    d.sched.Agents(),
		Config:    d.cfg,
		CreatedAt: d.createdAt,
	})
}

// AddInterjection queues in. A pause interjection pauses a running dialogue
// and a resume interjection resumes a paused one.
func (d *Dialogue) AddInterjection(ctx context.Context, in core.Interjection) (core.Interjection, error) {
	stored, err := d.sched.AddInterjection(ctx, in)
	if err != nil {
		return core.Interjection{}, err
	}
	switch status := d.sched.Status(); {
	case stored.Type == core.InterjectionPause && status == core.StatusRunning:
		err = d.sched.Pause()
	case stored.Type == core.InterjectionResume && status == core.StatusPaused:
		err = d.sched.Resume()
	}
	if err != nil {
		d.logger.Warn("interjection state change failed", "type", string(stored.Type), "error", err)
	}
	return stored, nil
}

// start launches the loop in the background. It fails with
// core.ErrLoopActive while a previous loop is still running.
func (d *Dialogue) start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.loop != nil {
		select {
		case <-d.loop:
		default:
			return core.ErrLoopActive
		}
	}
	if d.sched.Status() == core.StatusStopped {
		return core.ErrStopped
	}

	done := make(chan struct{})
	d.loop, d.loopErr = done, nil
	go func() {
		defer close(done)
		err := d.sched.Run(ctx)
		if err != nil {
			d.logger.Warn("dialogue loop ended with error", "error", err)
		}
		d.mu.Lock()
		d.loopErr = err
		d.mu.Unlock()
		if d.onDone != nil && d.sched.Status() == core.StatusStopped {
			d.onDone(d)
		}
	}()

	// Run leaves idle before its first turn.
	for {
		changed := d.sched.Done()
		if d.sched.Status() != core.StatusIdle {
			return nil
		}
		select {
		case <-changed:
		case <-done:
			return nil
		}
	}
}

// wait blocks until the background loop returns. It returns immediately when
// no loop was started.
func (d *Dialogue) wait(ctx context.Context) error {
	d.mu.Lock()
	loop := d.loop
	d.mu.Unlock()
	if loop == nil {
		return nil
	}
	select {
	case <-loop:
	case <-ctx.Done():
		return ctx.Err()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loopErr
}

// close stops the dialogue, waits for the loop and closes every handle.
func (d *Dialogue) close(ctx context.Context) error {
	d.sched.Stop()
	if err := d.wait(ctx); err != nil && ctx.Err() != nil {
		return fmt.Errorf("close dialogue %s: %w", d.ID(), err)
	}
	return d.sched.Close(ctx)
}
