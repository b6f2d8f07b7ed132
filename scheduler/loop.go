package scheduler

import (
	"context"
	"errors"

	"github.com/hupe1980/colloquy/core"
)

// Run drives turns until MaxRounds is reached, Stop is called, the failure
// policy halts or ctx is cancelled. It returns nil on completion or stop, the
// agent call error on halt and ctx.Err() on cancellation.
//
// Pause and Stop are observed before each turn; a paused loop blocks until
// it is resumed or stopped. Calling Run on an idle dialogue starts it.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.loopActive {
		s.mu.Unlock()
		return core.ErrLoopActive
	}
	if s.status == core.StatusIdle {
		if err := s.transitionLocked(core.StatusRunning); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	if s.status == core.StatusStopped {
		s.mu.Unlock()
		return core.ErrStopped
	}
	s.loopActive = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loopActive = false
		s.mu.Unlock()
	}()

	s.opts.Logger.Info("dialogue loop started", "max_rounds", s.opts.MaxRounds)
	defer s.opts.Logger.StartTimer("dialogue loop")()

	for {
		running, err := s.awaitRunnable(ctx)
		if err != nil {
			s.stop(core.StopReasonCancelled)
			return err
		}
		if !running {
			return nil
		}

		res := s.takeTurn(ctx)
		switch {
		case errors.Is(res.err, core.ErrMaxRoundsReached):
			s.stop(core.StopReasonCompleted)
			return nil
		case errors.Is(res.err, core.ErrStopped):
			return nil
		case errors.Is(res.err, core.ErrNoActiveAgents):
			if err := awaitChange(ctx, res.changed); err != nil {
				s.stop(core.StopReasonCancelled)
				return err
			}
			continue
		case ctx.Err() != nil:
			s.stop(core.StopReasonCancelled)
			return ctx.Err()
		case res.halted:
			s.stop(core.StopReasonHalted)
			return res.err
		}

		s.mu.Lock()
		done := !s.turnsRemainLocked()
		if done {
			for !s.roundsExhaustedLocked() {
				s.advanceLocked(!s.opts.SkipInactiveAgents)
			}
		}
		s.mu.Unlock()
		if done {
			s.stop(core.StopReasonCompleted)
			return nil
		}

		waitCtx, cancel := s.withStop(ctx)
		_ = s.opts.Sleep(waitCtx, s.opts.TurnDelay)
		cancel()
		if ctx.Err() != nil {
			s.stop(core.StopReasonCancelled)
			return ctx.Err()
		}
	}
}

// awaitRunnable blocks while the dialogue is paused. It reports false once
// the dialogue is stopped.
func (s *Scheduler) awaitRunnable(ctx context.Context) (bool, error) {
	for {
		s.mu.Lock()
		status, changed := s.status, s.changed
		s.mu.Unlock()

		switch status {
		case core.StatusRunning:
			return true, ctx.Err()
		case core.StatusStopped:
			return false, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func awaitChange(ctx context.Context, changed <-chan struct{}) error {
	select {
	case <-changed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// withStop derives a context that is also cancelled when the dialogue stops.
func (s *Scheduler) withStop(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	release := context.AfterFunc(s.stopCtx, cancel)
	return ctx, func() {
		release()
		cancel()
	}
}
