package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/interjection"
)

type turnResult struct {
	exchange *core.Exchange
	halted   bool
	err      error
	// changed is the state channel observed when no agent was eligible.
	changed <-chan struct{}
}

// RunOnce performs exactly one turn. It returns core.ErrLoopActive while Run
// is active, core.ErrStopped once the dialogue stopped and
// core.ErrMaxRoundsReached when no turn is left. A failed agent call is
// recorded and returned as a failed exchange; the error is only returned when
// the failure policy halts the dialogue.
func (s *Scheduler) RunOnce(ctx context.Context) (*core.Exchange, error) {
	s.mu.Lock()
	switch {
	case s.loopActive:
		s.mu.Unlock()
		return nil, core.ErrLoopActive
	case s.status == core.StatusStopped:
		s.mu.Unlock()
		return nil, core.ErrStopped
	}
	s.mu.Unlock()

	res := s.takeTurn(ctx)
	switch {
	case errors.Is(res.err, core.ErrMaxRoundsReached):
		s.stop(core.StopReasonCompleted)
	case res.halted:
		s.stop(core.StopReasonHalted)
	}
	return res.exchange, res.err
}

func (s *Scheduler) takeTurn(ctx context.Context) turnResult {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	s.mu.Lock()
	if s.status == core.StatusStopped {
		s.mu.Unlock()
		return turnResult{err: core.ErrStopped}
	}
	m, err := s.pickLocked()
	if err != nil {
		changed := s.changed
		s.mu.Unlock()
		return turnResult{err: err, changed: changed}
	}
	round, turn := s.round, s.turn
	agent := agentOf(m)
	to := s.addresseeLocked(m)
	s.mu.Unlock()

	ctx, span := s.opts.Tracer.Start(ctx, "dialogue.turn", trace.WithAttributes(
		attribute.String("dialogue.id", s.opts.DialogueID),
		attribute.Int("dialogue.round", round),
		attribute.Int("dialogue.turn", turn),
		attribute.String("agent.id", agent.ID),
	))
	defer span.End()

	prompt, interjectionID := s.buildPrompt(ctx, agent.ID, round, turn)

	s.emit(ctx, core.EventTurnStart, core.TurnStartPayload{
		Round:          round,
		Turn:           turn,
		AgentID:        agent.ID,
		AgentName:      agent.Name,
		To:             to,
		Prompt:         prompt,
		InterjectionID: interjectionID,
	})

	start := time.Now()
	response, attempts, callErr := s.call(ctx, m.handle, prompt, round, turn)
	ex := core.Exchange{
		ID:             core.NewID(),
		Round:          round,
		Turn:           turn,
		From:           agent.ID,
		To:             to,
		Prompt:         prompt,
		Response:       response,
		Timestamp:      start,
		Duration:       time.Since(start),
		InterjectionID: interjectionID,
		Attempts:       attempts,
	}
	if callErr != nil {
		ex.Response = ""
		ex.Error = callErr.Error()
		span.RecordError(callErr)
		span.SetStatus(codes.Error, callErr.Error())
	} else if u, ok := m.handle.(core.UsageReporter); ok {
		if n := u.LastTokenCount(); n > 0 {
			ex.TokenCount = &n
		}
	}

	if err := s.opts.Recorder.RecordExchange(ex); err != nil {
		s.opts.Logger.ErrorWithStack(err, "record exchange")
	}
	// Failed turns occupy their slot and count toward MaxRounds.
	s.mu.Lock()
	s.advanceLocked(true)
	s.mu.Unlock()

	recorded, _ := s.opts.Recorder.Last()
	s.emit(ctx, core.EventTurnEnd, core.TurnEndPayload{Exchange: recorded})
	var turnErr error
	if callErr != nil {
		turnErr = callErr
	}
	s.opts.Logger.LogTurn(round, turn, agent.ID, ex.Duration, callErr == nil, turnErr)

	res := turnResult{exchange: &recorded}
	if callErr != nil {
		switch {
		case ctx.Err() != nil:
			res.err = ctx.Err()
		case s.exhaustedPolicy() == core.FailureHalt:
			res.halted = true
			res.err = callErr
		}
	}
	return res
}

// pickLocked returns the member taking the next turn, moving the cursor over
// inactive agents. Without SkipInactiveAgents a passed-over agent still
// consumes its turn index.
func (s *Scheduler) pickLocked() (*member, error) {
	if s.roundsExhaustedLocked() {
		return nil, core.ErrMaxRoundsReached
	}
	active := false
	for _, m := range s.members {
		active = active || m.active
	}
	if !active {
		return nil, core.ErrNoActiveAgents
	}
	for !s.members[s.pos].active {
		s.advanceLocked(!s.opts.SkipInactiveAgents)
		if s.roundsExhaustedLocked() {
			return nil, core.ErrMaxRoundsReached
		}
	}
	return s.members[s.pos], nil
}

func (s *Scheduler) advanceLocked(consumeTurn bool) {
	s.pos++
	if consumeTurn {
		s.turn++
	}
	if s.pos == len(s.members) {
		s.pos, s.turn = 0, 0
		s.round++
	}
}

// turnsRemainLocked reports whether an active member speaks before MaxRounds
// is reached. It never moves the cursor. With no active member at all it
// reports true so the loop waits for a reactivation.
func (s *Scheduler) turnsRemainLocked() bool {
	switch {
	case s.opts.MaxRounds <= 0:
		return true
	case s.round >= s.opts.MaxRounds:
		return false
	case s.round < s.opts.MaxRounds-1:
		return true
	}
	anyActive := false
	for i, m := range s.members {
		if m.active && i >= s.pos {
			return true
		}
		anyActive = anyActive || m.active
	}
	return !anyActive
}

func (s *Scheduler) roundsExhaustedLocked() bool {
	return s.opts.MaxRounds > 0 && s.round >= s.opts.MaxRounds
}

func (s *Scheduler) addresseeLocked(m *member) string {
	if len(s.members) > 2 {
		return core.TargetAll
	}
	for _, other := range s.members {
		if other != m {
			return other.handle.ID()
		}
	}
	return core.TargetAll
}

func (s *Scheduler) buildPrompt(ctx context.Context, agentID string, round, turn int) (string, string) {
	history := s.opts.Recorder.Exchanges()

	var memory string
	if s.opts.Memory != nil {
		mem, err := s.opts.Memory.MemoryContext(ctx, s.opts.DialogueID, agentID)
		if err != nil {
			s.opts.Logger.Warn("memory context unavailable", "agent_id", agentID, "error", err.Error())
		} else {
			memory = mem
		}
	}

	base := s.opts.Synth.Synthesize(history, memory)
	if len(history) == 0 && s.opts.InitialPrompt != "" {
		base = joinBlocks(base, s.opts.InitialPrompt)
	}
	s.emit(ctx, core.EventContextSynthesized, core.ContextSynthesizedPayload{
		Round:     round,
		Turn:      turn,
		AgentID:   agentID,
		Strategy:  string(s.opts.Synth.Strategy()),
		Exchanges: len(s.opts.Synth.Select(history)),
		Context:   base,
	})

	in, ok := s.opts.Queue.Next(agentID)
	if !ok {
		return base, ""
	}
	s.opts.Recorder.RecordInterjection(in)
	prompt, err := interjection.Apply(base, in)
	if err != nil {
		s.opts.Logger.Warn("interjection not applied", "interjection_id", in.ID, "error", err.Error())
		return base, in.ID
	}
	return prompt, in.ID
}

func joinBlocks(blocks ...string) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b = strings.TrimSpace(b); b != "" {
			parts = append(parts, b)
		}
	}
	return strings.Join(parts, "\n\n")
}

// exhaustedPolicy is the policy applied once a turn has finally failed.
func (s *Scheduler) exhaustedPolicy() core.FailurePolicy {
	if s.opts.Failure.Policy == core.FailureRetry {
		return s.opts.Failure.OnExhausted
	}
	return s.opts.Failure.Policy
}

// call sends prompt with the configured failure policy. Every failed attempt
// emits an error event.
func (s *Scheduler) call(ctx context.Context, h core.AgentHandle, prompt string, round, turn int) (string, int, *core.AgentCallError) {
	maxAttempts := 1
	if s.opts.Failure.Policy == core.FailureRetry {
		maxAttempts = s.opts.Failure.MaxAttempts
	}

	for attempt := 1; ; attempt++ {
		start := time.Now()
		resp, wait, err := s.attempt(ctx, h, prompt, round, turn)
		if err == nil {
			s.opts.Logger.LogAgentCall(h.ID(), tokensOf(h), time.Since(start), true, nil)
			return resp, attempt, nil
		}

		var callErr *core.AgentCallError
		if !errors.As(err, &callErr) {
			callErr = core.NewAgentCallError(h.ID(), attempt, err)
		}
		callErr.Attempt = attempt
		final := attempt >= maxAttempts || ctx.Err() != nil || s.Status() == core.StatusStopped

		s.opts.Logger.LogAgentCall(h.ID(), 0, time.Since(start), false, callErr)
		s.emit(ctx, core.EventError, core.ErrorPayload{
			AgentID: h.ID(),
			Round:   round,
			Turn:    turn,
			Kind:    string(callErr.Kind),
			Message: callErr.Err.Error(),
			Attempt: attempt,
			Fatal:   final && s.exhaustedPolicy() == core.FailureHalt,
		})
		if final {
			return "", attempt, callErr
		}

		if wait <= 0 {
			wait = s.opts.Failure.BackoffStep() * time.Duration(attempt)
		}
		waitCtx, cancel := s.withStop(ctx)
		err = s.opts.Sleep(waitCtx, wait)
		cancel()
		if err != nil {
			return "", attempt, callErr
		}
	}
}

// attempt makes one gated call. A denied rate-limit check is reported as a
// rate_limited failure together with the limiter's wait time.
func (s *Scheduler) attempt(ctx context.Context, h core.AgentHandle, prompt string, round, turn int) (resp string, wait time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent %s panicked: %v", h.ID(), r)
		}
	}()

	if s.opts.RateLimiter != nil {
		platform, identity := "default", h.ID()
		if p, ok := h.(core.PlatformHandle); ok {
			platform, identity = p.Platform(), p.Identity()
		}
		decision, err := s.opts.RateLimiter.CanMakeRequest(ctx, platform, identity)
		if err != nil {
			return "", 0, err
		}
		if !decision.Allowed {
			return "", decision.WaitTime, &core.AgentCallError{
				AgentID: h.ID(),
				Kind:    core.AgentCallRateLimited,
				Err:     fmt.Errorf("rate limit for %s/%s, retry in %s", platform, identity, decision.WaitTime),
			}
		}
	}

	if sh, ok := h.(core.StreamingHandle); ok {
		resp, err = sh.SendStream(ctx, prompt, func(chunk string) {
			s.emit(ctx, core.EventStreamingChunk, core.StreamingChunkPayload{
				Round:   round,
				Turn:    turn,
				AgentID: h.ID(),
				Chunk:   chunk,
			})
		})
		return resp, 0, err
	}
	resp, err = h.Send(ctx, prompt)
	return resp, 0, err
}

func tokensOf(h core.AgentHandle) int {
	if u, ok := h.(core.UsageReporter); ok {
		return u.LastTokenCount()
	}
	return 0
}
