package colloquy

import (
	"context"

	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/replay"
)

// CreateReplay registers a replay of a stored session. A missing session
// fails with a replay error. Data is the replay.Status.
func (m *Manager) CreateReplay(ctx context.Context, sessionID string, cfg replay.Config) core.Result {
	return m.guard("create replay", func() (any, error) {
		snap, err := m.loadSnapshot(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return m.replay.Create(snap, cfg)
	})
}

// CreateReplayFromSnapshot registers a replay of an in-memory snapshot.
func (m *Manager) CreateReplayFromSnapshot(snap *core.Snapshot, cfg replay.Config) core.Result {
	return m.guard("create replay", func() (any, error) {
		return m.replay.Create(snap, cfg)
	})
}

// PlayReplay starts or resumes playback in the background. Data is the
// replay.Status at the moment playback began.
func (m *Manager) PlayReplay(_ context.Context, replayID string) core.Result {
	return m.guard("play replay", func() (any, error) {
		return m.replay.Start(m.baseCtx, replayID)
	})
}

// ResumeReplay is PlayReplay for a paused replay.
func (m *Manager) ResumeReplay(ctx context.Context, replayID string) core.Result {
	return m.PlayReplay(ctx, replayID)
}

// PauseReplay pauses playback after the current exchange.
func (m *Manager) PauseReplay(ctx context.Context, replayID string) core.Result {
	return m.guard("pause replay", func() (any, error) {
		if err := m.replay.Pause(ctx, replayID); err != nil {
			return nil, err
		}
		return m.replay.Get(replayID)
	})
}

// StopReplay ends playback for good.
func (m *Manager) StopReplay(ctx context.Context, replayID string) core.Result {
	return m.guard("stop replay", func() (any, error) {
		if err := m.replay.Stop(ctx, replayID); err != nil {
			return nil, err
		}
		return m.replay.Get(replayID)
	})
}

// JumpReplay moves the cursor to index.
func (m *Manager) JumpReplay(replayID string, index int) core.Result {
	return m.guard("jump replay", func() (any, error) {
		return m.replay.Jump(replayID, index)
	})
}

// SetReplaySpeed changes the pacing of a replay.
func (m *Manager) SetReplaySpeed(replayID string, speed replay.Speed) core.Result {
	return m.guard("set replay speed", func() (any, error) {
		return m.replay.SetSpeed(replayID, speed)
	})
}

// ReplayStatus returns the replay.Status of a replay.
func (m *Manager) ReplayStatus(replayID string) core.Result {
	return m.guard("replay status", func() (any, error) {
		return m.replay.Get(replayID)
	})
}

// Replays lists every replay.
func (m *Manager) Replays() core.Result {
	return m.guard("list replays", func() (any, error) {
		return m.replay.List(), nil
	})
}

// RemoveReplay stops and forgets a replay.
func (m *Manager) RemoveReplay(ctx context.Context, replayID string) core.Result {
	return m.guard("remove replay", func() (any, error) {
		return nil, m.replay.Remove(ctx, replayID)
	})
}
