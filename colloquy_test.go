package colloquy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/handle"
	"github.com/hupe1980/colloquy/internal/testutil"
	"github.com/hupe1980/colloquy/replay"
	"github.com/hupe1980/colloquy/spectator"
)

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

func (l *eventLog) count(t core.EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type brokenHandle struct{ id string }

func (h *brokenHandle) ID() string { return h.id }
func (h *brokenHandle) Name() string { return h.id }
func (h *brokenHandle) Init(context.Context) error { return nil }
func (h *brokenHandle) Close(context.Context) error { return nil }
func (h *brokenHandle) Send(context.Context, string) (string, error) {
	return "", errors.New("platform unavailable")
}

func mockConfig(rounds int) core.DialogueConfig {
	return core.DialogueConfig{
		Name:          "debate",
		InitialPrompt: "Is Go a good fit for orchestration?",
		MaxRounds:     core.Int(rounds),
		TurnDelay:     core.DurationOf(time.Millisecond),
		Agents: []core.AgentSpec{
			{ID: "pro", Name: "Pro", Kind: handle.KindMock},
			{ID: "con", Name: "Con", Kind: handle.KindMock},
		},
	}
}

func newManager(t *testing.T, optFns ...func(o *Options)) *Manager {
	t.Helper()
	m, err := New(optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func create(t *testing.T, m *Manager, cfg core.DialogueConfig) string {
	t.Helper()
	st, err := DataAs[core.DialogueState](m.CreateDialogue(context.Background(), cfg))
	require.NoError(t, err)
	assert.Equal(t, core.StatusIdle, st.Status)
	return st.DialogueID
}

func TestManager_RunToCompletion(t *testing.T) {
	m := newManager(t)
	events := &eventLog{}
	require.True(t, m.Subscribe(events).Success)

	id := create(t, m, mockConfig(2))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	started, err := DataAs[core.DialogueState](m.Start(ctx, id))
	require.NoError(t, err)
	assert.NotEqual(t, core.StatusIdle, started.Status)

	final, err := DataAs[core.DialogueState](m.Wait(ctx, id))
	require.NoError(t, err)
	assert.Equal(t, core.StatusStopped, final.Status)
	assert.Equal(t, core.StopReasonCompleted, final.StopReason)

	exs, err := DataAs[[]core.Exchange](m.Exchanges(id))
	require.NoError(t, err)
	require.Len(t, exs, 4)
	assert.Equal(t, "pro", exs[0].From)
	assert.Equal(t, "con", exs[0].To)
	assert.Equal(t, "con", exs[1].From)
	assert.Equal(t, 4, events.count(core.EventTurnEnd))

	sessions, err := DataAs[[]core.SnapshotSummary](m.Sessions(ctx))
	require.NoError(t, err)
	require.Len(t, sessions, 1, "finished dialogues are saved automatically")
	assert.Equal(t, id, sessions[0].ID)
	assert.Equal(t, 4, sessions[0].Exchanges)
}

func TestManager_StreamFlag(t *testing.T) {
	for _, stream := range []bool{false, true} {
		t.Run(map[bool]string{false: "off", true: "on"}[stream], func(t *testing.T) {
			m := newManager(t)
			events := &eventLog{}
			require.True(t, m.Subscribe(events).Success)

			cfg := mockConfig(1)
			for i := range cfg.Agents {
				cfg.Agents[i].Stream = stream
			}
			id := create(t, m, cfg)

			_, err := DataAs[*core.Exchange](m.Step(context.Background(), id))
			require.NoError(t, err)
			if stream {
				assert.Positive(t, events.count(core.EventStreamingChunk))
			} else {
				assert.Zero(t, events.count(core.EventStreamingChunk))
			}
			assert.Equal(t, 1, events.count(core.EventTurnEnd))
		})
	}
}

func TestManager_CreateDialogue_Invalid(t *testing.T) {
	m := newManager(t)

	single := mockConfig(1)
	single.Agents = single.Agents[:1]
	res := m.CreateDialogue(context.Background(), single)
	assert.False(t, res.Success)
	assert.Equal(t, core.CodeConfiguration, res.Error.Code)

	unknown := mockConfig(1)
	unknown.Agents[1].Kind = "telepathy"
	res = m.CreateDialogue(context.Background(), unknown)
	assert.False(t, res.Success)
	assert.Equal(t, core.CodeConfiguration, res.Error.Code)
	assert.Contains(t, res.Error.Message, "unsupported agent kind")

	list, err := DataAs[[]core.DialogueState](m.ListDialogues())
	require.NoError(t, err)
	assert.Empty(t, list, "rejected configurations never register a dialogue")
}

func TestManager_UnknownDialogue(t *testing.T) {
	m := newManager(t)
	for _, res := range []core.Result{
		m.State("nope"),
		m.Step(context.Background(), "nope"),
		m.Pause(context.Background(), "nope"),
		m.RemoveDialogue(context.Background(), "nope"),
	} {
		assert.False(t, res.Success)
		assert.Equal(t, core.CodeNotFound, res.Error.Code)
	}
}

func TestManager_StepAndInterject(t *testing.T) {
	m := newManager(t)
	id := create(t, m, mockConfig(3))
	ctx := context.Background()

	in, err := DataAs[core.Interjection](m.AddInterjection(ctx, id, core.Interjection{
		Type:   core.InterjectionDirection,
		Target: "con",
		Text:   "cite a source",
	}))
	require.NoError(t, err)
	assert.NotEmpty(t, in.ID)

	first, err := DataAs[*core.Exchange](m.Step(ctx, id))
	require.NoError(t, err)
	assert.Equal(t, "pro", first.From)
	assert.Empty(t, first.InterjectionID)

	second, err := DataAs[*core.Exchange](m.Step(ctx, id))
	require.NoError(t, err)
	assert.Equal(t, "con", second.From)
	assert.Equal(t, in.ID, second.InterjectionID)
	assert.Contains(t, second.Prompt, "cite a source")

	res := m.AddInterjection(ctx, id, core.Interjection{Type: core.InterjectionDirection, Target: "nobody"})
	assert.False(t, res.Success)
	assert.Equal(t, core.CodeConfiguration, res.Error.Code)

	all, err := DataAs[[]core.Interjection](m.Interjections(id))
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Consumed)
}

func TestManager_PauseInterjectionPausesLoop(t *testing.T) {
	m := newManager(t)
	cfg := mockConfig(0)
	cfg.TurnDelay = core.DurationOf(time.Hour)
	id := create(t, m, cfg)
	ctx := context.Background()

	require.True(t, m.Start(ctx, id).Success)
	_, err := DataAs[core.Interjection](m.AddInterjection(ctx, id, core.Interjection{Type: core.InterjectionPause, Target: core.TargetAll}))
	require.NoError(t, err)

	st, err := DataAs[core.DialogueState](m.State(id))
	require.NoError(t, err)
	assert.Equal(t, core.StatusPaused, st.Status)

	_, err = DataAs[core.Interjection](m.AddInterjection(ctx, id, core.Interjection{Type: core.InterjectionResume, Target: core.TargetAll}))
	require.NoError(t, err)
	st, _ = DataAs[core.DialogueState](m.State(id))
	assert.Equal(t, core.StatusRunning, st.Status)

	res := m.Start(ctx, id)
	assert.False(t, res.Success)
	assert.Equal(t, core.CodeConflict, res.Error.Code)

	st, err = DataAs[core.DialogueState](m.Stop(ctx, id))
	require.NoError(t, err)
	assert.Equal(t, core.StatusStopped, st.Status)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.True(t, m.Wait(waitCtx, id).Success, "stop interrupts the turn delay")
}

func TestManager_HaltingFailure(t *testing.T) {
	m := newManager(t, func(o *Options) { o.AutoSave = false })
	cfg := core.DialogueConfig{
		InitialPrompt: "hello",
		MaxRounds:     core.Int(3),
		Failure:       core.FailureConfig{Policy: core.FailureHalt, MaxAttempts: 1},
	}
	handles := []core.AgentHandle{&brokenHandle{id: "a"}, &brokenHandle{id: "b"}}
	st, err := DataAs[core.DialogueState](m.CreateDialogueWithHandles(context.Background(), cfg, handles))
	require.NoError(t, err)

	res := m.Step(context.Background(), st.DialogueID)
	assert.False(t, res.Success)
	assert.Equal(t, core.CodeAgentCall, res.Error.Code)

	final, err := DataAs[core.DialogueState](m.State(st.DialogueID))
	require.NoError(t, err)
	assert.Equal(t, core.StopReasonHalted, final.StopReason)
	assert.Equal(t, 1, final.Exchanges, "the failed attempt is recorded")
}

func TestManager_CreateDialogueWithHandles_Mismatch(t *testing.T) {
	m := newManager(t)
	cfg := mockConfig(1)
	res := m.CreateDialogueWithHandles(context.Background(), cfg, []core.AgentHandle{&brokenHandle{id: "x"}, &brokenHandle{id: "y"}})
	assert.False(t, res.Success)
	assert.Equal(t, core.CodeConfiguration, res.Error.Code)
}

func TestManager_ExportImportReplay(t *testing.T) {
	src := newManager(t, func(o *Options) { o.AutoSave = false })
	id := create(t, src, mockConfig(2))
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.True(t, src.Step(ctx, id).Success)
	}
	snap, err := DataAs[*core.Snapshot](src.Export(ctx, id))
	require.NoError(t, err)
	require.Len(t, snap.Exchanges, 4)

	dst := newManager(t)
	obs := spectator.NewChannelObserver(32)
	require.True(t, dst.Subscribe(obs, core.EventReplayExchange, core.EventReplayCompleted).Success)

	sum, err := DataAs[core.SnapshotSummary](dst.Import(ctx, snap))
	require.NoError(t, err)
	assert.Equal(t, snap.ID, sum.ID)

	loaded, err := DataAs[*core.Snapshot](dst.LoadSession(ctx, snap.ID))
	require.NoError(t, err)
	assert.Equal(t, snap.Exchanges, loaded.Exchanges)

	cfg := replay.DefaultConfig()
	cfg.Speed = replay.SpeedInstant
	status, err := DataAs[replay.Status](dst.CreateReplay(ctx, snap.ID, cfg))
	require.NoError(t, err)
	assert.Equal(t, 4, status.Total)

	require.True(t, dst.PlayReplay(ctx, status.ID).Success)

	var replayed int
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case e := <-obs.Events():
			switch e.Type {
			case core.EventReplayExchange:
				replayed++
			case core.EventReplayCompleted:
				done = true
			}
		case <-timeout:
			t.Fatal("replay did not complete")
		}
	}
	assert.Equal(t, 4, replayed)

	res := dst.CreateReplay(ctx, "missing", cfg)
	assert.False(t, res.Success)
	assert.Equal(t, core.CodeReplay, res.Error.Code)

	require.True(t, dst.DeleteSession(ctx, snap.ID).Success)
	assert.False(t, dst.LoadSession(ctx, snap.ID).Success)
}

func TestManager_RemoveDialogue(t *testing.T) {
	m := newManager(t)
	id := create(t, m, mockConfig(1))

	require.True(t, m.RemoveDialogue(context.Background(), id).Success)
	assert.Equal(t, core.CodeNotFound, m.State(id).Error.Code)
}

func TestManager_SetAgentActive(t *testing.T) {
	m := newManager(t)
	cfg := mockConfig(1)
	cfg.SkipInactiveAgents = true
	id := create(t, m, cfg)

	st, err := DataAs[core.DialogueState](m.SetAgentActive(context.Background(), id, "pro", false))
	require.NoError(t, err)
	for _, a := range st.Agents {
		assert.Equal(t, a.ID != "pro", a.Active)
	}

	ex, err := DataAs[*core.Exchange](m.Step(context.Background(), id))
	require.NoError(t, err)
	assert.Equal(t, "con", ex.From)

	res := m.SetAgentActive(context.Background(), id, "ghost", true)
	assert.False(t, res.Success)
}

func TestGuard_RecoversPanics(t *testing.T) {
	m := newManager(t)
	res := m.guard("boom", func() (any, error) { panic("kaboom") })
	assert.False(t, res.Success)
	assert.Equal(t, core.CodeInternal, res.Error.Code)
	assert.Contains(t, res.Error.Message, "kaboom")
}

func TestDataAs(t *testing.T) {
	n, err := DataAs[int](core.OK(3))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = DataAs[string](core.OK(3))
	assert.Error(t, err)

	_, err = DataAs[int](core.Fail(core.ErrNotFound))
	assert.Error(t, err)
}

func TestManager_Import_NormalizesTimestamps(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	berlin := time.FixedZone("CET", 3600)

	snap := testutil.NewSnapshotBuilder("imported").
		Agents("a", "b").
		Exchanges(testutil.Conversation("a", "b", 2)...).
		Build()
	snap.CreatedAt = testutil.Epoch.In(berlin)
	for i := range snap.Exchanges {
		snap.Exchanges[i].Timestamp = snap.Exchanges[i].Timestamp.In(berlin)
	}

	_, err := DataAs[core.SnapshotSummary](m.Import(ctx, snap))
	require.NoError(t, err)

	stored, err := DataAs[*core.Snapshot](m.LoadSession(ctx, "imported"))
	require.NoError(t, err)
	assert.Equal(t, time.UTC, stored.CreatedAt.Location())
	require.Len(t, stored.Exchanges, 2)
	for _, ex := range stored.Exchanges {
		assert.Equal(t, time.UTC, ex.Timestamp.Location())
	}
	assert.True(t, stored.CreatedAt.Equal(testutil.Epoch))
	assert.Equal(t, berlin, snap.CreatedAt.Location(), "the caller's snapshot is not modified")
}
