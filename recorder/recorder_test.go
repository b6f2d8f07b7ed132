package recorder

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/internal/testutil"
)

func TestRecordExchange_RejectsOutOfOrder(t *testing.T) {
	r := New()
	require.NoError(t, r.RecordExchange(testutil.NewExchangeBuilder().Position(0, 0).Build()))
	require.NoError(t, r.RecordExchange(testutil.NewExchangeBuilder().Position(0, 1).Build()))

	err := r.RecordExchange(testutil.NewExchangeBuilder().Position(0, 1).Build())
	assert.Error(t, err, "duplicate position")
	err = r.RecordExchange(testutil.NewExchangeBuilder().Position(0, 0).Build())
	assert.Error(t, err, "earlier position")

	require.NoError(t, r.RecordExchange(testutil.NewExchangeBuilder().Position(1, 0).Build()))
	assert.Equal(t, 3, r.Len())
}

func TestExchanges_ReturnsCopies(t *testing.T) {
	r := New()
	require.NoError(t, r.RecordExchange(testutil.NewExchangeBuilder().Tokens(10).Response("hi").Build()))

	got := r.Exchanges()
	got[0].Response = "changed"
	*got[0].TokenCount = 99

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, "hi", last.Response)
	assert.Equal(t, 10, *last.TokenCount)
}

func TestRecordInterjection_UpsertKeepsPosition(t *testing.T) {
	r := New()
	r.RecordInterjection(core.Interjection{ID: "i1", Type: core.InterjectionDirection, Text: "one"})
	r.RecordInterjection(core.Interjection{ID: "i2", Type: core.InterjectionDirection, Text: "two"})

	now := time.Now()
	r.RecordInterjection(core.Interjection{ID: "i1", Type: core.InterjectionDirection, Text: "one", Consumed: true, ConsumedAt: &now, ConsumedBy: "agent1"})

	all := r.Interjections()
	require.Len(t, all, 2)
	assert.Equal(t, "i1", all[0].ID)
	assert.True(t, all[0].Consumed)
	assert.Equal(t, "i2", all[1].ID)
}

func TestExportEncodeDecode_RoundTrip(t *testing.T) {
	r := New()
	for _, ex := range testutil.Conversation("agent1", "agent2", 4) {
		require.NoError(t, r.RecordExchange(ex))
	}
	consumedAt := testutil.Epoch.Add(time.Minute)
	r.RecordInterjection(core.Interjection{
		ID: "i1", Type: core.InterjectionSideQuestion, Text: "why?", Target: core.TargetBoth,
		Priority: core.PriorityHigh, Timestamp: time.Now(), Consumed: true, ConsumedAt: &consumedAt, ConsumedBy: "agent2",
	})

	cfg := core.DialogueConfig{Name: "debate", Type: core.DialoguePairwise, Agents: []core.AgentSpec{{ID: "agent1", Kind: "mock"}, {ID: "agent2", Kind: "mock"}}}
	cfg.ApplyDefaults()

	snap := r.Export(Header{
		ID:     "sess-1",
		Name:   "debate",
		Type:   core.DialoguePairwise,
		Agents: []core.Agent{{ID: "agent1", Name: "agent1", Active: true}, {ID: "agent2", Name: "agent2", Active: true}},
		Config: cfg,
	})

	data, err := EncodeSnapshot(snap)
	require.NoError(t, err)
	decoded, err := DecodeSnapshot(data)
	require.NoError(t, err)

	assert.Equal(t, snap, decoded)

	restored, err := Import(decoded)
	require.NoError(t, err)
	assert.Equal(t, r.Exchanges(), restored.Exchanges())
	assert.Equal(t, r.Interjections(), restored.Interjections())
	assert.Equal(t, decoded, restored.Export(HeaderOf(decoded)))
}

func TestDecodeSnapshot_Corrupt(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{"id": "x", "exchanges": [`},
		{"missing id", `{"agents": [], "exchanges": []}`},
		{"unknown agent", `{"id": "x", "agents": [{"id": "a"}], "exchanges": [{"from": "b", "round": 0, "turn": 0}]}`},
		{"out of order", `{"id": "x", "agents": [{"id": "a"}], "exchanges": [{"from": "a", "round": 1, "turn": 0}, {"from": "a", "round": 0, "turn": 1}]}`},
		{"bad interjection", `{"id": "x", "interjections": [{"id": "i", "type": "shout"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSnapshot([]byte(tt.data))
			var replayErr *core.ReplayError
			require.True(t, errors.As(err, &replayErr), "got %v", err)
			assert.Equal(t, core.CodeReplay, core.ErrorCode(err))
		})
	}
}
