package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType names one event on the spectator wire contract. The string values
// are stable and shared by live dialogues, replays, websocket clients and the
// CLI printer.
type EventType string

const (
	EventTurnStart          EventType = "turn_start"
	EventTurnEnd            EventType = "turn_end"
	EventStreamingChunk     EventType = "streaming_chunk"
	EventContextSynthesized EventType = "context_synthesized"
	EventAgentStatusChanged EventType = "agent_status_changed"
	EventInterjectionAdded  EventType = "interjection_added"
	EventError              EventType = "error"
	EventReplayStarted      EventType = "replay_started"
	EventReplayExchange     EventType = "replay_exchange"
	EventReplayPaused       EventType = "replay_paused"
	EventReplayCompleted    EventType = "replay_completed"
)

// AllEventTypes lists every event type in declaration order.
var AllEventTypes = []EventType{
	EventTurnStart,
	EventTurnEnd,
	EventStreamingChunk,
	EventContextSynthesized,
	EventAgentStatusChanged,
	EventInterjectionAdded,
	EventError,
	EventReplayStarted,
	EventReplayExchange,
	EventReplayPaused,
	EventReplayCompleted,
}

// Event is a single notification dispatched to spectators. Payload holds one
// of the *Payload structs below matching Type. Events are treated as immutable
// after publication.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	DialogueID string    `json:"dialogue_id"`
	Timestamp  time.Time `json:"timestamp"`
	Payload    any       `json:"payload"`
}

// NewEvent creates an event with a fresh id and UTC timestamp.
func NewEvent(eventType EventType, dialogueID string, payload any) Event {
	return Event{
		ID:         NewID(),
		Type:       eventType,
		DialogueID: dialogueID,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	}
}

// NewID returns a new random identifier.
func NewID() string { return uuid.NewString() }

// TurnStartPayload is emitted right before an agent is called.
type TurnStartPayload struct {
	Round          int    `json:"round"`
	Turn           int    `json:"turn"`
	AgentID        string `json:"agent_id"`
	AgentName      string `json:"agent_name"`
	To             string `json:"to"`
	Prompt         string `json:"prompt"`
	InterjectionID string `json:"interjection_id,omitempty"`
}

// TurnEndPayload carries the exchange recorded for a completed turn.
type TurnEndPayload struct {
	Exchange Exchange `json:"exchange"`
}

// StreamingChunkPayload carries incremental output of an in-flight call.
type StreamingChunkPayload struct {
	Round   int    `json:"round"`
	Turn    int    `json:"turn"`
	AgentID string `json:"agent_id"`
	Chunk   string `json:"chunk"`
}

// ContextSynthesizedPayload describes the context built for the next call.
type ContextSynthesizedPayload struct {
	Round     int    `json:"round"`
	Turn      int    `json:"turn"`
	AgentID   string `json:"agent_id"`
	Strategy  string `json:"strategy"`
	Exchanges int    `json:"exchanges"`
	Context   string `json:"context"`
}

// AgentStatusChangedPayload reports an activation toggle.
type AgentStatusChangedPayload struct {
	AgentID string `json:"agent_id"`
	Active  bool   `json:"active"`
}

// InterjectionAddedPayload reports a newly queued interjection.
type InterjectionAddedPayload struct {
	Interjection Interjection `json:"interjection"`
}

// ErrorPayload reports a failure. Fatal is true when the dialogue halted.
type ErrorPayload struct {
	AgentID string `json:"agent_id,omitempty"`
	Round   int    `json:"round"`
	Turn    int    `json:"turn"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Attempt int    `json:"attempt,omitempty"`
	Fatal   bool   `json:"fatal"`
}

// ReplayStartedPayload is emitted when playback begins or resumes.
type ReplayStartedPayload struct {
	ReplayID  string `json:"replay_id"`
	SessionID string `json:"session_id"`
	Total     int    `json:"total"`
	Index     int    `json:"index"`
	Speed     string `json:"speed"`
}

// ReplayExchangePayload carries one replayed exchange.
type ReplayExchangePayload struct {
	ReplayID     string        `json:"replay_id"`
	Index        int           `json:"index"`
	Total        int           `json:"total"`
	Exchange     Exchange      `json:"exchange"`
	Interjection *Interjection `json:"interjection,omitempty"`
}

// ReplayPausedPayload is emitted when playback pauses.
type ReplayPausedPayload struct {
	ReplayID string `json:"replay_id"`
	Index    int    `json:"index"`
}

// ReplayCompletedPayload is emitted when playback ends. Stopped is true when
// the replay was stopped before reaching the end.
type ReplayCompletedPayload struct {
	ReplayID string `json:"replay_id"`
	Total    int    `json:"total"`
	Loops    int    `json:"loops"`
	Stopped  bool   `json:"stopped"`
}
