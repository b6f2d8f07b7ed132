package core

import "context"

// Broadcast targets accepted wherever an agent id is expected as an addressee.
const (
	TargetBoth = "both"
	TargetAll  = "all"
)

// AgentHandle defines the contract of one conversational participant.
//
// The orchestration core treats every implementation identically: platform
// adapters, model-backed handles and test doubles. Send may be slow and may
// fail; the scheduler guarantees it is never called concurrently for the same
// dialogue.
type AgentHandle interface {
	ID() string
	Name() string
	Init(ctx context.Context) error
	Send(ctx context.Context, prompt string) (string, error)
	Close(ctx context.Context) error
}

// StreamingHandle is implemented by handles able to surface incremental
// output. onChunk is invoked synchronously for every partial piece of text
// before SendStream returns the full response.
type StreamingHandle interface {
	AgentHandle
	SendStream(ctx context.Context, prompt string, onChunk func(chunk string)) (string, error)
}

// PlatformHandle exposes the (platform, identity) pair used as rate-limit key.
type PlatformHandle interface {
	Platform() string
	Identity() string
}

// UsageReporter is implemented by handles that know the token count of their
// most recent successful Send.
type UsageReporter interface {
	LastTokenCount() int
}

// Agent is the participant record owned by a dialogue. Active is toggled only
// through the scheduler.
type Agent struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Platform string `json:"platform,omitempty"`
	Active   bool   `json:"active"`
}
