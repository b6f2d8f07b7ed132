package core

import (
	"context"
	"time"
)

// RateDecision is the answer of a RateLimiter. WaitTime is only meaningful
// when Allowed is false.
type RateDecision struct {
	Allowed  bool          `json:"allowed"`
	WaitTime time.Duration `json:"wait_time,omitempty"`
}

// RateLimiter gates agent calls per (platform, identity). Implementations
// serialize access per key while allowing cross-key parallelism. An allowed
// decision consumes one request.
type RateLimiter interface {
	CanMakeRequest(ctx context.Context, platform, identity string) (RateDecision, error)
}

// MemoryProvider supplies an optional read-only block of text that context
// synthesis prepends. The orchestration core never inspects its contents.
type MemoryProvider interface {
	MemoryContext(ctx context.Context, dialogueID, agentID string) (string, error)
}

// SnapshotStore persists exported sessions. Implementations should be safe for
// concurrent use and return ErrNotFound (possibly wrapped) for unknown ids.
type SnapshotStore interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context, id string) (*Snapshot, error)
	List(ctx context.Context) ([]SnapshotSummary, error)
	Delete(ctx context.Context, id string) error
}
