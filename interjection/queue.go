// Package interjection implements the queue of out-of-band text injections
// applied to an agent's next prompt.
//
// Ordering is priority first (high > medium > low) and insertion order on
// ties. Targets are validated when an item is added. Each item is consumed at
// most once and stays in the audit list after consumption.
package interjection

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/colloquy/core"
)

type entry struct {
	in core.Interjection
}

// Queue holds pending and consumed interjections for one dialogue. It is safe
// for concurrent use: interjections may be added while a turn is in flight.
type Queue struct {
	mu      sync.Mutex
	agents  map[string]struct{}
	entries []*entry // insertion order
}

// NewQueue creates a queue accepting targets among agentIDs plus the broadcast
// keywords "both" and "all".
func NewQueue(agentIDs []string) *Queue {
	q := &Queue{agents: make(map[string]struct{}, len(agentIDs))}
	for _, id := range agentIDs {
		q.agents[id] = struct{}{}
	}
	return q
}

// Add validates and enqueues an interjection. Missing id, priority and
// timestamp are filled in. The stored copy is returned.
func (q *Queue) Add(in core.Interjection) (core.Interjection, error) {
	if !in.Type.Valid() {
		return core.Interjection{}, core.NewConfigurationError("type", "unknown interjection type %q", in.Type)
	}
	if in.Priority == "" {
		in.Priority = core.PriorityMedium
	}
	if !in.Priority.Valid() {
		return core.Interjection{}, core.NewConfigurationError("priority", "unknown priority %q", in.Priority)
	}
	in.Target = strings.TrimSpace(in.Target)

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.validateTargetLocked(in.Target); err != nil {
		return core.Interjection{}, err
	}
	if in.ID == "" {
		in.ID = core.NewID()
	}
	for _, e := range q.entries {
		if e.in.ID == in.ID {
			return core.Interjection{}, core.NewConfigurationError("id", "duplicate interjection id %q", in.ID)
		}
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}
	in.Consumed, in.ConsumedAt, in.ConsumedBy = false, nil, ""

	q.entries = append(q.entries, &entry{in: in})
	return in.Clone(), nil
}

func (q *Queue) validateTargetLocked(target string) error {
	switch target {
	case "":
		return core.NewConfigurationError("target", "must not be empty")
	case core.TargetBoth, core.TargetAll:
		return nil
	}
	if _, ok := q.agents[target]; !ok {
		return core.NewConfigurationError("target", "unknown agent %q", target)
	}
	return nil
}

// Next returns the highest priority pending interjection matching agentID and
// marks it consumed by that agent. The bool is false when nothing matches.
func (q *Queue) Next(agentID string) (core.Interjection, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	best := q.bestLocked(agentID)
	if best == nil {
		return core.Interjection{}, false
	}
	now := time.Now().UTC()
	best.in.Consumed = true
	best.in.ConsumedAt = &now
	best.in.ConsumedBy = agentID
	return best.in.Clone(), true
}

// Peek reports the interjection Next would return without consuming it.
func (q *Queue) Peek(agentID string) (core.Interjection, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	best := q.bestLocked(agentID)
	if best == nil {
		return core.Interjection{}, false
	}
	return best.in.Clone(), true
}

// bestLocked scans in insertion order so the first entry of the highest rank wins.
func (q *Queue) bestLocked(agentID string) *entry {
	var best *entry
	for _, e := range q.entries {
		if e.in.Consumed || !e.in.Matches(agentID) {
			continue
		}
		if best == nil || e.in.Priority.Rank() > best.in.Priority.Rank() {
			best = e
		}
	}
	return best
}

// Pending returns unconsumed interjections in consumption order.
func (q *Queue) Pending() []core.Interjection {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := make([]*entry, 0, len(q.entries))
	for _, e := range q.entries {
		if !e.in.Consumed {
			pending = append(pending, e)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].in.Priority.Rank() > pending[j].in.Priority.Rank()
	})
	out := make([]core.Interjection, len(pending))
	for i, e := range pending {
		out[i] = e.in.Clone()
	}
	return out
}

// All returns every interjection ever added, consumed or not, in insertion order.
func (q *Queue) All() []core.Interjection {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]core.Interjection, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.in.Clone()
	}
	return out
}

// Len returns the number of pending interjections.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, e := range q.entries {
		if !e.in.Consumed {
			n++
		}
	}
	return n
}
