// Package recorder keeps the ordered history of a dialogue and converts it to
// and from transportable snapshots.
package recorder

import (
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/colloquy/core"
)

// Header carries the session metadata written into an exported snapshot.
type Header struct {
	ID        string
	Name      string
	Type      core.DialogueType
	Agents    []core.Agent
	Config    core.DialogueConfig
	CreatedAt time.Time
}

// Recorder is an append-only, thread-safe log of exchanges plus the audit
// list of interjections. Exchanges must be appended in strictly increasing
// (round, turn) order.
type Recorder struct {
	mu            sync.RWMutex
	exchanges     []core.Exchange
	interjections []core.Interjection
	byID          map[string]int // interjection id -> index
}

// New creates an empty recorder.
func New() *Recorder {
	return &Recorder{byID: make(map[string]int)}
}

// Import creates a recorder holding the snapshot's history. Exporting the
// result under the snapshot's header yields a deep-equal snapshot.
func Import(snap *core.Snapshot) (*Recorder, error) {
	if snap == nil {
		return nil, &core.ReplayError{Message: "nil snapshot"}
	}
	r := New()
	for i, ex := range snap.Exchanges {
		if err := r.RecordExchange(ex); err != nil {
			return nil, &core.ReplayError{SessionID: snap.ID, Message: fmt.Sprintf("exchange %d", i), Err: err}
		}
	}
	for _, in := range snap.Interjections {
		r.RecordInterjection(in)
	}
	return r, nil
}

// RecordExchange appends ex. It fails when ex does not sort strictly after
// the last recorded exchange.
func (r *Recorder) RecordExchange(ex core.Exchange) error {
	ex = ex.Clone()
	ex.Timestamp = normalize(ex.Timestamp)

	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.exchanges); n > 0 {
		last := r.exchanges[n-1]
		if !last.Before(ex) {
			return fmt.Errorf("exchange (%d,%d) does not follow (%d,%d)", ex.Round, ex.Turn, last.Round, last.Turn)
		}
	}
	if ex.ID == "" {
		ex.ID = core.NewID()
	}
	r.exchanges = append(r.exchanges, ex)
	return nil
}

// RecordInterjection stores or updates an interjection. Updates keep the
// original position so the audit list stays in insertion order.
func (r *Recorder) RecordInterjection(in core.Interjection) {
	in = in.Clone()
	in.Timestamp = normalize(in.Timestamp)
	if in.ConsumedAt != nil {
		t := normalize(*in.ConsumedAt)
		in.ConsumedAt = &t
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if i, ok := r.byID[in.ID]; ok {
		r.interjections[i] = in
		return
	}
	r.byID[in.ID] = len(r.interjections)
	r.interjections = append(r.interjections, in)
}

// Exchanges returns a copy of the recorded exchanges.
func (r *Recorder) Exchanges() []core.Exchange {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return core.CloneExchanges(r.exchanges)
}

// Interjections returns a copy of the interjection audit list.
func (r *Recorder) Interjections() []core.Interjection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return core.CloneInterjections(r.interjections)
}

// Len returns the number of recorded exchanges.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.exchanges)
}

// Last returns the most recent exchange.
func (r *Recorder) Last() (core.Exchange, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.exchanges) == 0 {
		return core.Exchange{}, false
	}
	return r.exchanges[len(r.exchanges)-1].Clone(), true
}

// Export builds a snapshot of the recorded history under h.
func (r *Recorder) Export(h Header) *core.Snapshot {
	created := h.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	snap := &core.Snapshot{
		ID:            h.ID,
		Name:          h.Name,
		Type:          h.Type,
		Agents:        append([]core.Agent(nil), h.Agents...),
		Exchanges:     r.Exchanges(),
		Interjections: r.Interjections(),
		CreatedAt:     normalize(created),
		Config:        h.Config.Clone(),
	}
	return snap
}

// normalize drops the monotonic clock reading and location so timestamps
// compare equal after a JSON round trip.
func normalize(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Round(0)
}

// HeaderOf returns the header of an existing snapshot.
func HeaderOf(snap *core.Snapshot) Header {
	return Header{
		ID:        snap.ID,
		Name:      snap.Name,
		Type:      snap.Type,
		Agents:    snap.Agents,
		Config:    snap.Config,
		CreatedAt: snap.CreatedAt,
	}
}
