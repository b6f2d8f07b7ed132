package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/colloquy/core"
)

var _ core.SnapshotStore = (*InMemoryStore)(nil)

// InMemoryStore is a volatile SnapshotStore implementation storing
// snapshots in a process local map. It is safe for concurrent access and best
// suited for tests or ephemeral demo servers. Snapshots are cloned on the way
// in and out to prevent external mutation of internal state.
type InMemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*core.Snapshot
}

// NewInMemoryStore constructs an empty in-memory snapshot store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{snapshots: make(map[string]*core.Snapshot)}
}

// Save stores a clone of the snapshot, overwriting any previous version.
func (s *InMemoryStore) Save(_ context.Context, snap *core.Snapshot) error {
	if err := checkSnapshot(snap); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.ID] = snap.Clone()
	return nil
}

// Load returns a clone of the stored snapshot.
func (s *InMemoryStore) Load(_ context.Context, id string) (*core.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return nil, notFound(id)
	}
	return snap.Clone(), nil
}

// List returns summaries, newest first.
func (s *InMemoryStore) List(_ context.Context) ([]core.SnapshotSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.SnapshotSummary, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap.Summary())
	}
	sortSummaries(out)
	return out, nil
}

// Delete removes a snapshot.
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[id]; !ok {
		return notFound(id)
	}
	delete(s.snapshots, id)
	return nil
}

func checkSnapshot(snap *core.Snapshot) error {
	if snap == nil {
		return core.NewConfigurationError("snapshot", "must not be nil")
	}
	if snap.ID == "" {
		return core.NewConfigurationError("snapshot.id", "must not be empty")
	}
	return nil
}

func notFound(id string) error {
	return fmt.Errorf("session %s: %w", id, core.ErrNotFound)
}

// sortSummaries orders newest first, ties by id.
func sortSummaries(s []core.SnapshotSummary) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].CreatedAt.After(s[j].CreatedAt)
		}
		return s[i].ID < s[j].ID
	})
}
