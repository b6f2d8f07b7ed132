package testutil

import (
	"github.com/hupe1980/colloquy/core"
)

// SnapshotBuilder helps construct snapshots with fluent chaining for tests.
// Example:
//
//	snap := NewSnapshotBuilder("sess-1").Agents("a", "b").Exchanges(Conversation("a", "b", 4)...).Build()
type SnapshotBuilder struct {
	snap core.Snapshot
}

// NewSnapshotBuilder creates a builder for a pairwise snapshot with the given id.
func NewSnapshotBuilder(id string) *SnapshotBuilder {
	return &SnapshotBuilder{snap: core.Snapshot{
		ID:        id,
		Name:      "test dialogue",
		Type:      core.DialoguePairwise,
		CreatedAt: Epoch,
	}}
}

// Name sets the dialogue name (chainable).
func (b *SnapshotBuilder) Name(n string) *SnapshotBuilder { b.snap.Name = n; return b }

// Type sets the dialogue type (chainable).
func (b *SnapshotBuilder) Type(t core.DialogueType) *SnapshotBuilder { b.snap.Type = t; return b }

// Agents registers active mock agents and a matching config (chainable).
func (b *SnapshotBuilder) Agents(ids ...string) *SnapshotBuilder {
	for _, id := range ids {
		b.snap.Agents = append(b.snap.Agents, core.Agent{ID: id, Name: id, Platform: "mock", Active: true})
		b.snap.Config.Agents = append(b.snap.Config.Agents, core.AgentSpec{ID: id, Kind: "mock"})
	}
	return b
}

// Exchanges appends exchanges (chainable).
func (b *SnapshotBuilder) Exchanges(exs ...core.Exchange) *SnapshotBuilder {
	b.snap.Exchanges = append(b.snap.Exchanges, exs...)
	return b
}

// Interjections appends interjections (chainable).
func (b *SnapshotBuilder) Interjections(ins ...core.Interjection) *SnapshotBuilder {
	b.snap.Interjections = append(b.snap.Interjections, ins...)
	return b
}

// Build returns a *core.Snapshot with defaults applied to its config.
func (b *SnapshotBuilder) Build() *core.Snapshot {
	s := b.snap.Clone()
	s.Config.Name = s.Name
	s.Config.Type = s.Type
	s.Config.ApplyDefaults()
	return s
}
