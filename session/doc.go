// Package session houses concrete implementations of core.SnapshotStore,
// the persistence contract for exported dialogue sessions.
//
// InMemoryStore suits tests and ephemeral servers, SQLiteStore keeps every
// session in one database file and FileStore writes one JSON document per
// session, replacing files atomically so readers never observe a partial
// snapshot. All stores return core.ErrNotFound (wrapped) for unknown ids.
package session
