package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/recorder"
)

var _ core.SnapshotStore = (*SQLiteStore)(nil)

// SQLiteStore implements core.SnapshotStore using SQLite. The snapshot
// document is stored as JSON next to the columns needed for listing.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, core.NewConfigurationError("path", "sqlite store requires a path")
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids "database is locked".
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		agents INTEGER NOT NULL,
		exchanges INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		document TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create snapshots table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save inserts or replaces the snapshot.
func (s *SQLiteStore) Save(ctx context.Context, snap *core.Snapshot) error {
	if err := checkSnapshot(snap); err != nil {
		return err
	}
	doc, err := recorder.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO snapshots (id, name, type, agents, exchanges, created_at, document) VALUES (?, ?, ?, ?, ?, ?, ?)",
		snap.ID, snap.Name, string(snap.Type), len(snap.Agents), len(snap.Exchanges),
		snap.CreatedAt.UTC().Format(time.RFC3339Nano), string(doc))
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// Load reads and decodes a snapshot. A corrupt document yields *core.ReplayError.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*core.Snapshot, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, "SELECT document FROM snapshots WHERE id = ?", id).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("failed to load snapshot %s: %w", id, err)
	}
	snap, err := recorder.DecodeSnapshot([]byte(doc))
	if err != nil {
		var replayErr *core.ReplayError
		if errors.As(err, &replayErr) && replayErr.SessionID == "" {
			replayErr.SessionID = id
		}
		return nil, err
	}
	return snap, nil
}

// List returns summaries, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]core.SnapshotSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, type, agents, exchanges, created_at FROM snapshots ORDER BY created_at DESC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	out := []core.SnapshotSummary{}
	for rows.Next() {
		var (
			sum       core.SnapshotSummary
			typ       string
			createdAt string
		)
		if err := rows.Scan(&sum.ID, &sum.Name, &typ, &sum.Agents, &sum.Exchanges, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		sum.Type = core.DialogueType(typ)
		if sum.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("snapshot %s has invalid created_at: %w", sum.ID, err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot rows: %w", err)
	}
	// RFC3339Nano strings do not sort chronologically when fractions differ.
	sortSummaries(out)
	return out, nil
}

// Delete removes a snapshot.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound(id)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
