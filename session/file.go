package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/recorder"
)

var _ core.SnapshotStore = (*FileStore)(nil)

const fileExt = ".json"

// FileStore keeps one JSON snapshot file per session in a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, core.NewConfigurationError("dir", "file store requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory holding the snapshot files.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", core.NewConfigurationError("id", "invalid session id %q", id)
	}
	return filepath.Join(s.dir, id+fileExt), nil
}

// Save writes the snapshot atomically.
func (s *FileStore) Save(_ context.Context, snap *core.Snapshot) error {
	if err := checkSnapshot(snap); err != nil {
		return err
	}
	p, err := s.path(snap.ID)
	if err != nil {
		return err
	}
	data, err := recorder.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return WriteSnapshotFile(p, data)
}

// WriteSnapshotFile atomically replaces path with an encoded snapshot.
func WriteSnapshotFile(path string, data []byte) error {
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write snapshot file %s: %w", path, err)
	}
	return nil
}

// ReadSnapshotFile decodes a snapshot file. A missing file yields a
// *core.ReplayError wrapping core.ErrNotFound.
func ReadSnapshotFile(path string) (*core.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &core.ReplayError{Message: "snapshot file " + path + " does not exist", Err: core.ErrNotFound}
		}
		return nil, fmt.Errorf("read snapshot file: %w", err)
	}
	return recorder.DecodeSnapshot(data)
}

// Load reads and decodes a snapshot file.
func (s *FileStore) Load(_ context.Context, id string) (*core.Snapshot, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}
	snap, err := recorder.DecodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// List decodes every snapshot file in the directory. Unreadable files are
// reported as errors rather than skipped.
func (s *FileStore) List(ctx context.Context) ([]core.SnapshotSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := []core.SnapshotSummary{}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != fileExt {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		snap, err := s.Load(ctx, strings.TrimSuffix(e.Name(), fileExt))
		if err != nil {
			return nil, err
		}
		out = append(out, snap.Summary())
	}
	sortSummaries(out)
	return out, nil
}

// Delete removes a snapshot file.
func (s *FileStore) Delete(_ context.Context, id string) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFound(id)
		}
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}
