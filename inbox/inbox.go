// Package inbox turns files dropped into a directory into interjections.
//
// Operators running a dialogue from the command line can write a YAML or
// JSON document (type, text, target, priority) or a plain .txt file into the
// inbox directory. Each file is decoded, handed to the handler and moved to
// the processed/ (or failed/) sub directory.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"

	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/logging"
)

// DefaultDebounce is how long a file must stay quiet before it is read.
const DefaultDebounce = 300 * time.Millisecond

// Sub directories receiving handled files.
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// Handler receives every decoded interjection.
type Handler func(ctx context.Context, in core.Interjection) error

// Options configures a Watcher.
type Options struct {
	// DefaultTarget is used when a document names no target, and for .txt files.
	DefaultTarget string
	// TextType is the interjection type of .txt files.
	TextType core.InterjectionType
	// Debounce delays processing until no further event arrived for the
	// file, so multi-write drops are read once complete.
	Debounce time.Duration
	Logger   logging.Logger
}

// Watcher watches an inbox directory.
type Watcher struct {
	dir     string
	handler Handler
	opts    Options

	mu sync.Mutex // serializes file processing
}

type document struct {
	Type     core.InterjectionType `yaml:"type"`
	Text     string                `yaml:"text"`
	Target   string                `yaml:"target"`
	Priority core.Priority         `yaml:"priority"`
}

// New creates the inbox directory tree and returns a Watcher.
func New(dir string, handler Handler, optFns ...func(o *Options)) (*Watcher, error) {
	if handler == nil {
		return nil, core.NewConfigurationError("handler", "must not be nil")
	}
	opts := Options{DefaultTarget: core.TargetAll, TextType: core.InterjectionDirection, Debounce: DefaultDebounce}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoop(opts.Logger)

	for _, sub := range []string{ProcessedDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create inbox directory: %w", err)
		}
	}
	return &Watcher{dir: dir, handler: handler, opts: opts}, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Run processes files already present, then every file created or written
// until ctx is done. A file is read once Debounce has passed without another
// event for it.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.opts.Logger.Info("watching inbox for interjections", "dir", w.dir)

	w.ProcessExisting(ctx)

	var (
		pending = make(map[string]*time.Timer)
		ready   = make(chan string)
		done    = make(chan struct{})
	)
	defer func() {
		close(done)
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !supported(ev.Name) {
				continue
			}
			if t, ok := pending[ev.Name]; ok {
				t.Stop()
			}
			name := ev.Name
			pending[name] = time.AfterFunc(w.opts.Debounce, func() {
				select {
				case ready <- name:
				case <-done:
				}
			})
		case name := <-ready:
			delete(pending, name)
			if _, err := w.ProcessFile(ctx, name); err != nil {
				w.opts.Logger.Warn("inbox file rejected", "file", name, "error", err)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.opts.Logger.Warn("inbox watcher error", "error", err)
		}
	}
}

// ProcessExisting handles every file currently in the inbox.
func (w *Watcher) ProcessExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.opts.Logger.Warn("read inbox", "dir", w.dir, "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := w.ProcessFile(ctx, filepath.Join(w.dir, e.Name())); err != nil {
			w.opts.Logger.Warn("inbox file rejected", "file", e.Name(), "error", err)
		}
	}
}

// ProcessFile decodes one file and hands it to the handler. It reports false
// without error for files that are skipped: unsupported extensions, empty
// files still being written and files that are already gone.
func (w *Watcher) ProcessFile(ctx context.Context, path string) (bool, error) {
	if !supported(path) {
		return false, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return false, nil
	}

	in, err := w.decode(path, data)
	if err == nil {
		err = w.handler(ctx, in)
	}
	if err != nil {
		w.move(path, FailedDir)
		return false, err
	}
	w.move(path, ProcessedDir)
	w.opts.Logger.Info("interjection received from inbox", "file", filepath.Base(path), "type", in.Type, "target", in.Target)
	return true, nil
}

func (w *Watcher) decode(path string, data []byte) (core.Interjection, error) {
	if strings.EqualFold(filepath.Ext(path), ".txt") {
		return core.Interjection{
			Type:   w.opts.TextType,
			Text:   strings.TrimSpace(string(data)),
			Target: w.opts.DefaultTarget,
		}, nil
	}
	var doc document
	if err := yaml.UnmarshalWithOptions(data, &doc, yaml.DisallowUnknownField()); err != nil {
		return core.Interjection{}, &core.ConfigurationError{Field: filepath.Base(path), Message: yaml.FormatError(err, false, false)}
	}
	if doc.Target == "" {
		doc.Target = w.opts.DefaultTarget
	}
	return core.Interjection{Type: doc.Type, Text: doc.Text, Target: doc.Target, Priority: doc.Priority}, nil
}

func (w *Watcher) move(path, sub string) {
	dst := filepath.Join(w.dir, sub, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		w.opts.Logger.Warn("move inbox file", "file", path, "error", err)
	}
}

func supported(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json", ".txt":
		return true
	}
	return false
}
