package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/colloquy"
	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/logging"
	"github.com/hupe1980/colloquy/session"
)

type globalFlags struct {
	logLevel  string
	logFormat string
	logSource bool
	store     string
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	cmd := &cobra.Command{
		Use:           "colloquy",
		Short:         "Orchestrate conversations between AI agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "Log format (text or json)")
	cmd.PersistentFlags().BoolVar(&g.logSource, "log-source", false, "Include source locations in log records")
	cmd.PersistentFlags().StringVar(&g.store, "store", "colloquy.db", `Session store: a SQLite file (*.db, *.sqlite), a directory of JSON files, or "memory"`)

	cmd.AddCommand(
		newRunCmd(&g),
		newReplayCmd(&g),
		newServeCmd(&g),
		newSessionsCmd(&g),
	)
	return cmd
}

func (g *globalFlags) logger() (*logging.DialogueLogger, error) {
	level, err := logging.ParseLevel(g.logLevel)
	if err != nil {
		return nil, err
	}
	if g.logFormat != "text" && g.logFormat != "json" {
		return nil, fmt.Errorf("unknown log format %q", g.logFormat)
	}
	return logging.NewSlogLogger(level, g.logFormat, g.logSource), nil
}

// openStore returns the configured snapshot store and a function releasing it.
func (g *globalFlags) openStore(ctx context.Context) (core.SnapshotStore, func() error, error) {
	noop := func() error { return nil }
	switch ext := strings.ToLower(filepath.Ext(g.store)); {
	case g.store == "memory":
		return session.NewInMemoryStore(), noop, nil
	case ext == ".db" || ext == ".sqlite":
		store, err := session.NewSQLiteStore(ctx, g.store)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		store, err := session.NewFileStore(g.store)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	}
}

// newManager builds a Manager over the configured store and logger.
func (g *globalFlags) newManager(ctx context.Context, optFns ...func(o *colloquy.Options)) (*colloquy.Manager, func(), error) {
	logger, err := g.logger()
	if err != nil {
		return nil, nil, err
	}
	store, closeStore, err := g.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	m, err := colloquy.New(append([]func(o *colloquy.Options){func(o *colloquy.Options) {
		o.SnapshotStore = store
		o.Logger = logger
	}}, optFns...)...)
	if err != nil {
		_ = closeStore()
		return nil, nil, err
	}
	cleanup := func() {
		if err := m.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("close manager", "error", err)
		}
		if err := closeStore(); err != nil {
			logger.Warn("close store", "error", err)
		}
	}
	return m, cleanup, nil
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}

