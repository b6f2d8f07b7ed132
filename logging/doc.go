// Package logging provides a minimal logging interface and adapters for Colloquy.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the scheduler, replay engine, server and CLI use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - DialogueLogger, a log/slog backed Logger with contextual attributes
//     (component, dialogue id)
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	mgr := colloquy.New(func(o *colloquy.Options) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
