// Package handle provides AgentHandle implementations backed by a
// model.Model and an explicit registry mapping agent kinds to factories.
package handle

import (
	"context"
	"errors"
	"sync"

	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/logging"
	"github.com/hupe1980/colloquy/model"
)

// Compile-time interface checks.
var (
	_ core.StreamingHandle = (*ModelHandle)(nil)
	_ core.PlatformHandle  = (*ModelHandle)(nil)
	_ core.UsageReporter   = (*ModelHandle)(nil)
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("handle is closed")

// Options configures a ModelHandle.
type Options struct {
	Name string
	// Identity is the account the model is reached with; together with the
	// model provider it forms the rate-limit key.
	Identity string
	// Instructions is sent as the system prompt with every request.
	Instructions string
	// Stream requests incremental output from the model.
	Stream bool
	Logger logging.Logger
}

// ModelHandle adapts a model.Model to the AgentHandle contract. Every Send is
// a single-shot request: the dialogue context is carried by the prompt.
type ModelHandle struct {
	id    string
	model model.Model
	opts  Options

	mu         sync.Mutex
	lastTokens int
	closed     bool
}

// New creates a handle with the given agent id.
func New(id string, m model.Model, optFns ...func(o *Options)) *ModelHandle {
	opts := Options{Name: id}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoop(opts.Logger)
	if opts.Identity == "" {
		opts.Identity = "default"
	}
	return &ModelHandle{id: id, model: m, opts: opts}
}

func (h *ModelHandle) ID() string   { return h.id }
func (h *ModelHandle) Name() string { return h.opts.Name }

// Platform returns the model provider.
func (h *ModelHandle) Platform() string { return h.model.Info().Provider }

// Identity returns the configured account identity.
func (h *ModelHandle) Identity() string { return h.opts.Identity }

// Model returns the underlying model.
func (h *ModelHandle) Model() model.Model { return h.model }

// Init reopens a closed handle. Model clients are created eagerly, so there
// is nothing else to prepare.
func (h *ModelHandle) Init(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = false
	h.opts.Logger.Debug("agent handle initialized", "agent", h.id, "model", h.model.Info().Name)
	return nil
}

// Send implements core.AgentHandle.
func (h *ModelHandle) Send(ctx context.Context, prompt string) (string, error) {
	return h.send(ctx, prompt, h.opts.Stream, nil)
}

// SendStream implements core.StreamingHandle. onChunk receives every partial
// text delta before the full response is returned. Handles created without
// Options.Stream make a single non-streaming request and never call onChunk.
func (h *ModelHandle) SendStream(ctx context.Context, prompt string, onChunk func(string)) (string, error) {
	if !h.opts.Stream {
		return h.send(ctx, prompt, false, nil)
	}
	return h.send(ctx, prompt, true, onChunk)
}

func (h *ModelHandle) send(ctx context.Context, prompt string, stream bool, onChunk func(string)) (string, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return "", ErrClosed
	}

	req := model.Request{
		Instructions: h.opts.Instructions,
		Messages:     []model.Message{{Role: model.RoleUser, Text: prompt}},
		Stream:       stream,
	}
	resp, err := model.Collect(ctx, h.model, req, onChunk)
	if err != nil {
		return "", err
	}

	tokens := 0
	if resp.Usage != nil {
		tokens = resp.Usage.TotalTokens
	}
	h.mu.Lock()
	h.lastTokens = tokens
	h.mu.Unlock()

	h.opts.Logger.Debug("agent responded", "agent", h.id, "finish_reason", resp.FinishReason, "tokens", tokens)
	return resp.Text, nil
}

// LastTokenCount implements core.UsageReporter.
func (h *ModelHandle) LastTokenCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastTokens
}

// Close marks the handle closed. It is idempotent.
func (h *ModelHandle) Close(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}
