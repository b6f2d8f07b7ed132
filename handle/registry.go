package handle

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/logging"
	"github.com/hupe1980/colloquy/model"
	"github.com/hupe1980/colloquy/model/anthropic"
	"github.com/hupe1980/colloquy/model/openai"
)

// Kinds registered by NewDefaultRegistry.
const (
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
	KindMock      = "mock"
)

// Factory creates an agent handle from its declaration.
type Factory interface {
	CreateHandle(ctx context.Context, spec core.AgentSpec) (core.AgentHandle, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, spec core.AgentSpec) (core.AgentHandle, error)

// CreateHandle implements Factory.
func (f FactoryFunc) CreateHandle(ctx context.Context, spec core.AgentSpec) (core.AgentHandle, error) {
	return f(ctx, spec)
}

// Registry holds registered handle factories. There is no global registry:
// callers build one and pass it where handles are created.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for a specific agent kind, replacing any previous one.
func (r *Registry) Register(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Kinds returns the registered kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	return kinds
}

// Create instantiates a handle from its declaration.
func (r *Registry) Create(ctx context.Context, spec core.AgentSpec) (core.AgentHandle, error) {
	r.mu.RLock()
	factory, ok := r.factories[spec.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnsupportedKindError{Kind: spec.Kind}
	}
	h, err := factory.CreateHandle(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("create agent %s: %w", spec.ID, err)
	}
	return h, nil
}

// CreateAll instantiates one handle per declaration, preserving order.
func (r *Registry) CreateAll(ctx context.Context, specs []core.AgentSpec) ([]core.AgentHandle, error) {
	handles := make([]core.AgentHandle, 0, len(specs))
	for _, spec := range specs {
		h, err := r.Create(ctx, spec)
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// UnsupportedKindError indicates an unknown agent kind.
type UnsupportedKindError struct {
	Kind string
}

func (e *UnsupportedKindError) Error() string {
	return "unsupported agent kind: " + e.Kind
}

// InitAll initializes handles concurrently and returns the first error.
func InitAll(ctx context.Context, handles []core.AgentHandle) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, h := range handles {
		g.Go(func() error {
			if err := h.Init(ctx); err != nil {
				return fmt.Errorf("init agent %s: %w", h.ID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// CloseAll closes handles concurrently. Every handle is closed even when some fail.
func CloseAll(ctx context.Context, handles []core.AgentHandle) error {
	var g errgroup.Group
	for _, h := range handles {
		g.Go(func() error {
			if err := h.Close(ctx); err != nil {
				return fmt.Errorf("close agent %s: %w", h.ID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// NewDefaultRegistry returns a registry with the openai, anthropic and mock kinds.
func NewDefaultRegistry(logger logging.Logger) *Registry {
	logger = logging.OrNoop(logger)
	r := NewRegistry()
	r.Register(KindOpenAI, FactoryFunc(func(_ context.Context, spec core.AgentSpec) (core.AgentHandle, error) {
		m := openai.NewModel(func(o *openai.Options) {
			if spec.Model != "" {
				o.Model = spec.Model
			}
			if spec.Temperature != nil {
				o.Temperature = *spec.Temperature
			}
			if spec.MaxTokens > 0 {
				o.MaxCompletionTokens = spec.MaxTokens
			}
			o.APIKey = apiKey(spec)
		})
		return fromSpec(spec, m, logger), nil
	}))
	r.Register(KindAnthropic, FactoryFunc(func(_ context.Context, spec core.AgentSpec) (core.AgentHandle, error) {
		m := anthropic.NewModel(func(o *anthropic.Options) {
			if spec.Model != "" {
				o.Model = spec.Model
			}
			if spec.Temperature != nil {
				o.Temperature = *spec.Temperature
			}
			if spec.MaxTokens > 0 {
				o.MaxTokens = spec.MaxTokens
			}
			o.APIKey = apiKey(spec)
		})
		return fromSpec(spec, m, logger), nil
	}))
	r.Register(KindMock, FactoryFunc(func(_ context.Context, spec core.AgentSpec) (core.AgentHandle, error) {
		m := model.NewMockModel(spec.DisplayName(), KindMock)
		for prompt, reply := range spec.Responses {
			m.AddResponse(prompt, reply)
		}
		return fromSpec(spec, m, logger), nil
	}))
	return r
}

func fromSpec(spec core.AgentSpec, m model.Model, logger logging.Logger) *ModelHandle {
	return New(spec.ID, m, func(o *Options) {
		o.Name = spec.DisplayName()
		o.Identity = spec.Identity
		o.Instructions = spec.Instructions
		o.Stream = spec.Stream
		o.Logger = logger
	})
}

// apiKey resolves the api_key_env override. Empty means the SDK default
// environment variable.
func apiKey(spec core.AgentSpec) string {
	if spec.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(spec.APIKeyEnv)
}
