package handle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colloquy/core"
)

type mockHandle struct {
	mock.Mock
	id string
}

func (m *mockHandle) ID() string   { return m.id }
func (m *mockHandle) Name() string { return m.id }

func (m *mockHandle) Init(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockHandle) Send(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func (m *mockHandle) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	t.Run("register and create", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		var calls atomic.Int32
		r.Register("custom", FactoryFunc(func(_ context.Context, spec core.AgentSpec) (core.AgentHandle, error) {
			calls.Add(1)
			return &mockHandle{id: spec.ID}, nil
		}))

		h, err := r.Create(t.Context(), core.AgentSpec{ID: "a1", Kind: "custom"})
		require.NoError(t, err)
		assert.Equal(t, "a1", h.ID())
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, []string{"custom"}, r.Kinds())
	})

	t.Run("unknown kind", func(t *testing.T) {
		t.Parallel()
		_, err := NewRegistry().Create(t.Context(), core.AgentSpec{ID: "a1", Kind: "browser"})
		var kindErr *UnsupportedKindError
		require.ErrorAs(t, err, &kindErr)
		assert.Equal(t, "browser", kindErr.Kind)
		assert.Equal(t, "unsupported agent kind: browser", err.Error())
	})

	t.Run("factory error is wrapped", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		boom := errors.New("boom")
		r.Register("bad", FactoryFunc(func(context.Context, core.AgentSpec) (core.AgentHandle, error) {
			return nil, boom
		}))
		_, err := r.CreateAll(t.Context(), []core.AgentSpec{{ID: "a1", Kind: "bad"}})
		assert.ErrorIs(t, err, boom)
	})
}

func TestDefaultRegistry_Mock(t *testing.T) {
	r := NewDefaultRegistry(nil)
	assert.ElementsMatch(t, []string{KindOpenAI, KindAnthropic, KindMock}, r.Kinds())

	handles, err := r.CreateAll(t.Context(), []core.AgentSpec{
		{ID: "a1", Name: "Ada", Kind: KindMock, Identity: "lab", Responses: map[string]string{"ping": "pong"}},
		{ID: "a2", Kind: KindMock},
	})
	require.NoError(t, err)
	require.Len(t, handles, 2)

	got, err := handles[0].Send(t.Context(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", got)

	mh, ok := handles[0].(*ModelHandle)
	require.True(t, ok)
	assert.Equal(t, "Ada", mh.Name())
	assert.Equal(t, "mock", mh.Platform())
	assert.Equal(t, "lab", mh.Identity())
	assert.Equal(t, "a2", handles[1].Name())
}

func TestDefaultRegistry_ProviderKinds(t *testing.T) {
	t.Setenv("COLLOQUY_TEST_KEY", "sk-test")
	r := NewDefaultRegistry(nil)
	for _, kind := range []string{KindOpenAI, KindAnthropic} {
		h, err := r.Create(t.Context(), core.AgentSpec{ID: "a", Kind: kind, Model: "m-1", APIKeyEnv: "COLLOQUY_TEST_KEY"})
		require.NoError(t, err)
		mh := h.(*ModelHandle)
		assert.Equal(t, kind, mh.Platform())
		assert.Equal(t, "m-1", mh.Model().Info().Name)
	}
}

func TestInitAllCloseAll(t *testing.T) {
	ctx := context.Background()
	ok := &mockHandle{id: "ok"}
	ok.On("Init", mock.Anything).Return(nil)
	ok.On("Close", mock.Anything).Return(nil)
	bad := &mockHandle{id: "bad"}
	bad.On("Init", mock.Anything).Return(errors.New("no session"))
	bad.On("Close", mock.Anything).Return(errors.New("already gone"))

	err := InitAll(ctx, []core.AgentHandle{ok, bad})
	assert.ErrorContains(t, err, "init agent bad: no session")

	err = CloseAll(ctx, []core.AgentHandle{ok, bad})
	assert.ErrorContains(t, err, "close agent bad")
	ok.AssertCalled(t, "Close", mock.Anything)
	bad.AssertExpectations(t)
}
