package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colloquy/core"
)

func newStore(t *testing.T, optFns ...func(o *Options)) *InMemoryStore {
	t.Helper()
	s, err := NewInMemoryStore(optFns...)
	require.NoError(t, err)
	return s
}

func TestInMemoryStore_GetAndPut(t *testing.T) {
	s := newStore(t)
	assert.Empty(t, s.Get("d1", "a1"))

	s.Put("d1", "a1", map[string]any{"k1": "v1", "k2": 2})
	m := s.Get("d1", "a1")
	assert.Equal(t, map[string]any{"k1": "v1", "k2": 2}, m)

	m["k1"] = "changed"
	assert.Equal(t, "v1", s.Get("d1", "a1")["k1"], "returned map is a copy")
	assert.Empty(t, s.Get("d2", "a1"), "facts are dialogue scoped")
}

func TestInMemoryStore_StoreSearchDelete(t *testing.T) {
	s := newStore(t)
	id0 := s.Store("d1", Shared, "the sky is blue", nil)
	id1 := s.Store("d1", "a1", "alice likes tea", map[string]any{"src": "intro"})
	s.Store("d1", "a2", "bob likes coffee", nil)

	assert.Equal(t, "mem_0", id0)
	assert.Len(t, s.Search("d1", "a1", "", 0), 2, "agent sees shared and own notes")
	hits := s.Search("d1", "a1", "tea", 10)
	require.Len(t, hits, 1)
	assert.Equal(t, id1, hits[0].ID)
	assert.Len(t, s.Search("d1", "a2", "", 1), 1)

	require.NoError(t, s.Delete("d1", id1))
	assert.ErrorIs(t, s.Delete("d1", id1), core.ErrNotFound)
	assert.Empty(t, s.Search("d1", "a1", "tea", 0))
	assert.Equal(t, "mem_3", s.Store("d1", "a1", "again", nil), "ids are never reused")
}

func TestInMemoryStore_MemoryContext(t *testing.T) {
	s := newStore(t, func(o *Options) { o.MaxNotes = 2 })
	ctx := context.Background()

	got, err := s.MemoryContext(ctx, "d1", "a1")
	require.NoError(t, err)
	assert.Empty(t, got)

	s.SetPersona("a1", "a careful historian")
	s.Put("d1", "a1", map[string]any{"topic": "moon landing", "side": "pro"})
	s.Store("d1", Shared, "first", nil)
	s.Store("d1", "a2", "private to a2", nil)
	s.Store("d1", "a1", "second", nil)
	s.Store("d1", Shared, "third", nil)

	got, err = s.MemoryContext(ctx, "d1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "Persona: a careful historian\n- side: pro\n- topic: moon landing\nNote: second\nNote: third", got)

	s.Forget("d1")
	got, err = s.MemoryContext(ctx, "d1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "Persona: a careful historian", got)
}

func TestInMemoryStore_CustomTemplate(t *testing.T) {
	s := newStore(t, func(o *Options) { o.Template = "{{upper .Persona}}" })
	s.SetPersona("a1", "skeptic")
	got, err := s.MemoryContext(context.Background(), "d1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "SKEPTIC", got)

	_, err = NewInMemoryStore(func(o *Options) { o.Template = "{{" })
	var cfgErr *core.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestInMemoryStore_Concurrency(t *testing.T) {
	s := newStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Store("d1", Shared, "note", nil)
			s.Put("d1", "a1", map[string]any{"k": i})
			_, _ = s.MemoryContext(context.Background(), "d1", "a1")
		}()
	}
	wg.Wait()
	assert.Len(t, s.Search("d1", "a1", "", 0), 20)
}
