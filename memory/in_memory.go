package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/internal/util"
)

var _ core.MemoryProvider = (*InMemoryStore)(nil)

// Shared is the agent id of notes visible to every agent of a dialogue.
const Shared = ""

// StoredMemory is a note persisted by InMemoryStore.
type StoredMemory struct {
	ID       string
	AgentID  string
	Content  string
	Metadata map[string]any
}

const defaultContextTemplate = `{{if .Persona}}Persona: {{.Persona}}
{{end}}{{range .Facts}}- {{.Key}}: {{.Value}}
{{end}}{{range .Notes}}Note: {{.Content}}
{{end}}`

// Options configures an InMemoryStore.
type Options struct {
	// MaxNotes bounds the notes rendered into a memory context, most recent first kept.
	MaxNotes int
	// Template renders the memory context. It receives Persona, Facts
	// (Key/Value pairs sorted by key) and Notes.
	Template string
}

// InMemoryStore is a naive process-local memory store. It offers:
//  1. Agent personas shared across dialogues
//  2. Dialogue scoped key/value facts per agent (Get / Put)
//  3. Append-only notes with substring Search
//
// Concurrency: protected by RWMutex.
type InMemoryStore struct {
	tmpl     *template.Template
	maxNotes int

	mu       sync.RWMutex
	personas map[string]string                    // agentID -> persona
	facts    map[string]map[string]map[string]any // dialogueID -> agentID -> key -> value
	notes    map[string][]StoredMemory            // dialogueID -> notes in insertion order
	nextID   map[string]int
}

// NewInMemoryStore creates a new in-memory memory store.
func NewInMemoryStore(optFns ...func(o *Options)) (*InMemoryStore, error) {
	opts := Options{MaxNotes: 5, Template: defaultContextTemplate}
	for _, fn := range optFns {
		fn(&opts)
	}
	tmpl, err := util.ParseTemplate("memory", opts.Template)
	if err != nil {
		return nil, core.NewConfigurationError("memory.template", "%v", err)
	}
	return &InMemoryStore{
		tmpl:     tmpl,
		maxNotes: opts.MaxNotes,
		personas: make(map[string]string),
		facts:    make(map[string]map[string]map[string]any),
		notes:    make(map[string][]StoredMemory),
		nextID:   make(map[string]int),
	}, nil
}

// SetPersona sets the persona text of an agent. Empty text removes it.
func (m *InMemoryStore) SetPersona(agentID, persona string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if persona == "" {
		delete(m.personas, agentID)
		return
	}
	m.personas[agentID] = persona
}

// Get returns a shallow copy of the facts of an agent in a dialogue.
func (m *InMemoryStore) Get(dialogueID, agentID string) map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.facts[dialogueID][agentID]
	result := make(map[string]any, len(src))
	for k, v := range src {
		result[k] = v
	}
	return result
}

// Put merges the provided delta into the facts of an agent in a dialogue.
func (m *InMemoryStore) Put(dialogueID, agentID string, delta map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byAgent, ok := m.facts[dialogueID]
	if !ok {
		byAgent = make(map[string]map[string]any)
		m.facts[dialogueID] = byAgent
	}
	if _, ok := byAgent[agentID]; !ok {
		byAgent[agentID] = make(map[string]any)
	}
	for k, v := range delta {
		byAgent[agentID][k] = v
	}
}

// Store appends a note for agentID (or Shared) and returns its id.
func (m *InMemoryStore) Store(dialogueID, agentID, content string, metadata map[string]any) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := fmt.Sprintf("mem_%d", m.nextID[dialogueID])
	m.nextID[dialogueID]++
	m.notes[dialogueID] = append(m.notes[dialogueID], StoredMemory{
		ID: id, AgentID: agentID, Content: content, Metadata: metadata,
	})
	return id
}

// Search performs a simple substring match over the notes visible to agentID,
// in insertion order, up to limit results (0 means no limit).
func (m *InMemoryStore) Search(dialogueID, agentID, query string, limit int) []StoredMemory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var results []StoredMemory
	for _, n := range m.notes[dialogueID] {
		if limit > 0 && len(results) >= limit {
			break
		}
		if !visible(n, agentID) {
			continue
		}
		if query == "" || strings.Contains(n.Content, query) {
			results = append(results, cloneMemory(n))
		}
	}
	return results
}

// Delete removes a note by id.
func (m *InMemoryStore) Delete(dialogueID, memoryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	notes := m.notes[dialogueID]
	for i, n := range notes {
		if n.ID == memoryID {
			m.notes[dialogueID] = append(notes[:i:i], notes[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("memory %s: %w", memoryID, core.ErrNotFound)
}

// Forget drops every fact and note of a dialogue. Personas are kept.
func (m *InMemoryStore) Forget(dialogueID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.facts, dialogueID)
	delete(m.notes, dialogueID)
	delete(m.nextID, dialogueID)
}

type fact struct {
	Key   string
	Value any
}

// MemoryContext implements core.MemoryProvider.
func (m *InMemoryStore) MemoryContext(ctx context.Context, dialogueID, agentID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.RLock()
	data := struct {
		Persona string
		Facts   []fact
		Notes   []StoredMemory
	}{Persona: m.personas[agentID]}
	for k, v := range m.facts[dialogueID][agentID] {
		data.Facts = append(data.Facts, fact{Key: k, Value: v})
	}
	for _, n := range m.notes[dialogueID] {
		if visible(n, agentID) {
			data.Notes = append(data.Notes, cloneMemory(n))
		}
	}
	m.mu.RUnlock()

	sort.Slice(data.Facts, func(i, j int) bool { return data.Facts[i].Key < data.Facts[j].Key })
	if m.maxNotes > 0 && len(data.Notes) > m.maxNotes {
		data.Notes = data.Notes[len(data.Notes)-m.maxNotes:]
	}

	out, err := util.Execute(m.tmpl, data)
	if err != nil {
		return "", fmt.Errorf("render memory context: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func visible(n StoredMemory, agentID string) bool {
	return n.AgentID == Shared || n.AgentID == agentID
}

func cloneMemory(n StoredMemory) StoredMemory {
	if n.Metadata != nil {
		md := make(map[string]any, len(n.Metadata))
		for k, v := range n.Metadata {
			md[k] = v
		}
		n.Metadata = md
	}
	return n
}
