// Package registry persists the set of sessions the daemon supervises in
// ~/.grotto/sessions.json.
package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/agusx1211/grotto/internal/debug"
)

// Entry is one registered session.
type Entry struct {
	ID         string `json:"id"`
	Dir        string `json:"dir"`
	AgentCount int    `json:"agent_count"`
	Task       string `json:"task"`
}

// Registry maps session id to entry.
type Registry struct {
	Sessions map[string]Entry `json:"sessions"`
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{Sessions: make(map[string]Entry)}
}

// Load reads path. A missing or corrupt file yields an empty registry.
func Load(path string) *Registry {
	data, err := os.ReadFile(path)
	if err != nil {
		return New()
	}
	reg := New()
	if err := json.Unmarshal(data, reg); err != nil {
		debug.LogKV("registry", "ignoring corrupt registry", "path", path, "error", err)
		return New()
	}
	if reg.Sessions == nil {
		reg.Sessions = make(map[string]Entry)
	}
	return reg
}

// Save writes the registry as indented JSON, creating the parent directory.
func (r *Registry) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if r.Sessions == nil {
		r.Sessions = make(map[string]Entry)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Register inserts or replaces e.
func (r *Registry) Register(e Entry) {
	if r.Sessions == nil {
		r.Sessions = make(map[string]Entry)
	}
	r.Sessions[e.ID] = e
}

// Unregister removes id, returning the removed entry.
func (r *Registry) Unregister(id string) (Entry, bool) {
	e, ok := r.Sessions[id]
	if ok {
		delete(r.Sessions, id)
	}
	return e, ok
}

// Get returns the entry for id.
func (r *Registry) Get(id string) (Entry, bool) {
	e, ok := r.Sessions[id]
	return e, ok
}

// Entries returns every entry sorted by id.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.Sessions))
	for _, e := range r.Sessions {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Store serializes access to one registry file.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore returns a store for path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path is the backing file.
func (s *Store) Path() string { return s.path }

// Load reads the current registry.
func (s *Store) Load() *Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Load(s.path)
}

// Update loads the registry, applies fn and saves the result.
func (s *Store) Update(fn func(*Registry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg := Load(s.path)
	fn(reg)
	return reg.Save(s.path)
}

// Replace overwrites the file with reg.
func (s *Store) Replace(reg *Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return reg.Save(s.path)
}
