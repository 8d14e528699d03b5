package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dunamismax/wardrobeflow/internal/id"
)

var ErrHandleNotFound = errors.New("handle not found")

type blob struct {
	data     []byte
	mimeType string
}

// Registry owns the payloads behind derived asset handles. Each handle is
// created once and released once by its owner; Release is idempotent and
// never affects other live handles.
type Registry struct {
	scope string

	mu      sync.RWMutex
	entries map[string]blob
}

func NewRegistry(scope string) *Registry {
	return &Registry{
		scope:   scope,
		entries: make(map[string]blob),
	}
}

// Create registers data and returns its handle URL. The registry keeps the
// slice; callers must not mutate it afterwards.
func (r *Registry) Create(data []byte, mimeType string) string {
	url := id.Handle(r.scope)

	r.mu.Lock()
	r.entries[url] = blob{data: data, mimeType: mimeType}
	r.mu.Unlock()

	return url
}

func (r *Registry) Open(url string) ([]byte, string, error) {
	r.mu.RLock()
	entry, ok := r.entries[url]
	r.mu.RUnlock()

	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrHandleNotFound, url)
	}
	return entry.data, entry.mimeType, nil
}

// Release frees the payload behind url and reports whether it was live.
func (r *Registry) Release(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[url]; !ok {
		return false
	}
	delete(r.entries, url)
	return true
}

func (r *Registry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
