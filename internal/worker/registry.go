package worker

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps tool identifiers to workers. Column bindings in the sheet
// config name tools by these identifiers; lookup of an unregistered tool
// is a hard error rather than a fallback.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]AIWorker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]AIWorker)}
}

// Register adds a worker under its ID. Registering the same ID twice is
// an error; definitions files with duplicate IDs should fail loudly.
func (r *Registry) Register(w AIWorker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := w.ID()
	if id == "" {
		return fmt.Errorf("worker has empty id")
	}
	if _, ok := r.workers[id]; ok {
		return fmt.Errorf("worker %q already registered", id)
	}
	r.workers[id] = w
	return nil
}

// Lookup returns the worker registered under id.
func (r *Registry) Lookup(id string) (AIWorker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[id]
	if !ok {
		return nil, fmt.Errorf("no worker registered for tool %q", id)
	}
	return w, nil
}

// IDs returns the registered tool identifiers in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
