package processor

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoProcessors is returned when the registry is empty
var ErrNoProcessors = errors.New("no document processors registered")

// Registry maps processor ids to registered implementations
type Registry struct {
	mu    sync.RWMutex
	procs map[string]DocumentProcessor
	order []string
}

// NewRegistry creates an empty processor registry
func NewRegistry() *Registry {
	return &Registry{
		procs: make(map[string]DocumentProcessor),
	}
}

// Register adds a processor under its id, replacing any previous registration
func (r *Registry) Register(p DocumentProcessor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.ID()
	if _, exists := r.procs[id]; !exists {
		r.order = append(r.order, id)
	}
	r.procs[id] = p
}

// Get returns the processor registered under id
func (r *Registry) Get(id string) (DocumentProcessor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.procs[id]
	if !ok {
		return nil, fmt.Errorf("document processor not registered: %s", id)
	}
	return p, nil
}

// First returns the first registered processor
func (r *Registry) First() (DocumentProcessor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) == 0 {
		return nil, ErrNoProcessors
	}
	return r.procs[r.order[0]], nil
}

// All returns every registered processor in registration order
func (r *Registry) All() []DocumentProcessor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]DocumentProcessor, 0, len(r.order))
	for _, id := range r.order {
		all = append(all, r.procs[id])
	}
	return all
}
