package transport

import (
	"context"
	"sync"
)

// InFlightRegistry tracks running queries so DELETE /v1/queries/{id} can
// cancel them. Safe for concurrent use.
type InFlightRegistry struct {
	mu      sync.Mutex
	entries map[string]context.CancelFunc
}

// NewInFlightRegistry creates an empty registry.
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{entries: make(map[string]context.CancelFunc)}
}

// Register records a running query and returns a function that removes it
// again without cancelling. The returned function is safe to call more
// than once.
func (r *InFlightRegistry) Register(id string, cancel context.CancelFunc) (done func()) {
	r.mu.Lock()
	r.entries[id] = cancel
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.entries, id)
		})
	}
}

// Cancel cancels a running query. It reports false if the ID is not
// running, either because it finished or never existed.
func (r *InFlightRegistry) Cancel(id string) bool {
	r.mu.Lock()
	cancel, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Len returns the number of running queries.
func (r *InFlightRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
