package device

import (
	"context"
	"fmt"
	"sync"
)

// Registry holds one runner per device, in registration order.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	runners map[string]*Runner
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]*Runner)}
}

// Add registers a runner. IDs must be unique.
func (reg *Registry) Add(r *Runner) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.runners[r.ID]; exists {
		return fmt.Errorf("device %q already registered", r.ID)
	}
	reg.runners[r.ID] = r
	reg.order = append(reg.order, r.ID)
	return nil
}

// Get returns the runner for id.
func (reg *Registry) Get(id string) (*Runner, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.runners[id]
	return r, ok
}

// List returns every runner in registration order.
func (reg *Registry) List() []*Runner {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Runner, 0, len(reg.order))
	for _, id := range reg.order {
		out = append(out, reg.runners[id])
	}
	return out
}

// Run starts every registered runner and blocks until all have stopped.
func (reg *Registry) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range reg.List() {
		wg.Add(1)
		go func(r *Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(r)
	}
	wg.Wait()
}
