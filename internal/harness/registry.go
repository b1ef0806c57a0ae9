package harness

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Registry holds harnesses registered at process start (§9:
// "Registration is at process start; no runtime plug-in loading required").
type Registry struct {
	mu       sync.RWMutex
	harnesses map[string]Harness
}

func NewRegistry() *Registry {
	return &Registry{harnesses: make(map[string]Harness)}
}

func (r *Registry) Register(h Harness) error {
	if r == nil {
		return fmt.Errorf("nil registry")
	}
	if h == nil {
		return fmt.Errorf("nil harness")
	}
	name := h.Name()
	if name == "" {
		return fmt.Errorf("harness name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.harnesses[name]; exists {
		return fmt.Errorf("harness %q already registered", name)
	}
	r.harnesses[name] = h
	return nil
}

func (r *Registry) Get(name string) (Harness, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.harnesses[name]
	return h, ok
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.harnesses))
	for name := range r.harnesses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.harnesses)
}

// AvailableNames probes every registered harness concurrently and returns
// the names of those reporting available, sorted.
func (r *Registry) AvailableNames(ctx context.Context) []string {
	names := r.List()
	available := make([]bool, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		h, ok := r.Get(name)
		if !ok {
			continue
		}
		g.Go(func() error {
			available[i] = h.IsAvailable(gctx)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]string, 0, len(names))
	for i, name := range names {
		if available[i] {
			out = append(out, name)
		}
	}
	return out
}

// Select resolves which harness to use: explicit name wins, else the
// registry's sole harness if exactly one is registered, else an error.
func (r *Registry) Select(name string) (Harness, error) {
	if name != "" {
		h, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("unregistered harness: %s", name)
		}
		return h, nil
	}
	names := r.List()
	switch len(names) {
	case 0:
		return nil, fmt.Errorf("no harness registered")
	case 1:
		h, _ := r.Get(names[0])
		return h, nil
	default:
		return nil, fmt.Errorf("multiple harnesses available; harness name required: %v", names)
	}
}
