package pipeline

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps pipeline names to their ordered phase lists. It is an
// explicit object constructed at process start and passed to whatever
// dispatches jobs; nothing in the engine consults a process-wide global.
type Registry struct {
	mu        sync.RWMutex
	pipelines map[string][]Phase
}

func NewRegistry() *Registry {
	return &Registry{pipelines: make(map[string][]Phase)}
}

func (r *Registry) Register(name string, phases []Phase) error {
	if name == "" {
		return fmt.Errorf("pipeline name is empty")
	}
	if len(phases) == 0 {
		return fmt.Errorf("pipeline %s has no phases", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pipelines[name]; exists {
		return fmt.Errorf("pipeline already registered: %s", name)
	}
	r.pipelines[name] = phases
	return nil
}

func (r *Registry) Get(name string) ([]Phase, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	phases, ok := r.pipelines[name]
	return phases, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
