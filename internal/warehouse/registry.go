package warehouse

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory opens an engine
type Factory func(ctx context.Context) (Engine, error)

// Registry owns engine factories and keeps one live engine per name
type Registry struct {
	factories map[string]Factory
	pool      map[string]Engine
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		pool:      make(map[string]Engine),
	}
}

// Register registers an engine factory under name
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Supported returns the registered engine names, sorted
func (r *Registry) Supported() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a healthy engine for name, opening or reopening it if needed
func (r *Registry) Get(ctx context.Context, name string) (Engine, error) {
	r.mu.RLock()
	if engine, ok := r.pool[name]; ok {
		r.mu.RUnlock()
		if err := engine.HealthCheck(ctx); err == nil {
			return engine, nil
		}
		r.mu.Lock()
		if r.pool[name] == engine {
			engine.Close()
			delete(r.pool, name)
		}
		r.mu.Unlock()
	} else {
		r.mu.RUnlock()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have reopened it meanwhile
	if engine, ok := r.pool[name]; ok {
		if err := engine.HealthCheck(ctx); err == nil {
			return engine, nil
		}
		engine.Close()
		delete(r.pool, name)
	}

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unsupported warehouse engine: %s", name)
	}

	engine, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s engine: %w", name, err)
	}

	r.pool[name] = engine
	return engine, nil
}

// CloseAll closes every open engine
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, engine := range r.pool {
		engine.Close()
		delete(r.pool, name)
	}
}

// PoolSize returns the number of open engines
func (r *Registry) PoolSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pool)
}
