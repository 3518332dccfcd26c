package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type GeneratorFactory func(ctx context.Context, model string) (Generator, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]GeneratorFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]GeneratorFactory)}
}

func (r *Registry) Register(name string, f GeneratorFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(ctx context.Context, name string, model string) (Generator, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s", name)
	}
	return f(ctx, strings.TrimSpace(model))
}

// Chain builds generators from "factory:model" entries, keeping their order.
// The model part may itself contain ':' or '/'.
func (r *Registry) Chain(ctx context.Context, entries []string) ([]Generator, error) {
	out := make([]Generator, 0, len(entries))
	for _, entry := range entries {
		name, model, _ := strings.Cut(strings.TrimSpace(entry), ":")
		if name == "" {
			continue
		}
		g, err := r.Get(ctx, name, model)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", entry, err)
		}
		out = append(out, g)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}
	return out, nil
}
