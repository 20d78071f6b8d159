package adapters

import (
	"context"
	"log/slog"
	"sync"
)

// Registry holds one adapter instance per platform. Read-mostly after
// registration.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry. Adapters are registered
// externally via Register.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its platform name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Platform()] = a
}

// Unregister removes an adapter.
func (r *Registry) Unregister(platform string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, platform)
}

// Get returns an adapter by platform name.
func (r *Registry) Get(platform string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[platform]
	return a, ok
}

// Platforms returns the names of all registered platforms.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

// Statuses returns the status of every registered adapter.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a.Status())
	}
	return out
}

// StartAll starts every registered adapter. A failing adapter is logged
// and skipped; the rest still start.
func (r *Registry) StartAll(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.adapters) == 0 {
		slog.Warn("no platform adapters enabled")
		return
	}
	for name, a := range r.adapters {
		slog.Info("starting adapter", "platform", name)
		if err := a.Start(ctx); err != nil {
			slog.Error("failed to start adapter", "platform", name, "error", err)
		}
	}
}

// StopAll gracefully stops every registered adapter.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, a := range r.adapters {
		slog.Info("stopping adapter", "platform", name)
		if err := a.Stop(ctx); err != nil {
			slog.Error("error stopping adapter", "platform", name, "error", err)
		}
	}
}
