// Package agent defines the adapter boundary to pluggable AI agents.
// The orchestration core never inspects adapter internals: any
// implementation satisfying Adapter is interchangeable, and adapters are
// looked up through an explicit Registry passed into the control loop
// rather than module-level state.
package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InvokeOptions carries optional per-call settings.
type InvokeOptions struct {
	Model string // model hint; empty leaves the adapter's default
}

// Result is the adapter's answer to a prompt.
type Result struct {
	Content string
}

// Adapter produces content for a prompt. Errors are returned, never
// panicked; callers decide whether a failed call is retryable.
type Adapter interface {
	Invoke(ctx context.Context, agentName, prompt string, opts InvokeOptions) (Result, error)
}

// Registry maps agent names to adapters. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register binds an adapter to a name, replacing any previous binding.
func (r *Registry) Register(name string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[name] = adapter
}

// Lookup returns the adapter for a name.
func (r *Registry) Lookup(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for agent %q", name)
	}
	return adapter, nil
}

// Names lists registered agent names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke looks up the named agent and forwards the call.
func (r *Registry) Invoke(ctx context.Context, agentName, prompt string, opts InvokeOptions) (Result, error) {
	adapter, err := r.Lookup(agentName)
	if err != nil {
		return Result{}, err
	}
	return adapter.Invoke(ctx, agentName, prompt, opts)
}
