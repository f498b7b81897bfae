// Package tool defines the tool-call collaborator contract and a
// thread-safe registry of tools.
package tool

import (
	"context"
	"sort"
	"sync"
)

// Tool is one invokable tool. Implementations must honor context
// cancellation and return structured results.
type Tool interface {
	// Name is the registry key referenced by tool-call nodes.
	Name() string

	// Call invokes the tool with resolved input.
	Call(ctx context.Context, input map[string]any) (map[string]any, error)
}

// Func adapts a plain function into a Tool.
type Func func(ctx context.Context, input map[string]any) (map[string]any, error)

// funcTool wraps a Func with a name.
type funcTool struct {
	name string
	fn   Func
}

// NewFunc creates a Tool from a function.
func NewFunc(name string, fn Func) Tool {
	return &funcTool{name: name, fn: fn}
}

// Name implements Tool.
func (t *funcTool) Name() string {
	return t.name
}

// Call implements Tool.
func (t *funcTool) Call(ctx context.Context, input map[string]any) (map[string]any, error) {
	return t.fn(ctx, input)
}

// Registry is a thread-safe tool registry. It uses sync.RWMutex for
// read-heavy workloads: lookups happen on every tool-call node.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool under its own name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// RegisterFunc adds a function-backed tool.
func (r *Registry) RegisterFunc(name string, fn Func) {
	r.Register(NewFunc(name, fn))
}

// Get returns the tool for a name and whether it exists.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Delete removes a tool.
func (r *Registry) Delete(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
