// Package tool defines executable tools that workflow steps and LLMs can
// invoke: supplier directory lookups, webhook calls, CRM updates. Tools are
// deliberately untyped at the boundary (map in, map out) so LLM-selected
// calls and hand-wired calls share one path.
package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Tool is one invocable capability.
//
// Implementations validate their own input, respect context cancellation, and
// return structured output. A tool invoked before a suspension may run again
// on resume, so side effects should be idempotent where possible.
type Tool interface {
	// Name is the unique identifier, lowercase with underscores, matching the
	// ToolSpec name offered to the LLM.
	Name() string

	// Call executes the tool. input may be nil for parameterless tools.
	Call(ctx context.Context, input map[string]any) (map[string]any, error)
}

// Registry is a named collection of tools, safe for concurrent use. Steps
// resolve LLM tool calls against it by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering a duplicate name is an error.
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return fmt.Errorf("tool must have a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Call invokes a registered tool by name.
func (r *Registry) Call(ctx context.Context, name string, input map[string]any) (map[string]any, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("tool %q is not registered", name)
	}
	return t.Call(ctx, input)
}

// Names returns the registered tool names in sorted order.
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
