// Package tools implements the tool registry: named handlers with specs,
// JSON Schema argument validation, and panic-safe execution. All side effects
// an agent run can have pass through here.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zankora/agw/internal/domain"
)

// ErrDuplicateTool is returned when a name is registered twice.
var ErrDuplicateTool = errors.New("duplicate_tool")

// Handler executes a tool call. Args have already passed schema validation.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Tool pairs a spec with its handler.
type Tool struct {
	Spec    domain.ToolSpec
	Handler Handler
}

// Registry maps tool names to handlers. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Fails with ErrDuplicateTool when the name is taken.
func (r *Registry) Register(spec domain.ToolSpec, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, spec.Name)
	}
	r.tools[spec.Name] = Tool{Spec: spec, Handler: h}
	return nil
}

// Get returns the tool and whether it exists.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// ListSpecs enumerates specs sorted by name, for planners and doctor output.
func (r *Registry) ListSpecs() []domain.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]domain.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, t.Spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Execute validates args against the tool's parameter schema and runs the
// handler. A panicking handler is converted into an error rather than
// taking down the run task.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result map[string]any, err error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("tool not registered: %s", name)
	}
	if err := ValidateArgs(t.Spec, args); err != nil {
		return nil, err
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool %s panicked: %v", name, rec)
		}
	}()
	return t.Handler(ctx, args)
}
