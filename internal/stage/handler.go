// Package stage defines the contract step logic implements and the registry
// the step executor dispatches through.
package stage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"sfcfetch/internal/store"
)

// Output is the JSON-encodable result a step records on success.
type Output = any

// Handler performs the work of one named step for one document.
type Handler interface {
	Perform(ctx context.Context, doc *store.Document, cfg store.WorkflowConfig) (Output, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, doc *store.Document, cfg store.WorkflowConfig) (Output, error)

// Perform calls f.
func (f HandlerFunc) Perform(ctx context.Context, doc *store.Document, cfg store.WorkflowConfig) (Output, error) {
	return f(ctx, doc, cfg)
}

// HealthChecker is implemented by handlers that depend on something that can
// be unavailable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) Health
}

// Registry maps step names to handlers. It is filled once at startup and
// read-only afterwards.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds name to handler. Registering a name twice is an error.
func (r *Registry) Register(name string, handler Handler) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("register step: name is required")
	}
	if handler == nil {
		return fmt.Errorf("register step %s: handler is nil", name)
	}
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("register step %s: already registered", name)
	}
	r.handlers[name] = handler
	return nil
}

// MustRegister is Register for static wiring that cannot fail.
func (r *Registry) MustRegister(name string, handler Handler) {
	if err := r.Register(name, handler); err != nil {
		panic(err)
	}
}

// Lookup returns the handler bound to name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.handlers[name]
	return h, ok
}

// Names lists registered step names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Missing returns the names in steps that have no handler.
func (r *Registry) Missing(steps []string) []string {
	var missing []string
	for _, name := range steps {
		if _, ok := r.Lookup(name); !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// HealthCheck collects health from every handler that reports it.
func (r *Registry) HealthCheck(ctx context.Context) []Health {
	var results []Health
	for _, name := range r.Names() {
		checker, ok := r.handlers[name].(HealthChecker)
		if !ok {
			continue
		}
		h := checker.HealthCheck(ctx)
		if h.Name == "" {
			h.Name = name
		}
		results = append(results, h)
	}
	return results
}
