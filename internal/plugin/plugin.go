// Package plugin defines the contract between the hunt executor and the
// pluggable units of work that steps delegate to. Concrete capabilities live
// outside the engine; the executor only needs name resolution and a tagged
// event stream.
package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/casehound/casehound/internal/domain"
)

// Event types the executor understands. Only data-bearing events contribute
// to a step's output; everything else is surfaced through the notifier layer.
const (
	EventData     = "data"
	EventError    = "error"
	EventProgress = "progress"
)

// Event is one tagged entry of a plugin's result stream.
type Event struct {
	Type string
	Data domain.Metadata
}

// Handle is an executable unit resolved for one step invocation. Execute
// streams events through emit and returns a non-nil error when the step
// failed. Implementations must honor ctx cancellation and deadlines.
type Handle interface {
	Execute(ctx context.Context, params domain.Metadata, emit func(Event)) error
}

// HandleFunc adapts a function to the Handle interface.
type HandleFunc func(ctx context.Context, params domain.Metadata, emit func(Event)) error

func (f HandleFunc) Execute(ctx context.Context, params domain.Metadata, emit func(Event)) error {
	return f(ctx, params, emit)
}

// Runner resolves a step's named capability to an executable handle.
type Runner interface {
	Get(pluginName string) (Handle, error)
}

// Registry is an in-memory Runner keyed by capability name.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]Handle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]Handle)}
}

// Register binds a capability name to a handle. Re-registering a name
// replaces the previous handle.
func (r *Registry) Register(name string, handle Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[name] = handle
}

func (r *Registry) Get(pluginName string) (Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handle, ok := r.handles[pluginName]
	if !ok {
		return nil, fmt.Errorf("unknown plugin %q", pluginName)
	}
	return handle, nil
}

// Names returns the registered capability names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
