package tool

import (
	"sort"
	"sync"

	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/model"
)

// Registry is the run-time function table, keyed by tool name.
//
// Registration is idempotent: registering a name that already exists keeps
// the first tool and logs a warning.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger logging.Logger
}

// NewRegistry creates an empty registry. A nil logger disables warnings.
func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register adds tools to the table. It reports whether every tool was added.
func (r *Registry) Register(tools ...Tool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := true
	for _, t := range tools {
		if t == nil {
			continue
		}
		if _, exists := r.tools[t.Name()]; exists {
			r.logger.Warn("tool.register.duplicate", "tool", t.Name())
			added = false
			continue
		}
		r.tools[t.Name()] = t
	}
	return added
}

// RegisterToolkit adds every tool of a toolkit.
func (r *Registry) RegisterToolkit(tk *Toolkit) bool {
	if tk == nil {
		return true
	}
	r.logger.Debug("tool.register.toolkit", "toolkit", tk.Name(), "tools", len(tk.Tools()))
	return r.Register(tk.Tools()...)
}

// Get resolves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	return t, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tools)
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

// Definitions returns the model declarations of all tools, sorted by name so
// repeated requests are identical.
func (r *Registry) Definitions() []model.ToolDefinition {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]model.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, Definition(r.tools[name]))
	}
	return defs
}
