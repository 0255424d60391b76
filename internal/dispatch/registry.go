package dispatch

import "sync"

// Registry is the process-wide map of components, populated once at
// startup (spec.md §9: "global component registry → explicit dependency" —
// the C source uses constructor-time static registration; here the main
// binary registers explicitly, and the only ordering requirement is that
// every component an alias can target is registered before the first
// dispatch runs).
type Registry struct {
	mu         sync.RWMutex
	components map[string]Component
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{components: make(map[string]Component)}
}

// Register adds a component under its own Name(). Panics on a duplicate
// name — that is a startup wiring bug, not a runtime condition.
func (r *Registry) Register(c Component) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.components[c.Name()]; exists {
		panic("dispatch: component " + c.Name() + " registered twice")
	}
	r.components[c.Name()] = c
}

// Find returns the named component, honoring the internal/external
// visibility split (spec.md §4.D.1 step 1).
func (r *Registry) Find(name string, allowInternal bool) (Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[name]
	if !ok {
		return nil, false
	}
	if c.Internal() && !allowInternal {
		return nil, false
	}
	return c, true
}

// Names returns every registered component's name, used by the envelope
// decoder to find which field of the inbound object names a component.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.components))
	for n := range r.components {
		names = append(names, n)
	}
	return names
}

// simpleComponent is the straightforward Component implementation every
// consumer module uses: a fixed name and a static object map.
type simpleComponent struct {
	name     string
	internal bool
	objects  map[string]*ObjectOps
}

// NewComponent builds a Component from a fixed set of named objects.
func NewComponent(name string, internal bool, objects map[string]*ObjectOps) Component {
	return &simpleComponent{name: name, internal: internal, objects: objects}
}

func (c *simpleComponent) Name() string     { return c.name }
func (c *simpleComponent) Internal() bool   { return c.internal }
func (c *simpleComponent) Object(name string) (*ObjectOps, bool) {
	o, ok := c.objects[name]
	return o, ok
}
