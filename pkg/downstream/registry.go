package downstream

import "sync"

// Route maps a tool name to the session that owns it. Routes are derived
// from discovery results and hold no connection state of their own.
type Route struct {
	Tool   Descriptor
	Server string
}

// Registry is the merged, name-keyed lookup table from tool name to owning
// server. Writes happen during the single-threaded connect phase (or under
// the write lock if re-registration is ever added); reads are concurrent.
//
// On a name collision the last registered route wins, but the tool keeps
// its first-seen position in the catalog.
type Registry struct {
	mu     sync.RWMutex
	routes map[string]Route
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		routes: make(map[string]Route),
	}
}

// Register adds or overwrites the route for a tool.
func (r *Registry) Register(route Route) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.routes[route.Tool.Name]; !exists {
		r.order = append(r.order, route.Tool.Name)
	}

	r.routes[route.Tool.Name] = route
}

// Resolve returns the route for a tool name.
func (r *Registry) Resolve(name string) (Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	route, ok := r.routes[name]

	return route, ok
}

// Catalog returns the descriptors of all registered tools in stable
// registration order. The returned slice is a copy.
func (r *Registry) Catalog() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	catalog := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		catalog = append(catalog, r.routes[name].Tool)
	}

	return catalog
}

// Routes returns all routes in stable registration order.
func (r *Registry) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make([]Route, 0, len(r.order))
	for _, name := range r.order {
		routes = append(routes, r.routes[name])
	}

	return routes
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.routes)
}
