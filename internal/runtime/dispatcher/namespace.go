package dispatcher

import (
	"context"
	"sort"
	"sync"
)

// Method is one callable view method.
type Method func(ctx context.Context, args ...any) (any, error)

// View is the capability object a view exposes under its namespace.
type View map[string]Method

// Method looks up name.
func (v View) Method(name string) (Method, bool) {
	m, ok := v[name]
	if !ok || m == nil {
		return nil, false
	}
	return m, true
}

// Namespaces holds the views reachable from a dispatcher.
type Namespaces struct {
	mu    sync.RWMutex
	views map[string]View
}

// NewNamespaces returns an empty namespace registry.
func NewNamespaces() *Namespaces {
	return &Namespaces{views: make(map[string]View)}
}

// Register exposes view under name, replacing any previous view.
func (n *Namespaces) Register(name string, view View) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.views[name] = view
}

// Deregister removes name.
func (n *Namespaces) Deregister(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.views, name)
}

// Lookup returns the view registered under name.
func (n *Namespaces) Lookup(name string) (View, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.views[name]
	return v, ok
}

// Has reports whether name is registered.
func (n *Namespaces) Has(name string) bool {
	_, ok := n.Lookup(name)
	return ok
}

// Names lists the registered namespaces in order.
func (n *Namespaces) Names() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, 0, len(n.views))
	for name := range n.views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
