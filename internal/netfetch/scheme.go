package netfetch

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// SchemePlugin fetches a single URI once. Retries, failover and filters are
// handled by the Client; a plugin only reports what happened.
type SchemePlugin interface {
	Fetch(ctx context.Context, uri string, req *Request) (*Response, error)
}

// SchemePluginFunc adapts a function to SchemePlugin.
type SchemePluginFunc func(ctx context.Context, uri string, req *Request) (*Response, error)

// Fetch implements SchemePlugin.
func (f SchemePluginFunc) Fetch(ctx context.Context, uri string, req *Request) (*Response, error) {
	return f(ctx, uri, req)
}

// SchemeRegistry maps lower-case URI schemes to plugins.
type SchemeRegistry struct {
	mu      sync.RWMutex
	plugins map[string]SchemePlugin
}

// NewSchemeRegistry creates an empty registry.
func NewSchemeRegistry() *SchemeRegistry {
	return &SchemeRegistry{plugins: make(map[string]SchemePlugin)}
}

// Register adds or replaces the plugin for scheme.
func (r *SchemeRegistry) Register(scheme string, p SchemePlugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[strings.ToLower(scheme)] = p
}

// Unregister removes the plugin for scheme.
func (r *SchemeRegistry) Unregister(scheme string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.plugins, strings.ToLower(scheme))
}

// Lookup returns the plugin for scheme, if any.
func (r *SchemeRegistry) Lookup(scheme string) (SchemePlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[strings.ToLower(scheme)]
	return p, ok
}

// Schemes returns the registered schemes in sorted order.
func (r *SchemeRegistry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func schemeOf(uri string) string {
	i := strings.IndexByte(uri, ':')
	if i <= 0 {
		return ""
	}
	return strings.ToLower(uri[:i])
}
