package router

import (
	"sync"

	"github.com/kdeconnect-go/kdeconnect/pkg/protoerr"
)

// Registry holds the set of registered plugins and the capability-to-
// plugin ownership mapping used to dispatch incoming packets.
type Registry struct {
	mu           sync.RWMutex
	plugins      map[string]Plugin
	capabilities map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins:      make(map[string]Plugin),
		capabilities: make(map[string]string),
	}
}

// Register adds a plugin, claiming each of its incoming capabilities.
// Fails if the plugin's name is already registered, or if any incoming
// capability is already owned by another plugin; in the latter case no
// partial registration is left behind.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.plugins[name]; exists {
		return protoerr.Wrapf(protoerr.KindPlugin, nil, "plugin %q already registered", name)
	}

	for _, cap := range p.IncomingCapabilities() {
		if owner, owned := r.capabilities[cap]; owned {
			return protoerr.Wrapf(protoerr.KindPlugin, nil, "capability %q owned by %q", cap, owner)
		}
	}

	for _, cap := range p.IncomingCapabilities() {
		r.capabilities[cap] = name
	}
	r.plugins[name] = p
	return nil
}

// Unregister removes a plugin and clears its capability ownership. A
// no-op if the name isn't registered.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for cap, owner := range r.capabilities {
		if owner == name {
			delete(r.capabilities, cap)
		}
	}
	delete(r.plugins, name)
}

// Lookup returns the plugin that owns an incoming packet type, if any.
func (r *Registry) Lookup(packetType string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.capabilities[packetType]
	if !ok {
		return nil, false
	}
	p, ok := r.plugins[name]
	return p, ok
}

// Get returns a registered plugin by name.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// Names returns every registered plugin name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	return names
}

// OutgoingCapabilities returns the de-duplicated union of every
// registered plugin's outgoing capabilities, used to populate this
// device's own identity packet.
func (r *Registry) OutgoingCapabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, p := range r.plugins {
		for _, cap := range p.OutgoingCapabilities() {
			if _, ok := seen[cap]; ok {
				continue
			}
			seen[cap] = struct{}{}
			out = append(out, cap)
		}
	}
	return out
}

// IncomingCapabilities returns every incoming capability currently
// claimed by a registered plugin, used to populate this device's own
// identity packet.
func (r *Registry) IncomingCapabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.capabilities))
	for cap := range r.capabilities {
		out = append(out, cap)
	}
	return out
}
