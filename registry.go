package halo

import (
	"strings"
	"sync"
)

// RegistryEntry describes a registered adapter.
type RegistryEntry struct {
	ProtocolName string  `json:"protocol_name"`
	Version      string  `json:"version"`
	Adapter      Adapter `json:"-"`
}

// Registry resolves protocol names and inbound payloads to adapters. Names and
// aliases are matched case-insensitively; an alias always points at a
// canonical key and is followed for one hop only. A Registry is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	aliases  map[string]string
	order    []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		aliases:  make(map[string]string),
	}
}

// NewDefaultRegistry returns a registry holding the ACP, UCP and x402 adapters
// with their usual alternate spellings. opts apply to every adapter.
func NewDefaultRegistry(opts ...AdapterOption) *Registry {
	r := NewRegistry()
	r.Register(NewACPAdapter(opts...), "agentic-commerce-protocol", "agentic_commerce")
	r.Register(NewUCPAdapter(opts...), "universal-commerce-protocol", "universal_commerce")
	r.Register(NewX402Adapter(opts...), "http-402", "x-402")
	return r
}

func registryKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register stores adapter under its lower-cased name and points every alias
// at it. Registering a name again replaces the adapter but keeps its
// position in detection order.
func (r *Registry) Register(adapter Adapter, aliases ...string) {
	key := registryKey(adapter.Name())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[key]; !exists {
		r.order = append(r.order, key)
	}
	r.adapters[key] = adapter
	for _, alias := range aliases {
		if a := registryKey(alias); a != "" && a != key {
			r.aliases[a] = key
		}
	}
}

// Get returns the adapter registered under name or one of its aliases.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(registryKey(name))
}

func (r *Registry) getLocked(key string) (Adapter, bool) {
	if adapter, ok := r.adapters[key]; ok {
		return adapter, true
	}
	if canonical, ok := r.aliases[key]; ok {
		adapter, ok := r.adapters[canonical]
		return adapter, ok
	}
	return nil, false
}

// Has reports whether name resolves to an adapter.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Detect names the protocol of raw. The protocol field is tried first; then
// adapters are asked in registration order and the first whose CanHandle
// accepts raw wins. Overlapping predicates are not arbitrated beyond that
// order.
func (r *Registry) Detect(raw RawPayload) (string, bool) {
	if raw == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tag := raw.Protocol(); tag != "" {
		if adapter, ok := r.getLocked(registryKey(tag)); ok {
			return adapter.Name(), true
		}
	}
	for _, key := range r.order {
		adapter := r.adapters[key]
		if adapter.CanHandle(raw) {
			return adapter.Name(), true
		}
	}
	return "", false
}

// List returns the registered adapters in registration order.
func (r *Registry) List() []RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]RegistryEntry, 0, len(r.order))
	for _, key := range r.order {
		adapter := r.adapters[key]
		entries = append(entries, RegistryEntry{
			ProtocolName: adapter.Name(),
			Version:      adapter.Version(),
			Adapter:      adapter,
		})
	}
	return entries
}

// Unregister removes the adapter stored under name. Aliases are left in
// place and resolve to nothing until the name is registered again.
func (r *Registry) Unregister(name string) bool {
	key := registryKey(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[key]; !ok {
		return false
	}
	delete(r.adapters, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Clear removes every adapter. Like [Registry.Unregister] it keeps aliases.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = make(map[string]Adapter)
	r.order = nil
}
