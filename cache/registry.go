package cache

import "sync"

// Store is the introspection surface every cache exposes.
type Store interface {
	Stats() Stats
	Reset()
	Len() int
	Bytes() int64
}

// Registry is an explicit table of the named caches one component owns.
// Components build their registry once at construction instead of relying
// on a mutable process-wide table populated by side effects.
type Registry struct {
	mu     sync.Mutex
	names  []string
	stores map[string]Store
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]Store)}
}

// Register adds a named cache. Registering the same name twice replaces
// the previous entry.
func (r *Registry) Register(name string, s Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stores[name]; !ok {
		r.names = append(r.names, name)
	}
	r.stores[name] = s
}

// Names returns the registered cache names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Stats returns per-cache snapshots keyed by name.
func (r *Registry) Stats() map[string]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Stats, len(r.stores))
	for name, s := range r.stores {
		out[name] = s.Stats()
	}
	return out
}

// Totals returns the aggregate entry count and byte footprint.
func (r *Registry) Totals() (entries int, bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.stores {
		entries += s.Len()
		bytes += s.Bytes()
	}
	return entries, bytes
}

// Reset clears every registered cache.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.stores {
		s.Reset()
	}
}
