// Package listener provides an identity keyed set of listeners.
package listener

import "sync"

// Registry is an ordered set of listeners keyed by identity. Registering the
// same listener twice is a no-op. Listeners are compared with ==, so pointer
// receivers give identity semantics. Safe for concurrent use.
type Registry[L comparable] struct {
	mu    sync.RWMutex
	items []L
}

// Register adds l and reports whether it was not yet present.
func (r *Registry[L]) Register(l L) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing == l {
			return false
		}
	}
	r.items = append(r.items, l)
	return true
}

// Unregister removes l and reports whether it was present.
func (r *Registry[L]) Unregister(l L) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.items {
		if existing == l {
			r.items = append(r.items[:i:i], r.items[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether l is registered.
func (r *Registry[L]) Contains(l L) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, existing := range r.items {
		if existing == l {
			return true
		}
	}
	return false
}

// Snapshot returns the listeners in registration order. The caller may
// iterate it while the registry is modified.
func (r *Registry[L]) Snapshot() []L {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]L, len(r.items))
	copy(out, r.items)
	return out
}

// Len returns the number of registered listeners.
func (r *Registry[L]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Clear removes every listener.
func (r *Registry[L]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
}
