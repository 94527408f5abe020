// Package registry maps authenticated identities to live connections.
package registry

import (
	"sort"
	"sync"
)

// Registry is the authoritative identity -> connection table. The last
// registration for an identity wins; the superseded connection is closed.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		conns: make(map[string]*Conn),
	}
}

// Register binds identity to conn and returns the connection it replaced,
// which has already been closed.
func (r *Registry) Register(identity string, conn *Conn) *Conn {
	r.mu.Lock()
	prev := r.conns[identity]
	r.conns[identity] = conn
	r.mu.Unlock()

	conn.SetIdentity(identity)
	if prev == nil || prev == conn {
		return nil
	}
	prev.Close()
	return prev
}

// Unregister removes identity. Removing an absent identity is a no-op.
func (r *Registry) Unregister(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, identity)
}

// Release removes identity only while it still points at conn, so cleanup of
// a superseded connection never evicts its replacement.
func (r *Registry) Release(identity string, conn *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[identity] != conn {
		return false
	}
	delete(r.conns, identity)
	return true
}

// Lookup returns the live connection for identity. A connection that is
// closing counts as absent.
func (r *Registry) Lookup(identity string) (*Conn, bool) {
	r.mu.RLock()
	conn, ok := r.conns[identity]
	r.mu.RUnlock()
	if !ok || conn.Closed() {
		return nil, false
	}
	return conn, true
}

// Count returns the number of registered identities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Identities returns the registered identities in sorted order.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// CloseAll closes every registered connection and empties the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*Conn)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}
