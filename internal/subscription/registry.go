// Package subscription tracks which client connections are interested in
// each instrument. The number of connections per instrument is the
// reference count that decides when the upstream subscription is dropped.
package subscription

import (
	"sync"

	"github.com/rickgao/marketrelay/internal/model"
)

// Registry maps instruments to sets of connections of type C.
// An instrument with no connections has no entry.
type Registry[C comparable] struct {
	mu      sync.RWMutex
	clients map[model.Instrument]map[C]struct{}
}

// New creates an empty Registry.
func New[C comparable]() *Registry[C] {
	return &Registry[C]{
		clients: make(map[model.Instrument]map[C]struct{}),
	}
}

// AddClient registers conn for inst. Returns false if it was already registered.
func (r *Registry[C]) AddClient(inst model.Instrument, conn C) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.clients[inst]
	if !ok {
		set = make(map[C]struct{})
		r.clients[inst] = set
	}
	if _, exists := set[conn]; exists {
		return false
	}
	set[conn] = struct{}{}
	return true
}

// RemoveClient unregisters conn from inst and returns whether it was
// registered and how many connections remain. The entry is deleted when
// the last connection leaves.
func (r *Registry[C]) RemoveClient(inst model.Instrument, conn C) (removed bool, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.clients[inst]
	if !ok {
		return false, 0
	}
	if _, removed = set[conn]; removed {
		delete(set, conn)
	}
	if len(set) == 0 {
		delete(r.clients, inst)
	}
	return removed, len(set)
}

// ClientsFor returns a copy of the connections registered for inst.
func (r *Registry[C]) ClientsFor(inst model.Instrument) []C {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.clients[inst]
	out := make([]C, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// HasSubscribers reports whether inst has at least one connection.
func (r *Registry[C]) HasSubscribers(inst model.Instrument) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[inst]
	return ok
}

// Count returns the number of connections registered for inst.
func (r *Registry[C]) Count(inst model.Instrument) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients[inst])
}

// Instruments returns the instruments that currently have an entry.
func (r *Registry[C]) Instruments() []model.Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Instrument, 0, len(r.clients))
	for inst := range r.clients {
		out = append(out, inst)
	}
	return out
}
