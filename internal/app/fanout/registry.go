package fanout

import (
	"sync"

	"github.com/ghalamif/PulseFlow/internal/ports"
)

// Registry is the set of live subscribers. Reads take a copy-on-write snapshot so
// no lock is held while frames are being delivered.
type Registry struct {
	mu       sync.Mutex
	byID     map[string]ports.Subscriber
	snapshot []ports.Subscriber
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]ports.Subscriber)}
}

// Add registers sub. It returns false if a subscriber with the same id exists.
func (r *Registry) Add(sub ports.Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[sub.ID()]; ok {
		return false
	}
	r.byID[sub.ID()] = sub
	r.rebuild()
	return true
}

// Remove unregisters id and returns the removed subscriber, if any.
func (r *Registry) Remove(id string) (ports.Subscriber, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	delete(r.byID, id)
	r.rebuild()
	return sub, true
}

// Snapshot returns the current subscribers. The slice must not be modified.
func (r *Registry) Snapshot() []ports.Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *Registry) rebuild() {
	next := make([]ports.Subscriber, 0, len(r.byID))
	for _, sub := range r.byID {
		next = append(next, sub)
	}
	r.snapshot = next
}
