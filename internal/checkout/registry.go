package checkout

import (
	"sync"
	"time"
)

// Registry keeps one Machine per browser session. Machines unused for longer than the TTL are
// dropped on the next access.
type Registry struct {
	svc  Service
	ttl  time.Duration
	opts []MachineOption
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	machine  *Machine
	lastUsed time.Time
}

// NewRegistry creates a registry whose machines run against svc.
func NewRegistry(svc Service, ttl time.Duration, opts ...MachineOption) *Registry {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Registry{
		svc:     svc,
		ttl:     ttl,
		opts:    opts,
		now:     time.Now,
		entries: make(map[string]*registryEntry),
	}
}

// Machine returns the session's machine, creating a fresh one when none exists or when the
// session now checks out a different cart.
func (r *Registry) Machine(sessionID, cartID string) *Machine {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.sweepLocked(now)
	if entry, ok := r.entries[sessionID]; ok && entry.machine.CartID() == cartID {
		entry.lastUsed = now
		return entry.machine
	}
	m := NewMachine(r.svc, cartID, r.opts...)
	r.entries[sessionID] = &registryEntry{machine: m, lastUsed: now}
	return m
}

// Lookup returns the session's machine without creating one.
func (r *Registry) Lookup(sessionID string) (*Machine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.entries[sessionID]
	if !ok || now.Sub(entry.lastUsed) > r.ttl {
		return nil, false
	}
	entry.lastUsed = now
	return entry.machine, true
}

// Remove forgets the session's machine.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, sessionID)
}

// Len reports the number of live machines.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) sweepLocked(now time.Time) {
	for id, entry := range r.entries {
		if now.Sub(entry.lastUsed) > r.ttl {
			delete(r.entries, id)
		}
	}
}
