package search

import (
	"sync"
	"time"
)

// Registry keeps the mobile filter panel's controller per session between requests.
type Registry struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	ctrl     *Controller
	lastUsed time.Time
}

// NewRegistry creates a registry that closes controllers idle for longer than ttl.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Registry{ttl: ttl, now: time.Now, entries: map[string]*registryEntry{}}
}

// Get returns the session's controller if it still reflects committed.
func (r *Registry) Get(sessionID string, committed Params) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[sessionID]
	if !ok || r.now().Sub(entry.lastUsed) > r.ttl || entry.ctrl.Committed().String() != committed.String() {
		return nil, false
	}
	entry.lastUsed = r.now()
	return entry.ctrl, true
}

// Put stores ctrl for the session, closing the controller it replaces.
func (r *Registry) Put(sessionID string, ctrl *Controller) {
	var stale []*Controller
	r.mu.Lock()
	now := r.now()
	for id, entry := range r.entries {
		if id == sessionID || now.Sub(entry.lastUsed) > r.ttl {
			if entry.ctrl != ctrl {
				stale = append(stale, entry.ctrl)
			}
			delete(r.entries, id)
		}
	}
	r.entries[sessionID] = &registryEntry{ctrl: ctrl, lastUsed: now}
	r.mu.Unlock()

	for _, c := range stale {
		c.Close()
	}
}

// Close closes every controller.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = map[string]*registryEntry{}
	r.mu.Unlock()
	for _, entry := range entries {
		entry.ctrl.Close()
	}
}
