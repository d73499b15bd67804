package coordinator

import "sync"

// Registry tracks live coordinators by session ID so the API layer can
// pause, resume, or inspect running sessions.
type Registry struct {
	mu     sync.RWMutex
	active map[string]*Coordinator
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: map[string]*Coordinator{}}
}

// Add registers a coordinator under its session ID.
func (r *Registry) Add(c *Coordinator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[c.id] = c
}

// Remove drops a session from the registry.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, sessionID)
}

// Get returns the live coordinator for a session, if any.
func (r *Registry) Get(sessionID string) (*Coordinator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.active[sessionID]
	return c, ok
}

// IDs lists the session IDs currently running.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}
