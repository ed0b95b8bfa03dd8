package session

import (
	"slices"
	"sync"
)

// Registry maps a document URI to the sessions currently viewing it.
// Sessions leave the registry on their own when disposed.
type Registry struct {
	mu      sync.Mutex
	entries map[string]map[uint64]*ViewSession
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]map[uint64]*ViewSession)}
}

// Add registers s under uri.
func (r *Registry) Add(uri string, s *ViewSession) {
	r.mu.Lock()
	set, ok := r.entries[uri]
	if !ok {
		set = make(map[uint64]*ViewSession)
		r.entries[uri] = set
	}
	set[s.ID()] = s
	r.mu.Unlock()

	s.OnDispose(func() { r.remove(uri, s) })
}

func (r *Registry) remove(uri string, s *ViewSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.entries[uri]
	if !ok {
		return
	}
	delete(set, s.ID())
	if len(set) == 0 {
		delete(r.entries, uri)
	}
}

// Sessions returns the sessions registered for uri, oldest first.
func (r *Registry) Sessions(uri string) []*ViewSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.entries[uri]
	out := make([]*ViewSession, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *ViewSession) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		}
		return 0
	})
	return out
}

// Broadcast calls fn for every session registered for uri. fn runs without
// the registry lock held.
func (r *Registry) Broadcast(uri string, fn func(*ViewSession)) {
	for _, s := range r.Sessions(uri) {
		fn(s)
	}
}

// Len returns the number of sessions registered for uri.
func (r *Registry) Len(uri string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries[uri])
}
