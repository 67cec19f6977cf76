package mention

import (
	"sync"

	"github.com/mesh-intelligence/peermention/internal/urlutil"
)

// Registry hands out one lock per target so that concurrent requests for the
// same target run their load-verify-write sequence one at a time. Targets are
// keyed by urlutil.MentionKey. Idle entries are dropped.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Lock blocks until the caller holds the lock for target and returns the
// function releasing it.
func (r *Registry) Lock(target string) (unlock func()) {
	key := urlutil.MentionKey(target)

	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		e = &entry{}
		r.entries[key] = e
	}
	e.refs++
	r.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			r.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(r.entries, key)
			}
			r.mu.Unlock()
		})
	}
}

// Len returns the number of targets currently locked or awaited.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
