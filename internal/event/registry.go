package event

import "sync"

// registry keeps hooks grouped by event name in invocation order.
// It is safe for concurrent use.
type registry struct {
	mu    sync.RWMutex
	hooks map[string][]*Hook
	total int
}

func newRegistry() *registry {
	return &registry{hooks: make(map[string][]*Hook)}
}

func (r *registry) add(h *Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.hooks[h.name]
	if h.config.prepend {
		list = append([]*Hook{h}, list...)
	} else {
		list = append(list, h)
	}
	r.hooks[h.name] = list
	r.total++
}

func (r *registry) remove(h *Hook) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.hooks[h.name]
	for i, cur := range list {
		if cur == h {
			// Copy so snapshots held by running emissions stay intact.
			next := make([]*Hook, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(r.hooks, h.name)
			} else {
				r.hooks[h.name] = next
			}
			r.total--
			return true
		}
	}
	return false
}

// snapshot returns the hooks for name. The slice must not be modified.
func (r *registry) snapshot(name string) []*Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hooks[name]
}

func (r *registry) count(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks[name])
}

func (r *registry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

func (r *registry) names() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.hooks))
	for name, list := range r.hooks {
		out[name] = len(list)
	}
	return out
}
