package sessions

import (
	"errors"
	"sync"
)

var (
	ErrDuplicateSession = errors.New("session already registered")
	ErrNotFound         = errors.New("session not found")
)

// Registry maps session ids to live sessions. All methods are safe for
// concurrent use. Only the OnChange hook runs under the lock.
type Registry[T comparable] struct {
	mu       sync.Mutex
	sessions map[string]T
	onChange func(count int)
}

func NewRegistry[T comparable]() *Registry[T] {
	return &Registry[T]{
		sessions: make(map[string]T),
	}
}

// OnChange installs fn to be called with the new size after every insert or
// removal. fn runs under the registry lock so sizes arrive in order; it must
// not block or call back into the registry. It must be set before the
// registry is shared.
func (r *Registry[T]) OnChange(fn func(count int)) {
	r.onChange = fn
}

func (r *Registry[T]) Register(id string, v T) error {
	r.mu.Lock()
	if r.sessions == nil {
		r.sessions = make(map[string]T)
	}
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return ErrDuplicateSession
	}
	r.sessions[id] = v
	r.changed()
	r.mu.Unlock()
	return nil
}

func (r *Registry[T]) Get(id string) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.sessions[id]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return v, nil
}

// Remove deletes id. Removing an absent id is a no-op.
func (r *Registry[T]) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return
	}
	delete(r.sessions, id)
	r.changed()
}

// CompareAndRemove deletes id only while it still maps to v, so a stale
// teardown cannot evict a newer session registered under the same id.
func (r *Registry[T]) CompareAndRemove(id string, v T) bool {
	r.mu.Lock()
	cur, ok := r.sessions[id]
	if !ok || cur != v {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, id)
	r.changed()
	r.mu.Unlock()
	return true
}

func (r *Registry[T]) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Range calls fn for a snapshot of the entries until fn returns false.
func (r *Registry[T]) Range(fn func(id string, v T) bool) {
	type entry struct {
		id string
		v  T
	}
	r.mu.Lock()
	entries := make([]entry, 0, len(r.sessions))
	for id, v := range r.sessions {
		entries = append(entries, entry{id: id, v: v})
	}
	r.mu.Unlock()

	for _, e := range entries {
		if !fn(e.id, e.v) {
			return
		}
	}
}

// changed must be called with r.mu held.
func (r *Registry[T]) changed() {
	if r.onChange != nil {
		r.onChange(len(r.sessions))
	}
}
