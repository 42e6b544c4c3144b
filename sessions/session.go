package sessions

import (
	"maps"
	"slices"
	"sync"
)

// Session is one session's mapping. All methods are safe for concurrent use
// and take the session's lock for their whole duration.
type Session struct {
	id string

	mu   sync.Mutex
	data map[string]any
}

func newSession(id string) *Session {
	return &Session{id: id, data: make(map[string]any)}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Get returns the value stored under key. Stored values are returned as-is;
// callers must not mutate reference values without holding Update.
func (s *Session) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores value under key.
func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()
}

// Delete removes key.
func (s *Session) Delete(key string) {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
}

// Update runs fn with the current value of key under the session lock and
// stores the value it returns. When fn returns keep=false the key is
// removed. Update returns the stored value.
func (s *Session) Update(key string, fn func(old any, ok bool) (next any, keep bool)) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.data[key]
	next, keep := fn(old, ok)
	if !keep {
		delete(s.data, key)
		return nil
	}
	s.data[key] = next
	return next
}

// Keys returns the keys in sorted order.
func (s *Session) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.data))
}

// Snapshot returns a shallow copy of the mapping.
func (s *Session) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.data)
}

// Len returns the number of keys.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// locked runs fn with the lock held and direct access to the mapping.
func (s *Session) locked(fn func(data map[string]any) map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next := fn(s.data); next != nil {
		s.data = next
	}
}
