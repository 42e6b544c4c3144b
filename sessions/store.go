package sessions

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// Loader hydrates a session from external storage. A nil mapping with a nil
// error means nothing was stored.
type Loader interface {
	Load(ctx context.Context, sessionID string) (map[string]any, error)
}

// Saver persists a session to external storage.
type Saver interface {
	Save(ctx context.Context, sessionID string, data map[string]any) error
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, sessionID string) (map[string]any, error)

func (f LoaderFunc) Load(ctx context.Context, sessionID string) (map[string]any, error) {
	return f(ctx, sessionID)
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(ctx context.Context, sessionID string, data map[string]any) error

func (f SaverFunc) Save(ctx context.Context, sessionID string, data map[string]any) error {
	return f(ctx, sessionID, data)
}

// Store is the process-wide session table.
type Store struct {
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for load/save events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// NewStore returns an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		log:      slog.Default(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bind returns the session for id, creating an empty one on first use.
func (s *Store) Bind(id string) *Session {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	sess = newSession(id)
	s.sessions[id] = sess
	return sess
}

// Lookup returns the session for id without creating it.
func (s *Store) Lookup(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Evict removes the session for id. A call that already holds the session
// keeps a detached reference until it completes.
func (s *Store) Evict(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Load binds id and replaces its mapping with what loader returns. The loader
// is called exactly once, under the session lock. When the loader reports
// nothing stored the mapping is left as is.
func (s *Store) Load(ctx context.Context, id string, loader Loader) error {
	if loader == nil {
		return errors.New("sessions: nil loader")
	}
	start := time.Now()
	sess := s.Bind(id)

	var err error
	sess.locked(func(data map[string]any) map[string]any {
		var loaded map[string]any
		loaded, err = loader.Load(ctx, id)
		if err != nil || loaded == nil {
			return nil
		}
		return maps.Clone(loaded)
	})
	if err != nil {
		s.log.ErrorContext(ctx, "sessions.load.fail", slog.String("session_id", id), slog.String("err", err.Error()))
		return errors.Wrapf(err, "load session %s", id)
	}
	s.log.DebugContext(ctx, "sessions.load.ok", slog.String("session_id", id), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return nil
}

// Save hands a copy of the mapping for id to saver, exactly once, under the
// session lock. Saving an unknown id binds it and saves an empty mapping.
func (s *Store) Save(ctx context.Context, id string, saver Saver) error {
	if saver == nil {
		return errors.New("sessions: nil saver")
	}
	start := time.Now()
	sess := s.Bind(id)

	var err error
	sess.locked(func(data map[string]any) map[string]any {
		err = saver.Save(ctx, id, maps.Clone(data))
		return nil
	})
	if err != nil {
		s.log.ErrorContext(ctx, "sessions.save.fail", slog.String("session_id", id), slog.String("err", err.Error()))
		return errors.Wrapf(err, "save session %s", id)
	}
	s.log.DebugContext(ctx, "sessions.save.ok", slog.String("session_id", id), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return nil
}
