// Package memory provides an in-memory implementation of the storage interface
// using github.com/hashicorp/golang-lru/v2 for bounded caching with TTL support.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ggoodman/mcp-dispatch-go/storage"
)

const defaultSweepInterval = 5 * time.Minute

// Storage implements the storage.Storage interface using in-memory storage.
type Storage struct {
	mu    sync.RWMutex
	cache *lru.Cache[string, *storage.StorageItem]

	sweep     time.Duration
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a memory Storage.
type Option func(*Storage)

// WithSweepInterval sets how often expired items are purged.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Storage) {
		if d > 0 {
			s.sweep = d
		}
	}
}

// New creates a new in-memory storage holding at most maxItems entries.
// The least recently used entry is evicted when full.
func New(maxItems int, opts ...Option) (*Storage, error) {
	cache, err := lru.New[string, *storage.StorageItem](maxItems)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create LRU cache")
	}

	s := &Storage{
		cache: cache,
		sweep: defaultSweepInterval,
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupExpired()

	return s, nil
}

// Get retrieves data for a specific key within the given namespace.
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.StorageItem, error) {
	options := storage.Apply(opts...)
	storageKey := buildKey(options.Namespace, key)

	s.mu.RLock()
	item, exists := s.cache.Get(storageKey)
	s.mu.RUnlock()

	if !exists {
		return nil, nil
	}

	if item.IsExpired() {
		s.mu.Lock()
		s.cache.Remove(storageKey)
		s.mu.Unlock()
		return nil, nil
	}

	out := *item
	out.Data = append([]byte(nil), item.Data...)
	return &out, nil
}

// Set stores data for a specific key within the given namespace.
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := storage.Apply(opts...)
	if options.Key != nil {
		return storage.ErrInvalidOptions
	}
	storageKey := buildKey(options.Namespace, key)

	now := time.Now()
	item := &storage.StorageItem{
		Data:      append([]byte(nil), data...),
		CreatedAt: now,
	}
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	s.mu.Lock()
	s.cache.Add(storageKey, item)
	s.mu.Unlock()

	return nil
}

// Delete removes a key, or the whole namespace when no key is given.
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options := storage.Apply(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if options.Key != nil {
		s.cache.Remove(buildKey(options.Namespace, *options.Key))
		return nil
	}

	prefix := namespacePrefix(options.Namespace)
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Remove(key)
		}
	}
	return nil
}

// Close stops the sweeper and drops every item.
func (s *Storage) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

// Len returns the number of items currently cached, expired or not.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Len()
}

func buildKey(namespace storage.Namespace, key string) string {
	return namespacePrefix(namespace) + "key:" + key
}

func namespacePrefix(namespace storage.Namespace) string {
	switch ns := namespace.(type) {
	case storage.SessionNamespace:
		return "session:" + ns.SessionID + ":"
	default:
		return "global:"
	}
}

func (s *Storage) cleanupExpired() {
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for _, key := range s.cache.Keys() {
				if item, ok := s.cache.Peek(key); ok && item.ExpiresAt != nil && now.After(*item.ExpiresAt) {
					s.cache.Remove(key)
				}
			}
			s.mu.Unlock()
		}
	}
}

var _ storage.Storage = (*Storage)(nil)
