// Package storage defines a namespaced key/value interface used to persist
// session mappings outside the process. The dispatch engine never writes to
// storage on its own: the session store calls it only when a caller asks for
// an explicit load or save.
package storage

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// Storage defines the primary interface for namespaced data storage.
type Storage interface {
	// Get retrieves data for a specific key within the given namespace.
	// Returns nil StorageItem if key doesn't exist or has expired.
	// Returns error only for legitimate storage system failures.
	Get(ctx context.Context, key string, opts ...Option) (*StorageItem, error)

	// Set stores data for a specific key within the given namespace.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Delete removes data within the given namespace.
	// If no key specified via WithKey, removes entire namespace.
	Delete(ctx context.Context, opts ...Option) error

	// Close closes the storage backend and releases resources.
	Close() error
}

// StorageItem represents a stored piece of data with metadata.
type StorageItem struct {
	Data      []byte     // The stored data
	CreatedAt time.Time  // When the item was created
	ExpiresAt *time.Time // When the item expires (nil = no expiration)
}

// IsExpired checks if the item has expired.
func (si *StorageItem) IsExpired() bool {
	return si.ExpiresAt != nil && time.Now().After(*si.ExpiresAt)
}

// Option configures storage operations.
type Option func(*Options)

// Options contains configuration for storage operations.
type Options struct {
	Namespace Namespace      // nil = global
	Key       *string        // Optional: specific key (for Delete operations)
	TTL       *time.Duration // Optional: time-to-live for the data
}

// Apply folds opts into a fresh Options value.
func Apply(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Namespace scopes keys. If nil, storage operates in the global namespace.
type Namespace interface {
	namespace()
}

// SessionNamespace scopes keys to one session id.
type SessionNamespace struct {
	SessionID string
}

func (SessionNamespace) namespace() {}

// WithSession scopes the operation to a session.
func WithSession(sessionID string) Option {
	return func(opts *Options) {
		opts.Namespace = SessionNamespace{SessionID: sessionID}
	}
}

// WithKey specifies a specific key for Delete operations.
// If not provided, Delete removes the entire namespace.
func WithKey(key string) Option {
	return func(opts *Options) {
		opts.Key = &key
	}
}

// WithTTL sets a time-to-live for the stored data.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.TTL = &ttl
	}
}

// ErrInvalidOptions is returned when incompatible options are provided.
var ErrInvalidOptions = errors.New("storage: invalid option combination")
