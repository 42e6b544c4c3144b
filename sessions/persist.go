package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ggoodman/mcp-dispatch-go/storage"
)

const persistKey = "data"

// StoragePersister loads and saves session mappings through a storage
// backend. Each session is written as a JSON object under a single key in
// the session's namespace.
type StoragePersister struct {
	st  storage.Storage
	ttl time.Duration
}

// PersistOption configures a StoragePersister.
type PersistOption func(*StoragePersister)

// WithPersistTTL expires saved mappings after ttl.
func WithPersistTTL(ttl time.Duration) PersistOption {
	return func(p *StoragePersister) { p.ttl = ttl }
}

// NewStoragePersister returns a persister backed by st.
func NewStoragePersister(st storage.Storage, opts ...PersistOption) *StoragePersister {
	p := &StoragePersister{st: st}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var (
	_ Loader = (*StoragePersister)(nil)
	_ Saver  = (*StoragePersister)(nil)
)

// Load implements Loader. Numbers decode as json.Number.
func (p *StoragePersister) Load(ctx context.Context, sessionID string) (map[string]any, error) {
	item, err := p.st.Get(ctx, persistKey, storage.WithSession(sessionID))
	if err != nil {
		return nil, errors.Wrap(err, "storage get")
	}
	if item == nil {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(item.Data))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, errors.Wrap(err, "decode session data")
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// Save implements Saver.
func (p *StoragePersister) Save(ctx context.Context, sessionID string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	buf, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "encode session data")
	}
	opts := []storage.Option{storage.WithSession(sessionID)}
	if p.ttl > 0 {
		opts = append(opts, storage.WithTTL(p.ttl))
	}
	if err := p.st.Set(ctx, persistKey, buf, opts...); err != nil {
		return errors.Wrap(err, "storage set")
	}
	return nil
}

// Forget removes everything stored for sessionID.
func (p *StoragePersister) Forget(ctx context.Context, sessionID string) error {
	return p.st.Delete(ctx, storage.WithSession(sessionID))
}
