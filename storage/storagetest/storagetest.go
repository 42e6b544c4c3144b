// Package storagetest is a conformance suite for storage.Storage backends.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/ggoodman/mcp-dispatch-go/storage"
)

// Run exercises s against the storage.Storage contract. Keys are scoped with
// prefix so the suite can share a backend with other tests.
func Run(t *testing.T, s storage.Storage, prefix string) {
	t.Helper()

	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, s, prefix) })
	t.Run("GetNonExistent", func(t *testing.T) { testGetNonExistent(t, s, prefix) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, s, prefix) })
	t.Run("Namespaces", func(t *testing.T) { testNamespaces(t, s, prefix) })
	t.Run("DeleteKey", func(t *testing.T) { testDeleteKey(t, s, prefix) })
	t.Run("DeleteNamespace", func(t *testing.T) { testDeleteNamespace(t, s, prefix) })
	t.Run("SetRejectsKeyOption", func(t *testing.T) { testSetRejectsKeyOption(t, s, prefix) })
}

func testSetAndGet(t *testing.T, s storage.Storage, prefix string) {
	ctx := context.Background()
	key := prefix + "test-key"
	data := []byte("test data")

	if err := s.Set(ctx, key, data); err != nil {
		t.Fatalf("Failed to set data: %v", err)
	}

	item, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get data: %v", err)
	}
	if item == nil {
		t.Fatal("Expected item to exist, got nil")
	}
	if string(item.Data) != string(data) {
		t.Errorf("Expected data %s, got %s", data, item.Data)
	}
	if item.CreatedAt.IsZero() {
		t.Error("CreatedAt should not be zero")
	}
	if item.ExpiresAt != nil {
		t.Error("ExpiresAt should be nil for data without TTL")
	}
}

func testGetNonExistent(t *testing.T, s storage.Storage, prefix string) {
	item, err := s.Get(context.Background(), prefix+"non-existent-key")
	if err != nil {
		t.Fatalf("Failed to get non-existent key: %v", err)
	}
	if item != nil {
		t.Error("Expected nil for non-existent key, got item")
	}
}

func testTTL(t *testing.T, s storage.Storage, prefix string) {
	ctx := context.Background()
	key := prefix + "ttl-key"
	ttl := 100 * time.Millisecond

	if err := s.Set(ctx, key, []byte("ttl data"), storage.WithTTL(ttl)); err != nil {
		t.Fatalf("Failed to set data with TTL: %v", err)
	}

	item, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get data: %v", err)
	}
	if item == nil {
		t.Fatal("Expected item to exist, got nil")
	}
	if item.ExpiresAt == nil {
		t.Fatal("ExpiresAt should not be nil for data with TTL")
	}

	time.Sleep(ttl + 50*time.Millisecond)

	item, err = s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get expired data: %v", err)
	}
	if item != nil {
		t.Error("Expected nil for expired data, got item")
	}
}

func testNamespaces(t *testing.T, s storage.Storage, prefix string) {
	ctx := context.Background()
	key := "namespace-key"
	sessionA := prefix + "session-a"
	sessionB := prefix + "session-b"

	if err := s.Set(ctx, prefix+key, []byte("global data")); err != nil {
		t.Fatalf("Failed to set global data: %v", err)
	}
	if err := s.Set(ctx, key, []byte("session data"), storage.WithSession(sessionA)); err != nil {
		t.Fatalf("Failed to set session data: %v", err)
	}

	item, err := s.Get(ctx, prefix+key)
	if err != nil {
		t.Fatalf("Failed to get global data: %v", err)
	}
	if item == nil || string(item.Data) != "global data" {
		t.Errorf("Expected global data, got %v", item)
	}

	item, err = s.Get(ctx, key, storage.WithSession(sessionA))
	if err != nil {
		t.Fatalf("Failed to get session data: %v", err)
	}
	if item == nil || string(item.Data) != "session data" {
		t.Errorf("Expected session data, got %v", item)
	}

	item, err = s.Get(ctx, key, storage.WithSession(sessionB))
	if err != nil {
		t.Fatalf("Failed to get data for different session: %v", err)
	}
	if item != nil {
		t.Error("Expected nil for different session namespace, got item")
	}
}

func testDeleteKey(t *testing.T, s storage.Storage, prefix string) {
	ctx := context.Background()
	key := prefix + "delete-key"

	if err := s.Set(ctx, key, []byte("delete data")); err != nil {
		t.Fatalf("Failed to set data: %v", err)
	}
	if item, err := s.Get(ctx, key); err != nil || item == nil {
		t.Fatalf("Expected item to exist before deletion (err=%v)", err)
	}

	if err := s.Delete(ctx, storage.WithKey(key)); err != nil {
		t.Fatalf("Failed to delete key: %v", err)
	}

	item, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get data after deletion: %v", err)
	}
	if item != nil {
		t.Error("Expected nil after deletion, got item")
	}
}

func testDeleteNamespace(t *testing.T, s storage.Storage, prefix string) {
	ctx := context.Background()
	sessionID := prefix + "delete-session"
	other := prefix + "keep-session"
	keys := []string{"key1", "key2", "key3"}

	for _, key := range keys {
		if err := s.Set(ctx, key, []byte("data for "+key), storage.WithSession(sessionID)); err != nil {
			t.Fatalf("Failed to set data for key %s: %v", key, err)
		}
	}
	if err := s.Set(ctx, "key1", []byte("kept"), storage.WithSession(other)); err != nil {
		t.Fatalf("Failed to set data for other session: %v", err)
	}

	if err := s.Delete(ctx, storage.WithSession(sessionID)); err != nil {
		t.Fatalf("Failed to delete session namespace: %v", err)
	}

	for _, key := range keys {
		item, err := s.Get(ctx, key, storage.WithSession(sessionID))
		if err != nil {
			t.Fatalf("Failed to get data for key %s after deletion: %v", key, err)
		}
		if item != nil {
			t.Errorf("Expected nil after namespace deletion for key %s, got item", key)
		}
	}

	item, err := s.Get(ctx, "key1", storage.WithSession(other))
	if err != nil {
		t.Fatalf("Failed to get data for other session: %v", err)
	}
	if item == nil {
		t.Error("Deleting one session namespace removed another")
	}
}

func testSetRejectsKeyOption(t *testing.T, s storage.Storage, prefix string) {
	err := s.Set(context.Background(), prefix+"k", []byte("v"), storage.WithKey("other"))
	if err != storage.ErrInvalidOptions {
		t.Fatalf("Expected ErrInvalidOptions, got %v", err)
	}
}
