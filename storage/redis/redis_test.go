package redis

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/mcp-dispatch-go/storage/storagetest"
)

func TestRedisStorage(t *testing.T) {
	// Skip test if Redis is not available
	client := redis.NewClient(&redis.Options{
		Addr: "127.0.0.1:6379",
		DB:   2, // Use separate DB for storage tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	defer client.FlushDB(ctx)

	s, err := New(Config{
		Client:    client,
		KeyPrefix: "mcp:test:",
	})
	if err != nil {
		t.Fatalf("Failed to create Redis storage: %v", err)
	}
	defer s.Close()

	storagetest.Run(t, s, "redistest:")
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New() without a client should fail")
	}
}

func TestBuildKey(t *testing.T) {
	s := &Storage{keyPrefix: defaultKeyPrefix}
	if got := s.buildKey(nil, "k"); got != "mcp:storage:global:k" {
		t.Fatalf("global key = %q", got)
	}
}
