package redis

import (
	"context"
	"os"
	"testing"

	"github.com/pedrouid/walletconnect-v1-prototype/storage"
	"github.com/pedrouid/walletconnect-v1-prototype/storage/storagetest"
	"github.com/redis/go-redis/v9"
)

func TestRedisStorage(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	// Use a separate DB for storage tests.
	admin := redis.NewClient(&redis.Options{Addr: addr, DB: 2})
	ctx := context.Background()
	if err := admin.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer admin.Close()
	defer admin.FlushDB(ctx)

	storagetest.RunStorageTests(t, func(t *testing.T) storage.Storage {
		client := redis.NewClient(&redis.Options{Addr: addr, DB: 2})
		s, err := New(Config{Client: client, KeyPrefix: "wc:test:" + t.Name() + ":"})
		if err != nil {
			t.Fatalf("Failed to create Redis storage: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without client")
	}
}
