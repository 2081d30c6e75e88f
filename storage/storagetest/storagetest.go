// Package storagetest holds a conformance suite every storage.Storage
// implementation runs from its own tests.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/pedrouid/walletconnect-v1-prototype/storage"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) storage.Storage

// RunStorageTests exercises get/set/remove semantics against factory.
func RunStorageTests(t *testing.T, factory Factory) {
	t.Run("SetAndGet", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		if err := s.Set(ctx, "wcsmngt", []byte(`{"connected":true}`)); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		item, err := s.Get(ctx, "wcsmngt")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if item == nil {
			t.Fatal("Get returned nil item")
		}
		if string(item.Data) != `{"connected":true}` {
			t.Fatalf("Get returned wrong data: %s", item.Data)
		}
		if item.CreatedAt.IsZero() {
			t.Fatal("CreatedAt not set")
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := factory(t)
		item, err := s.Get(context.Background(), "absent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if item != nil {
			t.Fatalf("expected nil item, got %+v", item)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		_ = s.Set(ctx, "k", []byte("one"))
		if err := s.Set(ctx, "k", []byte("two")); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		item, err := s.Get(ctx, "k")
		if err != nil || item == nil {
			t.Fatalf("Get failed: %v %v", item, err)
		}
		if string(item.Data) != "two" {
			t.Fatalf("expected overwritten value, got %s", item.Data)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		_ = s.Set(ctx, "k", []byte("v"))
		if err := s.Remove(ctx, "k"); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		item, err := s.Get(ctx, "k")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if item != nil {
			t.Fatal("item still present after Remove")
		}
		if err := s.Remove(ctx, "k"); err != nil {
			t.Fatalf("Remove of absent key failed: %v", err)
		}
	})

	t.Run("TTL", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		if err := s.Set(ctx, "short", []byte("v"), storage.WithTTL(50*time.Millisecond)); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		item, err := s.Get(ctx, "short")
		if err != nil || item == nil {
			t.Fatalf("expected item before expiry: %v %v", item, err)
		}
		if item.ExpiresAt == nil {
			t.Fatal("ExpiresAt not set")
		}
		time.Sleep(1100 * time.Millisecond)
		item, err = s.Get(ctx, "short")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if item != nil {
			t.Fatal("expected item to expire")
		}
	})

	t.Run("EmptyKey", func(t *testing.T) {
		s := factory(t)
		if err := s.Set(context.Background(), "", []byte("v")); err == nil {
			t.Fatal("expected error for empty key")
		}
	})
}
