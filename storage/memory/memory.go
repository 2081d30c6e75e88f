// Package memory provides an in-memory implementation of storage.Storage
// backed by github.com/hashicorp/golang-lru/v2. It suits tests and
// single-process peers that do not need to survive a restart.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pedrouid/walletconnect-v1-prototype/storage"
)

// Storage implements storage.Storage using a bounded LRU cache.
type Storage struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *storage.Item]

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a store holding at most maxItems entries. Expired entries are
// swept every sweepEvery; zero disables the sweeper and expiry is then only
// enforced on read.
func New(maxItems int, sweepEvery time.Duration) (*Storage, error) {
	cache, err := lru.New[string, *storage.Item](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Storage{
		cache: cache,
		stop:  make(chan struct{}),
	}
	if sweepEvery > 0 {
		go s.sweep(sweepEvery)
	}
	return s, nil
}

// Get implements storage.Storage.
func (s *Storage) Get(ctx context.Context, key string) (*storage.Item, error) {
	if key == "" {
		return nil, storage.ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.cache.Get(key)
	if !ok {
		return nil, nil
	}
	if item.IsExpired() {
		s.cache.Remove(key)
		return nil, nil
	}
	return item, nil
}

// Set implements storage.Storage.
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	if key == "" {
		return storage.ErrEmptyKey
	}
	item := storage.NewItem(data, storage.ApplyOptions(opts...))

	s.mu.Lock()
	s.cache.Add(key, item)
	s.mu.Unlock()
	return nil
}

// Remove implements storage.Storage.
func (s *Storage) Remove(ctx context.Context, key string) error {
	if key == "" {
		return storage.ErrEmptyKey
	}
	s.mu.Lock()
	s.cache.Remove(key)
	s.mu.Unlock()
	return nil
}

// Close stops the sweeper and drops all entries.
func (s *Storage) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

func (s *Storage) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		now := time.Now()
		for _, key := range s.cache.Keys() {
			if item, ok := s.cache.Peek(key); ok && item.ExpiresAt != nil && now.After(*item.ExpiresAt) {
				s.cache.Remove(key)
			}
		}
		s.mu.Unlock()
	}
}

var _ storage.Storage = (*Storage)(nil)
