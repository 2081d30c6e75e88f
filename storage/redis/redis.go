// Package redis provides a Redis-backed storage.Storage, for peers that run
// as stateless processes and keep their session record centrally.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pedrouid/walletconnect-v1-prototype/storage"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis storage.
type Config struct {
	// Client is the Redis client instance.
	Client redis.UniversalClient

	// KeyPrefix is the prefix for all Redis keys.
	// Default: "wc:storage:"
	KeyPrefix string
}

// Storage implements storage.Storage using Redis.
type Storage struct {
	client    redis.UniversalClient
	keyPrefix string
}

// storedItem represents the structure stored in Redis.
type storedItem struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New creates a new Redis-based storage instance.
func New(config Config) (*Storage, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "wc:storage:"
	}
	return &Storage{
		client:    config.Client,
		keyPrefix: config.KeyPrefix,
	}, nil
}

// Get implements storage.Storage.
func (s *Storage) Get(ctx context.Context, key string) (*storage.Item, error) {
	if key == "" {
		return nil, storage.ErrEmptyKey
	}
	redisKey := s.keyPrefix + key

	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get key %s: %w", redisKey, err)
	}

	var stored storedItem
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored data: %w", err)
	}
	item := &storage.Item{
		Data:      stored.Data,
		CreatedAt: stored.CreatedAt,
		ExpiresAt: stored.ExpiresAt,
	}
	if item.IsExpired() {
		s.client.Del(ctx, redisKey)
		return nil, nil
	}
	return item, nil
}

// Set implements storage.Storage.
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	if key == "" {
		return storage.ErrEmptyKey
	}
	redisKey := s.keyPrefix + key
	o := storage.ApplyOptions(opts...)
	item := storage.NewItem(data, o)

	raw, err := json.Marshal(storedItem{
		Data:      item.Data,
		CreatedAt: item.CreatedAt,
		ExpiresAt: item.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal storage item: %w", err)
	}

	var ttl time.Duration
	if o.TTL != nil {
		ttl = *o.TTL
	}
	if err := s.client.Set(ctx, redisKey, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", redisKey, err)
	}
	return nil
}

// Remove implements storage.Storage.
func (s *Storage) Remove(ctx context.Context, key string) error {
	if key == "" {
		return storage.ErrEmptyKey
	}
	redisKey := s.keyPrefix + key
	if err := s.client.Del(ctx, redisKey).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", redisKey, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Storage) Close() error {
	return s.client.Close()
}

var _ storage.Storage = (*Storage)(nil)
