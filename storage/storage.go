// Package storage defines the key/value blob store a connector persists its
// session record into, so that a process restart can resume the session.
package storage

import (
	"context"
	"errors"
	"time"
)

// Storage is a get/set/remove blob store. Only the owning connector writes a
// given key, so no transactional guarantees are required.
type Storage interface {
	// Get returns the item stored under key.
	// Returns a nil Item if the key doesn't exist or has expired.
	// Returns an error only for storage system failures.
	Get(ctx context.Context, key string) (*Item, error)

	// Set stores data under key, replacing any previous value.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Close releases resources held by the backend.
	Close() error
}

// Item is a stored blob with metadata.
type Item struct {
	Data      []byte
	CreatedAt time.Time
	ExpiresAt *time.Time // nil = no expiration
}

// IsExpired checks if the item has expired.
func (it *Item) IsExpired() bool {
	return it.ExpiresAt != nil && time.Now().After(*it.ExpiresAt)
}

// Option configures a Set call.
type Option func(*Options)

// Options holds the resolved Set options.
type Options struct {
	TTL *time.Duration
}

// WithTTL sets a time-to-live for the stored data.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.TTL = &ttl
	}
}

// ApplyOptions resolves opts.
func ApplyOptions(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewItem builds an Item for data under the resolved options. The data is copied.
func NewItem(data []byte, o Options) *Item {
	now := time.Now()
	item := &Item{
		Data:      append([]byte(nil), data...),
		CreatedAt: now,
	}
	if o.TTL != nil {
		expiresAt := now.Add(*o.TTL)
		item.ExpiresAt = &expiresAt
	}
	return item
}

// ErrEmptyKey is returned when an operation is given an empty key.
var ErrEmptyKey = errors.New("storage: empty key")
