package relay

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Backlog buffers messages published to topics that have no subscriber.
type Backlog interface {
	// Push appends msg. It returns how many older messages were evicted to
	// stay within the configured bound.
	Push(ctx context.Context, msg Message) (evicted int, err error)
	// Drain removes and returns every buffered message addressed to one of
	// topics, in arrival order.
	Drain(ctx context.Context, topics []string) ([]Message, error)
	// Close releases resources held by the backlog.
	Close() error
}

// MemoryBacklog is a process-local Backlog bounded by count and age. When
// full, the oldest message is evicted first.
type MemoryBacklog struct {
	mu      sync.Mutex
	entries []backlogEntry
	max     int
	ttl     time.Duration
	now     func() time.Time
}

type backlogEntry struct {
	msg Message
	at  time.Time
}

// NewMemoryBacklog returns a backlog holding at most max messages for at most
// ttl. Non-positive values disable the respective bound.
func NewMemoryBacklog(max int, ttl time.Duration) *MemoryBacklog {
	return &MemoryBacklog{max: max, ttl: ttl, now: time.Now}
}

// Push implements Backlog.
func (b *MemoryBacklog) Push(ctx context.Context, msg Message) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	evicted := b.expireLocked(now)
	b.entries = append(b.entries, backlogEntry{msg: msg, at: now})
	if b.max > 0 && len(b.entries) > b.max {
		over := len(b.entries) - b.max
		clear(b.entries[:over])
		b.entries = b.entries[over:]
		evicted += over
	}
	return evicted, nil
}

// Drain implements Backlog.
func (b *MemoryBacklog) Drain(ctx context.Context, topics []string) ([]Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.expireLocked(b.now())
	var out []Message
	kept := b.entries[:0]
	for _, e := range b.entries {
		if slices.Contains(topics, e.msg.Topic) {
			out = append(out, e.msg)
			continue
		}
		kept = append(kept, e)
	}
	clear(b.entries[len(kept):])
	b.entries = kept
	return out, nil
}

// Len reports the number of buffered messages.
func (b *MemoryBacklog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Close drops all buffered messages.
func (b *MemoryBacklog) Close() error {
	b.mu.Lock()
	b.entries = nil
	b.mu.Unlock()
	return nil
}

// expireLocked drops entries older than ttl. Entries are in arrival order so
// expired ones form a prefix.
func (b *MemoryBacklog) expireLocked(now time.Time) int {
	if b.ttl <= 0 {
		return 0
	}
	n := 0
	for n < len(b.entries) && now.Sub(b.entries[n].at) > b.ttl {
		n++
	}
	if n > 0 {
		clear(b.entries[:n])
		b.entries = b.entries[n:]
	}
	return n
}

var _ Backlog = (*MemoryBacklog)(nil)
