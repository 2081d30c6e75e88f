// Package redisbacklog stores relay messages for absent subscribers in Redis,
// so buffered envelopes survive a relay restart and can be shared by relay
// processes that front the same Redis.
package redisbacklog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/pedrouid/walletconnect-v1-prototype/relay"
	"github.com/redis/go-redis/v9"
)

// Config for a Redis-backed backlog. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: RELAY_REDIS_PREFIX
	KeyPrefix string `env:"RELAY_REDIS_PREFIX,default=wc:relay:"`
	// MaxPerTopic bounds each topic's buffer; oldest entries are trimmed.
	// ENV: RELAY_MAX_PENDING
	MaxPerTopic int `env:"RELAY_MAX_PENDING,default=10000"`
	// TTL bounds how long a buffered message is kept. ENV: RELAY_PENDING_TTL
	TTL time.Duration `env:"RELAY_PENDING_TTL,default=24h"`
}

// Backlog implements relay.Backlog on Redis lists, one per topic. A global
// sequence number orders entries across topics.
type Backlog struct {
	client    *redis.Client
	keyPrefix string
	max       int
	ttl       time.Duration
}

// Each entry is "<seq>|<unix ms>|<message json>".
var pushScript = redis.NewScript(`
local seq = redis.call('INCR', KEYS[2])
local n = redis.call('RPUSH', KEYS[1], seq .. '|' .. ARGV[4] .. '|' .. ARGV[1])
local evicted = 0
local max = tonumber(ARGV[2])
if max > 0 and n > max then
  evicted = n - max
  redis.call('LTRIM', KEYS[1], evicted, -1)
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return evicted
`)

var drainScript = redis.NewScript(`
local out = {}
for _, k in ipairs(KEYS) do
  local items = redis.call('LRANGE', k, 0, -1)
  if #items > 0 then
    redis.call('DEL', k)
    for _, v in ipairs(items) do
      table.insert(out, v)
    end
  end
end
return out
`)

// New connects to Redis and verifies it is reachable.
func New(cfg Config) (*Backlog, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(cl, cfg), nil
}

// NewWithClient wraps an existing client. The backlog takes ownership and
// closes it on Close.
func NewWithClient(cl *redis.Client, cfg Config) *Backlog {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "wc:relay:"
	}
	return &Backlog{client: cl, keyPrefix: prefix, max: cfg.MaxPerTopic, ttl: cfg.TTL}
}

// NewFromEnv builds a Backlog using envdecode to populate Config.
func NewFromEnv() (*Backlog, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, err
	}
	return New(cfg)
}

func (b *Backlog) topicKey(topic string) string { return b.keyPrefix + "pending:" + topic }
func (b *Backlog) seqKey() string               { return b.keyPrefix + "seq" }

// Push implements relay.Backlog.
func (b *Backlog) Push(ctx context.Context, msg relay.Message) (int, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("marshal message: %w", err)
	}
	evicted, err := pushScript.Run(ctx, b.client,
		[]string{b.topicKey(msg.Topic), b.seqKey()},
		string(raw), b.max, b.ttl.Milliseconds(), time.Now().UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("redis push: %w", err)
	}
	return evicted, nil
}

type entry struct {
	seq uint64
	at  time.Time
	msg relay.Message
}

// Drain implements relay.Backlog.
func (b *Backlog) Drain(ctx context.Context, topics []string) ([]relay.Message, error) {
	if len(topics) == 0 {
		return nil, nil
	}
	keys := make([]string, len(topics))
	for i, t := range topics {
		keys[i] = b.topicKey(t)
	}
	items, err := drainScript.Run(ctx, b.client, keys).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis drain: %w", err)
	}

	entries := make([]entry, 0, len(items))
	for _, it := range items {
		e, err := parseEntry(it)
		if err != nil {
			return nil, err
		}
		if b.ttl > 0 && time.Since(e.at) > b.ttl {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]relay.Message, len(entries))
	for i, e := range entries {
		out[i] = e.msg
	}
	return out, nil
}

func parseEntry(s string) (entry, error) {
	parts := strings.SplitN(s, "|", 3)
	if len(parts) != 3 {
		return entry{}, fmt.Errorf("corrupt backlog entry %q", s)
	}
	seq, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return entry{}, fmt.Errorf("corrupt backlog sequence: %w", err)
	}
	ms, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return entry{}, fmt.Errorf("corrupt backlog timestamp: %w", err)
	}
	var msg relay.Message
	if err := json.Unmarshal([]byte(parts[2]), &msg); err != nil {
		return entry{}, fmt.Errorf("corrupt backlog message: %w", err)
	}
	return entry{seq: seq, at: time.UnixMilli(ms), msg: msg}, nil
}

// Purge deletes every key under the prefix.
func (b *Backlog) Purge(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := b.client.Scan(ctx, cursor, b.keyPrefix+"*", 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := b.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Close closes the Redis client.
func (b *Backlog) Close() error { return b.client.Close() }

var _ relay.Backlog = (*Backlog)(nil)
