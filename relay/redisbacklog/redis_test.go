package redisbacklog

import (
	"context"
	"testing"
	"time"

	"github.com/pedrouid/walletconnect-v1-prototype/relay"
	"github.com/pedrouid/walletconnect-v1-prototype/relay/backlogtest"
)

func TestRedisBacklog(t *testing.T) {
	ping, err := NewFromEnv()
	if err != nil {
		t.Skipf("skipping redis backlog tests: %v", err)
	}
	_ = ping.Close()

	backlogtest.RunBacklogTests(t, func(t *testing.T, max int, ttl time.Duration) relay.Backlog {
		b, err := NewFromEnv()
		if err != nil {
			t.Fatalf("NewFromEnv: %v", err)
		}
		b.keyPrefix = "wc:test:" + t.Name() + ":"
		b.max = max
		b.ttl = ttl
		if err := b.Purge(context.Background()); err != nil {
			t.Fatalf("Purge: %v", err)
		}
		t.Cleanup(func() {
			_ = b.Purge(context.Background())
			_ = b.Close()
		})
		return b
	})
}

func TestParseEntry(t *testing.T) {
	e, err := parseEntry(`12|1700000000000|{"topic":"a|b","type":"pub","payload":"x|y"}`)
	if err != nil {
		t.Fatalf("parseEntry failed: %v", err)
	}
	if e.seq != 12 || e.msg.Topic != "a|b" || e.msg.Payload != "x|y" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	for _, bad := range []string{"", "1|2", "x|2|{}", "1|x|{}", "1|2|nope"} {
		if _, err := parseEntry(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
