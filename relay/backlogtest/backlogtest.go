// Package backlogtest holds a conformance suite for relay.Backlog
// implementations.
package backlogtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pedrouid/walletconnect-v1-prototype/relay"
)

// Factory returns a fresh, empty backlog bounded to max messages per topic and
// ttl age. Non-positive values disable a bound.
type Factory func(t *testing.T, max int, ttl time.Duration) relay.Backlog

// RunBacklogTests runs the suite against factory.
func RunBacklogTests(t *testing.T, factory Factory) {
	t.Run("DrainInArrivalOrder", func(t *testing.T) {
		b := factory(t, 0, 0)
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			topic := "a"
			if i%2 == 1 {
				topic = "b"
			}
			push(t, b, relay.PublishMessage(topic, fmt.Sprint(i)))
		}
		got, err := b.Drain(ctx, []string{"a", "b"})
		if err != nil {
			t.Fatalf("Drain failed: %v", err)
		}
		if len(got) != 5 {
			t.Fatalf("Drain returned %d messages, want 5", len(got))
		}
		for i, m := range got {
			if m.Payload != fmt.Sprint(i) {
				t.Fatalf("message %d has payload %q, want %q", i, m.Payload, fmt.Sprint(i))
			}
		}
	})

	t.Run("DrainOnlyMatchingTopics", func(t *testing.T) {
		b := factory(t, 0, 0)
		ctx := context.Background()
		push(t, b, relay.PublishMessage("a", "1"))
		push(t, b, relay.PublishMessage("b", "2"))

		got, err := b.Drain(ctx, []string{"a"})
		if err != nil {
			t.Fatalf("Drain failed: %v", err)
		}
		if len(got) != 1 || got[0].Payload != "1" {
			t.Fatalf("unexpected drain for a: %+v", got)
		}
		rest, err := b.Drain(ctx, []string{"b"})
		if err != nil {
			t.Fatalf("Drain failed: %v", err)
		}
		if len(rest) != 1 || rest[0].Payload != "2" {
			t.Fatalf("unexpected drain for b: %+v", rest)
		}
	})

	t.Run("DrainIsExactlyOnce", func(t *testing.T) {
		b := factory(t, 0, 0)
		ctx := context.Background()
		push(t, b, relay.PublishMessage("a", "1"))
		if got, _ := b.Drain(ctx, []string{"a"}); len(got) != 1 {
			t.Fatalf("first drain returned %d messages", len(got))
		}
		got, err := b.Drain(ctx, []string{"a"})
		if err != nil {
			t.Fatalf("Drain failed: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("second drain returned %d messages", len(got))
		}
	})

	t.Run("EvictsOldestFirst", func(t *testing.T) {
		b := factory(t, 3, 0)
		ctx := context.Background()
		evicted := 0
		for i := 0; i < 5; i++ {
			n, err := b.Push(ctx, relay.PublishMessage("a", fmt.Sprint(i)))
			if err != nil {
				t.Fatalf("Push failed: %v", err)
			}
			evicted += n
		}
		if evicted != 2 {
			t.Fatalf("evicted %d, want 2", evicted)
		}
		got, err := b.Drain(ctx, []string{"a"})
		if err != nil {
			t.Fatalf("Drain failed: %v", err)
		}
		if len(got) != 3 || got[0].Payload != "2" || got[2].Payload != "4" {
			t.Fatalf("unexpected survivors: %+v", got)
		}
	})

	t.Run("ExpiresOldMessages", func(t *testing.T) {
		b := factory(t, 0, 100*time.Millisecond)
		ctx := context.Background()
		push(t, b, relay.PublishMessage("a", "old"))
		time.Sleep(250 * time.Millisecond)
		push(t, b, relay.PublishMessage("a", "new"))

		got, err := b.Drain(ctx, []string{"a"})
		if err != nil {
			t.Fatalf("Drain failed: %v", err)
		}
		if len(got) != 1 || got[0].Payload != "new" {
			t.Fatalf("expected only the fresh message, got %+v", got)
		}
	})
}

func push(t *testing.T, b relay.Backlog, msg relay.Message) {
	t.Helper()
	if _, err := b.Push(context.Background(), msg); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
}
