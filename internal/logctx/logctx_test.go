package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerAddsContextGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := New(slog.New(slog.NewJSONHandler(&buf, nil)))

	ctx := WithConnData(context.Background(), &ConnData{ConnID: "c1", RemoteAddr: "127.0.0.1:1"})
	ctx = WithSessionData(ctx, &SessionData{ClientID: "me", PeerID: "you"})
	ctx = WithRPCMessage(ctx, &RPCMessage{Method: "personal_sign", ID: 42, Kind: "request"})
	logger.With("k", "v").InfoContext(ctx, "hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("Unmarshal failed: %v (%s)", err, buf.String())
	}
	conn, _ := rec["conn"].(map[string]any)
	if conn["id"] != "c1" {
		t.Fatalf("missing conn group: %v", rec)
	}
	sess, _ := rec["session"].(map[string]any)
	if sess["peer_id"] != "you" {
		t.Fatalf("missing session group: %v", rec)
	}
	rpc, _ := rec["rpc"].(map[string]any)
	if rpc["id"] != float64(42) {
		t.Fatalf("missing rpc group: %v", rec)
	}
	if rec["k"] != "v" {
		t.Fatalf("With attrs lost: %v", rec)
	}
}

func TestNewIsIdempotent(t *testing.T) {
	base := New(slog.Default())
	if New(base) != base {
		t.Fatal("expected already-wrapped logger to be returned unchanged")
	}
	if New(nil) != nil {
		t.Fatal("expected nil for nil logger")
	}
}
