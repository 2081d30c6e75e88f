package wstransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pedrouid/walletconnect-v1-prototype/connector"
	"github.com/pedrouid/walletconnect-v1-prototype/relay"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newRelay(t *testing.T, opts ...relay.HandlerOption) *httptest.Server {
	t.Helper()
	hub := relay.NewHub(relay.WithLogger(discard))
	opts = append(opts, relay.WithHandlerLogger(discard))
	srv := httptest.NewServer(relay.NewRouter(hub, relay.NewHandler(hub, opts...), prometheus.NewRegistry()))
	t.Cleanup(func() {
		srv.Close()
		_ = hub.Close()
	})
	return srv
}

func dial(t *testing.T, url string, opts ...Option) *Transport {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	tr, err := Dial(ctx, url, append(opts, WithLogger(discard))...)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func recv(t *testing.T, tr *Transport) relay.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	msg, err := tr.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	return msg
}

func TestSendRecv(t *testing.T) {
	srv := newRelay(t)
	a := dial(t, srv.URL)
	b := dial(t, srv.URL)

	if err := a.Send(t.Context(), relay.PublishMessage("topic", "one")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := b.Send(t.Context(), relay.SubscribeMessage("topic")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if msg := recv(t, b); msg.Payload != "one" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestRecvHonoursContext(t *testing.T) {
	srv := newRelay(t)
	tr := dial(t, srv.URL)

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()
	if _, err := tr.Recv(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestClose(t *testing.T) {
	srv := newRelay(t)
	tr := dial(t, srv.URL)

	if err := tr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := tr.Send(t.Context(), relay.SubscribeMessage("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := tr.Recv(t.Context()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	_ = tr.Close()
}

func TestDialToken(t *testing.T) {
	auth, err := relay.NewTokenAuthenticator([]byte("secret"))
	if err != nil {
		t.Fatalf("NewTokenAuthenticator failed: %v", err)
	}
	srv := newRelay(t, relay.WithAuthenticator(auth))

	if _, err := Dial(t.Context(), srv.URL); err == nil {
		t.Fatal("expected dial without token to fail")
	}
	tok, err := auth.Issue("dapp", time.Minute)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	dial(t, srv.URL, WithToken(tok))
}

func TestWebsocketURL(t *testing.T) {
	cases := map[string]string{
		"http://h:5000/": "ws://h:5000/",
		"https://h":      "wss://h",
		"ws://h/relay":   "ws://h/relay",
		"WSS://h":        "wss://h",
	}
	for in, want := range cases {
		got, err := websocketURL(in)
		if err != nil || got != want {
			t.Fatalf("websocketURL(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := websocketURL("ftp://h"); err == nil {
		t.Fatal("expected error for ftp scheme")
	}
}

// TestSessionOverWebsocket runs a full handshake and call between two
// connectors through a relay served over HTTP.
func TestSessionOverWebsocket(t *testing.T) {
	srv := newRelay(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	run := func(c *connector.Connector) {
		tr := dial(t, c.Session().Bridge)
		if err := c.Connect(ctx, tr); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		go func() { _ = c.Run(ctx) }()
	}

	dapp, err := connector.New(connector.WithBridge(srv.URL), connector.WithLogger(discard))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	connected := make(chan connector.Event, 1)
	dapp.On(connector.EventConnect, func(ctx context.Context, ev connector.Event) { connected <- ev })
	if err := dapp.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	run(dapp)

	wallet, err := connector.New(connector.WithURI(dapp.URI()), connector.WithLogger(discard))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	wallet.On(connector.EventSessionRequest, func(ctx context.Context, ev connector.Event) {
		_ = wallet.ApproveSession(ctx, 1, []string{"0xabc"})
	})
	wallet.On("personal_sign", func(ctx context.Context, ev connector.Event) {
		_ = wallet.ApproveRequest(ctx, ev.Request.ID, "0xsigned")
	})
	run(wallet)

	select {
	case ev := <-connected:
		if !slices.Equal(ev.Session.Accounts, []string{"0xabc"}) {
			t.Fatalf("unexpected accounts %v", ev.Session.Accounts)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for connect")
	}

	callCtx, callCancel := context.WithTimeout(ctx, 3*time.Second)
	defer callCancel()
	res, err := dapp.SignPersonalMessage(callCtx, "hi", "0xabc")
	if err != nil || string(res) != `"0xsigned"` {
		t.Fatalf("SignPersonalMessage = %s, %v", res, err)
	}
}

func TestOptionDefaults(t *testing.T) {
	srv := newRelay(t)
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	tr, err := Dial(ctx, srv.URL, WithLogger(nil), WithWriteTimeout(-time.Second))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close()

	if tr.log == nil {
		t.Fatal("nil logger was kept")
	}
	if tr.writeTimeout != defaultWriteTimeout {
		t.Fatalf("writeTimeout = %v, want %v", tr.writeTimeout, defaultWriteTimeout)
	}
	if err := tr.Send(t.Context(), relay.SubscribeMessage("topic")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
}
