package connector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/pedrouid/walletconnect-v1-prototype/codec"
	"github.com/pedrouid/walletconnect-v1-prototype/jsonrpc"
	"github.com/pedrouid/walletconnect-v1-prototype/relay"
	"github.com/pedrouid/walletconnect-v1-prototype/storage"
	"github.com/pedrouid/walletconnect-v1-prototype/storage/memory"
	"github.com/pedrouid/walletconnect-v1-prototype/wcuri"
)

const testBridge = "https://bridge.example.org"

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newHub(t *testing.T) *relay.Hub {
	t.Helper()
	hub := relay.NewHub(relay.WithLogger(discard))
	t.Cleanup(func() { _ = hub.Close() })
	return hub
}

func newStore(t *testing.T) storage.Storage {
	t.Helper()
	st, err := memory.New(16, 0)
	if err != nil {
		t.Fatalf("memory.New failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mustNew(t *testing.T, opts ...Option) *Connector {
	t.Helper()
	c, err := New(append([]Option{WithLogger(discard)}, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

// attach connects c to hub and runs its receive loop until the test ends.
func attach(t *testing.T, hub *relay.Hub, c *Connector) {
	t.Helper()
	conn, err := hub.Connect("test")
	if err != nil {
		t.Fatalf("hub.Connect failed: %v", err)
	}
	if err := c.Connect(t.Context(), conn); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = conn.Close()
	})
}

func record(c *Connector, names ...string) <-chan Event {
	ch := make(chan Event, 32)
	for _, name := range names {
		c.On(name, func(ctx context.Context, ev Event) { ch <- ev })
	}
	return ch
}

func nextEvent(t *testing.T, ch <-chan Event, name string) Event {
	t.Helper()
	select {
	case ev := <-ch:
		if ev.Name != name {
			t.Fatalf("expected %s event, got %s (%+v)", name, ev.Name, ev)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s event", name)
	}
	return Event{}
}

func noEvent(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected %s event: %+v", ev.Name, ev)
	case <-time.After(100 * time.Millisecond):
	}
}

type pair struct {
	hub          *relay.Hub
	dapp, wallet *Connector
	dappStore    storage.Storage
	walletStore  storage.Storage
	dappEvents   <-chan Event
	walletEvents <-chan Event
}

// newPair creates a session on the dapp side and delivers its request to a
// wallet joined from the URI. The session is left pending.
func newPair(t *testing.T) *pair {
	t.Helper()
	p := &pair{hub: newHub(t), dappStore: newStore(t), walletStore: newStore(t)}

	p.dapp = mustNew(t, WithBridge(testBridge), WithStorage(p.dappStore), WithClientMeta(ClientMeta{Name: "dapp", URL: "https://dapp.example.org"}))
	p.dappEvents = record(p.dapp, EventConnect, EventDisconnect, EventSessionUpdate)
	if err := p.dapp.Init(t.Context()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	attach(t, p.hub, p.dapp)

	p.wallet = mustNew(t, WithURI(p.dapp.URI()), WithStorage(p.walletStore), WithClientMeta(ClientMeta{Name: "wallet"}))
	p.walletEvents = record(p.wallet, EventSessionRequest, EventConnect, EventDisconnect, EventSessionUpdate)
	attach(t, p.hub, p.wallet)

	ev := nextEvent(t, p.walletEvents, EventSessionRequest)
	if ev.Peer.PeerID != p.dapp.ClientID() || ev.Peer.PeerMeta == nil || ev.Peer.PeerMeta.Name != "dapp" {
		t.Fatalf("unexpected session request: %+v", ev.Peer)
	}
	return p
}

func connectedPair(t *testing.T) *pair {
	t.Helper()
	p := newPair(t)
	if err := p.wallet.ApproveSession(t.Context(), 1, []string{"0xabc"}); err != nil {
		t.Fatalf("ApproveSession failed: %v", err)
	}
	nextEvent(t, p.walletEvents, EventConnect)
	nextEvent(t, p.dappEvents, EventConnect)
	return p
}

func TestHandshakeApprove(t *testing.T) {
	p := newPair(t)

	if got := p.wallet.State(); got != StatePendingHandshake {
		t.Fatalf("wallet state = %s", got)
	}
	if got := p.dapp.State(); got != StatePendingHandshake {
		t.Fatalf("dapp state = %s", got)
	}

	if err := p.wallet.ApproveSession(t.Context(), 1, []string{"0xabc"}); err != nil {
		t.Fatalf("ApproveSession failed: %v", err)
	}
	ev := nextEvent(t, p.dappEvents, EventConnect)
	if ev.Session.PeerID != p.wallet.ClientID() || ev.Session.PeerMeta == nil || ev.Session.PeerMeta.Name != "wallet" {
		t.Fatalf("unexpected connect payload: %+v", ev.Session)
	}
	if !slices.Equal(ev.Session.Accounts, []string{"0xabc"}) || ev.Session.ChainID != 1 {
		t.Fatalf("unexpected connect payload: %+v", ev.Session)
	}
	noEvent(t, p.dappEvents)

	if !p.dapp.Connected() || !slices.Equal(p.dapp.Accounts(), []string{"0xabc"}) || p.dapp.ChainID() != 1 {
		t.Fatalf("dapp not connected: %+v", p.dapp.Session())
	}
	if p.dapp.PeerID() != p.wallet.ClientID() || p.wallet.PeerID() != p.dapp.ClientID() {
		t.Fatal("peer ids not exchanged")
	}
	nextEvent(t, p.walletEvents, EventConnect)

	item, err := p.dappStore.Get(t.Context(), DefaultStorageKey)
	if err != nil || item == nil {
		t.Fatalf("expected persisted session, got %v, %v", item, err)
	}
	var rec Session
	if err := json.Unmarshal(item.Data, &rec); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !rec.Connected || rec.PeerID != p.wallet.ClientID() || rec.Key == "" {
		t.Fatalf("unexpected persisted record: %+v", rec)
	}

	if err := p.wallet.ApproveSession(t.Context(), 1, nil); !errors.Is(err, ErrSessionConnected) {
		t.Fatalf("expected ErrSessionConnected, got %v", err)
	}
}

func TestHandshakeReject(t *testing.T) {
	p := newPair(t)

	if err := p.wallet.RejectSession(t.Context(), "denied"); err != nil {
		t.Fatalf("RejectSession failed: %v", err)
	}
	ev := nextEvent(t, p.dappEvents, EventDisconnect)
	if ev.Session.Message != "denied" {
		t.Fatalf("unexpected disconnect message %q", ev.Session.Message)
	}
	noEvent(t, p.dappEvents)

	if p.dapp.State() != StateDisconnected || p.wallet.State() != StateDisconnected {
		t.Fatalf("states = %s, %s", p.dapp.State(), p.wallet.State())
	}
	if item, err := p.dappStore.Get(t.Context(), DefaultStorageKey); err != nil || item != nil {
		t.Fatalf("expected session record removed, got %v, %v", item, err)
	}
	nextEvent(t, p.walletEvents, EventDisconnect)

	// The dapp can start over with a fresh key.
	uri, err := p.dapp.CreateSession(t.Context())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := wcuri.Decode(uri); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
}

func TestCallRoundTrip(t *testing.T) {
	p := connectedPair(t)

	p.wallet.On("personal_sign", func(ctx context.Context, ev Event) {
		var msg, addr string
		if err := ev.Request.DecodeParams(&msg, &addr); err != nil {
			_ = p.wallet.RejectRequest(ctx, ev.Request.ID, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, err.Error()))
			return
		}
		_ = p.wallet.ApproveRequest(ctx, ev.Request.ID, "0xsig:"+msg+":"+addr)
	})
	fallback := record(p.wallet, EventCallRequest)

	res, err := p.dapp.SignPersonalMessage(t.Context(), "hello", "0xabc")
	if err != nil {
		t.Fatalf("SignPersonalMessage failed: %v", err)
	}
	var sig string
	if err := json.Unmarshal(res, &sig); err != nil || sig != "0xsig:hello:0xabc" {
		t.Fatalf("unexpected result %s (%v)", res, err)
	}
	noEvent(t, fallback)
}

func TestCallRequestFallbackAndReject(t *testing.T) {
	p := connectedPair(t)

	requests := make(chan *jsonrpc.Request, 1)
	p.wallet.On(EventCallRequest, func(ctx context.Context, ev Event) {
		requests <- ev.Request
		_ = p.wallet.RejectRequest(ctx, ev.Request.ID, jsonrpc.NewError(jsonrpc.ErrorCodeServerError, "User rejected"))
	})

	_, err := p.dapp.SendTransaction(t.Context(), Transaction{From: "0xabc", To: "0xdef", Value: "0x1"})
	var rpcErr *jsonrpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.Message != "User rejected" {
		t.Fatalf("expected rpc error, got %v", err)
	}

	req := <-requests
	if req.Method != "eth_sendTransaction" {
		t.Fatalf("unexpected method %q", req.Method)
	}
	var tx Transaction
	if err := req.DecodeParams(&tx); err != nil || tx.To != "0xdef" {
		t.Fatalf("unexpected params %s (%v)", req.Params, err)
	}

	if _, err := p.dapp.SendTransaction(t.Context(), Transaction{}); !errors.Is(err, ErrMissingFrom) {
		t.Fatalf("expected ErrMissingFrom, got %v", err)
	}
}

func TestUpdateSession(t *testing.T) {
	p := connectedPair(t)

	if err := p.wallet.UpdateSession(t.Context(), 5, []string{"0x1", "0x2"}); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}
	ev := nextEvent(t, p.dappEvents, EventSessionUpdate)
	if ev.Session.ChainID != 5 || !slices.Equal(ev.Session.Accounts, []string{"0x1", "0x2"}) {
		t.Fatalf("unexpected update: %+v", ev.Session)
	}
	if p.dapp.ChainID() != 5 || !p.dapp.Connected() {
		t.Fatalf("dapp not updated: %+v", p.dapp.Session())
	}
	nextEvent(t, p.walletEvents, EventSessionUpdate)
}

func TestKillSessionRejectsPendingCalls(t *testing.T) {
	p := connectedPair(t)

	received := make(chan struct{})
	p.wallet.On("eth_accounts", func(ctx context.Context, ev Event) { close(received) })

	errc := make(chan error, 1)
	go func() {
		_, err := p.dapp.SendCustomRequest(context.Background(), "eth_accounts")
		errc <- err
	}()
	<-received

	if err := p.wallet.KillSession(t.Context(), "bye"); err != nil {
		t.Fatalf("KillSession failed: %v", err)
	}
	if err := <-errc; !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	ev := nextEvent(t, p.dappEvents, EventDisconnect)
	if ev.Session.Message != "bye" {
		t.Fatalf("unexpected message %q", ev.Session.Message)
	}
	nextEvent(t, p.walletEvents, EventDisconnect)

	if err := p.wallet.KillSession(t.Context(), ""); !errors.Is(err, ErrSessionDisconnected) {
		t.Fatalf("expected ErrSessionDisconnected, got %v", err)
	}
	if _, err := p.dapp.SignMessage(t.Context(), "0xabc", "x"); !errors.Is(err, ErrSessionDisconnected) {
		t.Fatalf("expected ErrSessionDisconnected, got %v", err)
	}
}

func TestResumeFromStorage(t *testing.T) {
	p := connectedPair(t)
	p.wallet.On("eth_chainId", func(ctx context.Context, ev Event) {
		_ = p.wallet.ApproveRequest(ctx, ev.Request.ID, "0x1")
	})
	if err := p.dapp.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	resumed := mustNew(t, WithBridge("https://other.example.org"), WithStorage(p.dappStore))
	if err := resumed.Init(t.Context()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if !resumed.Connected() || resumed.ClientID() != p.dapp.ClientID() || resumed.PeerID() != p.wallet.ClientID() {
		t.Fatalf("unexpected resumed session: %+v", resumed.Session())
	}
	if resumed.Session().Bridge != testBridge {
		t.Fatalf("bridge = %q", resumed.Session().Bridge)
	}
	attach(t, p.hub, resumed)

	res, err := resumed.SendCustomRequest(t.Context(), "eth_chainId")
	if err != nil || string(res) != `"0x1"` {
		t.Fatalf("SendCustomRequest = %s, %v", res, err)
	}
}

func TestResumePendingResponder(t *testing.T) {
	p := newPair(t)

	resumed := mustNew(t, WithBridge(testBridge), WithStorage(p.walletStore))
	if err := resumed.Init(t.Context()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if resumed.State() != StatePendingHandshake || resumed.PeerID() != p.dapp.ClientID() {
		t.Fatalf("unexpected resumed session: %+v", resumed.Session())
	}
	if err := p.wallet.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	attach(t, p.hub, resumed)

	if err := resumed.ApproveSession(t.Context(), 3, []string{"0xfeed"}); err != nil {
		t.Fatalf("ApproveSession failed: %v", err)
	}
	ev := nextEvent(t, p.dappEvents, EventConnect)
	if ev.Session.ChainID != 3 || ev.Session.PeerID != resumed.ClientID() {
		t.Fatalf("unexpected connect payload: %+v", ev.Session)
	}
}

func TestStateErrors(t *testing.T) {
	c := mustNew(t, WithBridge(testBridge))

	if err := c.UpdateSession(t.Context(), 1, nil); !errors.Is(err, ErrSessionDisconnected) {
		t.Fatalf("UpdateSession: %v", err)
	}
	if err := c.ApproveSession(t.Context(), 1, nil); !errors.Is(err, ErrNoHandshake) {
		t.Fatalf("ApproveSession: %v", err)
	}
	if err := c.RejectSession(t.Context(), ""); !errors.Is(err, ErrNoHandshake) {
		t.Fatalf("RejectSession: %v", err)
	}
	if _, err := c.SendCustomRequest(t.Context(), "eth_accounts"); !errors.Is(err, ErrSessionDisconnected) {
		t.Fatalf("SendCustomRequest: %v", err)
	}

	uri, err := c.CreateSession(t.Context())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	u, err := wcuri.Decode(uri)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if u.Bridge != testBridge || u.Topic != c.HandshakeTopic() || len(u.Key) != 32 {
		t.Fatalf("unexpected uri %+v", u)
	}
	if _, err := c.CreateSession(t.Context()); !errors.Is(err, ErrHandshakePending) {
		t.Fatalf("expected ErrHandshakePending, got %v", err)
	}
	if err := c.ApproveSession(t.Context(), 1, nil); !errors.Is(err, ErrNoHandshake) {
		t.Fatalf("initiator ApproveSession: %v", err)
	}

	if _, err := New(); !errors.Is(err, ErrMissingBridge) {
		t.Fatalf("expected ErrMissingBridge, got %v", err)
	}
	if _, err := New(WithURI("wc:nope")); err == nil {
		t.Fatal("expected error for bad uri")
	}
	short := "wc:t@1?bridge=" + testBridge + "&key=" + codec.ToHex(testKey[:16])
	if _, err := New(WithURI(short)); !errors.Is(err, wcuri.ErrFormat) {
		t.Fatalf("expected wcuri.ErrFormat for a 128-bit key, got %v", err)
	}
	if err := c.Run(t.Context()); !errors.Is(err, ErrNoTransport) {
		t.Fatalf("expected ErrNoTransport, got %v", err)
	}
}

func TestDefaultClientMeta(t *testing.T) {
	c := mustNew(t, WithBridge(testBridge))
	if c.ClientMeta().Name == "" {
		t.Fatal("expected default client name")
	}
	if c.ClientID() == "" {
		t.Fatal("expected client id")
	}
}
