// Package connector implements one end of a WalletConnect v1 session: the
// handshake, encrypted JSON-RPC calls in both directions, and the event
// callbacks an application observes. It talks to a relay through a Transport.
package connector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pedrouid/walletconnect-v1-prototype/codec"
	"github.com/pedrouid/walletconnect-v1-prototype/internal/logctx"
	"github.com/pedrouid/walletconnect-v1-prototype/relay"
	"github.com/pedrouid/walletconnect-v1-prototype/storage"
	"github.com/pedrouid/walletconnect-v1-prototype/wcuri"
)

// State is the session state as seen by this end.
type State int

const (
	StateDisconnected State = iota
	StatePendingHandshake
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StatePendingHandshake:
		return "pending_handshake"
	case StateConnected:
		return "connected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Option configures a Connector.
type Option func(*Connector) error

// WithBridge sets the relay address embedded in session URIs.
func WithBridge(url string) Option {
	return func(c *Connector) error {
		c.session.Bridge = url
		return nil
	}
}

// WithURI joins the session described by a wc: URI as the responding peer.
func WithURI(uri string) Option {
	return func(c *Connector) error {
		u, err := wcuri.Decode(uri)
		if err != nil {
			return err
		}
		c.session.Bridge = u.Bridge
		c.session.HandshakeTopic = u.Topic
		c.key = u.Key
		c.session.Key = codec.ToHex(u.Key)
		c.responder = true
		return nil
	}
}

// WithClientMeta sets the metadata sent to the peer.
func WithClientMeta(meta ClientMeta) Option {
	return func(c *Connector) error {
		c.session.ClientMeta = meta
		c.hasMeta = true
		return nil
	}
}

// WithStorage persists the session record in st.
func WithStorage(st storage.Storage) Option {
	return func(c *Connector) error {
		c.store = st
		return nil
	}
}

// WithStorageKey overrides DefaultStorageKey.
func WithStorageKey(key string) Option {
	return func(c *Connector) error {
		if key == "" {
			return storage.ErrEmptyKey
		}
		c.storageKey = key
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Connector) error {
		c.log = l
		return nil
	}
}

// WithCallTimeout bounds how long a call waits for its response. Zero waits
// until the context is done.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Connector) error {
		if d < 0 {
			return fmt.Errorf("connector: negative call timeout %s", d)
		}
		c.callTimeout = d
		return nil
	}
}

// WithSession resumes from a previously exported record.
func WithSession(s Session) Option {
	return func(c *Connector) error {
		return c.restore(s)
	}
}

// Connector is one end of a session. It is safe for concurrent use.
type Connector struct {
	log         *slog.Logger
	store       storage.Storage
	storageKey  string
	callTimeout time.Duration
	hasMeta     bool

	mu        sync.Mutex
	session   Session
	key       []byte
	state     State
	responder bool

	events registry
	calls  *dispatcher

	sendMu    sync.Mutex
	transport Transport
	outbox    []relay.Message
}

// New builds a Connector. Without WithURI or WithSession it acts as the
// initiating peer and Init creates a new handshake.
func New(opts ...Option) (*Connector, error) {
	c := &Connector{
		storageKey: DefaultStorageKey,
		calls:      newDispatcher(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.session.Bridge == "" {
		return nil, ErrMissingBridge
	}
	if c.session.ClientID == "" {
		c.session.ClientID = uuid.NewString()
	}
	if !c.hasMeta && c.session.ClientMeta.Name == "" {
		c.session.ClientMeta = DefaultClientMeta()
	}
	if c.log == nil {
		c.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c.log = logctx.New(c.log)
	return c, nil
}

// Init resumes the persisted session when one exists. Otherwise an initiating
// peer creates a new handshake.
func (c *Connector) Init(ctx context.Context) error {
	s, err := c.loadPersisted(ctx)
	if err != nil {
		return err
	}
	if s != nil {
		c.mu.Lock()
		err := c.restore(*s)
		c.mu.Unlock()
		if err != nil {
			return err
		}
		c.log.InfoContext(c.logContext(ctx), "connector.session.restored", slog.Bool("connected", s.Connected))
		return nil
	}

	c.mu.Lock()
	fresh := !c.responder && c.state == StateDisconnected
	c.mu.Unlock()
	if fresh {
		_, err := c.CreateSession(ctx)
		return err
	}
	return nil
}

// restore adopts s. Callers hold c.mu, or own c exclusively.
func (c *Connector) restore(s Session) error {
	key, err := codec.FromHex(s.Key)
	if err != nil {
		return fmt.Errorf("connector: session key: %w", err)
	}
	if len(key) != codec.KeySize {
		return fmt.Errorf("connector: session key: %w", codec.ErrInvalidKey)
	}
	c.session = s.clone()
	c.key = key
	c.hasMeta = true
	switch {
	case s.Connected:
		c.state = StateConnected
	case s.HandshakeID != 0:
		c.state = StatePendingHandshake
		// Only the responder learns the peer before the session is approved.
		c.responder = s.PeerID != ""
	default:
		c.state = StateDisconnected
	}
	return nil
}

// reset clears the handshake so the connector can start over. Callers hold
// c.mu.
func (c *Connector) reset() {
	codec.Wipe(c.key)
	c.key = nil
	c.session.Key = ""
	c.session.PeerID = ""
	c.session.PeerMeta = nil
	c.session.HandshakeID = 0
	c.session.HandshakeTopic = ""
	c.session.ChainID = 0
	c.session.Accounts = nil
	c.session.Connected = false
	c.state = StateDisconnected
	c.responder = false
}

// Close detaches the transport and rejects pending calls. The session record
// stays in storage.
func (c *Connector) Close() error {
	c.sendMu.Lock()
	t := c.transport
	c.transport = nil
	c.sendMu.Unlock()

	c.calls.closeAll(ErrTransportClosed)
	if t != nil {
		return t.Close()
	}
	return nil
}

// URI encodes the handshake as a wc: URI for the responding peer.
func (c *Connector) URI() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wcuri.Encode(wcuri.URI{
		Topic:  c.session.HandshakeTopic,
		Bridge: c.session.Bridge,
		Key:    c.key,
	})
}

// Session returns a copy of the current record.
func (c *Connector) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.clone()
}

func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connector) Connected() bool { return c.State() == StateConnected }

func (c *Connector) Accounts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.session.Accounts)
}

func (c *Connector) ChainID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.ChainID
}

func (c *Connector) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.ClientID
}

func (c *Connector) ClientMeta() ClientMeta {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.clone().ClientMeta
}

func (c *Connector) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.PeerID
}

// PeerMeta returns nil until the peer has introduced itself.
func (c *Connector) PeerMeta() *ClientMeta {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.clone().PeerMeta
}

func (c *Connector) HandshakeTopic() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.HandshakeTopic
}

func (c *Connector) logContext(ctx context.Context) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return logctx.WithSessionData(ctx, &logctx.SessionData{
		ClientID:       c.session.ClientID,
		PeerID:         c.session.PeerID,
		HandshakeTopic: c.session.HandshakeTopic,
	})
}
