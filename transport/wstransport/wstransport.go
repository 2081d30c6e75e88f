// Package wstransport connects a connector to a relay over a websocket.
package wstransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pedrouid/walletconnect-v1-prototype/relay"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("wstransport: closed")

const defaultWriteTimeout = 10 * time.Second

// Option configures Dial.
type Option func(*Transport)

// WithHeader adds headers to the upgrade request.
func WithHeader(h http.Header) Option {
	return func(t *Transport) {
		for k, vs := range h {
			for _, v := range vs {
				t.header.Add(k, v)
			}
		}
	}
}

// WithToken sends tok as a bearer token for relay admission.
func WithToken(tok string) Option {
	return func(t *Transport) {
		if tok != "" {
			t.header.Set("Authorization", "Bearer "+tok)
		}
	}
}

// WithLogger sets the logger. If nil, logging is discarded.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.log = l
		}
	}
}

// WithWriteTimeout bounds each frame write. Non-positive values keep the
// default.
func WithWriteTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.writeTimeout = d
		}
	}
}

// WithDialer overrides websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(t *Transport) {
		if d != nil {
			t.dialer = d
		}
	}
}

type frame struct {
	msg relay.Message
	err error
}

// Transport is a websocket connection to a relay.
type Transport struct {
	log          *slog.Logger
	header       http.Header
	dialer       *websocket.Dialer
	writeTimeout time.Duration

	ws *websocket.Conn

	writeMu sync.Mutex
	frames  chan frame
	done    chan struct{}
	once    sync.Once
}

// Dial opens a websocket to bridge. http and https addresses are rewritten to
// ws and wss.
func Dial(ctx context.Context, bridge string, opts ...Option) (*Transport, error) {
	t := &Transport{
		log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		header:       http.Header{},
		dialer:       websocket.DefaultDialer,
		writeTimeout: defaultWriteTimeout,
		frames:       make(chan frame, 64),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	target, err := websocketURL(bridge)
	if err != nil {
		return nil, err
	}
	ws, resp, err := t.dialer.DialContext(ctx, target, t.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("wstransport: dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("wstransport: dial %s: %w", target, err)
	}
	t.ws = ws
	go t.readLoop()
	t.log.Debug("wstransport.connected", slog.String("url", target))
	return t, nil
}

func websocketURL(bridge string) (string, error) {
	u, err := url.Parse(bridge)
	if err != nil {
		return "", fmt.Errorf("wstransport: bad bridge url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("wstransport: unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}

func (t *Transport) readLoop() {
	defer close(t.frames)
	for {
		var msg relay.Message
		if err := t.ws.ReadJSON(&msg); err != nil {
			select {
			case t.frames <- frame{err: err}:
			case <-t.done:
			}
			return
		}
		select {
		case t.frames <- frame{msg: msg}:
		case <-t.done:
			return
		}
	}
}

// Send writes msg to the relay.
func (t *Transport) Send(ctx context.Context, msg relay.Message) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}

	deadline := time.Now().Add(t.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("wstransport: %w", err)
	}
	if err := t.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("wstransport: write: %w", err)
	}
	return nil
}

// Recv returns the next message from the relay.
func (t *Transport) Recv(ctx context.Context) (relay.Message, error) {
	select {
	case <-t.done:
		return relay.Message{}, ErrClosed
	default:
	}
	select {
	case f, ok := <-t.frames:
		if !ok {
			return relay.Message{}, ErrClosed
		}
		if f.err != nil {
			return relay.Message{}, fmt.Errorf("wstransport: read: %w", f.err)
		}
		return f.msg, nil
	case <-t.done:
		return relay.Message{}, ErrClosed
	case <-ctx.Done():
		return relay.Message{}, ctx.Err()
	}
}

// Close sends a close frame and closes the socket.
func (t *Transport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		t.writeMu.Lock()
		_ = t.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		err = t.ws.Close()
	})
	return err
}
