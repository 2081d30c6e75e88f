package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/pedrouid/walletconnect-v1-prototype/codec"
	"github.com/pedrouid/walletconnect-v1-prototype/internal/logctx"
	"github.com/pedrouid/walletconnect-v1-prototype/jsonrpc"
	"github.com/pedrouid/walletconnect-v1-prototype/relay"
)

// Transport carries relay messages between a Connector and a relay.
// *relay.Conn implements it in process; wstransport implements it over a
// websocket.
type Transport interface {
	Send(ctx context.Context, msg relay.Message) error
	Recv(ctx context.Context) (relay.Message, error)
	Close() error
}

var _ Transport = (*relay.Conn)(nil)

// Connect attaches t, subscribes to this end's topics and flushes messages
// queued while no transport was attached. Call Run to start receiving.
func (c *Connector) Connect(ctx context.Context, t Transport) error {
	c.mu.Lock()
	topic := c.session.ClientID
	var extra []string
	if c.responder && c.state != StateConnected && c.session.HandshakeTopic != "" {
		extra = append(extra, c.session.HandshakeTopic)
	}
	c.mu.Unlock()

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := t.Send(ctx, relay.SubscribeMessage(topic, extra...)); err != nil {
		return fmt.Errorf("connector: subscribe: %w", err)
	}
	c.transport = t

	for len(c.outbox) > 0 {
		if err := t.Send(ctx, c.outbox[0]); err != nil {
			c.transport = nil
			return fmt.Errorf("connector: flush queued messages: %w", err)
		}
		c.outbox[0] = relay.Message{}
		c.outbox = c.outbox[1:]
	}
	c.log.DebugContext(c.logContext(ctx), "connector.transport.attached", slog.Int("subscriptions", 1+len(extra)))
	return nil
}

// Run receives from the attached transport until ctx is done or the transport
// fails. Pending calls are rejected with ErrTransportClosed when it returns.
func (c *Connector) Run(ctx context.Context) error {
	c.sendMu.Lock()
	t := c.transport
	c.sendMu.Unlock()
	if t == nil {
		return ErrNoTransport
	}

	defer func() {
		c.sendMu.Lock()
		if c.transport == t {
			c.transport = nil
		}
		c.sendMu.Unlock()
		if n := c.calls.closeAll(ErrTransportClosed); n > 0 {
			c.log.WarnContext(ctx, "connector.calls.rejected", slog.Int("count", n))
		}
	}()

	for {
		msg, err := t.Recv(ctx)
		if err != nil {
			return err
		}
		c.handleMessage(ctx, msg)
	}
}

// send hands msg to the transport, or queues it while none is attached. A
// failed send detaches the transport and keeps msg for the next Connect.
func (c *Connector) send(ctx context.Context, msg relay.Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.transport == nil {
		c.outbox = append(c.outbox, msg)
		return nil
	}
	if err := c.transport.Send(ctx, msg); err != nil {
		c.log.WarnContext(ctx, "connector.transport.send_failed", slog.String("err", err.Error()))
		c.transport = nil
		c.outbox = append(c.outbox, msg)
	}
	return nil
}

// publish encrypts v with the session key and sends it to topic.
func (c *Connector) publish(ctx context.Context, topic string, v any) error {
	c.mu.Lock()
	key := slices.Clone(c.key)
	c.mu.Unlock()
	defer codec.Wipe(key)

	payload, err := codec.Encrypt(v, key)
	if err != nil {
		return fmt.Errorf("connector: encrypt: %w", err)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("connector: encode payload: %w", err)
	}
	return c.send(ctx, relay.PublishMessage(topic, string(raw)))
}

func (c *Connector) handleMessage(ctx context.Context, msg relay.Message) {
	ctx = c.logContext(ctx)
	if msg.Type == relay.TypeError {
		c.log.WarnContext(ctx, "connector.relay.error", slog.String("topic", msg.Topic), slog.String("detail", msg.Payload))
		return
	}
	if msg.Type != relay.TypePublish {
		return
	}

	var payload codec.Payload
	if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
		c.log.DebugContext(ctx, "connector.payload.undecodable", slog.String("topic", msg.Topic))
		return
	}

	c.mu.Lock()
	key := slices.Clone(c.key)
	c.mu.Unlock()
	plain, err := codec.Decrypt(&payload, key)
	codec.Wipe(key)
	if errors.Is(err, codec.ErrUnauthenticated) || errors.Is(err, codec.ErrMissingKey) || errors.Is(err, codec.ErrInvalidKey) {
		// Not meant for this session.
		c.log.DebugContext(ctx, "connector.payload.dropped", slog.String("topic", msg.Topic))
		return
	}
	if err != nil {
		c.reportError(ctx, err)
		return
	}

	var am jsonrpc.AnyMessage
	if err := json.Unmarshal(plain, &am); err != nil {
		c.reportError(ctx, fmt.Errorf("connector: decode payload: %w", err))
		return
	}

	kind := am.Kind()
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: am.Method, ID: am.ID, Kind: string(kind)})
	switch kind {
	case jsonrpc.KindRequest:
		c.handleRequest(ctx, am.AsRequest())
	case jsonrpc.KindResponse:
		c.handleResponse(ctx, am.AsResponse())
	case jsonrpc.KindEvent:
		c.dispatchEvent(ctx, am.Event, am.Params)
	default:
		c.reportError(ctx, errors.New("connector: unclassifiable payload"))
	}
}

func (c *Connector) handleRequest(ctx context.Context, req *jsonrpc.Request) {
	switch req.Method {
	case methodSessionRequest:
		c.handleSessionRequest(ctx, req)
	case methodSessionUpdate:
		c.handleSessionUpdate(ctx, req)
	default:
		c.dispatchRequest(ctx, req)
	}
}

func (c *Connector) handleResponse(ctx context.Context, resp *jsonrpc.Response) {
	c.mu.Lock()
	handshake := c.state == StatePendingHandshake && !c.responder && resp.ID == c.session.HandshakeID
	c.mu.Unlock()
	if handshake {
		c.handleSessionResponse(ctx, resp)
		return
	}
	if !c.calls.resolve(resp) {
		c.log.DebugContext(ctx, "connector.response.unmatched")
	}
}

func (c *Connector) reportError(ctx context.Context, err error) {
	c.log.WarnContext(ctx, "connector.payload.invalid", slog.String("err", err.Error()))
	c.trigger(ctx, Event{Name: EventError, Err: err})
}
