package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/pedrouid/walletconnect-v1-prototype/codec"
	"github.com/pedrouid/walletconnect-v1-prototype/jsonrpc"
)

const (
	methodSessionRequest = "wc_sessionRequest"
	methodSessionUpdate  = "wc_sessionUpdate"
)

// CreateSession starts a handshake as the initiating peer and returns the URI
// to hand to the responder. The request is queued until a transport is
// attached.
func (c *Connector) CreateSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return "", ErrSessionConnected
	case StatePendingHandshake:
		c.mu.Unlock()
		return "", ErrHandshakePending
	}
	if c.key == nil {
		key, err := codec.GenerateKey(codec.KeySize * 8)
		if err != nil {
			c.mu.Unlock()
			return "", fmt.Errorf("connector: %w", err)
		}
		c.key = key
		c.session.Key = codec.ToHex(key)
	}
	meta := c.session.clone().ClientMeta
	req, err := jsonrpc.NewRequest(methodSessionRequest, SessionRequestParams{
		PeerID:   c.session.ClientID,
		PeerMeta: &meta,
	})
	if err != nil {
		c.mu.Unlock()
		return "", fmt.Errorf("connector: %w", err)
	}
	c.session.HandshakeTopic = uuid.NewString()
	c.session.HandshakeID = req.ID
	c.state = StatePendingHandshake
	c.responder = false
	topic := c.session.HandshakeTopic
	c.mu.Unlock()

	if err := c.publish(ctx, topic, req); err != nil {
		return "", err
	}
	if err := c.persist(ctx); err != nil {
		return "", err
	}
	c.log.InfoContext(c.logContext(ctx), "connector.session.created")
	return c.URI(), nil
}

// ApproveSession accepts the received session request with chainID and
// accounts.
func (c *Connector) ApproveSession(ctx context.Context, chainID int64, accounts []string) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return ErrSessionConnected
	}
	if !c.responder || c.session.HandshakeID == 0 || c.session.PeerID == "" {
		c.mu.Unlock()
		return ErrNoHandshake
	}
	meta := c.session.clone().ClientMeta
	resp, err := jsonrpc.NewResultResponse(c.session.HandshakeID, SessionParams{
		Approved: true,
		ChainID:  chainID,
		Accounts: accounts,
		PeerID:   c.session.ClientID,
		PeerMeta: &meta,
	})
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("connector: %w", err)
	}
	c.session.ChainID = chainID
	c.session.Accounts = slices.Clone(accounts)
	c.session.Connected = true
	c.state = StateConnected
	peer := c.session.PeerID
	ev := c.sessionEventLocked()
	c.mu.Unlock()

	if err := c.publish(ctx, peer, resp); err != nil {
		return err
	}
	if err := c.persist(ctx); err != nil {
		return err
	}
	c.log.InfoContext(c.logContext(ctx), "connector.session.approved", slog.Int64("chain_id", chainID))
	c.trigger(ctx, Event{Name: EventConnect, Session: ev})
	return nil
}

// RejectSession declines the received session request.
func (c *Connector) RejectSession(ctx context.Context, message string) error {
	if message == "" {
		message = "Session Rejected"
	}
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return ErrSessionConnected
	}
	if !c.responder || c.session.HandshakeID == 0 || c.session.PeerID == "" {
		c.mu.Unlock()
		return ErrNoHandshake
	}
	resp, err := jsonrpc.NewResultResponse(c.session.HandshakeID, SessionParams{Approved: false, Message: message})
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("connector: %w", err)
	}
	peer := c.session.PeerID
	c.mu.Unlock()

	if err := c.publish(ctx, peer, resp); err != nil {
		return err
	}
	c.endSession(ctx, message)
	return nil
}

// UpdateSession announces a new chain and account set to the peer.
func (c *Connector) UpdateSession(ctx context.Context, chainID int64, accounts []string) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrSessionDisconnected
	}
	req, err := jsonrpc.NewRequest(methodSessionUpdate, SessionParams{
		Approved: true,
		ChainID:  chainID,
		Accounts: accounts,
	})
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("connector: %w", err)
	}
	c.session.ChainID = chainID
	c.session.Accounts = slices.Clone(accounts)
	peer := c.session.PeerID
	ev := c.sessionEventLocked()
	c.mu.Unlock()

	if err := c.publish(ctx, peer, req); err != nil {
		return err
	}
	if err := c.persist(ctx); err != nil {
		return err
	}
	c.trigger(ctx, Event{Name: EventSessionUpdate, Session: ev})
	return nil
}

// KillSession ends a connected session and tells the peer.
func (c *Connector) KillSession(ctx context.Context, message string) error {
	if message == "" {
		message = "Session Disconnected"
	}
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrSessionDisconnected
	}
	req, err := jsonrpc.NewRequest(methodSessionUpdate, SessionParams{Approved: false, Message: message})
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("connector: %w", err)
	}
	peer := c.session.PeerID
	c.mu.Unlock()

	if err := c.publish(ctx, peer, req); err != nil {
		return err
	}
	c.endSession(ctx, message)
	return nil
}

// endSession clears local state, drops the persisted record, rejects pending
// calls and emits disconnect.
func (c *Connector) endSession(ctx context.Context, message string) {
	ctx = c.logContext(ctx)
	c.mu.Lock()
	c.reset()
	c.mu.Unlock()

	if err := c.removePersisted(ctx); err != nil {
		c.log.WarnContext(ctx, "connector.session.remove_failed", slog.String("err", err.Error()))
	}
	if n := c.calls.closeAll(ErrSessionClosed); n > 0 {
		c.log.InfoContext(ctx, "connector.calls.rejected", slog.Int("count", n))
	}
	c.log.InfoContext(ctx, "connector.session.ended", slog.String("message", message))
	c.trigger(ctx, Event{Name: EventDisconnect, Session: &SessionParams{Approved: false, Message: message}})
}

// sessionEventLocked describes the peer and the session for connect and
// session_update events.
func (c *Connector) sessionEventLocked() *SessionParams {
	s := c.session.clone()
	return &SessionParams{
		Approved: s.Connected,
		ChainID:  s.ChainID,
		Accounts: s.Accounts,
		PeerID:   s.PeerID,
		PeerMeta: s.PeerMeta,
	}
}

func (c *Connector) handleSessionRequest(ctx context.Context, req *jsonrpc.Request) {
	var p SessionRequestParams
	if err := req.DecodeParams(&p); err != nil {
		c.reportError(ctx, fmt.Errorf("connector: invalid session request: %w", err))
		return
	}
	if p.PeerID == "" {
		c.reportError(ctx, errors.New("connector: session request without peerId"))
		return
	}

	c.mu.Lock()
	if c.state == StateConnected || (c.state == StatePendingHandshake && !c.responder) {
		c.mu.Unlock()
		c.log.WarnContext(ctx, "connector.session_request.ignored")
		return
	}
	c.responder = true
	c.session.HandshakeID = req.ID
	c.session.PeerID = p.PeerID
	c.session.PeerMeta = p.PeerMeta
	if p.ChainID != nil {
		c.session.ChainID = *p.ChainID
	}
	c.state = StatePendingHandshake
	c.mu.Unlock()

	if err := c.persist(ctx); err != nil {
		c.log.WarnContext(ctx, "connector.session.persist_failed", slog.String("err", err.Error()))
	}
	c.trigger(c.logContext(ctx), Event{Name: EventSessionRequest, Peer: &p, Request: req})
}

func (c *Connector) handleSessionResponse(ctx context.Context, resp *jsonrpc.Response) {
	if resp.Error != nil {
		c.applySessionParams(ctx, SessionParams{Approved: false, Message: resp.Error.Message})
		return
	}
	var p SessionParams
	if len(resp.Result) == 0 {
		c.reportError(ctx, fmt.Errorf("%w: session response", ErrMalformedResponse))
		return
	}
	if err := json.Unmarshal(resp.Result, &p); err != nil {
		c.reportError(ctx, fmt.Errorf("%w: session response: %w", ErrMalformedResponse, err))
		return
	}
	c.applySessionParams(ctx, p)
}

func (c *Connector) handleSessionUpdate(ctx context.Context, req *jsonrpc.Request) {
	var p SessionParams
	if err := req.DecodeParams(&p); err != nil {
		c.reportError(ctx, fmt.Errorf("connector: invalid session update: %w", err))
		return
	}
	if !c.Connected() {
		c.log.DebugContext(ctx, "connector.session_update.ignored")
		return
	}
	c.applySessionParams(ctx, p)
}

// applySessionParams merges an approval or update into the session, or ends
// it when not approved. The first approval emits connect; later ones emit
// session_update.
func (c *Connector) applySessionParams(ctx context.Context, p SessionParams) {
	if !p.Approved {
		c.endSession(ctx, p.Message)
		return
	}

	c.mu.Lock()
	wasConnected := c.state == StateConnected
	if p.ChainID != 0 {
		c.session.ChainID = p.ChainID
	}
	if p.Accounts != nil {
		c.session.Accounts = slices.Clone(p.Accounts)
	}
	if p.PeerID != "" {
		c.session.PeerID = p.PeerID
	}
	if p.PeerMeta != nil {
		pm := *p.PeerMeta
		c.session.PeerMeta = &pm
	}
	c.session.Connected = true
	c.state = StateConnected
	ev := c.sessionEventLocked()
	c.mu.Unlock()

	ctx = c.logContext(ctx)
	if err := c.persist(ctx); err != nil {
		c.log.WarnContext(ctx, "connector.session.persist_failed", slog.String("err", err.Error()))
	}
	if wasConnected {
		c.trigger(ctx, Event{Name: EventSessionUpdate, Session: ev})
		return
	}
	c.log.InfoContext(ctx, "connector.session.connected")
	c.trigger(ctx, Event{Name: EventConnect, Session: ev})
}
