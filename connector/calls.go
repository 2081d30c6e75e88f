package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pedrouid/walletconnect-v1-prototype/jsonrpc"
)

type pendingCall struct {
	respCh chan *jsonrpc.Response
	errCh  chan error
}

// dispatcher correlates outbound requests with their responses by id. Unlike
// a one-shot dispatcher it survives closeAll so a session can be reused.
type dispatcher struct {
	mu      sync.Mutex
	pending map[uint64]*pendingCall
}

func newDispatcher() *dispatcher {
	return &dispatcher{pending: make(map[uint64]*pendingCall)}
}

func (d *dispatcher) register(id uint64) *pendingCall {
	pc := &pendingCall{respCh: make(chan *jsonrpc.Response, 1), errCh: make(chan error, 1)}
	d.mu.Lock()
	d.pending[id] = pc
	d.mu.Unlock()
	return pc
}

func (d *dispatcher) forget(id uint64) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}

// resolve hands resp to its waiter. It reports false for unknown or already
// resolved ids.
func (d *dispatcher) resolve(resp *jsonrpc.Response) bool {
	d.mu.Lock()
	pc, ok := d.pending[resp.ID]
	if ok {
		delete(d.pending, resp.ID)
	}
	d.mu.Unlock()
	if ok {
		pc.respCh <- resp
	}
	return ok
}

func (d *dispatcher) closeAll(err error) int {
	d.mu.Lock()
	calls := d.pending
	d.pending = make(map[uint64]*pendingCall)
	d.mu.Unlock()
	for _, pc := range calls {
		pc.errCh <- err
	}
	return len(calls)
}

func (d *dispatcher) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Transaction is the single param of eth_sendTransaction. Empty fields are
// omitted from the wire.
type Transaction struct {
	From     string `json:"from"`
	To       string `json:"to,omitempty"`
	Gas      string `json:"gas,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
	Value    string `json:"value,omitempty"`
	Data     string `json:"data,omitempty"`
	Nonce    string `json:"nonce,omitempty"`
}

// SendTransaction asks the peer to sign and broadcast tx.
func (c *Connector) SendTransaction(ctx context.Context, tx Transaction) (json.RawMessage, error) {
	if tx.From == "" {
		return nil, ErrMissingFrom
	}
	return c.call(ctx, "eth_sendTransaction", tx)
}

// SignMessage asks the peer to eth_sign message with address.
func (c *Connector) SignMessage(ctx context.Context, address, message string) (json.RawMessage, error) {
	return c.call(ctx, "eth_sign", address, message)
}

// SignPersonalMessage asks the peer to personal_sign message with address.
func (c *Connector) SignPersonalMessage(ctx context.Context, message, address string) (json.RawMessage, error) {
	return c.call(ctx, "personal_sign", message, address)
}

// SignTypedData asks the peer to sign typed data with address.
func (c *Connector) SignTypedData(ctx context.Context, address string, typedData any) (json.RawMessage, error) {
	return c.call(ctx, "eth_signTypedData", address, typedData)
}

// SendCustomRequest sends an arbitrary method to the peer.
func (c *Connector) SendCustomRequest(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if method == "" {
		return nil, errors.New("connector: missing method")
	}
	return c.call(ctx, method, params...)
}

// call sends a request to the peer and waits for the response with the same
// id. An error response is returned as *jsonrpc.Error.
func (c *Connector) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil, ErrSessionDisconnected
	}
	peer := c.session.PeerID
	timeout := c.callTimeout
	c.mu.Unlock()

	req, err := jsonrpc.NewRequest(method, params...)
	if err != nil {
		return nil, fmt.Errorf("connector: %w", err)
	}

	pc := c.calls.register(req.ID)
	if err := c.publish(ctx, peer, req); err != nil {
		c.calls.forget(req.ID)
		return nil, err
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case resp := <-pc.respCh:
		if resp.Error != nil {
			return nil, resp.Error
		}
		if err := resp.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
		return resp.Result, nil
	case err := <-pc.errCh:
		return nil, err
	case <-timer:
		c.calls.forget(req.ID)
		return nil, ErrCallTimeout
	case <-ctx.Done():
		c.calls.forget(req.ID)
		return nil, ctx.Err()
	}
}

// ApproveRequest answers a peer request with result.
func (c *Connector) ApproveRequest(ctx context.Context, id uint64, result any) error {
	resp, err := jsonrpc.NewResultResponse(id, result)
	if err != nil {
		return fmt.Errorf("connector: %w", err)
	}
	return c.respond(ctx, resp)
}

// RejectRequest answers a peer request with rpcErr. A nil rpcErr is sent as a
// generic server error.
func (c *Connector) RejectRequest(ctx context.Context, id uint64, rpcErr *jsonrpc.Error) error {
	return c.respond(ctx, jsonrpc.NewErrorResponse(id, rpcErr))
}

func (c *Connector) respond(ctx context.Context, resp *jsonrpc.Response) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrSessionDisconnected
	}
	peer := c.session.PeerID
	c.mu.Unlock()
	return c.publish(ctx, peer, resp)
}
