package connector

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/pedrouid/walletconnect-v1-prototype/jsonrpc"
)

// Lifecycle event names. Any other name passed to On is treated as a JSON-RPC
// method name or an internal event name. Peers cannot raise lifecycle names.
const (
	EventConnect        = "connect"
	EventDisconnect     = "disconnect"
	EventSessionRequest = "session_request"
	EventSessionUpdate  = "session_update"
	EventCallRequest    = "call_request"
	// EventError reports an inbound payload that authenticated but could not
	// be interpreted.
	EventError = "error"
)

func reserved(name string) bool {
	switch name {
	case EventConnect, EventDisconnect, EventSessionRequest, EventSessionUpdate, EventCallRequest, EventError:
		return true
	}
	return false
}

// Event is delivered to handlers. Which fields are set depends on Name:
//
//   - connect, disconnect, session_update: Session
//   - session_request: Peer and Request
//   - call_request and method names: Request
//   - internal events: Params
//   - error: Err
type Event struct {
	Name    string
	Session *SessionParams
	Peer    *SessionRequestParams
	Request *jsonrpc.Request
	Params  json.RawMessage
	Err     error
}

// HandlerFunc receives events. Handlers run on the goroutine that called Run,
// one at a time, without any connector lock held.
type HandlerFunc func(ctx context.Context, ev Event)

type registry struct {
	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
}

func (r *registry) on(name string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[string][]HandlerFunc)
	}
	r.handlers[name] = append(r.handlers[name], fn)
}

func (r *registry) lookup(name string) []HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]HandlerFunc(nil), r.handlers[name]...)
}

// On registers fn for name. Handlers for one name run in registration order.
func (c *Connector) On(name string, fn HandlerFunc) {
	if fn == nil {
		return
	}
	c.events.on(name, fn)
}

// trigger runs the handlers registered for ev.Name. It reports whether any
// handler ran.
func (c *Connector) trigger(ctx context.Context, ev Event) bool {
	fns := c.events.lookup(ev.Name)
	for _, fn := range fns {
		fn(ctx, ev)
	}
	return len(fns) > 0
}

// dispatchRequest routes a peer request to its method handlers, falling back
// to call_request when none are registered. Requests naming a lifecycle event
// are answered with method not found.
func (c *Connector) dispatchRequest(ctx context.Context, req *jsonrpc.Request) {
	if reserved(req.Method) {
		rpcErr := jsonrpc.NewError(jsonrpc.ErrorCodeMethodNotFound, "")
		if err := c.RejectRequest(ctx, req.ID, rpcErr); err != nil {
			c.log.WarnContext(ctx, "connector.request.reject_failed", slog.String("err", err.Error()))
		}
		return
	}
	if c.trigger(ctx, Event{Name: req.Method, Request: req}) {
		return
	}
	if !c.trigger(ctx, Event{Name: EventCallRequest, Request: req}) {
		c.log.DebugContext(ctx, "connector.request.unhandled")
	}
}

// dispatchEvent fires a peer's internal event. Lifecycle names are dropped.
func (c *Connector) dispatchEvent(ctx context.Context, name string, params json.RawMessage) {
	if reserved(name) {
		c.log.DebugContext(ctx, "connector.event.reserved", slog.String("event", name))
		return
	}
	c.trigger(ctx, Event{Name: name, Params: params})
}
