package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates records with the connection, session and rpc data
// carried by the context.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if cd, ok := ctx.Value(connDataKey{}).(*ConnData); ok {
		r.AddAttrs(slog.Group("conn",
			slog.String("id", cd.ConnID),
			slog.String("remote_addr", cd.RemoteAddr),
			slog.String("subject", cd.Subject),
		))
	}

	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("session",
			slog.String("client_id", sd.ClientID),
			slog.String("peer_id", sd.PeerID),
			slog.String("topic", sd.HandshakeTopic),
		))
	}

	if msg, ok := ctx.Value(rpcMsg{}).(*RPCMessage); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.String("method", msg.Method),
			slog.Uint64("id", msg.ID),
			slog.String("kind", msg.Kind),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{h.Handler.WithGroup(name)}
}

// New wraps the handler of base so that context data is attached to every
// record. A nil base yields nil.
func New(base *slog.Logger) *slog.Logger {
	if base == nil {
		return nil
	}
	if _, ok := base.Handler().(Handler); ok {
		return base
	}
	return slog.New(Handler{base.Handler()})
}

type rpcMsg struct{}

type RPCMessage struct {
	Method string
	ID     uint64
	Kind   string
}

func WithRPCMessage(ctx context.Context, msg *RPCMessage) context.Context {
	return context.WithValue(ctx, rpcMsg{}, msg)
}

type connDataKey struct{}

type ConnData struct {
	ConnID     string
	RemoteAddr string
	Subject    string
}

func WithConnData(ctx context.Context, data *ConnData) context.Context {
	return context.WithValue(ctx, connDataKey{}, data)
}

type sessionDataKey struct{}

type SessionData struct {
	ClientID       string
	PeerID         string
	HandshakeTopic string
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}
