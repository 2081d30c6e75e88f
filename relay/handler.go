package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pedrouid/walletconnect-v1-prototype/internal/logctx"
)

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithAuthenticator requires every client to present a token accepted by a.
func WithAuthenticator(a Authenticator) HandlerOption {
	return func(h *Handler) { h.auth = a }
}

// WithHandlerLogger sets the logger. If nil, logging is discarded.
func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.log = l }
}

// WithWriteTimeout bounds each socket write. Default 10s.
func WithWriteTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) { h.writeTimeout = d }
}

// WithPingInterval sets the keepalive ping interval. The read deadline is
// twice the interval. Zero disables pings and the read deadline. Default 30s.
func WithPingInterval(d time.Duration) HandlerOption {
	return func(h *Handler) { h.pingInterval = d }
}

// WithReadLimit bounds the size of an inbound frame. Default 1 MiB.
func WithReadLimit(n int64) HandlerOption {
	return func(h *Handler) { h.readLimit = n }
}

// WithCheckOrigin overrides the upgrader origin check. The default accepts
// any origin since dapps are served from arbitrary hosts.
func WithCheckOrigin(fn func(*http.Request) bool) HandlerOption {
	return func(h *Handler) { h.upgrader.CheckOrigin = fn }
}

// Handler upgrades HTTP requests to websockets and attaches each socket to a
// Hub. Socket failures end that socket only.
type Handler struct {
	hub          *Hub
	upgrader     websocket.Upgrader
	auth         Authenticator
	log          *slog.Logger
	writeTimeout time.Duration
	pingInterval time.Duration
	readLimit    int64
}

// NewHandler returns a websocket handler for hub.
func NewHandler(hub *Hub, opts ...HandlerOption) *Handler {
	h := &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		writeTimeout: 10 * time.Second,
		pingInterval: 30 * time.Second,
		readLimit:    1 << 20,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h.log = logctx.New(h.log)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var subject string
	if h.auth != nil {
		sub, err := h.auth.CheckAuthentication(ctx, tokenFromRequest(r))
		if err != nil {
			h.log.InfoContext(ctx, "relay.auth.fail", slog.String("remote_addr", r.RemoteAddr), slog.String("err", err.Error()))
			w.Header().Set("WWW-Authenticate", `Bearer realm="wcrelay"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		subject = sub
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		h.log.DebugContext(ctx, "relay.upgrade.fail", slog.String("err", err.Error()))
		return
	}
	defer ws.Close()

	conn, err := h.hub.Connect(r.RemoteAddr)
	if err != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()),
			time.Now().Add(h.writeTimeout))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	ctx = logctx.WithConnData(ctx, &logctx.ConnData{ConnID: conn.ID(), RemoteAddr: r.RemoteAddr, Subject: subject})
	h.log.DebugContext(ctx, "relay.conn.open")

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(ctx, ws, conn)
		// Unblock the reader.
		_ = ws.Close()
	}()

	h.readLoop(ctx, ws, conn)
	_ = conn.Close()
	cancel()
	<-done
	h.log.DebugContext(ctx, "relay.conn.close")
}

func (h *Handler) extendReadDeadline(ws *websocket.Conn) error {
	if h.pingInterval <= 0 {
		return nil
	}
	return ws.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, conn *Conn) {
	ws.SetReadLimit(h.readLimit)
	_ = h.extendReadDeadline(ws)
	ws.SetPongHandler(func(string) error { return h.extendReadDeadline(ws) })

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.DebugContext(ctx, "relay.conn.read_error", slog.String("err", err.Error()))
			}
			return
		}
		_ = h.extendReadDeadline(ws)

		msg, err := DecodeMessage(data)
		if err == nil {
			err = conn.Send(ctx, msg)
		}
		switch {
		case err == nil:
		case errors.Is(err, ErrFormat):
			h.log.InfoContext(ctx, "relay.message.rejected", slog.String("err", err.Error()))
			if conn.enqueue(errorMessage(msg.Topic, err)) != queued {
				return
			}
		case errors.Is(err, ErrConnClosed):
			return
		default:
			h.log.WarnContext(ctx, "relay.message.fail", slog.String("err", err.Error()))
		}
	}
}

func (h *Handler) writeLoop(ctx context.Context, ws *websocket.Conn, conn *Conn) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			msg, err := conn.Recv(ctx)
			if err != nil {
				return
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	var tick <-chan time.Time
	if h.pingInterval > 0 {
		ticker := time.NewTicker(h.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case msg, ok := <-out:
			if !ok {
				reason := "closing"
				if err := conn.Err(); err != nil {
					reason = err.Error()
				}
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, reason),
					time.Now().Add(h.writeTimeout))
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := ws.WriteJSON(msg); err != nil {
				h.log.DebugContext(ctx, "relay.conn.write_error", slog.String("err", err.Error()))
				return
			}
		case <-tick:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				h.log.DebugContext(ctx, "relay.conn.ping_error", slog.String("err", err.Error()))
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
