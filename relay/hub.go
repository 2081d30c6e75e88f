// Package relay implements the store-and-forward topic relay peers use to
// exchange encrypted envelopes. A Hub owns the topic -> subscriber mapping and
// a Backlog of messages published to topics nobody has subscribed to yet; the
// websocket Handler attaches one Conn per socket.
package relay

import (
	"context"
	"errors"
	"fmt"
	"hash/maphash"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/pedrouid/walletconnect-v1-prototype/internal/logctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/pedrouid/walletconnect-v1-prototype/relay"

const topicStripes = 64

var topicSeed = maphash.MakeSeed()

// ErrHubClosed is returned when attaching to a closed hub.
var ErrHubClosed = errors.New("relay: hub closed")

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBacklog sets the buffer for messages to topics without subscribers.
// Default: NewMemoryBacklog(10000, 24h).
func WithBacklog(b Backlog) HubOption {
	return func(h *Hub) { h.backlog = b }
}

// WithMaxQueue bounds each connection's outbound queue. A connection whose
// queue would exceed the bound is closed. Zero means unbounded.
func WithMaxQueue(n int) HubOption {
	return func(h *Hub) { h.maxQueue = n }
}

// WithLogger sets the logger. If nil, logging is discarded.
func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) { h.log = l }
}

// WithMetrics records hub activity into m.
func WithMetrics(m *Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// WithTracerProvider sets the provider used for hub spans. Default: the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) HubOption {
	return func(h *Hub) { h.tracer = tp.Tracer(tracerName) }
}

// Hub routes messages between connections by topic.
type Hub struct {
	stripes [topicStripes]sync.Mutex

	mu     sync.Mutex
	topics map[string]map[*Conn]struct{}
	conns  map[*Conn]struct{}
	closed bool

	backlog  Backlog
	maxQueue int
	log      *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
}

// NewHub constructs a Hub. It lives for the lifetime of the relay process
// and is drained with Close.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		topics:   make(map[string]map[*Conn]struct{}),
		conns:    make(map[*Conn]struct{}),
		maxQueue: 1024,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.backlog == nil {
		h.backlog = NewMemoryBacklog(10000, defaultPendingTTL)
	}
	if h.log == nil {
		h.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h.log = logctx.New(h.log)
	if h.tracer == nil {
		h.tracer = otel.Tracer(tracerName)
	}
	return h
}

// Connect attaches a new client.
func (h *Hub) Connect(remoteAddr string) (*Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	c := newConn(h, uuid.NewString(), remoteAddr, h.maxQueue)
	h.conns[c] = struct{}{}
	h.metrics.connAdded(1)
	return c, nil
}

// Handle dispatches a client message by type.
func (h *Hub) Handle(ctx context.Context, c *Conn, msg Message) error {
	if err := msg.Validate(); err != nil {
		h.metrics.message(outcomeRejected, 1)
		return err
	}
	switch msg.Type {
	case TypeSubscribe:
		topics, _ := msg.Topics()
		return h.Subscribe(ctx, c, topics...)
	case TypeUnsubscribe:
		topics, _ := msg.Topics()
		h.Unsubscribe(c, topics...)
		return nil
	default:
		return h.Publish(ctx, msg)
	}
}

// Publish delivers msg to every subscriber of its topic, or buffers it when
// the topic has none or every subscriber is closing.
func (h *Hub) Publish(ctx context.Context, msg Message) error {
	ctx, span := h.tracer.Start(ctx, "relay.publish",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("relay.topic", msg.Topic)),
	)
	defer span.End()

	unlock := h.lockTopics(msg.Topic)
	defer unlock()

	h.mu.Lock()
	subs := make([]*Conn, 0, len(h.topics[msg.Topic]))
	for c := range h.topics[msg.Topic] {
		subs = append(subs, c)
	}
	h.mu.Unlock()

	var overflow []*Conn
	delivered := 0
	for _, c := range subs {
		switch c.enqueue(msg) {
		case queued:
			delivered++
		case queueFull:
			overflow = append(overflow, c)
		}
	}
	defer h.dropSlow(ctx, overflow)

	if delivered > 0 {
		span.SetAttributes(attribute.Int("relay.subscribers", delivered))
		h.metrics.message(outcomeDelivered, delivered)
		return nil
	}

	evicted, err := h.backlog.Push(ctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("relay: buffer message: %w", err)
	}
	span.SetAttributes(attribute.Bool("relay.buffered", true))
	h.metrics.message(outcomeBuffered, 1)
	h.metrics.evicted(evicted)
	if evicted > 0 {
		h.log.WarnContext(ctx, "relay.backlog.evicted", slog.Int("count", evicted))
	}
	return nil
}

// Subscribe registers c for topics and flushes buffered messages for them in
// arrival order. Topics accumulate across calls.
func (h *Hub) Subscribe(ctx context.Context, c *Conn, topics ...string) error {
	ctx, span := h.tracer.Start(ctx, "relay.subscribe",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.StringSlice("relay.topics", topics)),
	)
	defer span.End()

	unlock := h.lockTopics(topics...)
	defer unlock()

	h.mu.Lock()
	if _, ok := h.conns[c]; !ok {
		h.mu.Unlock()
		return ErrConnClosed
	}
	added := 0
	for _, t := range topics {
		if _, ok := c.topics[t]; ok {
			continue
		}
		set := h.topics[t]
		if set == nil {
			set = make(map[*Conn]struct{})
			h.topics[t] = set
		}
		set[c] = struct{}{}
		c.topics[t] = struct{}{}
		added++
	}
	h.mu.Unlock()
	h.metrics.subsAdded(float64(added))

	pending, err := h.backlog.Drain(ctx, topics)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("relay: drain backlog: %w", err)
	}
	switch c.enqueue(pending...) {
	case queueFull:
		h.dropSlow(ctx, []*Conn{c})
	case connClosing:
		for _, msg := range pending {
			if _, err := h.backlog.Push(ctx, msg); err != nil {
				h.log.WarnContext(ctx, "relay.backlog.restore_failed", slog.String("err", err.Error()))
			}
		}
		return ErrConnClosed
	}
	span.SetAttributes(attribute.Int("relay.replayed", len(pending)))
	h.metrics.message(outcomeReplayed, len(pending))
	return nil
}

// lockTopics serializes backlog access per topic stripe so that a publish
// cannot buffer a message after a concurrent subscribe has drained the topic.
// The hub-wide lock only guards the subscriber maps.
func (h *Hub) lockTopics(topics ...string) func() {
	idx := make([]int, 0, len(topics))
	for _, t := range topics {
		idx = append(idx, int(maphash.String(topicSeed, t)%topicStripes))
	}
	slices.Sort(idx)
	idx = slices.Compact(idx)
	for _, i := range idx {
		h.stripes[i].Lock()
	}
	return func() {
		for _, i := range slices.Backward(idx) {
			h.stripes[i].Unlock()
		}
	}
}

// Unsubscribe removes c from topics.
func (h *Hub) Unsubscribe(c *Conn, topics ...string) {
	h.mu.Lock()
	removed := h.unsubscribeLocked(c, topics)
	h.mu.Unlock()
	h.metrics.subsAdded(-float64(removed))
}

func (h *Hub) unsubscribeLocked(c *Conn, topics []string) int {
	removed := 0
	for _, t := range topics {
		if _, ok := c.topics[t]; !ok {
			continue
		}
		delete(c.topics, t)
		if set := h.topics[t]; set != nil {
			delete(set, c)
			if len(set) == 0 {
				delete(h.topics, t)
			}
		}
		removed++
	}
	return removed
}

// detach is called once by Conn.closeWith.
func (h *Hub) detach(c *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; !ok {
		h.mu.Unlock()
		return
	}
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	removed := h.unsubscribeLocked(c, topics)
	delete(h.conns, c)
	h.mu.Unlock()

	h.metrics.subsAdded(-float64(removed))
	h.metrics.connAdded(-1)
}

func (h *Hub) dropSlow(ctx context.Context, conns []*Conn) {
	for _, c := range conns {
		h.log.WarnContext(ctx, "relay.conn.slow_consumer", slog.String("conn_id", c.id))
		h.metrics.slowConsumer()
		c.closeWith(ErrSlowConsumer)
	}
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Connections int `json:"connections"`
	Topics      int `json:"topics"`
}

// Stats returns current connection and topic counts.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{Connections: len(h.conns), Topics: len(h.topics)}
}

// Close closes every connection and the backlog. Further Connect calls fail.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.closeWith(ErrHubClosed)
	}
	return h.backlog.Close()
}
