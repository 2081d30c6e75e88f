package relay

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrConnClosed is returned by a Conn after it has been closed.
	ErrConnClosed = errors.New("relay: connection closed")
	// ErrSlowConsumer closes a connection whose outbound queue overflowed.
	ErrSlowConsumer = errors.New("relay: outbound queue overflow")
)

// Conn is one client attachment to a Hub. Messages routed to the client are
// queued on the Conn so the hub never blocks on a socket; a single writer
// drains them with Recv.
type Conn struct {
	id         string
	remoteAddr string
	hub        *Hub

	// guarded by hub.mu
	topics map[string]struct{}

	mu       sync.Mutex
	queue    []Message
	max      int
	closed   bool
	closeErr error
	notify   chan struct{}
	done     chan struct{}
}

func newConn(h *Hub, id, remoteAddr string, max int) *Conn {
	return &Conn{
		id:         id,
		remoteAddr: remoteAddr,
		hub:        h,
		topics:     make(map[string]struct{}),
		max:        max,
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// ID returns the hub-assigned connection id.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the address given when the connection was attached.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// Send submits a message from the client to the hub.
func (c *Conn) Send(ctx context.Context, msg Message) error {
	if c.isClosed() {
		return ErrConnClosed
	}
	return c.hub.Handle(ctx, c, msg)
}

// Recv returns the next message the hub routed to this client, blocking until
// one is available, ctx is done, or the connection closes.
func (c *Conn) Recv(ctx context.Context) (Message, error) {
	for {
		c.mu.Lock()
		if c.closed {
			err := c.closeErr
			c.mu.Unlock()
			return Message{}, err
		}
		if len(c.queue) > 0 {
			msg := c.queue[0]
			c.queue[0] = Message{}
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return msg, nil
		}
		c.mu.Unlock()

		select {
		case <-c.notify:
		case <-c.done:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the connection closed, or nil while it is open.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Close detaches the connection from every topic. Buffered messages for
// those topics stay in the backlog for future subscribers.
func (c *Conn) Close() error {
	c.closeWith(ErrConnClosed)
	return nil
}

func (c *Conn) closeWith(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	c.queue = nil
	close(c.done)
	c.mu.Unlock()

	c.hub.detach(c)
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type enqueueResult int

const (
	queued enqueueResult = iota
	// queueFull means the limit would be exceeded; the caller closes the
	// connection outside the hub lock.
	queueFull
	// connClosing means the connection closed but may not be detached yet.
	// Nothing was queued.
	connClosing
)

// enqueue appends msgs for the writer.
func (c *Conn) enqueue(msgs ...Message) enqueueResult {
	if len(msgs) == 0 {
		return queued
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return connClosing
	}
	if c.max > 0 && len(c.queue)+len(msgs) > c.max {
		c.mu.Unlock()
		return queueFull
	}
	c.queue = append(c.queue, msgs...)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return queued
}
