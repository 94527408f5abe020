package registry

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/google/uuid"
)

// Websocket message types, shared by gorilla and fasthttp websocket packages.
const (
	TextMessage = 1
	PingMessage = 9
)

var (
	// ErrConnClosed is returned when sending on a connection that is closing.
	ErrConnClosed = errors.New("connection closed")
	// ErrSendQueueFull is returned when a slow peer did not drain its queue.
	// The connection is closed.
	ErrSendQueueFull = errors.New("send queue full")
)

// Transport is the write side of a websocket connection.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ConnOptions tunes a Conn.
type ConnOptions struct {
	SendQueueSize int
	WriteTimeout  time.Duration
	PingInterval  time.Duration
	Logger        types.Logger
}

// Conn is a live connection with a bounded outbound queue drained by a
// single writer goroutine. Sends never block and never touch the socket.
type Conn struct {
	id        string
	transport Transport
	opts      ConnOptions

	send      chan []byte
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.RWMutex
	identity string
}

// NewConn wraps t. The caller must run WritePump in its own goroutine.
func NewConn(t Transport, opts ConnOptions) *Conn {
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = 64
	}
	return &Conn{
		id:        uuid.New().String(),
		transport: t,
		opts:      opts,
		send:      make(chan []byte, opts.SendQueueSize),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// ID returns the unique connection ID.
func (c *Conn) ID() string {
	return c.id
}

// Identity returns the identity bound to the connection, if any.
func (c *Conn) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// SetIdentity binds an authenticated identity to the connection.
func (c *Conn) SetIdentity(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = identity
}

// Send queues data for delivery.
func (c *Conn) Send(data []byte) error {
	select {
	case <-c.closing:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.closing:
		return ErrConnClosed
	default:
		c.logWarn("Closing slow connection", "connID", c.id, "identity", c.Identity())
		c.Close()
		return ErrSendQueueFull
	}
}

// SendJSON marshals v and queues it for delivery.
func (c *Conn) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// Close stops accepting new frames. Frames already queued are flushed by the
// writer before the transport is closed. Close is idempotent.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closing)
	})
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

// Done is closed once the writer stopped and the transport is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// WritePump writes queued frames to the transport until the connection is
// closed or a write fails.
func (c *Conn) WritePump() {
	var ping <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	defer func() {
		c.Close()
		_ = c.transport.Close()
		close(c.done)
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.write(TextMessage, data); err != nil {
				c.logDebug("Write failed", "connID", c.id, "error", err)
				return
			}
		case <-ping:
			if err := c.write(PingMessage, nil); err != nil {
				c.logDebug("Ping failed", "connID", c.id, "error", err)
				return
			}
		case <-c.closing:
			c.flush()
			return
		}
	}
}

func (c *Conn) flush() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(messageType int, data []byte) error {
	if c.opts.WriteTimeout > 0 {
		_ = c.transport.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	return c.transport.WriteMessage(messageType, data)
}

func (c *Conn) logWarn(msg string, args ...any) {
	if c.opts.Logger != nil {
		c.opts.Logger.Warn(msg, args...)
	}
}

func (c *Conn) logDebug(msg string, args ...any) {
	if c.opts.Logger != nil {
		c.opts.Logger.Debug(msg, args...)
	}
}
