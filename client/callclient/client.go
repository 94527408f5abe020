// Package callclient is a Go endpoint for the signaling server. It registers
// an identity, relays call signals and keeps a call.Machine in step with what
// the peer sends.
package callclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bestorange88/IM/domain/call"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gorilla/websocket"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

var (
	// ErrRegistrationFailed is returned by Dial when the server rejects the
	// register frame.
	ErrRegistrationFailed = errors.New("signaling registration failed")
	// ErrClosed is returned when sending on a closed client.
	ErrClosed = errors.New("client closed")
)

// Handler receives events from the client. Every field is optional.
// Callbacks run on the client's read goroutine, or on the caller's goroutine
// for local actions.
type Handler struct {
	// OnTransition is called after every call state change.
	OnTransition func(call.Transition)
	// OnSignal receives offer, answer, candidate and media signals of the
	// active call.
	OnSignal func(call.SignalMessage)
	// OnError receives error frames from the server.
	OnError func(code, message string)
}

// Options configures Dial.
type Options struct {
	// URL is the signaling websocket endpoint, e.g. ws://host:3000/ws/signaling.
	URL    string
	UserID string
	// Token is a bearer JWT. It is required when the server enforces
	// authenticated registration.
	Token        string
	Header       http.Header
	Handler      Handler
	Logger       types.Logger
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// Client is one registered signaling endpoint.
type Client struct {
	conn     *websocket.Conn
	machine  *call.Machine
	opts     Options
	identity string

	writeMu sync.Mutex
	done    chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

type outboundFrame struct {
	Type   call.SignalType `json:"type"`
	UserID string          `json:"userId,omitempty"`
	Token  string          `json:"token,omitempty"`
	To     string          `json:"to,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type inboundFrame struct {
	Type   call.SignalType `json:"type"`
	From   string          `json:"from,omitempty"`
	To     string          `json:"to,omitempty"`
	UserID string          `json:"userId,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Code   string          `json:"code,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Dial connects to the signaling server and registers opts.UserID. It
// returns once the server acknowledged the registration.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	dialer := websocket.Dialer{HandshakeTimeout: opts.DialTimeout}
	conn, resp, err := dialer.DialContext(ctx, opts.URL, opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.URL, err)
	}

	c := &Client{
		conn: conn,
		opts: opts,
		done: make(chan struct{}),
	}
	c.machine = call.NewMachine(call.WithTransitionHook(c.onTransition))

	if err := c.register(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

func (c *Client) register(ctx context.Context) error {
	if err := c.write(outboundFrame{Type: call.SignalRegister, UserID: c.opts.UserID, Token: c.opts.Token}); err != nil {
		return fmt.Errorf("send register: %w", err)
	}

	deadline := time.Now().Add(c.opts.DialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetReadDeadline(deadline)
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()

	var frame inboundFrame
	if err := c.conn.ReadJSON(&frame); err != nil {
		return fmt.Errorf("await registration: %w", err)
	}
	switch frame.Type {
	case call.SignalRegistered:
		c.identity = frame.UserID
		c.logDebug("Registered for signaling", "userID", c.identity)
		return nil
	case call.SignalError:
		return fmt.Errorf("%w: %s: %s", ErrRegistrationFailed, frame.Code, frame.Error)
	default:
		return fmt.Errorf("%w: unexpected %q frame", ErrRegistrationFailed, frame.Type)
	}
}

// Identity returns the identity the server registered.
func (c *Client) Identity() string {
	return c.identity
}

// State returns the current call state.
func (c *Client) State() call.State {
	return c.machine.State()
}

// Session returns the current call session.
func (c *Client) Session() call.Session {
	return c.machine.Session()
}

// Call starts a call to peer.
func (c *Client) Call(peer string, media call.Media) error {
	return c.act(func() (call.SignalMessage, error) { return c.machine.StartCall(peer, media) })
}

// Accept answers an incoming call.
func (c *Client) Accept() error {
	return c.act(c.machine.Accept)
}

// Reject declines an incoming call.
func (c *Client) Reject() error {
	return c.act(c.machine.Reject)
}

// Cancel withdraws an outgoing call that was not answered yet.
func (c *Client) Cancel() error {
	return c.act(c.machine.Cancel)
}

// Hangup ends the active call.
func (c *Client) Hangup() error {
	return c.act(c.machine.Hangup)
}

// SendOffer sends an SDP offer to the peer of the active call.
func (c *Client) SendOffer(payload any) error {
	return c.outgoing(call.SignalOffer, payload)
}

// SendAnswer sends an SDP answer to the peer of the active call.
func (c *Client) SendAnswer(payload any) error {
	return c.outgoing(call.SignalAnswer, payload)
}

// SendCandidate sends an ICE candidate to the peer of the active call.
func (c *Client) SendCandidate(payload any) error {
	return c.outgoing(call.SignalCandidate, payload)
}

// SendMedia tells the peer about a microphone or camera toggle.
func (c *Client) SendMedia(state call.MediaStatePayload) error {
	return c.outgoing(call.SignalMedia, state)
}

func (c *Client) outgoing(t call.SignalType, payload any) error {
	return c.act(func() (call.SignalMessage, error) { return c.machine.Outgoing(t, payload) })
}

// act applies a local machine action and sends the resulting signal.
func (c *Client) act(fn func() (call.SignalMessage, error)) error {
	if c.isClosed() {
		return ErrClosed
	}
	msg, err := fn()
	if err != nil {
		return err
	}
	return c.send(msg)
}

func (c *Client) send(msg call.SignalMessage) error {
	return c.write(outboundFrame{Type: msg.Type, To: msg.To, Data: msg.Data})
}

func (c *Client) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return c.conn.WriteJSON(v)
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		c.handle(data)
	}
}

func (c *Client) handle(data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logDebug("Dropping unreadable frame", "error", err)
		return
	}

	switch frame.Type {
	case call.SignalError:
		if c.opts.Handler.OnError != nil {
			c.opts.Handler.OnError(frame.Code, frame.Error)
		}
		return
	case call.SignalRegistered:
		return
	}

	msg := call.SignalMessage{Type: frame.Type, From: frame.From, To: frame.To, Data: frame.Data}
	out, err := c.machine.Receive(msg)
	if out.Reply != nil {
		if sendErr := c.send(*out.Reply); sendErr != nil {
			c.logDebug("Reply not sent", "signal", out.Reply.Type, "error", sendErr)
		}
	}
	if err != nil {
		c.logDebug("Signal ignored", "signal", msg.Type, "from", msg.From, "error", err)
		return
	}
	if out.Deliver && c.opts.Handler.OnSignal != nil {
		c.opts.Handler.OnSignal(msg)
	}
}

// fail records the read error and resets the call.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if !c.closed {
		c.err = err
	}
	c.closed = true
	c.mu.Unlock()

	c.machine.ConnectionLost()
}

func (c *Client) onTransition(t call.Transition) {
	c.logDebug("Call state changed", "from", t.From, "to", t.To, "peer", t.Peer, "cause", t.Cause)
	if c.opts.Handler.OnTransition != nil {
		c.opts.Handler.OnTransition(t)
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, nil after Close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close disconnects from the server. An active call is reset to idle.
func (c *Client) Close() error {
	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()

	if !already {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
	}
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) logDebug(msg string, args ...any) {
	if c.opts.Logger != nil {
		c.opts.Logger.Debug(msg, args...)
	}
}
