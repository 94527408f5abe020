package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bestorange88/IM/domain/call"
	"github.com/bestorange88/IM/modules/ratelimit"
	"github.com/bestorange88/IM/modules/registry"
	"github.com/go-monolith/mono/pkg/types"
)

// SessionOptions configures the sessions of a Server.
type SessionOptions struct {
	Verifier     Verifier // optional unless RequireToken
	RequireToken bool
	Limiter      ratelimit.Limiter
	Listener     Listener
	Logger       types.Logger
}

// Server creates signaling sessions that share one relay.
type Server struct {
	relay *Relay
	opts  SessionOptions
}

// NewServer creates a signaling server over relay.
func NewServer(relay *Relay, opts SessionOptions) *Server {
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.Unlimited{}
	}
	return &Server{relay: relay, opts: opts}
}

// Relay returns the server's relay.
func (s *Server) Relay() *Relay {
	return s.relay
}

// NewSession starts the protocol state for a freshly accepted connection.
func (s *Server) NewSession(conn *registry.Conn) *Session {
	return &Session{srv: s, conn: conn}
}

// Session is the signaling protocol state of one connection. It is driven by
// the connection's reader goroutine and is not safe for concurrent use.
type Session struct {
	srv  *Server
	conn *registry.Conn

	identity string
	closed   bool
}

// Conn returns the session's connection.
func (s *Session) Conn() *registry.Conn {
	return s.conn
}

// Identity returns the registered identity, empty before register.
func (s *Session) Identity() string {
	return s.identity
}

// HandleFrame processes one inbound frame. A non-nil error means the
// connection must be closed.
func (s *Session) HandleFrame(ctx context.Context, data []byte) error {
	if s.closed {
		return ErrNotRegistered
	}

	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type == "" {
		s.srv.opts.Logger.Warn("Malformed signaling frame", "connID", s.conn.ID(), "error", err)
		s.sendError(CodeMalformed, "frame could not be parsed")
		return ErrMalformedMessage
	}

	if frame.Type == call.SignalRegister {
		return s.handleRegister(ctx, frame)
	}
	if !frame.Type.Relayable() {
		s.sendError(CodeUnknownType, fmt.Sprintf("unknown frame type %q", frame.Type))
		return nil
	}
	return s.handleSignal(ctx, frame)
}

func (s *Session) handleRegister(ctx context.Context, frame InboundFrame) error {
	identity, err := s.authenticate(ctx, frame)
	if err != nil {
		s.srv.opts.Logger.Warn("Signaling registration rejected",
			"connID", s.conn.ID(), "userID", frame.UserID, "error", err)
		s.sendError(CodeAuthFailed, err.Error())
		return ErrAuthenticationFailure
	}

	if s.identity != "" && s.identity != identity {
		s.release(ctx)
	}

	s.identity = identity
	if prev := s.srv.relay.registry.Register(identity, s.conn); prev != nil {
		s.srv.opts.Logger.Info("Superseded signaling connection",
			"userID", identity, "connID", prev.ID())
	}

	_ = s.conn.SendJSON(RegisteredFrame{Type: call.SignalRegistered, UserID: identity})
	s.srv.opts.Logger.Info("Peer registered", "userID", identity, "connID", s.conn.ID())
	if s.srv.opts.Listener != nil {
		s.srv.opts.Listener.PeerOnline(ctx, identity)
	}
	return nil
}

// authenticate resolves the identity a register frame claims. With a token
// the verified identity wins and must match any claimed userId.
func (s *Session) authenticate(ctx context.Context, frame InboundFrame) (string, error) {
	if frame.Token == "" {
		if s.srv.opts.RequireToken {
			return "", errors.New("token is required")
		}
		if frame.UserID == "" {
			return "", errors.New("userId is required")
		}
		return frame.UserID, nil
	}

	if s.srv.opts.Verifier == nil {
		return "", errors.New("token verification unavailable")
	}
	identity, err := s.srv.opts.Verifier.Verify(ctx, frame.Token)
	if err != nil || identity == "" {
		return "", errors.New("invalid or expired token")
	}
	if frame.UserID != "" && frame.UserID != identity {
		return "", errors.New("userId does not match token")
	}
	return identity, nil
}

func (s *Session) handleSignal(ctx context.Context, frame InboundFrame) error {
	if s.identity == "" {
		s.sendError(CodeNotRegistered, "register before sending signals")
		return nil
	}

	res, err := s.srv.opts.Limiter.Allow(ctx, s.identity)
	if err != nil {
		s.srv.opts.Logger.Warn("Rate limiter failed, allowing signal", "userID", s.identity, "error", err)
	} else if !res.Allowed {
		s.sendError(CodeRateLimited, fmt.Sprintf("rate limit exceeded, retry after %s", res.RetryAfter))
		return nil
	}

	err = s.srv.relay.Relay(s.conn, call.SignalMessage{
		Type: frame.Type,
		To:   frame.To,
		Data: frame.Data,
	})
	switch {
	case err == nil, errors.Is(err, ErrRecipientUnavailable):
		return nil
	case errors.Is(err, ErrInvalidRecipient):
		s.sendError(CodeInvalidRecipient, "signal needs a recipient other than the sender")
	case errors.Is(err, ErrNotRegistered):
		// Superseded by a newer connection of the same identity.
		s.sendError(CodeNotRegistered, "register before sending signals")
	default:
		s.srv.opts.Logger.Error("Failed to relay signal", "userID", s.identity, "error", err)
		s.sendError(CodeUnknownType, err.Error())
	}
	return nil
}

// Close unregisters the connection. It is idempotent.
func (s *Session) Close(ctx context.Context) {
	if s.closed {
		return
	}
	s.closed = true
	s.release(ctx)
}

func (s *Session) release(ctx context.Context) {
	identity := s.identity
	s.identity = ""
	if identity == "" {
		return
	}
	if !s.srv.relay.registry.Release(identity, s.conn) {
		return
	}
	s.srv.opts.Logger.Info("Peer unregistered", "userID", identity, "connID", s.conn.ID())
	if s.srv.opts.Listener != nil {
		s.srv.opts.Listener.PeerOffline(ctx, identity)
	}
}

func (s *Session) sendError(code, msg string) {
	_ = s.conn.SendJSON(ErrorFrame{Type: call.SignalError, Code: code, Error: msg})
}
