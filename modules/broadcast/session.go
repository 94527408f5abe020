package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bestorange88/IM/modules/registry"
)

// Session is the chat protocol state of one connection:
// unauthenticated -> joined(roomId) -> closed.
//
// A Session is driven by the connection's single reader goroutine and is not
// safe for concurrent use.
type Session struct {
	b    *Broadcaster
	conn *registry.Conn

	identity string
	roomID   string
	closed   bool
}

// Conn returns the session's connection.
func (s *Session) Conn() *registry.Conn {
	return s.conn
}

// Identity returns the authenticated identity, empty before auth.
func (s *Session) Identity() string {
	return s.identity
}

// RoomID returns the joined room, empty before auth.
func (s *Session) RoomID() string {
	return s.roomID
}

// Joined reports whether the session has joined a room.
func (s *Session) Joined() bool {
	return s.roomID != "" && !s.closed
}

// HandleFrame processes one inbound frame. A non-nil error means the
// connection must be closed; any error frame has already been queued.
func (s *Session) HandleFrame(ctx context.Context, data []byte) error {
	if s.closed {
		return ErrSessionClosed
	}

	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type == "" {
		s.b.logger.Warn("Malformed chat frame", "connID", s.conn.ID(), "error", err)
		s.sendError(CodeMalformed, "frame could not be parsed")
		return ErrMalformedMessage
	}

	switch frame.Type {
	case TypeAuth:
		return s.handleAuth(ctx, frame)
	case TypeChat:
		return s.handleChat(ctx, frame)
	case TypeLeave:
		s.Close(ctx)
		return ErrSessionClosed
	default:
		s.sendError(CodeUnknownType, fmt.Sprintf("unknown frame type %q", frame.Type))
		return nil
	}
}

func (s *Session) handleAuth(ctx context.Context, frame InboundFrame) error {
	if frame.RoomID == "" {
		s.sendError(CodeMalformed, ErrRoomRequired.Error())
		return fmt.Errorf("%w: %w", ErrMalformedMessage, ErrRoomRequired)
	}
	if frame.Token == "" {
		s.sendError(CodeAuthFailed, "token is required")
		return ErrAuthenticationFailure
	}

	identity, err := s.b.verifier.Verify(ctx, frame.Token)
	if err != nil || identity == "" {
		s.b.logger.Warn("Chat authentication failed", "connID", s.conn.ID(), "error", err)
		s.sendError(CodeAuthFailed, "invalid or expired token")
		return ErrAuthenticationFailure
	}

	allowed, err := s.b.canJoin(ctx, identity, frame.RoomID)
	if err != nil {
		s.b.logger.Error("Room authorization failed",
			"userID", identity, "roomID", frame.RoomID, "error", err)
	}
	if err != nil || !allowed {
		s.sendError(CodeJoinDenied, fmt.Sprintf("cannot join room %q", frame.RoomID))
		return ErrJoinDenied
	}

	if s.roomID != "" {
		s.leave(ctx)
	}

	s.identity = identity
	s.roomID = frame.RoomID
	s.b.hub.Join(identity, frame.RoomID, s.conn)

	_ = s.conn.SendJSON(JoinedFrame{Type: TypeJoined, RoomID: frame.RoomID, UserID: identity})
	s.b.logger.Info("User joined room", "userID", identity, "roomID", frame.RoomID, "connID", s.conn.ID())
	if s.b.listener != nil {
		s.b.listener.UserJoined(ctx, identity, frame.RoomID)
	}
	return nil
}

func (s *Session) handleChat(ctx context.Context, frame InboundFrame) error {
	if !s.Joined() {
		s.sendError(CodeNotJoined, "authenticate before sending messages")
		return ErrNotJoined
	}
	if s.conn.Closed() {
		// Superseded by a newer connection of the same identity.
		return ErrSessionClosed
	}

	res, err := s.b.limiter.Allow(ctx, s.identity)
	if err != nil {
		s.b.logger.Warn("Rate limiter failed, allowing message", "userID", s.identity, "error", err)
	} else if !res.Allowed {
		s.sendError(CodeRateLimited, fmt.Sprintf("rate limit exceeded, retry after %s", res.RetryAfter))
		return nil
	}

	msg, err := s.b.Post(ctx, s.identity, s.roomID, frame.Content, s.identity)
	switch {
	case err == nil:
		_ = s.conn.SendJSON(AckFrame{Type: TypeAck, ID: msg.ID, RoomID: msg.RoomID, CreatedAt: msg.CreatedAt})
	case errors.Is(err, ErrPersistenceFailure):
		s.sendError(CodePersistenceFailed, "message was not delivered")
	case errors.Is(err, ErrMessageEmpty), errors.Is(err, ErrMessageTooLong), errors.Is(err, ErrMessageInvalid):
		s.sendError(CodeInvalidContent, err.Error())
	default:
		s.b.logger.Error("Failed to post message", "userID", s.identity, "roomID", s.roomID, "error", err)
		s.sendError(CodePersistenceFailed, "message was not delivered")
	}
	return nil
}

// Close removes the connection from its room. It is idempotent.
func (s *Session) Close(ctx context.Context) {
	if s.closed {
		return
	}
	s.closed = true
	if s.roomID != "" {
		s.leave(ctx)
	}
}

func (s *Session) leave(ctx context.Context) {
	identity, roomID := s.identity, s.roomID
	s.roomID = ""
	if !s.b.hub.Leave(identity, roomID, s.conn) {
		// Superseded by a newer connection of the same identity.
		return
	}
	s.b.logger.Info("User left room", "userID", identity, "roomID", roomID, "connID", s.conn.ID())
	if s.b.listener != nil {
		s.b.listener.UserLeft(ctx, identity, roomID)
	}
}

func (s *Session) sendError(code, msg string) {
	_ = s.conn.SendJSON(ErrorFrame{Type: TypeError, Code: code, Error: msg})
}
