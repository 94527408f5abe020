package broadcast

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	domain "github.com/bestorange88/IM/domain/chat"
)

// Error taxonomy of the chat protocol.
var (
	// ErrAuthenticationFailure is returned when the auth credential is bad or
	// missing. The connection is closed.
	ErrAuthenticationFailure = errors.New("authentication failed")
	// ErrJoinDenied is returned when an authenticated identity may not join
	// the requested room. The connection is closed.
	ErrJoinDenied = errors.New("join denied")
	// ErrNotJoined is returned for chat frames before a successful auth. The
	// connection is closed.
	ErrNotJoined = errors.New("connection has not joined a room")
	// ErrPersistenceFailure is returned when the message store rejected a
	// message. Nothing was broadcast.
	ErrPersistenceFailure = errors.New("message could not be persisted")
	// ErrMalformedMessage is returned for frames that cannot be parsed. The
	// connection is closed.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrSessionClosed is returned after an explicit leave.
	ErrSessionClosed = errors.New("session closed")
)

// Content validation errors. They are reported to the sender and do not
// close the connection.
var (
	ErrMessageEmpty   = errors.New("message content cannot be empty")
	ErrMessageTooLong = errors.New("message exceeds maximum length")
	ErrMessageInvalid = errors.New("message contains invalid characters")
	ErrRoomRequired   = errors.New("room id is required")
)

// DefaultMaxMessageLength is used when Options.MaxMessageLength is unset.
const DefaultMaxMessageLength = 5000

// Verifier turns a credential into a verified identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// MessageStore durably records chat messages.
type MessageStore interface {
	Persist(ctx context.Context, msg domain.Message) error
	History(ctx context.Context, roomID string, limit int) ([]domain.Message, error)
}

// RoomAuthorizer decides whether an identity may join a room.
type RoomAuthorizer interface {
	CanJoin(ctx context.Context, identity, roomID string) (bool, error)
}

// Listener observes membership changes.
type Listener interface {
	UserJoined(ctx context.Context, userID, roomID string)
	UserLeft(ctx context.Context, userID, roomID string)
}

// Inbound frame types.
const (
	TypeAuth  = "auth"
	TypeChat  = "chat"
	TypeLeave = "leave"
)

// Outbound frame types.
const (
	TypeJoined = "joined"
	TypeAck    = "ack"
	TypeError  = "error"
)

// Error codes carried by error frames.
const (
	CodeMalformed         = "malformed_message"
	CodeAuthFailed        = "authentication_failed"
	CodeJoinDenied        = "join_denied"
	CodeNotJoined         = "not_joined"
	CodeInvalidContent    = "invalid_content"
	CodePersistenceFailed = "persistence_failed"
	CodeRateLimited       = "rate_limited"
	CodeUnknownType       = "unknown_type"
)

// InboundFrame is any frame a chat client sends.
type InboundFrame struct {
	Type    string `json:"type"`
	Token   string `json:"token,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChatFrame is a chat message delivered to room members.
type ChatFrame struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	RoomID    string    `json:"roomId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// JoinedFrame acknowledges a successful auth.
type JoinedFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// AckFrame tells the sender its message was persisted and broadcast.
type AckFrame struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	CreatedAt time.Time `json:"createdAt"`
}

// ErrorFrame reports a failure to the client.
type ErrorFrame struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// ValidateMessage validates message content.
func ValidateMessage(content string, maxLength int) error {
	if content == "" {
		return ErrMessageEmpty
	}
	if maxLength > 0 && len(content) > maxLength {
		return ErrMessageTooLong
	}
	if !utf8.ValidString(content) {
		return ErrMessageInvalid
	}
	return nil
}
