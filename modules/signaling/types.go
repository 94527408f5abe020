// Package signaling relays call-control frames between registered peers. The
// relay keeps no call state: it only knows which identity owns which
// connection.
package signaling

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bestorange88/IM/domain/call"
)

var (
	// ErrRecipientUnavailable is returned when the target identity has no live
	// connection. The sender has been told; the error is not fatal.
	ErrRecipientUnavailable = errors.New("recipient unavailable")
	// ErrInvalidRecipient is returned for signals without a usable target.
	ErrInvalidRecipient = errors.New("invalid recipient")
	// ErrUnsupportedSignal is returned for types the relay does not forward.
	ErrUnsupportedSignal = errors.New("unsupported signal type")
	// ErrNotRegistered is returned for signals sent before register.
	ErrNotRegistered = errors.New("connection is not registered")
	// ErrAuthenticationFailure is returned when registration cannot be
	// verified. The connection is closed.
	ErrAuthenticationFailure = errors.New("authentication failed")
	// ErrMalformedMessage is returned for frames that cannot be parsed. The
	// connection is closed.
	ErrMalformedMessage = errors.New("malformed message")
)

// Error codes carried by error frames.
const (
	CodeMalformed        = "malformed_message"
	CodeAuthFailed       = "authentication_failed"
	CodeNotRegistered    = "not_registered"
	CodeInvalidRecipient = "invalid_recipient"
	CodeRateLimited      = "rate_limited"
	CodeUnknownType      = "unknown_type"
)

// Verifier turns a credential into a verified identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Listener observes peers coming and going.
type Listener interface {
	PeerOnline(ctx context.Context, userID string)
	PeerOffline(ctx context.Context, userID string)
}

// InboundFrame is any frame a signaling client sends. Register frames carry
// UserID and Token; relayable frames carry To and Data.
type InboundFrame struct {
	Type   call.SignalType `json:"type"`
	UserID string          `json:"userId,omitempty"`
	Token  string          `json:"token,omitempty"`
	To     string          `json:"to,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// RegisteredFrame acknowledges a register.
type RegisteredFrame struct {
	Type   call.SignalType `json:"type"`
	UserID string          `json:"userId"`
}

// ErrorFrame reports a failure to the client.
type ErrorFrame struct {
	Type  call.SignalType `json:"type"`
	Code  string          `json:"code"`
	Error string          `json:"error"`
}
