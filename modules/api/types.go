package api

import (
	"time"

	domain "github.com/bestorange88/IM/domain/chat"
)

// IssueTokenRequest asks for a development token.
type IssueTokenRequest struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
}

// TokenResponse carries an issued token.
type TokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PostMessageRequest is the body of a REST send.
type PostMessageRequest struct {
	Content string `json:"content"`
}

// HistoryResponse lists the latest messages of a room, oldest first.
type HistoryResponse struct {
	RoomID   string           `json:"roomId"`
	Messages []domain.Message `json:"messages"`
}

// CreateRoomRequest is the body of a room creation.
type CreateRoomRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Private bool   `json:"private"`
}

// AddMemberRequest is the body of a membership grant.
type AddMemberRequest struct {
	UserID string `json:"userId"`
}

// MembersResponse lists identities currently joined to a room.
type MembersResponse struct {
	RoomID  string   `json:"roomId"`
	Members []string `json:"members"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
