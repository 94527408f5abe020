package chat

import (
	domain "github.com/bestorange88/IM/domain/chat"
)

// PersistMessageRequest asks the store to record a message.
type PersistMessageRequest struct {
	Message domain.Message `json:"message"`
}

// PersistMessageResponse confirms a stored message.
type PersistMessageResponse struct {
	ID string `json:"id"`
}

// MessageHistoryRequest asks for the latest messages of a room.
type MessageHistoryRequest struct {
	RoomID string `json:"room_id"`
	Limit  int    `json:"limit,omitempty"`
}

// MessageHistoryResponse lists messages oldest first.
type MessageHistoryResponse struct {
	RoomID   string           `json:"room_id"`
	Messages []domain.Message `json:"messages"`
}

// CanJoinRequest asks whether a user may join a room.
type CanJoinRequest struct {
	UserID string `json:"user_id"`
	RoomID string `json:"room_id"`
}

// CanJoinResponse carries the decision.
type CanJoinResponse struct {
	Allowed bool `json:"allowed"`
}

// CreateRoomRequest creates a room. The creator becomes its first member.
type CreateRoomRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Private   bool   `json:"private"`
	CreatorID string `json:"creator_id"`
}

// RoomResponse describes a room. Error is set instead when the request was
// rejected.
type RoomResponse struct {
	Room  *domain.Room `json:"room,omitempty"`
	Error string       `json:"error,omitempty"`
}

// AddMemberRequest grants a user access to a room.
type AddMemberRequest struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// AddMemberResponse confirms a membership.
type AddMemberResponse struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Error  string `json:"error,omitempty"`
}
