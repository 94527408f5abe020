package chat

import (
	"context"
	"encoding/json"
	"fmt"

	domain "github.com/bestorange88/IM/domain/chat"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// ChatPort is what other modules use to reach the message store.
type ChatPort interface {
	Persist(ctx context.Context, msg domain.Message) error
	History(ctx context.Context, roomID string, limit int) ([]domain.Message, error)
	CanJoin(ctx context.Context, identity, roomID string) (bool, error)
	CreateRoom(ctx context.Context, room domain.Room, creatorID string) (*domain.Room, error)
	AddMember(ctx context.Context, roomID, userID string) error
}

// ChatAdapter implements ChatPort using the service container.
type ChatAdapter struct {
	container mono.ServiceContainer
}

var _ ChatPort = (*ChatAdapter)(nil)

// NewChatAdapter creates a new ChatAdapter.
func NewChatAdapter(container mono.ServiceContainer) *ChatAdapter {
	return &ChatAdapter{
		container: container,
	}
}

// Persist durably records msg.
func (a *ChatAdapter) Persist(ctx context.Context, msg domain.Message) error {
	req := PersistMessageRequest{Message: msg}
	var resp PersistMessageResponse

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		"persist-message",
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return fmt.Errorf("persist-message request failed: %w", err)
	}
	return nil
}

// History returns the latest messages of a room, oldest first.
func (a *ChatAdapter) History(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	req := MessageHistoryRequest{RoomID: roomID, Limit: limit}
	var resp MessageHistoryResponse

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		"message-history",
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("message-history request failed: %w", err)
	}
	return resp.Messages, nil
}

// CanJoin reports whether identity may join roomID.
func (a *ChatAdapter) CanJoin(ctx context.Context, identity, roomID string) (bool, error) {
	req := CanJoinRequest{UserID: identity, RoomID: roomID}
	var resp CanJoinResponse

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		"can-join",
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return false, fmt.Errorf("can-join request failed: %w", err)
	}
	return resp.Allowed, nil
}

// CreateRoom creates a room with creatorID as its first member.
func (a *ChatAdapter) CreateRoom(ctx context.Context, room domain.Room, creatorID string) (*domain.Room, error) {
	req := CreateRoomRequest{
		ID:        room.ID,
		Name:      room.Name,
		Private:   room.Private,
		CreatorID: creatorID,
	}
	var resp RoomResponse

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		"create-room",
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("create-room request failed: %w", err)
	}
	if resp.Error != "" {
		return nil, toSentinel(resp.Error)
	}
	return resp.Room, nil
}

// AddMember grants userID access to roomID.
func (a *ChatAdapter) AddMember(ctx context.Context, roomID, userID string) error {
	req := AddMemberRequest{RoomID: roomID, UserID: userID}
	var resp AddMemberResponse

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		"add-member",
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return fmt.Errorf("add-member request failed: %w", err)
	}
	if resp.Error != "" {
		return toSentinel(resp.Error)
	}
	return nil
}

func toSentinel(msg string) error {
	switch msg {
	case ErrRoomExists.Error():
		return ErrRoomExists
	case ErrRoomNotFound.Error():
		return ErrRoomNotFound
	default:
		return fmt.Errorf("chat: %s", msg)
	}
}
