package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	domain "github.com/bestorange88/IM/domain/chat"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// ErrContentRejected is returned by the adapter when a posted message failed
// validation.
var ErrContentRejected = errors.New("message content rejected")

// BroadcastPort is what other modules use to post into rooms.
type BroadcastPort interface {
	PostMessage(ctx context.Context, senderID, roomID, content string) (*domain.Message, error)
	RoomMembers(ctx context.Context, roomID string) ([]string, error)
}

// BroadcastAdapter implements BroadcastPort using the service container.
type BroadcastAdapter struct {
	container mono.ServiceContainer
}

var _ BroadcastPort = (*BroadcastAdapter)(nil)

// NewBroadcastAdapter creates a new BroadcastAdapter.
func NewBroadcastAdapter(container mono.ServiceContainer) *BroadcastAdapter {
	return &BroadcastAdapter{container: container}
}

// PostMessage persists and broadcasts a message. Persistence failures wrap
// ErrPersistenceFailure and validation failures wrap ErrContentRejected.
func (a *BroadcastAdapter) PostMessage(ctx context.Context, senderID, roomID, content string) (*domain.Message, error) {
	req := PostMessageRequest{SenderID: senderID, RoomID: roomID, Content: content}
	var resp PostMessageResponse

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		"post-message",
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("post-message request failed: %w", err)
	}

	switch resp.Code {
	case "":
		return resp.Message, nil
	case CodePersistenceFailed:
		return nil, fmt.Errorf("%w: %s", ErrPersistenceFailure, resp.Error)
	default:
		return nil, fmt.Errorf("%w: %s", ErrContentRejected, resp.Error)
	}
}

// RoomMembers lists the identities currently joined to roomID.
func (a *BroadcastAdapter) RoomMembers(ctx context.Context, roomID string) ([]string, error) {
	req := RoomMembersRequest{RoomID: roomID}
	var resp RoomMembersResponse

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		"room-members",
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("room-members request failed: %w", err)
	}
	return resp.Members, nil
}
