package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/bestorange88/IM/domain/chat"
	"github.com/bestorange88/IM/events"
	"github.com/go-monolith/mono"
)

// handlePersistMessage handles the persist-message service request.
func (m *ChatModule) handlePersistMessage(ctx context.Context, req PersistMessageRequest, _ *mono.Msg) (PersistMessageResponse, error) {
	msg := req.Message
	if msg.ID == "" || msg.RoomID == "" || msg.SenderID == "" {
		return PersistMessageResponse{}, fmt.Errorf("id, room_id and sender_id are required")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	if err := m.repo.CreateMessage(ctx, toStoredMessage(msg)); err != nil {
		return PersistMessageResponse{}, err
	}

	if m.eventBus != nil {
		if err := events.MessageSentV1.Publish(m.eventBus, events.MessageSentEvent{
			MessageID: msg.ID,
			RoomID:    msg.RoomID,
			UserID:    msg.SenderID,
			Timestamp: msg.CreatedAt,
		}, nil); err != nil {
			m.logger.Warn("Failed to publish MessageSent event", "messageID", msg.ID, "error", err)
		}
	}

	return PersistMessageResponse{ID: msg.ID}, nil
}

// handleMessageHistory handles the message-history service request.
func (m *ChatModule) handleMessageHistory(ctx context.Context, req MessageHistoryRequest, _ *mono.Msg) (MessageHistoryResponse, error) {
	if req.RoomID == "" {
		return MessageHistoryResponse{}, fmt.Errorf("room_id is required")
	}
	limit := req.Limit
	if limit <= 0 || limit > m.historyLimit {
		limit = m.historyLimit
	}

	key := fmt.Sprintf("%s:%d", req.RoomID, limit)
	val, err, shared := m.historyGroup.Do(key, func() (any, error) {
		stored, err := m.repo.ListRecent(ctx, req.RoomID, limit)
		if err != nil {
			return nil, err
		}
		msgs := make([]domain.Message, 0, len(stored))
		for _, s := range stored {
			msgs = append(msgs, s.toDomain())
		}
		return msgs, nil
	})
	if err != nil {
		return MessageHistoryResponse{}, err
	}
	if shared {
		m.logger.Debug("History read shared", "roomID", req.RoomID, "limit", limit)
	}

	// Callers sharing a read get the same backing array.
	msgs := val.([]domain.Message)
	return MessageHistoryResponse{
		RoomID:   req.RoomID,
		Messages: append([]domain.Message(nil), msgs...),
	}, nil
}

// handleCanJoin handles the can-join service request.
func (m *ChatModule) handleCanJoin(ctx context.Context, req CanJoinRequest, _ *mono.Msg) (CanJoinResponse, error) {
	allowed, err := m.repo.CanJoin(ctx, req.UserID, req.RoomID)
	if err != nil {
		return CanJoinResponse{}, err
	}
	return CanJoinResponse{Allowed: allowed}, nil
}

// handleCreateRoom handles the create-room service request.
func (m *ChatModule) handleCreateRoom(ctx context.Context, req CreateRoomRequest, _ *mono.Msg) (RoomResponse, error) {
	if req.ID == "" {
		return RoomResponse{}, fmt.Errorf("id is required")
	}
	name := req.Name
	if name == "" {
		name = req.ID
	}

	room := &RoomRecord{ID: req.ID, Name: name, Private: req.Private}
	if err := m.repo.CreateRoom(ctx, room); err != nil {
		if errors.Is(err, ErrRoomExists) {
			return RoomResponse{Error: err.Error()}, nil
		}
		return RoomResponse{}, err
	}

	if req.CreatorID != "" {
		if err := m.repo.AddMember(ctx, room.ID, req.CreatorID); err != nil {
			return RoomResponse{}, err
		}
	}

	m.logger.Info("Room created", "roomID", room.ID, "private", room.Private)
	r := room.toDomain()
	return RoomResponse{Room: &r}, nil
}

// handleAddMember handles the add-member service request.
func (m *ChatModule) handleAddMember(ctx context.Context, req AddMemberRequest, _ *mono.Msg) (AddMemberResponse, error) {
	if req.RoomID == "" || req.UserID == "" {
		return AddMemberResponse{}, fmt.Errorf("room_id and user_id are required")
	}

	resp := AddMemberResponse{RoomID: req.RoomID, UserID: req.UserID}
	if _, err := m.repo.FindRoom(ctx, req.RoomID); err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			resp.Error = err.Error()
			return resp, nil
		}
		return AddMemberResponse{}, err
	}
	if err := m.repo.AddMember(ctx, req.RoomID, req.UserID); err != nil {
		return AddMemberResponse{}, err
	}
	return resp, nil
}
