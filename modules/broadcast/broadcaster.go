package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	domain "github.com/bestorange88/IM/domain/chat"
	"github.com/bestorange88/IM/modules/ratelimit"
	"github.com/bestorange88/IM/modules/registry"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/google/uuid"
)

// Options configures a Broadcaster.
type Options struct {
	Verifier         Verifier
	Store            MessageStore
	Authorizer       RoomAuthorizer    // optional, nil allows every room
	Limiter          ratelimit.Limiter // optional, nil is unlimited
	Listener         Listener          // optional
	Logger           types.Logger
	MaxMessageLength int
}

// Broadcaster authenticates chat connections into rooms and fans persisted
// messages out to room members.
type Broadcaster struct {
	hub              *Hub
	verifier         Verifier
	store            MessageStore
	authz            RoomAuthorizer
	limiter          ratelimit.Limiter
	listener         Listener
	logger           types.Logger
	maxMessageLength int
	now              func() time.Time
}

// NewBroadcaster creates a Broadcaster over hub.
func NewBroadcaster(hub *Hub, opts Options) *Broadcaster {
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.Unlimited{}
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = DefaultMaxMessageLength
	}
	return &Broadcaster{
		hub:              hub,
		verifier:         opts.Verifier,
		store:            opts.Store,
		authz:            opts.Authorizer,
		limiter:          opts.Limiter,
		listener:         opts.Listener,
		logger:           opts.Logger,
		maxMessageLength: opts.MaxMessageLength,
		now:              time.Now,
	}
}

// Hub returns the underlying hub.
func (b *Broadcaster) Hub() *Hub {
	return b.hub
}

// Post validates content, persists it and then broadcasts it to every member
// of roomID except exclude. A message that failed to persist is never
// broadcast.
func (b *Broadcaster) Post(ctx context.Context, senderID, roomID, content, exclude string) (domain.Message, error) {
	if roomID == "" {
		return domain.Message{}, ErrRoomRequired
	}
	if err := ValidateMessage(content, b.maxMessageLength); err != nil {
		return domain.Message{}, err
	}

	msg := domain.Message{
		ID:        uuid.New().String(),
		SenderID:  senderID,
		RoomID:    roomID,
		Content:   content,
		CreatedAt: b.now().UTC(),
	}

	if err := b.store.Persist(ctx, msg); err != nil {
		b.logger.Error("Failed to persist message",
			"roomID", roomID, "senderID", senderID, "error", err)
		return domain.Message{}, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}

	frame, err := json.Marshal(ChatFrame{
		Type:      TypeChat,
		ID:        msg.ID,
		SenderID:  msg.SenderID,
		RoomID:    msg.RoomID,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	})
	if err != nil {
		return msg, fmt.Errorf("failed to encode message: %w", err)
	}

	res := b.hub.Publish(roomID, exclude, frame)
	b.logger.Debug("Message broadcast",
		"messageID", msg.ID, "roomID", roomID,
		"delivered", res.Delivered, "dropped", res.Dropped)
	return msg, nil
}

// History returns the latest messages of a room in chronological order.
func (b *Broadcaster) History(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	if roomID == "" {
		return nil, ErrRoomRequired
	}
	return b.store.History(ctx, roomID, limit)
}

// NewSession starts the protocol state for a freshly accepted connection.
func (b *Broadcaster) NewSession(conn *registry.Conn) *Session {
	return &Session{b: b, conn: conn}
}

func (b *Broadcaster) canJoin(ctx context.Context, identity, roomID string) (bool, error) {
	if b.authz == nil {
		return true, nil
	}
	return b.authz.CanJoin(ctx, identity, roomID)
}
