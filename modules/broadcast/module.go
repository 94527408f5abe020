package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bestorange88/IM/config"
	domain "github.com/bestorange88/IM/domain/chat"
	"github.com/bestorange88/IM/events"
	"github.com/bestorange88/IM/modules/auth"
	"github.com/bestorange88/IM/modules/chat"
	"github.com/bestorange88/IM/modules/ratelimit"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
)

// Module owns the chat rooms of the process. Chat sockets are handed to it by
// the api module; messages are persisted through the chat module and
// credentials verified through the auth module.
type Module struct {
	cfg         config.Config
	limiter     ratelimit.Limiter
	logger      types.Logger
	hub         *Hub
	broadcaster *Broadcaster
	verifier    Verifier
	store       *chat.ChatAdapter
	eventBus    mono.EventBus
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.DependentModule       = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
	_ mono.EventBusAwareModule   = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
	_ Listener                   = (*Module)(nil)
)

// NewModule creates the broadcast module. limiter applies to chat frames.
func NewModule(cfg config.Config, limiter ratelimit.Limiter, logger types.Logger) *Module {
	return &Module{
		cfg:     cfg,
		limiter: limiter,
		logger:  logger.WithModule("broadcast"),
		hub:     NewHub(),
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "broadcast"
}

// Dependencies returns the list of module dependencies.
func (m *Module) Dependencies() []string {
	return []string{"auth", "chat"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *Module) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "auth":
		m.verifier = auth.NewAuthAdapter(container)
	case "chat":
		m.store = chat.NewChatAdapter(container)
	}
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.UserJoinedV1.ToBase(),
		events.UserLeftV1.ToBase(),
	}
}

// Start builds the broadcaster once dependencies are wired.
func (m *Module) Start(_ context.Context) error {
	if m.verifier == nil {
		return fmt.Errorf("auth dependency not set")
	}
	if m.store == nil {
		return fmt.Errorf("chat dependency not set")
	}

	m.broadcaster = NewBroadcaster(m.hub, Options{
		Verifier:         m.verifier,
		Store:            m.store,
		Authorizer:       m.store,
		Limiter:          m.limiter,
		Listener:         m,
		Logger:           m.logger,
		MaxMessageLength: m.cfg.MaxMessageLength,
	})

	m.logger.Info("Module started", "maxMessageLength", m.cfg.MaxMessageLength)
	return nil
}

// Stop closes every chat connection.
func (m *Module) Stop(_ context.Context) error {
	m.hub.CloseAll()
	m.logger.Info("Module stopped")
	return nil
}

// Health returns the health status of the module.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: m.broadcaster != nil,
		Message: "operational",
		Details: map[string]any{
			"rooms":   m.hub.RoomCount(),
			"clients": m.hub.ClientCount(),
		},
	}
}

// Broadcaster returns the broadcaster. It is nil before Start.
func (m *Module) Broadcaster() *Broadcaster {
	return m.broadcaster
}

// Hub returns the room hub.
func (m *Module) Hub() *Hub {
	return m.hub
}

// UserJoined publishes a UserJoined event.
func (m *Module) UserJoined(_ context.Context, userID, roomID string) {
	m.publish(func() error {
		return events.UserJoinedV1.Publish(m.eventBus, events.UserJoinedEvent{
			RoomID:    roomID,
			UserID:    userID,
			Timestamp: time.Now(),
		}, nil)
	}, "UserJoined", userID, roomID)
}

// UserLeft publishes a UserLeft event.
func (m *Module) UserLeft(_ context.Context, userID, roomID string) {
	m.publish(func() error {
		return events.UserLeftV1.Publish(m.eventBus, events.UserLeftEvent{
			RoomID:    roomID,
			UserID:    userID,
			Timestamp: time.Now(),
		}, nil)
	}, "UserLeft", userID, roomID)
}

func (m *Module) publish(fn func() error, event, userID, roomID string) {
	if m.eventBus == nil {
		return
	}
	if err := fn(); err != nil {
		m.logger.Warn("Failed to publish event",
			"event", event, "userID", userID, "roomID", roomID, "error", err)
	}
}

// RegisterServices registers request-reply services in the service container.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container,
		"post-message",
		json.Unmarshal,
		json.Marshal,
		m.handlePostMessage,
	); err != nil {
		return fmt.Errorf("failed to register post-message service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container,
		"room-members",
		json.Unmarshal,
		json.Marshal,
		m.handleRoomMembers,
	); err != nil {
		return fmt.Errorf("failed to register room-members service: %w", err)
	}

	m.logger.Info("Registered services", "services", []string{"post-message", "room-members"})
	return nil
}

func (m *Module) handlePostMessage(ctx context.Context, req PostMessageRequest, _ *mono.Msg) (PostMessageResponse, error) {
	if m.broadcaster == nil {
		return PostMessageResponse{}, fmt.Errorf("broadcast module not started")
	}
	msg, err := m.broadcaster.Post(ctx, req.SenderID, req.RoomID, req.Content, "")
	switch {
	case err == nil:
		return PostMessageResponse{Message: &msg}, nil
	case errors.Is(err, ErrPersistenceFailure):
		return PostMessageResponse{Code: CodePersistenceFailed, Error: err.Error()}, nil
	case errors.Is(err, ErrMessageEmpty), errors.Is(err, ErrMessageTooLong),
		errors.Is(err, ErrMessageInvalid), errors.Is(err, ErrRoomRequired):
		return PostMessageResponse{Code: CodeInvalidContent, Error: err.Error()}, nil
	default:
		return PostMessageResponse{}, err
	}
}

func (m *Module) handleRoomMembers(_ context.Context, req RoomMembersRequest, _ *mono.Msg) (RoomMembersResponse, error) {
	members := m.hub.Members(req.RoomID)
	if members == nil {
		members = []string{}
	}
	return RoomMembersResponse{RoomID: req.RoomID, Members: members}, nil
}

// PostMessageRequest asks the broadcaster to persist and broadcast a message
// on behalf of a sender without a chat socket.
type PostMessageRequest struct {
	SenderID string `json:"sender_id"`
	RoomID   string `json:"room_id"`
	Content  string `json:"content"`
}

// PostMessageResponse carries the persisted message, or the error code of a
// rejected one.
type PostMessageResponse struct {
	Message *domain.Message `json:"message,omitempty"`
	Code    string          `json:"code,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// RoomMembersRequest asks for the live members of a room.
type RoomMembersRequest struct {
	RoomID string `json:"room_id"`
}

// RoomMembersResponse lists the live members of a room.
type RoomMembersResponse struct {
	RoomID  string   `json:"room_id"`
	Members []string `json:"members"`
}
