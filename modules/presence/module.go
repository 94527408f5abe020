package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bestorange88/IM/config"
	"github.com/bestorange88/IM/events"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
)

const redisDialTimeout = 2 * time.Second

// Module consumes chat and signaling lifecycle events and answers presence
// queries. With Redis configured, each change is also written to a snapshot
// so last seen survives a restart.
type Module struct {
	store     *Store
	redisCfg  config.RedisConfig
	ttl       time.Duration
	snapshots *Snapshots
	logger    types.Logger
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.EventConsumerModule   = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates a new presence module.
func NewModule(cfg config.Config, logger types.Logger) *Module {
	return &Module{
		store:    NewStore(),
		redisCfg: cfg.Redis,
		ttl:      cfg.PresenceTTL,
		logger:   logger.WithModule("presence"),
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "presence"
}

type consumer struct {
	name, version, module string
	handler               func(context.Context, *mono.Msg) error
}

// RegisterEventConsumers registers event handlers for lifecycle events.
func (m *Module) RegisterEventConsumers(registry mono.EventRegistry) error {
	consumers := []consumer{
		{"UserJoined", "v1", "broadcast", m.handleUserJoined},
		{"UserLeft", "v1", "broadcast", m.handleUserLeft},
		{"PeerOnline", "v1", "signaling", m.handlePeerOnline},
		{"PeerOffline", "v1", "signaling", m.handlePeerOffline},
		{"MessageSent", "v1", "chat", m.handleMessageSent},
	}

	names := make([]string, 0, len(consumers))
	for _, c := range consumers {
		def, ok := registry.GetEventByName(c.name, c.version, c.module)
		if !ok {
			return fmt.Errorf("event %s.%s not found", c.name, c.version)
		}
		if err := registry.RegisterEventConsumer(def, c.handler, m); err != nil {
			return fmt.Errorf("failed to register %s consumer: %w", c.name, err)
		}
		names = append(names, c.name+"."+c.version)
	}

	m.logger.Info("Registered event consumers", "events", names)
	return nil
}

func (m *Module) handleUserJoined(ctx context.Context, msg *mono.Msg) error {
	var event events.UserJoinedEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		m.logger.Error("Failed to unmarshal UserJoined event", "error", err)
		return nil // Don't retry on unmarshal errors
	}
	m.store.Joined(event.UserID, event.RoomID, event.Timestamp)
	m.persist(ctx, event.UserID)
	m.logger.Debug("User joined", "userID", event.UserID, "roomID", event.RoomID)
	return nil
}

func (m *Module) handleUserLeft(ctx context.Context, msg *mono.Msg) error {
	var event events.UserLeftEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		m.logger.Error("Failed to unmarshal UserLeft event", "error", err)
		return nil
	}
	m.store.Left(event.UserID, event.RoomID, event.Timestamp)
	m.persist(ctx, event.UserID)
	m.logger.Debug("User left", "userID", event.UserID, "roomID", event.RoomID)
	return nil
}

func (m *Module) handlePeerOnline(ctx context.Context, msg *mono.Msg) error {
	var event events.PeerOnlineEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		m.logger.Error("Failed to unmarshal PeerOnline event", "error", err)
		return nil
	}
	m.store.PeerOnline(event.UserID, event.Timestamp)
	m.persist(ctx, event.UserID)
	return nil
}

func (m *Module) handlePeerOffline(ctx context.Context, msg *mono.Msg) error {
	var event events.PeerOfflineEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		m.logger.Error("Failed to unmarshal PeerOffline event", "error", err)
		return nil
	}
	m.store.PeerOffline(event.UserID, event.Timestamp)
	m.persist(ctx, event.UserID)
	return nil
}

func (m *Module) handleMessageSent(ctx context.Context, msg *mono.Msg) error {
	var event events.MessageSentEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		m.logger.Error("Failed to unmarshal MessageSent event", "error", err)
		return nil
	}
	m.store.MessageSent(event.UserID, event.Timestamp)
	m.persist(ctx, event.UserID)
	return nil
}

// persist writes the current presence of userID to the snapshot store.
func (m *Module) persist(ctx context.Context, userID string) {
	if m.snapshots == nil {
		return
	}
	if err := m.snapshots.Save(ctx, m.store.Get(userID)); err != nil {
		m.logger.Warn("Failed to save presence snapshot", "userID", userID, "error", err)
	}
}

// Start connects the snapshot store when Redis is configured. An unreachable
// Redis leaves presence in memory only.
func (m *Module) Start(_ context.Context) error {
	if m.redisCfg.Addr == "" {
		m.logger.Info("Module started", "snapshots", "disabled")
		return nil
	}
	kv, err := dialRedisStorage(m.redisCfg.Addr, m.redisCfg.Password, redisDialTimeout)
	if err != nil {
		m.logger.Warn("Presence snapshots disabled", "error", err)
		return nil
	}
	m.snapshots = NewSnapshots(kv, m.ttl)
	m.logger.Info("Module started", "snapshots", "redis", "addr", m.redisCfg.Addr, "ttl", m.ttl)
	return nil
}

// Stop gracefully shuts down the module.
func (m *Module) Stop(_ context.Context) error {
	if m.snapshots != nil {
		if err := m.snapshots.Close(); err != nil {
			m.logger.Warn("Error closing snapshot storage", "error", err)
		}
		m.snapshots = nil
	}
	m.logger.Info("Module stopped")
	return nil
}

// Health returns the health status of the module.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"online":    m.store.OnlineCount(),
			"snapshots": m.snapshots != nil,
		},
	}
}

// Store returns the presence store.
func (m *Module) Store() *Store {
	return m.store
}

// RegisterServices registers this module's services in the service container.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container,
		"get-presence",
		json.Unmarshal,
		json.Marshal,
		m.handleGetPresence,
	); err != nil {
		return fmt.Errorf("failed to register get-presence service: %w", err)
	}

	m.logger.Info("Registered services", "services", []string{"get-presence"})
	return nil
}

func (m *Module) handleGetPresence(ctx context.Context, req GetPresenceRequest, _ *mono.Msg) (Presence, error) {
	if req.UserID == "" {
		return Presence{}, fmt.Errorf("user_id is required")
	}
	if m.store.Has(req.UserID) || m.snapshots == nil {
		return m.store.Get(req.UserID), nil
	}

	// Nothing seen since start: report the last snapshot, offline.
	p, ok, err := m.snapshots.Load(ctx, req.UserID)
	if err != nil {
		m.logger.Warn("Failed to load presence snapshot", "userID", req.UserID, "error", err)
	}
	if !ok {
		return m.store.Get(req.UserID), nil
	}
	return Presence{
		UserID:     req.UserID,
		LastSeen:   p.LastSeen,
		LastActive: p.LastActive,
	}, nil
}

// GetPresenceRequest asks for the presence of one user.
type GetPresenceRequest struct {
	UserID string `json:"user_id"`
}
