package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bestorange88/IM/events"
	"github.com/bestorange88/IM/modules/auth"
	"github.com/bestorange88/IM/modules/ratelimit"
	"github.com/bestorange88/IM/modules/registry"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
)

// Module owns the signaling registry and relay.
type Module struct {
	requireToken bool
	limiter      ratelimit.Limiter
	logger       types.Logger
	relay        *Relay
	server       *Server
	verifier     Verifier
	eventBus     mono.EventBus
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

// NewModule creates the signaling module. limiter applies to relayed
// signals.
func NewModule(requireToken bool, limiter ratelimit.Limiter, logger types.Logger) *Module {
	logger = logger.WithModule("signaling")
	return &Module{
		requireToken: requireToken,
		limiter:      limiter,
		logger:       logger,
		relay:        NewRelay(registry.New(), logger),
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "signaling"
}

// Dependencies returns the list of module dependencies.
func (m *Module) Dependencies() []string {
	return []string{"auth"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *Module) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	if dependency == "auth" {
		m.verifier = auth.NewAuthAdapter(container)
	}
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.PeerOnlineV1.ToBase(),
		events.PeerOfflineV1.ToBase(),
	}
}

// Start builds the signaling server.
func (m *Module) Start(_ context.Context) error {
	if m.requireToken && m.verifier == nil {
		return fmt.Errorf("auth dependency not set")
	}
	m.server = NewServer(m.relay, SessionOptions{
		Verifier:     m.verifier,
		RequireToken: m.requireToken,
		Limiter:      m.limiter,
		Listener:     m,
		Logger:       m.logger,
	})
	m.logger.Info("Module started", "requireToken", m.requireToken)
	return nil
}

// Stop closes every signaling connection.
func (m *Module) Stop(_ context.Context) error {
	m.relay.Registry().CloseAll()
	m.logger.Info("Module stopped")
	return nil
}

// Health returns the health status of the module.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: m.server != nil,
		Message: "operational",
		Details: map[string]any{
			"peers": m.relay.Registry().Count(),
		},
	}
}

// Server returns the signaling server. It is nil before Start.
func (m *Module) Server() *Server {
	return m.server
}

// PeerOnline publishes a PeerOnline event.
func (m *Module) PeerOnline(_ context.Context, userID string) {
	if m.eventBus == nil {
		return
	}
	if err := events.PeerOnlineV1.Publish(m.eventBus, events.PeerOnlineEvent{
		UserID:    userID,
		Timestamp: time.Now(),
	}, nil); err != nil {
		m.logger.Warn("Failed to publish PeerOnline event", "userID", userID, "error", err)
	}
}

// PeerOffline publishes a PeerOffline event.
func (m *Module) PeerOffline(_ context.Context, userID string) {
	if m.eventBus == nil {
		return
	}
	if err := events.PeerOfflineV1.Publish(m.eventBus, events.PeerOfflineEvent{
		UserID:    userID,
		Timestamp: time.Now(),
	}, nil); err != nil {
		m.logger.Warn("Failed to publish PeerOffline event", "userID", userID, "error", err)
	}
}

// RegisterServices registers request-reply services in the service container.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container,
		"peer-status",
		json.Unmarshal,
		json.Marshal,
		m.handlePeerStatus,
	); err != nil {
		return fmt.Errorf("failed to register peer-status service: %w", err)
	}

	m.logger.Info("Registered services", "services", []string{"peer-status"})
	return nil
}

func (m *Module) handlePeerStatus(_ context.Context, req PeerStatusRequest, _ *mono.Msg) (PeerStatusResponse, error) {
	_, online := m.relay.Registry().Lookup(req.UserID)
	return PeerStatusResponse{UserID: req.UserID, Online: online}, nil
}

// PeerStatusRequest asks whether an identity can currently be called.
type PeerStatusRequest struct {
	UserID string `json:"user_id"`
}

// PeerStatusResponse reports whether an identity is registered.
type PeerStatusResponse struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}
