package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bestorange88/IM/config"
	"github.com/bestorange88/IM/events"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"golang.org/x/sync/singleflight"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ChatModule is the message store: messages, rooms and private room
// memberships in SQLite via GORM.
type ChatModule struct {
	db           *gorm.DB
	repo         *Repository
	dbPath       string
	historyLimit int
	logger       types.Logger
	eventBus     mono.EventBus
	historyGroup singleflight.Group // collapses concurrent reads of one room
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*ChatModule)(nil)
	_ mono.ServiceProviderModule = (*ChatModule)(nil)
	_ mono.HealthCheckableModule = (*ChatModule)(nil)
	_ mono.EventBusAwareModule   = (*ChatModule)(nil)
	_ mono.EventEmitterModule    = (*ChatModule)(nil)
)

// NewModule creates a new ChatModule.
func NewModule(cfg config.Config, logger types.Logger) *ChatModule {
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &ChatModule{
		dbPath:       cfg.ChatDBPath,
		historyLimit: historyLimit,
		logger:       logger.WithModule("chat"),
	}
}

// Name returns the module name.
func (m *ChatModule) Name() string {
	return "chat"
}

// SetEventBus receives the EventBus from the framework.
func (m *ChatModule) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *ChatModule) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.MessageSentV1.ToBase(),
	}
}

// Start opens the database and runs migrations.
func (m *ChatModule) Start(_ context.Context) error {
	db, err := openDB(m.dbPath)
	if err != nil {
		return err
	}
	m.db = db
	m.repo = NewRepository(db)

	m.logger.Info("Module started", "database", m.dbPath, "historyLimit", m.historyLimit)
	return nil
}

// Stop closes the database connection.
func (m *ChatModule) Stop(_ context.Context) error {
	if m.db == nil {
		return nil
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	m.logger.Info("Module stopped")
	return nil
}

// Health performs a health check on the chat module.
func (m *ChatModule) Health(ctx context.Context) mono.HealthStatus {
	if m.db == nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: "database not initialized",
		}
	}

	sqlDB, err := m.db.DB()
	if err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("failed to get sql.DB: %v", err),
		}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("database ping failed: %v", err),
		}
	}

	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"driver": "sqlite",
			"path":   m.dbPath,
		},
	}
}

// RegisterServices registers request-reply services in the service container.
func (m *ChatModule) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, "persist-message", json.Unmarshal, json.Marshal, m.handlePersistMessage,
	); err != nil {
		return fmt.Errorf("failed to register persist-message service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, "message-history", json.Unmarshal, json.Marshal, m.handleMessageHistory,
	); err != nil {
		return fmt.Errorf("failed to register message-history service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, "can-join", json.Unmarshal, json.Marshal, m.handleCanJoin,
	); err != nil {
		return fmt.Errorf("failed to register can-join service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, "create-room", json.Unmarshal, json.Marshal, m.handleCreateRoom,
	); err != nil {
		return fmt.Errorf("failed to register create-room service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, "add-member", json.Unmarshal, json.Marshal, m.handleAddMember,
	); err != nil {
		return fmt.Errorf("failed to register add-member service: %w", err)
	}

	m.logger.Info("Registered services",
		"services", []string{"persist-message", "message-history", "can-join", "create-room", "add-member"})
	return nil
}

func openDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Every pooled connection to ":memory:" would see its own empty database.
	if path == ":memory:" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&StoredMessage{}, &RoomRecord{}, &RoomMember{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}
