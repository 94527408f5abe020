package api

import (
	"context"
	"fmt"
	"net"

	"github.com/bestorange88/IM/config"
	"github.com/bestorange88/IM/modules/auth"
	"github.com/bestorange88/IM/modules/broadcast"
	"github.com/bestorange88/IM/modules/chat"
	"github.com/bestorange88/IM/modules/presence"
	"github.com/bestorange88/IM/modules/ratelimit"
	"github.com/bestorange88/IM/modules/registry"
	"github.com/bestorange88/IM/modules/signaling"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// Deps are the collaborators behind the HTTP and websocket routes.
type Deps struct {
	Auth      auth.AuthPort
	Chat      chat.ChatPort
	Broadcast broadcast.BroadcastPort
	Presence  presence.PresencePort

	// Limiter throttles authenticated REST calls per user. Nil disables it.
	Limiter ratelimit.Limiter

	// Live components serving the websocket endpoints.
	Broadcaster *broadcast.Broadcaster
	Signaling   *signaling.Server
}

// APIModule is the HTTP and websocket surface.
type APIModule struct {
	cfg      config.Config
	logger   types.Logger
	chatWS   *broadcast.Module
	signalWS *signaling.Module
	deps     Deps
	app      *fiber.App
	addr     string
}

// Compile-time interface checks.
var _ mono.Module = (*APIModule)(nil)
var _ mono.DependentModule = (*APIModule)(nil)
var _ mono.HealthCheckableModule = (*APIModule)(nil)

// NewModule creates a new APIModule. The broadcast and signaling modules
// provide the live sessions behind /ws/chat and /ws/signaling.
func NewModule(cfg config.Config, chatWS *broadcast.Module, signalWS *signaling.Module, limiter ratelimit.Limiter, logger types.Logger) *APIModule {
	return &APIModule{
		cfg:      cfg,
		logger:   logger.WithModule("api"),
		chatWS:   chatWS,
		signalWS: signalWS,
		deps:     Deps{Limiter: limiter},
	}
}

// Name returns the module name.
func (m *APIModule) Name() string {
	return "api"
}

// Dependencies returns the list of module dependencies.
func (m *APIModule) Dependencies() []string {
	return []string{"auth", "chat", "presence", "broadcast", "signaling"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *APIModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "auth":
		m.deps.Auth = auth.NewAuthAdapter(container)
	case "chat":
		m.deps.Chat = chat.NewChatAdapter(container)
	case "presence":
		m.deps.Presence = presence.NewPresenceAdapter(container)
	case "broadcast":
		m.deps.Broadcast = broadcast.NewBroadcastAdapter(container)
	}
}

// Start initializes the Fiber HTTP server.
func (m *APIModule) Start(_ context.Context) error {
	if m.deps.Auth == nil || m.deps.Chat == nil || m.deps.Broadcast == nil || m.deps.Presence == nil {
		return fmt.Errorf("api dependencies not set")
	}
	m.deps.Broadcaster = m.chatWS.Broadcaster()
	m.deps.Signaling = m.signalWS.Server()
	if m.deps.Broadcaster == nil || m.deps.Signaling == nil {
		return fmt.Errorf("realtime modules not started")
	}

	ln, err := net.Listen("tcp", ":"+m.cfg.Port)
	if err != nil {
		return fmt.Errorf("HTTP server failed to start: %w", err)
	}
	m.addr = ln.Addr().String()
	m.app = NewApp(m.cfg, m.deps, m.logger)

	go func() {
		if err := m.app.Listener(ln); err != nil {
			m.logger.Error("HTTP server error", "error", err)
		}
	}()

	m.logger.Info("HTTP server started", "addr", m.addr)
	return nil
}

// Stop closes registered websockets and shuts down the Fiber HTTP server.
func (m *APIModule) Stop(ctx context.Context) error {
	if m.app == nil {
		return nil
	}
	m.logger.Info("Shutting down HTTP server")
	m.deps.Broadcaster.Hub().CloseAll()
	m.deps.Signaling.Relay().Registry().CloseAll()
	if err := m.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Health returns the health status of the module.
func (m *APIModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: m.app != nil,
		Message: "operational",
		Details: map[string]any{
			"addr": m.addr,
		},
	}
}

// NewApp builds the Fiber application with every route.
func NewApp(cfg config.Config, deps Deps, logger types.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "IM realtime",
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSAllowedOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))

	handlers := NewHandlers(cfg, deps, logger)
	sockets := &socketServer{socket: cfg.Socket, logger: logger}

	app.Get("/health", handlers.Health)

	ws := app.Group("/ws", upgradeOnly)
	if deps.Broadcaster != nil {
		ws.Get("/chat", sockets.handler("chat", func(conn *registry.Conn) frameSession {
			return deps.Broadcaster.NewSession(conn)
		}))
	}
	if deps.Signaling != nil {
		ws.Get("/signaling", sockets.handler("signaling", func(conn *registry.Conn) frameSession {
			return deps.Signaling.NewSession(conn)
		}))
	}

	v1 := app.Group("/api/v1")
	v1.Post("/auth/token", handlers.IssueToken)

	protected := v1.Group("", AuthMiddleware(deps.Auth))
	if deps.Limiter != nil {
		protected.Use(ratelimit.Middleware(deps.Limiter, cfg.APILimit.Requests, userRateKey))
	}
	protected.Post("/rooms", handlers.CreateRoom)
	protected.Get("/rooms/:id/history", handlers.History)
	protected.Post("/rooms/:id/messages", handlers.PostMessage)
	protected.Post("/rooms/:id/members", handlers.AddMember)
	protected.Get("/rooms/:id/members", handlers.Members)
	protected.Get("/presence/:id", handlers.Presence)

	return app
}

// customErrorHandler handles Fiber errors.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   errorCode(code),
		Message: message,
	})
}

func errorCode(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return "bad_request"
	case fiber.StatusUnauthorized:
		return "unauthorized"
	case fiber.StatusForbidden:
		return "forbidden"
	case fiber.StatusNotFound:
		return "not_found"
	case fiber.StatusConflict:
		return "conflict"
	case fiber.StatusUpgradeRequired:
		return "upgrade_required"
	case fiber.StatusTooManyRequests:
		return "rate_limited"
	case fiber.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "server_error"
	}
}
