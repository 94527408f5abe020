package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/bestorange88/IM/config"
	"github.com/bestorange88/IM/modules/api"
	"github.com/bestorange88/IM/modules/auth"
	"github.com/bestorange88/IM/modules/broadcast"
	"github.com/bestorange88/IM/modules/chat"
	"github.com/bestorange88/IM/modules/presence"
	"github.com/bestorange88/IM/modules/ratelimit"
	"github.com/bestorange88/IM/modules/signaling"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log.Println("=== IM Realtime Server ===")

	cfg := config.Load()

	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(shutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	logger := app.Logger()

	rateLimitModule := ratelimit.NewModule(cfg.Redis, logger)
	chatLimiter := rateLimitModule.Limiter("chat", ratelimit.Config{
		RequestsPerWindow: cfg.ChatLimit.Requests,
		WindowSize:        cfg.ChatLimit.Window,
	})
	signalLimiter := rateLimitModule.Limiter("signal", ratelimit.Config{
		RequestsPerWindow: cfg.SignalLimit.Requests,
		WindowSize:        cfg.SignalLimit.Window,
	})
	apiLimiter := rateLimitModule.Limiter("api", ratelimit.Config{
		RequestsPerWindow: cfg.APILimit.Requests,
		WindowSize:        cfg.APILimit.Window,
	})

	broadcastModule := broadcast.NewModule(cfg, chatLimiter, logger)
	signalingModule := signaling.NewModule(cfg.RequireSignal, signalLimiter, logger)

	// Order: independent modules first, then dependent modules
	app.Register(rateLimitModule)                                                          // Redis or local limiter backend
	app.Register(auth.NewModule(cfg.JWT, logger))                                          // verify-token, issue-token
	app.Register(chat.NewModule(cfg, logger))                                              // message store, rooms
	app.Register(presence.NewModule(cfg, logger))                                          // consumes lifecycle events
	app.Register(broadcastModule)                                                          // depends on auth, chat
	app.Register(signalingModule)                                                          // depends on auth
	app.Register(api.NewModule(cfg, broadcastModule, signalingModule, apiLimiter, logger)) // HTTP and websocket surface

	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(cfg)

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo(cfg config.Config) {
	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Printf("Realtime endpoints (ws://localhost:%s):", cfg.Port)
	log.Println("  /ws/chat       - auth, then chat within one room")
	log.Println("  /ws/signaling  - register, then relay call signals")
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", cfg.Port)
	log.Println("  GET    /health                       - Health check")
	if cfg.DevTokens {
		log.Println("  POST   /api/v1/auth/token            - Issue a development token")
	}
	log.Println("")
	log.Println("  Protected Endpoints (require Bearer token):")
	log.Println("  POST   /api/v1/rooms                 - Create a room")
	log.Println("  GET    /api/v1/rooms/:id/history     - Latest messages")
	log.Println("  POST   /api/v1/rooms/:id/messages    - Send a message")
	log.Println("  GET    /api/v1/rooms/:id/members     - Connected members")
	log.Println("  POST   /api/v1/rooms/:id/members     - Grant access to a private room")
	log.Println("  GET    /api/v1/presence/:id          - User presence")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
