package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"github.com/bestorange88/IM/config"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/redis/go-redis/v9"
)

// Module owns the optional Redis connection and hands out limiters. Without
// Redis, or while Redis is unreachable, limiters fall back to in-process
// token buckets.
type Module struct {
	redisCfg config.RedisConfig
	client   *redis.Client
	logger   types.Logger

	mu       sync.Mutex
	limiters []Limiter
}

// Compile-time interface checks.
var _ mono.Module = (*Module)(nil)
var _ mono.HealthCheckableModule = (*Module)(nil)

// NewModule creates a rate limiting module. The Redis client is created
// eagerly so limiters can be handed out before Start.
func NewModule(redisCfg config.RedisConfig, logger types.Logger) *Module {
	m := &Module{
		redisCfg: redisCfg,
		logger:   logger.WithModule("ratelimit"),
	}
	if redisCfg.Addr != "" {
		m.client = redis.NewClient(&redis.Options{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
		})
	}
	return m
}

// Name returns the module name.
func (m *Module) Name() string {
	return "ratelimit"
}

// Start verifies the Redis connection. An unreachable Redis is not fatal.
func (m *Module) Start(ctx context.Context) error {
	if m.client == nil {
		m.logger.Info("Module started", "backend", "local")
		return nil
	}
	if err := m.client.Ping(ctx).Err(); err != nil {
		m.logger.Warn("Redis not reachable, using local limiter until it recovers",
			"addr", m.redisCfg.Addr, "error", err)
		return nil
	}
	m.logger.Info("Module started", "backend", "redis", "addr", m.redisCfg.Addr)
	return nil
}

// Stop closes all limiters and the Redis connection.
func (m *Module) Stop(_ context.Context) error {
	m.mu.Lock()
	for _, l := range m.limiters {
		_ = l.Close()
	}
	m.limiters = nil
	m.mu.Unlock()

	if m.client != nil {
		if err := m.client.Close(); err != nil {
			m.logger.Warn("Error closing Redis connection", "error", err)
		}
	}
	m.logger.Info("Module stopped")
	return nil
}

// Health returns the health status.
func (m *Module) Health(ctx context.Context) mono.HealthStatus {
	if m.client == nil {
		return mono.HealthStatus{
			Healthy: true,
			Message: "operational",
			Details: map[string]any{"backend": "local"},
		}
	}
	if err := m.client.Ping(ctx).Err(); err != nil {
		return mono.HealthStatus{
			Healthy: true,
			Message: fmt.Sprintf("degraded: redis ping failed: %v", err),
			Details: map[string]any{"backend": "local-fallback"},
		}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{"backend": "redis", "addr": m.redisCfg.Addr},
	}
}

// Limiter returns a limiter for one kind of frame. Keys are namespaced by
// prefix in Redis. A disabled config yields Unlimited.
func (m *Module) Limiter(prefix string, cfg Config) Limiter {
	if !cfg.Enabled() {
		return Unlimited{}
	}

	var l Limiter = NewLocalLimiter(cfg)
	if m.client != nil {
		l = &fallbackLimiter{
			primary:  NewSlidingWindowLimiter(m.client, cfg, "ratelimit:"+prefix+":"),
			fallback: l,
			logger:   m.logger,
		}
	}

	m.mu.Lock()
	m.limiters = append(m.limiters, l)
	m.mu.Unlock()
	return l
}

// fallbackLimiter consults primary and switches to fallback for any call
// where primary errors.
type fallbackLimiter struct {
	primary  Limiter
	fallback Limiter
	logger   types.Logger
}

func (f *fallbackLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	res, err := f.primary.Allow(ctx, key)
	if err == nil {
		return res, nil
	}
	f.logger.Debug("Primary limiter failed, using fallback", "error", err)
	return f.fallback.Allow(ctx, key)
}

func (f *fallbackLimiter) Close() error {
	_ = f.primary.Close()
	return f.fallback.Close()
}
