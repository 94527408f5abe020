// Package config loads runtime settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ShutdownTimeout bounds graceful shutdown of the whole application.
const ShutdownTimeout = 30 * time.Second

// Config holds all application settings.
type Config struct {
	Port               string
	CORSAllowedOrigins string

	JWT           JWTConfig
	DevTokens     bool
	RequireSignal bool

	ChatDBPath       string
	HistoryLimit     int
	MaxMessageLength int

	Redis       RedisConfig
	ChatLimit   RateConfig
	SignalLimit RateConfig
	APILimit    RateConfig

	// PresenceTTL is how long a presence snapshot is kept in Redis.
	PresenceTTL time.Duration

	Socket SocketConfig
}

// JWTConfig configures token verification and issuance.
type JWTConfig struct {
	SecretKey string
	Issuer    string
	TokenTTL  time.Duration
}

// RedisConfig configures the optional Redis connection. An empty Addr
// selects the in-process rate limiter and disables presence snapshots.
type RedisConfig struct {
	Addr     string
	Password string
}

// RateConfig is a request budget per window.
type RateConfig struct {
	Requests int
	Window   time.Duration
}

// SocketConfig tunes every websocket connection.
type SocketConfig struct {
	SendQueueSize int
	WriteTimeout  time.Duration
	PongWait      time.Duration
	ReadLimit     int64
}

// PingInterval is how often the server pings an idle peer. It stays below
// PongWait so a healthy peer never hits its read deadline.
func (s SocketConfig) PingInterval() time.Duration {
	return s.PongWait * 9 / 10
}

// Load reads the configuration from environment variables.
func Load() Config {
	return Config{
		Port:               getEnv("PORT", "3000"),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET_KEY", "im-realtime-secret-change-in-production"),
			Issuer:    getEnv("JWT_ISSUER", "im-realtime"),
			TokenTTL:  getEnvDuration("JWT_TOKEN_TTL", 7*24*time.Hour),
		},
		DevTokens:        getEnvBool("AUTH_DEV_TOKENS", false),
		RequireSignal:    getEnvBool("SIGNALING_REQUIRE_TOKEN", false),
		ChatDBPath:       getEnv("CHAT_DB_PATH", "chat.db"),
		HistoryLimit:     getEnvInt("CHAT_HISTORY_LIMIT", 50),
		MaxMessageLength: getEnvInt("CHAT_MAX_MESSAGE_LENGTH", 5000),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		ChatLimit: RateConfig{
			Requests: getEnvInt("CHAT_RATE_LIMIT", 20),
			Window:   getEnvDuration("CHAT_RATE_WINDOW", 10*time.Second),
		},
		SignalLimit: RateConfig{
			Requests: getEnvInt("SIGNAL_RATE_LIMIT", 120),
			Window:   getEnvDuration("SIGNAL_RATE_WINDOW", 10*time.Second),
		},
		APILimit: RateConfig{
			Requests: getEnvInt("API_RATE_LIMIT", 60),
			Window:   getEnvDuration("API_RATE_WINDOW", time.Minute),
		},
		PresenceTTL: getEnvDuration("PRESENCE_SNAPSHOT_TTL", 30*24*time.Hour),
		Socket: SocketConfig{
			SendQueueSize: getEnvInt("WS_SEND_QUEUE_SIZE", 64),
			WriteTimeout:  getEnvDuration("WS_WRITE_TIMEOUT", 10*time.Second),
			PongWait:      getEnvDuration("WS_PONG_WAIT", 60*time.Second),
			ReadLimit:     int64(getEnvInt("WS_READ_LIMIT", 64*1024)),
		},
	}
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}
