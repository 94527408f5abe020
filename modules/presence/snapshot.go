package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/storage/redis/v3"
)

const snapshotPrefix = "presence:"

// KV is the part of a key-value storage the snapshot cache uses.
// github.com/gofiber/storage/redis/v3 satisfies it.
type KV interface {
	GetWithContext(ctx context.Context, key string) ([]byte, error)
	SetWithContext(ctx context.Context, key string, val []byte, exp time.Duration) error
	Close() error
}

// Snapshots keeps the last known presence of each user in a KV so last seen
// and last active survive a restart.
type Snapshots struct {
	kv  KV
	ttl time.Duration
}

// NewSnapshots wraps kv. Entries expire after ttl; zero keeps them forever.
func NewSnapshots(kv KV, ttl time.Duration) *Snapshots {
	return &Snapshots{kv: kv, ttl: ttl}
}

// Save stores p under its user id.
func (s *Snapshots) Save(ctx context.Context, p Presence) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}
	if err := s.kv.SetWithContext(ctx, snapshotPrefix+p.UserID, data, s.ttl); err != nil {
		return fmt.Errorf("save presence %s: %w", p.UserID, err)
	}
	return nil
}

// Load returns the stored presence of userID. The bool is false when nothing
// is stored.
func (s *Snapshots) Load(ctx context.Context, userID string) (Presence, bool, error) {
	data, err := s.kv.GetWithContext(ctx, snapshotPrefix+userID)
	if err != nil {
		return Presence{}, false, fmt.Errorf("load presence %s: %w", userID, err)
	}
	if data == nil {
		return Presence{}, false, nil
	}
	var p Presence
	if err := json.Unmarshal(data, &p); err != nil {
		return Presence{}, false, fmt.Errorf("decode presence %s: %w", userID, err)
	}
	return p, true, nil
}

// Close releases the underlying storage.
func (s *Snapshots) Close() error {
	return s.kv.Close()
}

// dialRedisStorage opens a Redis-backed KV. The storage constructor panics
// when Redis is unreachable, so the address is probed first.
func dialRedisStorage(addr, password string, timeout time.Duration) (KV, error) {
	host, port := parseRedisAddr(addr)
	target := net.JoinHostPort(host, strconv.Itoa(port))

	conn, err := net.DialTimeout("tcp", target, timeout)
	if err != nil {
		return nil, fmt.Errorf("redis not reachable at %s: %w", target, err)
	}
	_ = conn.Close()

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		PoolSize: 10,
	}), nil
}

// parseRedisAddr parses "host:port" into host and port.
// Returns defaults (127.0.0.1:6379) for invalid or missing values.
func parseRedisAddr(addr string) (string, int) {
	const defaultHost = "127.0.0.1"
	const defaultPort = 6379

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return defaultHost, defaultPort
	}
	if host == "" {
		host = defaultHost
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = defaultPort
	}
	return host, port
}
