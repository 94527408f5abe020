package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bestorange88/IM/config"
	"github.com/bestorange88/IM/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memKV is an in-memory KV. A missing key reads as nil, like the Redis storage.
type memKV struct {
	mu     sync.Mutex
	data   map[string][]byte
	ttls   map[string]time.Duration
	getErr error
	closed bool
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (k *memKV) GetWithContext(_ context.Context, key string) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.getErr != nil {
		return nil, k.getErr
	}
	return k.data[key], nil
}

func (k *memKV) SetWithContext(_ context.Context, key string, val []byte, exp time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.data[key] = val
	k.ttls[key] = exp
	return nil
}

func (k *memKV) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.closed = true
	return nil
}

func TestSnapshots_SaveLoad(t *testing.T) {
	kv := newMemKV()
	s := NewSnapshots(kv, time.Hour)
	ctx := context.Background()

	_, ok, err := s.Load(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	seen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(ctx, Presence{UserID: "alice", Online: true, RoomID: "lobby", LastSeen: seen}))
	assert.Equal(t, time.Hour, kv.ttls["presence:alice"])

	p, ok, err := s.Load(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "lobby", p.RoomID)
	assert.True(t, p.LastSeen.Equal(seen))

	require.NoError(t, s.Close())
	assert.True(t, kv.closed)
}

func TestSnapshots_CorruptEntry(t *testing.T) {
	kv := newMemKV()
	kv.data["presence:bob"] = []byte("{broken")

	_, ok, err := NewSnapshots(kv, 0).Load(context.Background(), "bob")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestModule_EventsWriteSnapshots(t *testing.T) {
	kv := newMemKV()
	m := NewModule(config.Config{}, &mockLogger{})
	m.snapshots = NewSnapshots(kv, time.Minute)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, m.handleUserJoined(ctx, newMsg(t, events.UserJoinedEvent{UserID: "carol", RoomID: "r1", Timestamp: now})))
	require.NoError(t, m.handleMessageSent(ctx, newMsg(t, events.MessageSentEvent{UserID: "carol", RoomID: "r1", Timestamp: now.Add(time.Second)})))

	p, ok, err := m.snapshots.Load(ctx, "carol")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, p.Online)
	assert.True(t, p.LastActive.Equal(now.Add(time.Second)))
}

func TestModule_GetPresenceFallsBackToSnapshot(t *testing.T) {
	kv := newMemKV()
	m := NewModule(config.Config{}, &mockLogger{})
	m.snapshots = NewSnapshots(kv, 0)
	ctx := context.Background()

	seen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, m.snapshots.Save(ctx, Presence{UserID: "dave", Online: true, Callable: true, RoomID: "lobby", LastSeen: seen}))

	// A snapshot from before a restart never reports the user online.
	p, err := m.handleGetPresence(ctx, GetPresenceRequest{UserID: "dave"}, nil)
	require.NoError(t, err)
	assert.False(t, p.Online)
	assert.False(t, p.Callable)
	assert.Empty(t, p.RoomID)
	assert.True(t, p.LastSeen.Equal(seen))

	// Live state wins once events arrive.
	m.Store().PeerOnline("dave", seen.Add(time.Minute))
	p, err = m.handleGetPresence(ctx, GetPresenceRequest{UserID: "dave"}, nil)
	require.NoError(t, err)
	assert.True(t, p.Callable)

	kv.getErr = errors.New("connection reset")
	p, err = m.handleGetPresence(ctx, GetPresenceRequest{UserID: "erin"}, nil)
	require.NoError(t, err)
	assert.Equal(t, Presence{UserID: "erin"}, p)
}

func TestModule_UnreachableRedisDisablesSnapshots(t *testing.T) {
	m := NewModule(config.Config{Redis: config.RedisConfig{Addr: "127.0.0.1:1"}}, &mockLogger{})
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	assert.Nil(t, m.snapshots)
	assert.Equal(t, false, m.Health(ctx).Details["snapshots"])
	require.NoError(t, m.Stop(ctx))
}

func TestParseRedisAddr(t *testing.T) {
	tests := []struct {
		addr     string
		wantHost string
		wantPort int
	}{
		{"redis:6380", "redis", 6380},
		{":6379", "127.0.0.1", 6379},
		{"localhost", "127.0.0.1", 6379},
		{"host:abc", "host", 6379},
	}
	for _, tt := range tests {
		host, port := parseRedisAddr(tt.addr)
		assert.Equal(t, tt.wantHost, host, tt.addr)
		assert.Equal(t, tt.wantPort, port, tt.addr)
	}
}
