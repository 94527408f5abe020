package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/bestorange88/IM/domain/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleMessageHistory_ConcurrentReaders(t *testing.T) {
	m := newTestModule(t, 50)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 4; i++ {
		_, err := m.handlePersistMessage(ctx, PersistMessageRequest{Message: domain.Message{
			ID:        fmt.Sprintf("msg-%d", i),
			SenderID:  "alice",
			RoomID:    "lobby",
			Content:   fmt.Sprintf("m%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}}, nil)
		require.NoError(t, err)
	}

	const readers = 8
	results := make([]MessageHistoryResponse, readers)
	errs := make([]error, readers)

	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.handleMessageHistory(ctx, MessageHistoryRequest{RoomID: "lobby", Limit: 10}, nil)
		}(i)
	}
	wg.Wait()

	for i := 0; i < readers; i++ {
		require.NoError(t, errs[i])
		require.Len(t, results[i].Messages, 4)
		assert.Equal(t, "lobby", results[i].RoomID)
		assert.Equal(t, "m0", results[i].Messages[0].Content)
		assert.Equal(t, "m3", results[i].Messages[3].Content)
	}

	// Readers must not share a slice they could mutate.
	results[0].Messages[0].Content = "changed"
	assert.Equal(t, "m0", results[1].Messages[0].Content)
}

func TestHandleMessageHistory_RoomsAreIsolated(t *testing.T) {
	m := newTestModule(t, 50)
	ctx := context.Background()

	for _, room := range []string{"a", "b"} {
		_, err := m.handlePersistMessage(ctx, PersistMessageRequest{Message: domain.Message{
			ID:       "id-" + room,
			SenderID: "alice",
			RoomID:   room,
			Content:  "hello " + room,
		}}, nil)
		require.NoError(t, err)
	}

	resp, err := m.handleMessageHistory(ctx, MessageHistoryRequest{RoomID: "b"}, nil)
	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "hello b", resp.Messages[0].Content)
}
