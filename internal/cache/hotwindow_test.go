package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"courier/internal/wire"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupWindow(t *testing.T) (*HotWindow, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewHotWindow(rdb), mr
}

func payload(t *testing.T, conversationID, content string, sentAt float64) []byte {
	body, err := json.Marshal(wire.Message{
		ConversationID: conversationID,
		SenderID:       "sender",
		Content:        content,
		Type:           wire.TypeText,
		SentAt:         sentAt,
	})
	require.NoError(t, err)
	return body
}

func TestHotWindowAppendTrims(t *testing.T) {
	window, mr := setupWindow(t)
	ctx := context.Background()

	for i := 0; i < WindowSize+20; i++ {
		body := payload(t, "c1", fmt.Sprintf("msg-%d", i), float64(1000+i))
		require.NoError(t, window.Append(ctx, "c1", body, float64(1000+i)))
	}

	members, err := mr.ZMembers("chat:c1:messages")
	require.NoError(t, err)
	assert.Len(t, members, WindowSize)

	// The oldest 20 were evicted.
	msgs, err := window.Since(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, WindowSize)
	assert.Equal(t, "msg-20", msgs[0].Content)
	assert.Equal(t, fmt.Sprintf("msg-%d", WindowSize+19), msgs[len(msgs)-1].Content)
}

func TestHotWindowSince(t *testing.T) {
	window, _ := setupWindow(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		body := payload(t, "c1", fmt.Sprintf("msg-%d", i), float64(100+i))
		require.NoError(t, window.Append(ctx, "c1", body, float64(100+i)))
	}

	t.Run("ExclusiveLowerBound", func(t *testing.T) {
		msgs, err := window.Since(ctx, "c1", 102)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "msg-3", msgs[0].Content)
		assert.Equal(t, "msg-4", msgs[1].Content)
	})

	t.Run("NothingNewer", func(t *testing.T) {
		msgs, err := window.Since(ctx, "c1", 104)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("UnknownConversation", func(t *testing.T) {
		msgs, err := window.Since(ctx, "missing", 0)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestHotWindowSkipsMalformedMembers(t *testing.T) {
	window, mr := setupWindow(t)
	ctx := context.Background()

	body := payload(t, "c1", "good", 100)
	require.NoError(t, window.Append(ctx, "c1", body, 100))
	mr.ZAdd("chat:c1:messages", 101, "{not json")

	msgs, err := window.Since(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "good", msgs[0].Content)
}
