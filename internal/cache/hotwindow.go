package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"courier/internal/middleware"
	"courier/internal/wire"

	"github.com/redis/go-redis/v9"
)

// WindowSize is the number of recent messages retained per conversation.
const WindowSize = 100

// HotWindow is the last-N-per-conversation cache: a sorted set per
// conversation whose members are JSON-encoded messages scored by sent_at.
// The durable store stays authoritative; the window is never the sole copy.
type HotWindow struct {
	rdb *redis.Client
}

// NewHotWindow returns a HotWindow backed by the given Redis client.
func NewHotWindow(rdb *redis.Client) *HotWindow {
	return &HotWindow{rdb: rdb}
}

func windowKey(conversationID string) string {
	return "chat:" + conversationID + ":messages"
}

// Append adds one message payload to the conversation's window and trims it
// to the most recent WindowSize entries.
func (w *HotWindow) Append(ctx context.Context, conversationID string, payload []byte, sentAt float64) error {
	key := windowKey(conversationID)
	if err := w.rdb.ZAdd(ctx, key, redis.Z{Score: sentAt, Member: string(payload)}).Err(); err != nil {
		return err
	}
	return w.rdb.ZRemRangeByRank(ctx, key, 0, -int64(WindowSize)-1).Err()
}

// Since returns the window's messages with sent_at strictly greater than the
// given timestamp, ascending. Malformed members are skipped with a log record.
func (w *HotWindow) Since(ctx context.Context, conversationID string, since float64) ([]wire.Message, error) {
	raw, err := w.rdb.ZRangeByScore(ctx, windowKey(conversationID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatFloat(since, 'f', -1, 64),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]wire.Message, 0, len(raw))
	for _, member := range raw {
		var msg wire.Message
		if err := json.Unmarshal([]byte(member), &msg); err != nil {
			middleware.Logger.WarnContext(ctx, "hot window: skipping malformed member",
				slog.String("conversation_id", conversationID),
				slog.String("error", err.Error()),
			)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
