// Package history serves conversation reads: paged history from the durable
// store and the reconnect sync path that merges the hot window with the
// store.
package history

import (
	"context"
	"sort"

	"courier/internal/cache"
	"courier/internal/models"
	"courier/internal/repository"
	"courier/internal/wire"

	"github.com/google/uuid"
)

// syncLimit caps the messages returned per conversation per sync call.
const syncLimit = 100

// ConversationSync is the per-conversation slice of a sync response.
type ConversationSync struct {
	ConversationID string         `json:"conversation_id"`
	Messages       []wire.Message `json:"messages"`
}

// Reader answers history and sync queries.
type Reader struct {
	window *cache.HotWindow
	repo   repository.ChatRepository
}

// NewReader wires a reader from its stores.
func NewReader(window *cache.HotWindow, repo repository.ChatRepository) *Reader {
	return &Reader{window: window, repo: repo}
}

// Page returns one page of a conversation's durable history, most recent
// first. Pages start at 1.
func (r *Reader) Page(ctx context.Context, conversationID uuid.UUID, page, size int) ([]wire.Message, error) {
	rows, err := r.repo.MessagesPage(ctx, conversationID, page, size)
	if err != nil {
		return nil, err
	}
	return renderRows(rows), nil
}

// Sync returns, for each conversation, the messages sent after the given
// timestamp. The hot window answers first; the durable store fills in past
// the window's newest entry. At most syncLimit messages per conversation,
// ascending by sent_at. An empty conversation list defaults to every
// conversation the user belongs to.
func (r *Reader) Sync(ctx context.Context, userID uuid.UUID, since float64, conversationIDs []uuid.UUID) ([]ConversationSync, error) {
	if len(conversationIDs) == 0 {
		var err error
		conversationIDs, err = r.repo.UserConversations(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	synced := make([]ConversationSync, 0, len(conversationIDs))
	for _, cid := range conversationIDs {
		messages, err := r.syncConversation(ctx, cid, since)
		if err != nil {
			return nil, err
		}
		synced = append(synced, ConversationSync{
			ConversationID: cid.String(),
			Messages:       messages,
		})
	}
	return synced, nil
}

// syncConversation unions the hot window with the durable store without
// duplicates: the store fills the gap between the cursor and the window's
// oldest entry, and anything newer than the window's newest entry. Both
// bounds are strict, so no message appears twice.
func (r *Reader) syncConversation(ctx context.Context, conversationID uuid.UUID, since float64) ([]wire.Message, error) {
	hot, err := r.window.Since(ctx, conversationID.String(), since)
	if err != nil {
		return nil, err
	}
	if len(hot) > syncLimit {
		hot = hot[:syncLimit]
	}

	messages := hot
	remaining := syncLimit - len(hot)

	if remaining > 0 && len(hot) > 0 {
		// Messages evicted from the window but newer than the cursor
		// exist only in the store.
		rows, err := r.repo.MessagesBetween(ctx, conversationID,
			wire.SecondsToTime(since), wire.SecondsToTime(hot[0].SentAt), remaining)
		if err != nil {
			return nil, err
		}
		messages = append(renderRows(rows), messages...)
		remaining -= len(rows)
	}

	if remaining > 0 {
		pivot := since
		if len(hot) > 0 {
			pivot = hot[len(hot)-1].SentAt
		}
		rows, err := r.repo.MessagesAfter(ctx, conversationID, wire.SecondsToTime(pivot), remaining)
		if err != nil {
			return nil, err
		}
		messages = append(messages, renderRows(rows)...)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].SentAt < messages[j].SentAt
	})
	if messages == nil {
		messages = []wire.Message{}
	}
	return messages, nil
}

// renderRows renders store rows in the wire shape used by socket delivery so
// live and historical messages look the same to clients.
func renderRows(rows []*models.Message) []wire.Message {
	messages := make([]wire.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, wire.Message{
			ID:             row.ID.String(),
			ConversationID: row.ConversationID.String(),
			SenderID:       row.UserID.String(),
			Content:        row.Content,
			Type:           row.Type,
			SentAt:         wire.TimeToSeconds(row.SentAt),
		})
	}
	return messages
}
