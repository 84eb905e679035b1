// Package repository provides durable store access for conversations,
// memberships, and messages.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"courier/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrConversationNotFound is returned when a conversation id does not exist.
var ErrConversationNotFound = errors.New("conversation not found")

// ChatRepository defines the interface for chat data operations.
type ChatRepository interface {
	CreateConversation(ctx context.Context, name *string, convType string, userIDs []uuid.UUID) (*models.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	Members(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error)
	AddMembers(ctx context.Context, conversationID uuid.UUID, userIDs []uuid.UUID) error
	RemoveMembers(ctx context.Context, conversationID uuid.UUID, userIDs []uuid.UUID) error
	UserConversations(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	CreateMessage(ctx context.Context, msg *models.Message) error
	MessagesPage(ctx context.Context, conversationID uuid.UUID, page, size int) ([]*models.Message, error)
	MessagesAfter(ctx context.Context, conversationID uuid.UUID, after time.Time, limit int) ([]*models.Message, error)
	MessagesBetween(ctx context.Context, conversationID uuid.UUID, after, before time.Time, limit int) ([]*models.Message, error)
}

// chatRepository implements ChatRepository.
type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository creates a new chat repository.
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

// CreateConversation creates a conversation with its memberships. A direct
// conversation for a pair that already has one is not duplicated; the
// existing conversation is returned instead.
func (r *chatRepository) CreateConversation(ctx context.Context, name *string, convType string, userIDs []uuid.UUID) (*models.Conversation, error) {
	if convType == models.ConversationDirect {
		if len(userIDs) != 2 {
			return nil, fmt.Errorf("direct conversation requires exactly 2 users, got %d", len(userIDs))
		}

		var existing models.Conversation
		err := r.db.WithContext(ctx).
			Joins("JOIN users_conversation uc ON uc.conversation_id = conversations.id").
			Where("uc.user_id IN ? AND conversations.type = ?", userIDs, models.ConversationDirect).
			Group("conversations.id").
			Having("COUNT(uc.user_id) = 2").
			First(&existing).Error
		if err == nil {
			return &existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	conv := &models.Conversation{Name: name, Type: convType}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		memberships := make([]models.UsersConversation, 0, len(userIDs))
		for _, uid := range userIDs {
			memberships = append(memberships, models.UsersConversation{
				UserID:         uid,
				ConversationID: conv.ID,
				RoleInConvo:    "member",
			})
		}
		return tx.Create(&memberships).Error
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *chatRepository) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.WithContext(ctx).First(&conv, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// Members returns the user ids belonging to the conversation. This is the
// membership contract the publisher uses for group fan-out.
func (r *chatRepository) Members(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	var userIDs []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.UsersConversation{}).
		Where("conversation_id = ?", conversationID).
		Pluck("user_id", &userIDs).Error
	return userIDs, err
}

func (r *chatRepository) AddMembers(ctx context.Context, conversationID uuid.UUID, userIDs []uuid.UUID) error {
	memberships := make([]models.UsersConversation, 0, len(userIDs))
	for _, uid := range userIDs {
		memberships = append(memberships, models.UsersConversation{
			UserID:         uid,
			ConversationID: conversationID,
			RoleInConvo:    "member",
		})
	}
	// Re-adding an existing member is a no-op.
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&memberships).Error
}

func (r *chatRepository) RemoveMembers(ctx context.Context, conversationID uuid.UUID, userIDs []uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id IN ?", conversationID, userIDs).
		Delete(&models.UsersConversation{}).Error
}

func (r *chatRepository) UserConversations(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var conversationIDs []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.UsersConversation{}).
		Where("user_id = ?", userID).
		Pluck("conversation_id", &conversationIDs).Error
	return conversationIDs, err
}

func (r *chatRepository) CreateMessage(ctx context.Context, msg *models.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

// MessagesPage returns one page of a conversation's history, most recent
// first. Pages start at 1.
func (r *chatRepository) MessagesPage(ctx context.Context, conversationID uuid.UUID, page, size int) ([]*models.Message, error) {
	var messages []*models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("sent_at DESC, id DESC").
		Limit(size).
		Offset((page - 1) * size).
		Find(&messages).Error
	return messages, err
}

// MessagesAfter returns messages with sent_at strictly after the given time,
// ascending, limited.
func (r *chatRepository) MessagesAfter(ctx context.Context, conversationID uuid.UUID, after time.Time, limit int) ([]*models.Message, error) {
	var messages []*models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND sent_at > ?", conversationID, after).
		Order("sent_at ASC, id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// MessagesBetween returns messages with sent_at strictly inside
// (after, before), ascending, limited. Used by the sync read path to fill
// the gap between a client's cursor and the hot window's oldest entry.
func (r *chatRepository) MessagesBetween(ctx context.Context, conversationID uuid.UUID, after, before time.Time, limit int) ([]*models.Message, error) {
	var messages []*models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND sent_at > ? AND sent_at < ?", conversationID, after, before).
		Order("sent_at ASC, id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}
