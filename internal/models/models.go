// Package models defines the durable store schema.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Conversation kinds.
const (
	ConversationDirect  = "direct"
	ConversationGroup   = "group"
	ConversationChannel = "channel"
)

// Conversation is a chat between two or more users. A direct conversation
// has exactly two members and its membership is immutable after creation.
type Conversation struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      *string   `gorm:"size:255" json:"name"`
	Type      string    `gorm:"size:50;not null" json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate assigns the primary key when the caller did not.
func (c *Conversation) BeforeCreate(_ *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// UsersConversation is one membership row. Unique on (conversation_id, user_id).
type UsersConversation struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_convo_member" json:"user_id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_convo_member" json:"conversation_id"`
	RoleInConvo    string    `gorm:"column:role_in_convo;size:255" json:"role_in_convo"`
	JoinedAt       time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

// TableName keeps the historical table name.
func (UsersConversation) TableName() string { return "users_conversation" }

// BeforeCreate assigns the primary key when the caller did not.
func (m *UsersConversation) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// Message is one accepted chat message. Rows are immutable after insertion;
// ordering within a conversation is sent_at ascending with id as tiebreak.
type Message struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index:idx_messages_convo_sent" json:"conversation_id"`
	UserID         uuid.UUID `gorm:"type:uuid;not null" json:"user_id"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	Type           string    `gorm:"size:50;not null" json:"type"`
	SentAt         time.Time `gorm:"not null;index:idx_messages_convo_sent" json:"sent_at"`
}

// BeforeCreate assigns the primary key when the caller did not.
func (m *Message) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
