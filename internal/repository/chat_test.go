package repository

import (
	"context"
	"testing"
	"time"

	"courier/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	err = db.AutoMigrate(
		&models.Conversation{},
		&models.UsersConversation{},
		&models.Message{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}

	return db
}

func TestCreateConversation(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()

	alice := uuid.New()
	bob := uuid.New()
	carol := uuid.New()

	t.Run("DirectConversation", func(t *testing.T) {
		conv, err := repo.CreateConversation(ctx, nil, models.ConversationDirect, []uuid.UUID{alice, bob})
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, conv.ID)
		assert.Equal(t, models.ConversationDirect, conv.Type)

		members, err := repo.Members(ctx, conv.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{alice, bob}, members)
	})

	t.Run("DirectPairNotDuplicated", func(t *testing.T) {
		first, err := repo.CreateConversation(ctx, nil, models.ConversationDirect, []uuid.UUID{alice, carol})
		require.NoError(t, err)

		second, err := repo.CreateConversation(ctx, nil, models.ConversationDirect, []uuid.UUID{carol, alice})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("DirectRequiresTwoUsers", func(t *testing.T) {
		_, err := repo.CreateConversation(ctx, nil, models.ConversationDirect, []uuid.UUID{alice})
		assert.Error(t, err)
	})

	t.Run("GroupConversation", func(t *testing.T) {
		name := "launch crew"
		conv, err := repo.CreateConversation(ctx, &name, models.ConversationGroup, []uuid.UUID{alice, bob, carol})
		require.NoError(t, err)
		assert.Equal(t, "launch crew", *conv.Name)

		members, err := repo.Members(ctx, conv.ID)
		require.NoError(t, err)
		assert.Len(t, members, 3)
	})
}

func TestMembership(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()

	alice := uuid.New()
	bob := uuid.New()

	name := "room"
	conv, err := repo.CreateConversation(ctx, &name, models.ConversationGroup, []uuid.UUID{alice})
	require.NoError(t, err)

	t.Run("AddMembers", func(t *testing.T) {
		err := repo.AddMembers(ctx, conv.ID, []uuid.UUID{bob})
		require.NoError(t, err)

		members, err := repo.Members(ctx, conv.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{alice, bob}, members)
	})

	t.Run("ReAddIsNoOp", func(t *testing.T) {
		err := repo.AddMembers(ctx, conv.ID, []uuid.UUID{bob})
		require.NoError(t, err)

		members, err := repo.Members(ctx, conv.ID)
		require.NoError(t, err)
		assert.Len(t, members, 2)
	})

	t.Run("RemoveMembers", func(t *testing.T) {
		err := repo.RemoveMembers(ctx, conv.ID, []uuid.UUID{bob})
		require.NoError(t, err)

		members, err := repo.Members(ctx, conv.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{alice}, members)
	})

	t.Run("UserConversations", func(t *testing.T) {
		ids, err := repo.UserConversations(ctx, alice)
		require.NoError(t, err)
		assert.Contains(t, ids, conv.ID)

		ids, err = repo.UserConversations(ctx, bob)
		require.NoError(t, err)
		assert.NotContains(t, ids, conv.ID)
	})
}

func TestGetConversation(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()

	_, err := repo.GetConversation(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestMessages(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()

	alice := uuid.New()
	bob := uuid.New()
	conv, err := repo.CreateConversation(ctx, nil, models.ConversationDirect, []uuid.UUID{alice, bob})
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		msg := &models.Message{
			ConversationID: conv.ID,
			UserID:         alice,
			Content:        string(rune('a' + i)),
			Type:           "text",
			SentAt:         base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.CreateMessage(ctx, msg))
	}

	t.Run("PageNewestFirst", func(t *testing.T) {
		msgs, err := repo.MessagesPage(ctx, conv.ID, 1, 2)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "e", msgs[0].Content)
		assert.Equal(t, "d", msgs[1].Content)

		msgs, err = repo.MessagesPage(ctx, conv.ID, 2, 2)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "c", msgs[0].Content)
	})

	t.Run("PagePastEndIsEmpty", func(t *testing.T) {
		msgs, err := repo.MessagesPage(ctx, conv.ID, 4, 2)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("MessagesAfterIsExclusiveAscending", func(t *testing.T) {
		msgs, err := repo.MessagesAfter(ctx, conv.ID, base.Add(2*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "d", msgs[0].Content)
		assert.Equal(t, "e", msgs[1].Content)
	})

	t.Run("MessagesBetweenIsExclusiveBothEnds", func(t *testing.T) {
		msgs, err := repo.MessagesBetween(ctx, conv.ID, base, base.Add(3*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "b", msgs[0].Content)
		assert.Equal(t, "c", msgs[1].Content)
	})

	t.Run("MessagesAfterHonorsLimit", func(t *testing.T) {
		msgs, err := repo.MessagesAfter(ctx, conv.ID, base.Add(-time.Hour), 3)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "a", msgs[0].Content)
	})
}
