package server

import (
	"context"
	"strconv"
	"strings"

	"courier/internal/repository"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Paging bounds for the history endpoint.
const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// memberLister adapts the repository's membership query to the string ids
// used on the routing path.
type memberLister struct {
	repo repository.ChatRepository
}

func (m *memberLister) Members(ctx context.Context, conversationID string) ([]string, error) {
	cid, err := uuid.Parse(conversationID)
	if err != nil {
		return nil, err
	}
	ids, err := m.repo.Members(ctx, cid)
	if err != nil {
		return nil, err
	}
	members := make([]string, len(ids))
	for i, id := range ids {
		members[i] = id.String()
	}
	return members, nil
}

type createConversationRequest struct {
	Name    *string  `json:"name"`
	Type    string   `json:"type"`
	UserIDs []string `json:"user_ids"`
}

type membersRequest struct {
	UserIDs []string `json:"user_ids"`
	Action  string   `json:"action"`
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CreateConversation creates a conversation with its initial members. An
// existing direct conversation for the same pair is returned instead of
// creating a duplicate.
func (s *Server) CreateConversation(c *fiber.Ctx) error {
	var req createConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "Invalid body"})
	}
	if req.Type == "" || len(req.UserIDs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "type and user_ids are required"})
	}

	userIDs, err := parseUUIDs(req.UserIDs)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "user_ids must be UUIDs"})
	}

	conv, err := s.chatRepo.CreateConversation(c.UserContext(), req.Name, req.Type, userIDs)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(conv)
}

// GetConversation returns one conversation by id.
func (s *Server) GetConversation(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "Invalid conversation UUID"})
	}

	conv, err := s.chatRepo.GetConversation(c.UserContext(), id)
	if err != nil {
		if err == repository.ErrConversationNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"detail": "Conversation not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": err.Error()})
	}

	members, err := s.chatRepo.Members(c.UserContext(), id)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": err.Error()})
	}
	return c.JSON(fiber.Map{"conversation": conv, "members": members})
}

// UpdateMembers adds or removes conversation members.
func (s *Server) UpdateMembers(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "Invalid conversation UUID"})
	}

	var req membersRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "Invalid body"})
	}
	userIDs, err := parseUUIDs(req.UserIDs)
	if err != nil || len(userIDs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "user_ids must be a non-empty list of UUIDs"})
	}

	if _, err := s.chatRepo.GetConversation(c.UserContext(), id); err != nil {
		if err == repository.ErrConversationNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"detail": "Conversation not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": err.Error()})
	}

	switch req.Action {
	case "add", "":
		err = s.chatRepo.AddMembers(c.UserContext(), id, userIDs)
	case "remove":
		err = s.chatRepo.RemoveMembers(c.UserContext(), id, userIDs)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "action must be 'add' or 'remove'"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": err.Error()})
	}
	return c.JSON(fiber.Map{"detail": "Members updated"})
}

// GetMessages returns one page of a conversation's durable history, most
// recent first.
func (s *Server) GetMessages(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "Invalid conversation UUID"})
	}

	page := c.QueryInt("page", 1)
	if page < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "page must be >= 1"})
	}
	size := c.QueryInt("size", defaultPageSize)
	if size < 1 || size > maxPageSize {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "size must be between 1 and " + strconv.Itoa(maxPageSize)})
	}

	messages, err := s.reader.Page(c.UserContext(), id, page, size)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": err.Error()})
	}
	return c.JSON(fiber.Map{
		"conversation_id": id.String(),
		"page":            page,
		"size":            size,
		"messages":        messages,
	})
}

// Sync returns, per conversation, the messages sent after the given
// timestamp. Without an explicit conversation list, every conversation the
// user belongs to is synced.
func (s *Server) Sync(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "user_id must be a UUID"})
	}

	since, err := strconv.ParseFloat(c.Query("since", "0"), 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "since must be epoch seconds"})
	}

	var conversationIDs []uuid.UUID
	if csv := c.Query("conversations"); csv != "" {
		var raw []string
		for _, part := range strings.Split(csv, ",") {
			if part = strings.TrimSpace(part); part != "" {
				raw = append(raw, part)
			}
		}
		conversationIDs, err = parseUUIDs(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "conversations must be UUIDs"})
		}
	}

	synced, err := s.reader.Sync(c.UserContext(), userID, since, conversationIDs)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": err.Error()})
	}
	return c.JSON(fiber.Map{"synced": synced})
}
