package presence

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// statusUpdate is the body accepted by the online/offline/heartbeat routes.
type statusUpdate struct {
	UserID   string `json:"user_id"`
	NodeID   string `json:"node_id"`
	DeviceID string `json:"device_id"`
	Status   string `json:"status"`
}

// Handlers serves the presence registry HTTP API.
type Handlers struct {
	store *Store
}

// NewHandlers returns the HTTP handlers for the given store.
func NewHandlers(store *Store) *Handlers {
	return &Handlers{store: store}
}

// Register mounts the presence routes on the app. The /nodes route must be
// registered before the /:user_id wildcard.
func (h *Handlers) Register(app *fiber.App) {
	group := app.Group("/presence")
	group.Post("/online", h.Online)
	group.Post("/offline", h.Offline)
	group.Post("/heartbeat", h.Heartbeat)
	group.Get("/nodes", h.Nodes)
	group.Get("/:user_id", h.Get)
}

func (h *Handlers) parseUpdate(c *fiber.Ctx) (*statusUpdate, error) {
	var payload statusUpdate
	if err := c.BodyParser(&payload); err != nil {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "Invalid body"})
	}
	if payload.UserID == "" || payload.NodeID == "" || payload.DeviceID == "" {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "user_id, node_id and device_id are required"})
	}
	return &payload, nil
}

// Online marks a user/device as online.
func (h *Handlers) Online(c *fiber.Ctx) error {
	payload, err := h.parseUpdate(c)
	if payload == nil {
		return err
	}
	if !strings.EqualFold(payload.Status, StatusOnline) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"detail": "Use status='online' or call /offline endpoint.",
		})
	}
	if err := h.store.Upsert(c.UserContext(), payload.UserID, payload.DeviceID, payload.NodeID, StatusOnline); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": err.Error()})
	}
	return c.JSON(fiber.Map{"detail": "User/device is online"})
}

// Offline marks a user/device as offline. The record is retained.
func (h *Handlers) Offline(c *fiber.Ctx) error {
	payload, err := h.parseUpdate(c)
	if payload == nil {
		return err
	}
	if !strings.EqualFold(payload.Status, StatusOffline) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"detail": "Use status='offline' or call /online endpoint.",
		})
	}
	if err := h.store.Upsert(c.UserContext(), payload.UserID, payload.DeviceID, payload.NodeID, StatusOffline); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": err.Error()})
	}
	return c.JSON(fiber.Map{"detail": "User/device is offline"})
}

// Heartbeat refreshes a device's online record.
func (h *Handlers) Heartbeat(c *fiber.Ctx) error {
	payload, err := h.parseUpdate(c)
	if payload == nil {
		return err
	}
	if err := h.store.Upsert(c.UserContext(), payload.UserID, payload.DeviceID, payload.NodeID, StatusOnline); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": err.Error()})
	}
	return c.JSON(fiber.Map{"detail": "Heartbeat updated"})
}

// Get returns the presence records for all devices of one user.
func (h *Handlers) Get(c *fiber.Ctx) error {
	userID := c.Params("user_id")
	if _, err := uuid.Parse(userID); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "Invalid user UUID"})
	}

	records, err := h.store.GetUser(c.UserContext(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": err.Error()})
	}
	if len(records) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"detail": "No presence record found for this user"})
	}
	return c.JSON(records)
}

// Nodes answers the bulk node-grouping query used on the publish hot path:
// only online devices are included, grouped by node, optionally excluding
// the sender's originating device.
func (h *Handlers) Nodes(c *fiber.Ctx) error {
	csv := c.Query("user_ids")
	if csv == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "user_ids is required"})
	}

	var userIDs []string
	for _, id := range strings.Split(csv, ",") {
		if id = strings.TrimSpace(id); id != "" {
			userIDs = append(userIDs, id)
		}
	}

	nodeMap, err := h.store.NodeMap(c.UserContext(), userIDs, c.Query("sender_id"), c.Query("origin_device_id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": err.Error()})
	}
	return c.JSON(nodeMap)
}
