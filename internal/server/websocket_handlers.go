package server

import (
	"context"
	"log/slog"
	"time"

	"courier/internal/middleware"
	"courier/internal/sockets"
	"courier/internal/wire"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// setupWebSocket mounts the socket endpoint. The gateway in front of the node
// has already authenticated the user; the path parameters are trusted.
func (s *Server) setupWebSocket(app *fiber.App) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/:user_id/:device_id", s.WebSocketHandler())
}

// WebSocketHandler owns the lifecycle of one device socket: register, mark
// online, pump frames, and on any exit mark offline and detach.
func (s *Server) WebSocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID := conn.Params("user_id")
		deviceID := conn.Params("device_id")
		if userID == "" || deviceID == "" {
			_ = conn.Close()
			return
		}

		ctx := middleware.WithSocketContext(context.Background(), userID, deviceID)

		client := sockets.NewClient(s.table, conn, userID, deviceID)
		client.IncomingHandler = s.handleFrame(ctx)
		s.table.Register(client)

		if err := s.presence.MarkOnline(ctx, userID, deviceID); err != nil {
			middleware.Logger.ErrorContext(ctx, "ws: mark online failed",
				slog.String("error", err.Error()))
		}
		middleware.Logger.InfoContext(ctx, "ws: socket attached")

		go client.WritePump()
		client.ReadPump()

		// ReadPump has detached the client from the table.
		offlineCtx, cancel := context.WithTimeout(middleware.WithSocketContext(context.Background(), userID, deviceID), 5*time.Second)
		defer cancel()
		if err := s.presence.MarkOffline(offlineCtx, userID, deviceID); err != nil {
			middleware.Logger.ErrorContext(offlineCtx, "ws: mark offline failed",
				slog.String("error", err.Error()))
		}
		middleware.Logger.InfoContext(offlineCtx, "ws: socket detached")
	})
}

// handleFrame processes one inbound client frame: validate, stamp, enqueue
// for persistence, and fan out. Validation failures are answered on the same
// socket as literal text frames.
func (s *Server) handleFrame(ctx context.Context) func(*sockets.Client, []byte) {
	return func(client *sockets.Client, data []byte) {
		msg, err := wire.ParseSendFrame(data, client.UserID, client.DeviceID, time.Now())
		if err != nil {
			client.TrySend([]byte(err.Error()))
			return
		}

		// Persistence is enqueued regardless of fan-out outcome; the
		// durable copy must not depend on routing.
		if err := s.enqueuer.Enqueue(ctx, msg); err != nil {
			middleware.Logger.ErrorContext(ctx, "ws: persistence enqueue failed",
				slog.String("conversation_id", msg.ConversationID),
				slog.String("error", err.Error()),
			)
		}

		if err := s.distributor.Distribute(ctx, msg); err != nil {
			middleware.Logger.ErrorContext(ctx, "ws: distribute failed",
				slog.String("conversation_id", msg.ConversationID),
				slog.String("error", err.Error()),
			)
		}
	}
}
