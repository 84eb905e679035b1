// Package sockets manages the device websockets attached to one chat node
// and delivers node-queue envelopes to them.
package sockets

import (
	"log/slog"
	"time"

	"courier/internal/middleware"
	"courier/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16384
)

// Client is the middleman between one device websocket and the node.
type Client struct {
	Table *Table

	// The websocket connection.
	Conn *websocket.Conn

	// Buffered channel of outbound frames.
	Send chan []byte

	UserID   string
	DeviceID string

	// Callback for handling incoming frames.
	IncomingHandler func(*Client, []byte)
}

// NewClient creates a client for an accepted websocket connection.
func NewClient(table *Table, conn *websocket.Conn, userID, deviceID string) *Client {
	return &Client{
		Table:    table,
		Conn:     conn,
		UserID:   userID,
		DeviceID: deviceID,
		Send:     make(chan []byte, 256),
	}
}

// ReadPump pumps frames from the websocket connection to the node.
func (c *Client) ReadPump() {
	defer func() {
		c.Table.Remove(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { _ = c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				middleware.Logger.Warn("sockets: read error",
					slog.String("user_id", c.UserID),
					slog.String("device_id", c.DeviceID),
					slog.String("error", err.Error()),
				)
			}
			break
		}

		if c.IncomingHandler != nil {
			c.IncomingHandler(c, message)
		}
	}
}

// WritePump pumps frames from the Send channel to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The table closed the channel.
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues a frame for the client without blocking the delivery loop.
// Frames to a closed or saturated client are dropped and counted.
func (c *Client) TrySend(message []byte) bool {
	sent := false
	defer func() {
		if r := recover(); r != nil {
			observability.FramesDropped.WithLabelValues("closed").Inc()
		}
	}()

	select {
	case c.Send <- message:
		sent = true
	default:
		observability.FramesDropped.WithLabelValues("full").Inc()
		middleware.Logger.Warn("sockets: send buffer full, dropped frame",
			slog.String("user_id", c.UserID),
			slog.String("device_id", c.DeviceID),
		)
	}
	return sent
}
