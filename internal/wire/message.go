// Package wire defines the JSON payloads exchanged between clients, broker
// queues, and the hot window cache.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"time"
)

// Errors surfaced to the client as literal text frames.
var (
	// ErrInvalidJSON marks a frame that could not be decoded into a Message.
	ErrInvalidJSON = errors.New("Invalid JSON format.")
	// ErrMissingConversation marks a frame without the required conversation_id.
	ErrMissingConversation = errors.New("Missing conversation_id.")
)

// Message is the chat payload. The accepted send-frame field set is fixed;
// unknown fields are rejected at ingress. The id field is populated only on
// the history read path, where store rows are rendered in the same shape.
type Message struct {
	ID             string  `json:"id,omitempty"`
	ConversationID string  `json:"conversation_id"`
	SenderID       string  `json:"sender_id,omitempty"`
	ToUser         string  `json:"toUser,omitempty"`
	Content        string  `json:"content"`
	Type           string  `json:"type,omitempty"`
	SentAt         float64 `json:"sent_at,omitempty"`
	OriginDeviceID string  `json:"origin_device_id,omitempty"`
}

// Target identifies one device socket a node is responsible for.
type Target struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
}

// NodeMessage is the envelope published on a per-node queue. The payload is
// identical across envelopes for the same original send; only the target
// list differs per destination node.
type NodeMessage struct {
	EventType     string   `json:"event_type"`
	Payload       Message  `json:"payload"`
	TargetDevices []Target `json:"target_devices"`
}

// EventChatMessage is the event type carried by chat payload envelopes.
const EventChatMessage = "chat_message"

// TypeText is the default message type.
const TypeText = "text"

// ParseSendFrame decodes an incoming client frame, validates it, and stamps
// the server-controlled fields: sender_id is always overwritten with the
// authenticated identity, type and sent_at get defaults, origin_device_id is
// set to the connection's device. The client-supplied id, if any, is dropped.
func ParseSendFrame(data []byte, userID, deviceID string, now time.Time) (Message, error) {
	var msg Message
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		return Message{}, ErrInvalidJSON
	}

	if msg.ConversationID == "" {
		return Message{}, ErrMissingConversation
	}

	msg.ID = ""
	msg.SenderID = userID
	if msg.Type == "" {
		msg.Type = TypeText
	}
	if msg.SentAt == 0 {
		msg.SentAt = TimeToSeconds(now)
	}
	msg.OriginDeviceID = deviceID

	return msg, nil
}

// TimeToSeconds converts a time to UTC epoch seconds with fractional part.
func TimeToSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// SecondsToTime converts fractional epoch seconds to a UTC time.
func SecondsToTime(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}
