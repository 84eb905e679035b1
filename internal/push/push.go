// Package push emits push-notification events for users with no online
// devices. The transport behind the push service is opaque to the core.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"courier/internal/middleware"
	"courier/internal/observability"
	"courier/internal/wire"
)

// Dispatcher emits one push event per fully offline recipient.
type Dispatcher interface {
	Notify(ctx context.Context, userID string, payload wire.Message) error
}

// Event is the payload handed to the push service.
type Event struct {
	UserID  string       `json:"user_id"`
	Payload wire.Message `json:"payload"`
}

// HTTPDispatcher posts events to an external push service.
type HTTPDispatcher struct {
	baseURL string
	http    *http.Client
}

// NewHTTPDispatcher creates a dispatcher for the given push service URL.
func NewHTTPDispatcher(baseURL string) *HTTPDispatcher {
	return &HTTPDispatcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Notify posts one event. Failures are the caller's to log; push is
// best-effort and never blocks delivery to online devices.
func (d *HTTPDispatcher) Notify(ctx context.Context, userID string, payload wire.Message) error {
	body, err := json.Marshal(Event{UserID: userID, Payload: payload})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/push", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	observability.PushEvents.Inc()
	return nil
}

// LogDispatcher records push events in the log only. Used when no push
// service URL is configured.
type LogDispatcher struct{}

// Notify logs the event.
func (LogDispatcher) Notify(ctx context.Context, userID string, payload wire.Message) error {
	observability.PushEvents.Inc()
	middleware.Logger.InfoContext(ctx, "push: notifying offline user",
		slog.String("user_id", userID),
		slog.String("conversation_id", payload.ConversationID),
	)
	return nil
}
