package presence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"courier/internal/wire"
)

// Client is the chat node's handle on the presence registry HTTP API.
// Lookups are bounded by a per-call timeout; callers treat a failed node-map
// lookup as an empty map so affected recipients fall back to push.
type Client struct {
	baseURL string
	nodeID  string
	http    *http.Client
}

// NewClient creates a presence client for this node.
func NewClient(baseURL, nodeID string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		nodeID:  nodeID,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) postStatus(ctx context.Context, path, userID, deviceID, status string) error {
	body, err := json.Marshal(statusUpdate{
		UserID:   userID,
		NodeID:   c.nodeID,
		DeviceID: deviceID,
		Status:   status,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("presence %s returned %d", path, resp.StatusCode)
	}
	return nil
}

// MarkOnline records this node as the owner of the device's live socket.
func (c *Client) MarkOnline(ctx context.Context, userID, deviceID string) error {
	return c.postStatus(ctx, "/presence/online", userID, deviceID, StatusOnline)
}

// MarkOffline records the device as offline. The record is retained.
func (c *Client) MarkOffline(ctx context.Context, userID, deviceID string) error {
	return c.postStatus(ctx, "/presence/offline", userID, deviceID, StatusOffline)
}

// Heartbeat refreshes the device's online record.
func (c *Client) Heartbeat(ctx context.Context, userID, deviceID string) error {
	return c.postStatus(ctx, "/presence/heartbeat", userID, deviceID, StatusOnline)
}

// NodeMap asks the registry to group the users' online devices by node,
// excluding the sender's originating device.
func (c *Client) NodeMap(ctx context.Context, userIDs []string, senderID, originDeviceID string) (map[string][]wire.Target, error) {
	q := url.Values{}
	q.Set("user_ids", strings.Join(userIDs, ","))
	if senderID != "" {
		q.Set("sender_id", senderID)
	}
	if originDeviceID != "" {
		q.Set("origin_device_id", originDeviceID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/presence/nodes?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("presence node lookup returned %d", resp.StatusCode)
	}

	var nodeMap map[string][]wire.Target
	if err := json.NewDecoder(resp.Body).Decode(&nodeMap); err != nil {
		return nil, err
	}
	return nodeMap, nil
}
