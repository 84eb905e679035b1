package sockets

import (
	"sync"

	"courier/internal/observability"
)

// Table is the node-local socket table mapping (user_id, device_id) to the
// live client. It only covers sockets attached to this node; cross-node
// routing is the presence registry's job.
type Table struct {
	mu      sync.RWMutex
	clients map[string]map[string]*Client
}

// NewTable returns an empty socket table.
func NewTable() *Table {
	return &Table{clients: make(map[string]map[string]*Client)}
}

// Register attaches a client to the table. A reconnecting device replaces its
// previous entry; the old socket is closed so only one client per
// (user, device) survives.
func (t *Table) Register(c *Client) {
	t.mu.Lock()
	devices, ok := t.clients[c.UserID]
	if !ok {
		devices = make(map[string]*Client)
		t.clients[c.UserID] = devices
	}
	old := devices[c.DeviceID]
	devices[c.DeviceID] = c
	if old == nil {
		observability.ActiveSockets.Inc()
	}
	t.mu.Unlock()

	if old != nil {
		close(old.Send)
		if old.Conn != nil {
			_ = old.Conn.Close()
		}
	}
}

// Remove detaches a client. A stale client that was already replaced by a
// reconnect does not evict its successor.
func (t *Table) Remove(c *Client) {
	t.mu.Lock()
	defer t.mu.Unlock()

	devices, ok := t.clients[c.UserID]
	if !ok || devices[c.DeviceID] != c {
		return
	}
	delete(devices, c.DeviceID)
	if len(devices) == 0 {
		delete(t.clients, c.UserID)
	}
	observability.ActiveSockets.Dec()
}

// Lookup returns the client attached for (user, device), or nil.
func (t *Table) Lookup(userID, deviceID string) *Client {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.clients[userID][deviceID]
}

// Len returns the number of attached sockets.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, devices := range t.clients {
		n += len(devices)
	}
	return n
}

// CloseAll closes every attached socket. Used on shutdown.
func (t *Table) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, devices := range t.clients {
		for _, c := range devices {
			close(c.Send)
			if c.Conn != nil {
				_ = c.Conn.Close()
			}
			observability.ActiveSockets.Dec()
		}
	}
	t.clients = make(map[string]map[string]*Client)
}
