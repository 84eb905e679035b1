package sockets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testClient(t *Table, userID, deviceID string) *Client {
	return &Client{
		Table:    t,
		UserID:   userID,
		DeviceID: deviceID,
		Send:     make(chan []byte, 4),
	}
}

func TestTableRegisterAndLookup(t *testing.T) {
	table := NewTable()

	phone := testClient(table, "alice", "phone")
	laptop := testClient(table, "alice", "laptop")
	table.Register(phone)
	table.Register(laptop)

	assert.Same(t, phone, table.Lookup("alice", "phone"))
	assert.Same(t, laptop, table.Lookup("alice", "laptop"))
	assert.Nil(t, table.Lookup("alice", "tablet"))
	assert.Nil(t, table.Lookup("bob", "phone"))
	assert.Equal(t, 2, table.Len())
}

func TestTableReconnectReplaces(t *testing.T) {
	table := NewTable()

	old := testClient(table, "alice", "phone")
	table.Register(old)

	replacement := testClient(table, "alice", "phone")
	table.Register(replacement)

	assert.Same(t, replacement, table.Lookup("alice", "phone"))
	assert.Equal(t, 1, table.Len())

	// The replaced client's channel is closed.
	_, open := <-old.Send
	assert.False(t, open)

	// The stale client detaching must not evict its successor.
	table.Remove(old)
	assert.Same(t, replacement, table.Lookup("alice", "phone"))
}

func TestTableRemove(t *testing.T) {
	table := NewTable()

	client := testClient(table, "alice", "phone")
	table.Register(client)
	table.Remove(client)

	assert.Nil(t, table.Lookup("alice", "phone"))
	assert.Equal(t, 0, table.Len())

	// Removing twice is harmless.
	table.Remove(client)
}

func TestTableCloseAll(t *testing.T) {
	table := NewTable()

	a := testClient(table, "alice", "phone")
	b := testClient(table, "bob", "phone")
	table.Register(a)
	table.Register(b)

	table.CloseAll()
	assert.Equal(t, 0, table.Len())

	_, open := <-a.Send
	assert.False(t, open)
	_, open = <-b.Send
	assert.False(t, open)
}

func TestTrySend(t *testing.T) {
	table := NewTable()

	t.Run("QueuesFrame", func(t *testing.T) {
		client := testClient(table, "alice", "phone")
		assert.True(t, client.TrySend([]byte("hi")))
		assert.Equal(t, []byte("hi"), <-client.Send)
	})

	t.Run("DropsWhenFull", func(t *testing.T) {
		client := &Client{UserID: "alice", DeviceID: "phone", Send: make(chan []byte)}
		assert.False(t, client.TrySend([]byte("hi")))
	})

	t.Run("SurvivesClosedChannel", func(t *testing.T) {
		client := testClient(table, "alice", "phone")
		close(client.Send)
		assert.False(t, client.TrySend([]byte("hi")))
	})
}
