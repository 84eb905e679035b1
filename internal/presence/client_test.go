package presence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"courier/internal/wire"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientStatusUpdates(t *testing.T) {
	var gotPath string
	var gotBody statusUpdate
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"detail":"ok"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "node1")
	ctx := context.Background()

	require.NoError(t, client.MarkOnline(ctx, "alice", "phone"))
	assert.Equal(t, "/presence/online", gotPath)
	assert.Equal(t, statusUpdate{UserID: "alice", NodeID: "node1", DeviceID: "phone", Status: StatusOnline}, gotBody)

	require.NoError(t, client.MarkOffline(ctx, "alice", "phone"))
	assert.Equal(t, "/presence/offline", gotPath)
	assert.Equal(t, StatusOffline, gotBody.Status)

	require.NoError(t, client.Heartbeat(ctx, "alice", "phone"))
	assert.Equal(t, "/presence/heartbeat", gotPath)
}

func TestClientNodeMap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/presence/nodes", r.URL.Path)
		assert.Equal(t, "alice,bob", r.URL.Query().Get("user_ids"))
		assert.Equal(t, "alice", r.URL.Query().Get("sender_id"))
		assert.Equal(t, "phone", r.URL.Query().Get("origin_device_id"))

		_ = json.NewEncoder(w).Encode(map[string][]wire.Target{
			"node2": {{UserID: "bob", DeviceID: "tablet"}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "node1")
	nodeMap, err := client.NodeMap(context.Background(), []string{"alice", "bob"}, "alice", "phone")
	require.NoError(t, err)

	require.Len(t, nodeMap, 1)
	assert.Equal(t, "bob", nodeMap["node2"][0].UserID)
}

func TestClientNodeMapErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "node1")
	_, err := client.NodeMap(context.Background(), []string{"alice"}, "", "")
	assert.Error(t, err)
}
