package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb), mr
}

func TestUpsertAndGetUser(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "alice", "phone", "node1", StatusOnline))
	require.NoError(t, store.Upsert(ctx, "alice", "laptop", "node2", StatusOnline))

	records, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, records, 2)

	byDevice := map[string]DeviceRecord{}
	for _, r := range records {
		byDevice[r.DeviceID] = r
	}
	assert.Equal(t, "node1", byDevice["phone"].NodeID)
	assert.Equal(t, "node2", byDevice["laptop"].NodeID)
	assert.Equal(t, StatusOnline, byDevice["phone"].Status)
	assert.NotEmpty(t, byDevice["phone"].LastOnline)
}

func TestOfflineRecordIsRetained(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "alice", "phone", "node1", StatusOnline))
	require.NoError(t, store.Upsert(ctx, "alice", "phone", "node1", StatusOffline))

	records, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, StatusOffline, records[0].Status)
}

func TestGetUserUnknown(t *testing.T) {
	store, _ := setupStore(t)

	records, err := store.GetUser(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestNodeMap(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "alice", "phone", "node1", StatusOnline))
	require.NoError(t, store.Upsert(ctx, "alice", "laptop", "node2", StatusOnline))
	require.NoError(t, store.Upsert(ctx, "bob", "phone", "node1", StatusOnline))
	require.NoError(t, store.Upsert(ctx, "carol", "phone", "node3", StatusOffline))

	t.Run("GroupsByNode", func(t *testing.T) {
		nodeMap, err := store.NodeMap(ctx, []string{"alice", "bob", "carol"}, "", "")
		require.NoError(t, err)

		require.Len(t, nodeMap, 2)
		assert.Len(t, nodeMap["node1"], 2)
		assert.Len(t, nodeMap["node2"], 1)
		assert.NotContains(t, nodeMap, "node3")
	})

	t.Run("ExcludesOriginDevice", func(t *testing.T) {
		nodeMap, err := store.NodeMap(ctx, []string{"alice", "bob"}, "alice", "phone")
		require.NoError(t, err)

		for _, targets := range nodeMap {
			for _, target := range targets {
				assert.False(t, target.UserID == "alice" && target.DeviceID == "phone")
			}
		}
		// Alice's other device still gets the message.
		assert.Len(t, nodeMap["node2"], 1)
	})

	t.Run("AllOffline", func(t *testing.T) {
		nodeMap, err := store.NodeMap(ctx, []string{"carol"}, "", "")
		require.NoError(t, err)
		assert.Empty(t, nodeMap)
	})

	t.Run("UnknownUsers", func(t *testing.T) {
		nodeMap, err := store.NodeMap(ctx, []string{"nobody"}, "", "")
		require.NoError(t, err)
		assert.Empty(t, nodeMap)
	})
}

func TestSweepStale(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	store.now = func() time.Time { return now.Add(-10 * time.Minute) }
	require.NoError(t, store.Upsert(ctx, "alice", "phone", "node1", StatusOnline))

	store.now = func() time.Time { return now }
	require.NoError(t, store.Upsert(ctx, "bob", "phone", "node1", StatusOnline))

	swept, err := store.SweepStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	records, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, StatusOffline, records[0].Status)

	records, err = store.GetUser(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, StatusOnline, records[0].Status)
}
