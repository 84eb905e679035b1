// Package presence implements the presence registry: the authoritative map
// of (user_id, device_id) to the node holding that device's live socket.
// The registry is the single source of truth for routing; chat nodes never
// cache remote presence locally.
package presence

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"courier/internal/middleware"
	"courier/internal/wire"

	"github.com/redis/go-redis/v9"
)

// Presence statuses.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// DeviceRecord is one (user, device) presence row.
type DeviceRecord struct {
	UserID     string `json:"user_id,omitempty"`
	DeviceID   string `json:"device_id"`
	NodeID     string `json:"node_id"`
	Status     string `json:"status"`
	LastOnline string `json:"last_online"`
}

// Store keeps presence records in Redis: a device set per user and a hash
// per device. Records are last-writer-wins and retained on MarkOffline so
// an unknown device can be distinguished from a known offline one.
type Store struct {
	rdb *redis.Client
	now func() time.Time
}

// NewStore returns a Store backed by the given Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, now: time.Now}
}

func userKey(userID string) string            { return "presence:" + userID }
func deviceSetKey(userID string) string       { return userKey(userID) + ":devices" }
func deviceKey(userID, deviceID string) string { return userKey(userID) + ":" + deviceID }

// Upsert writes one presence record with the given status and stamps
// last_online with the current time.
func (s *Store) Upsert(ctx context.Context, userID, deviceID, nodeID, status string) error {
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, deviceSetKey(userID), deviceID)
	pipe.HSet(ctx, deviceKey(userID, deviceID), map[string]interface{}{
		"node_id":     nodeID,
		"device_id":   deviceID,
		"status":      status,
		"last_online": s.now().UTC().Format(time.RFC3339Nano),
	})
	_, err := pipe.Exec(ctx)
	return err
}

// GetUser returns the presence records for every device the user has ever
// registered and not purged. An empty slice means no presence is known.
func (s *Store) GetUser(ctx context.Context, userID string) ([]DeviceRecord, error) {
	devices, err := s.rdb.SMembers(ctx, deviceSetKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(devices))
	for i, d := range devices {
		cmds[i] = pipe.HGetAll(ctx, deviceKey(userID, d))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	records := make([]DeviceRecord, 0, len(devices))
	for _, cmd := range cmds {
		data := cmd.Val()
		if len(data) == 0 {
			continue
		}
		records = append(records, DeviceRecord{
			DeviceID:   data["device_id"],
			NodeID:     data["node_id"],
			Status:     data["status"],
			LastOnline: data["last_online"],
		})
	}
	return records, nil
}

// NodeMap groups the online devices of the given users by node id. When both
// senderID and originDeviceID are set, that single device is omitted so the
// sender's originating socket never receives its own message back. The whole
// lookup costs a constant number of pipelined round trips regardless of
// fan-out degree.
func (s *Store) NodeMap(ctx context.Context, userIDs []string, senderID, originDeviceID string) (map[string][]wire.Target, error) {
	setPipe := s.rdb.Pipeline()
	setCmds := make([]*redis.StringSliceCmd, len(userIDs))
	for i, uid := range userIDs {
		setCmds[i] = setPipe.SMembers(ctx, deviceSetKey(uid))
	}
	if _, err := setPipe.Exec(ctx); err != nil {
		return nil, err
	}

	type devRef struct {
		userID   string
		deviceID string
	}
	var refs []devRef
	for i, uid := range userIDs {
		for _, d := range setCmds[i].Val() {
			if uid == senderID && d == originDeviceID && senderID != "" && originDeviceID != "" {
				continue
			}
			refs = append(refs, devRef{userID: uid, deviceID: d})
		}
	}
	if len(refs) == 0 {
		return map[string][]wire.Target{}, nil
	}

	hashPipe := s.rdb.Pipeline()
	hashCmds := make([]*redis.MapStringStringCmd, len(refs))
	for i, ref := range refs {
		hashCmds[i] = hashPipe.HGetAll(ctx, deviceKey(ref.userID, ref.deviceID))
	}
	if _, err := hashPipe.Exec(ctx); err != nil {
		return nil, err
	}

	nodeMap := make(map[string][]wire.Target)
	for i, ref := range refs {
		data := hashCmds[i].Val()
		if data["status"] != StatusOnline || data["node_id"] == "" {
			continue
		}
		nodeMap[data["node_id"]] = append(nodeMap[data["node_id"]], wire.Target{
			UserID:   ref.userID,
			DeviceID: ref.deviceID,
		})
	}
	return nodeMap, nil
}

// SweepStale flips records still marked online whose last_online is older
// than staleAfter to offline. A crashed socket otherwise leaves its record
// online forever. Returns the number of records flipped.
func (s *Store) SweepStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	cutoff := s.now().Add(-staleAfter)
	swept := 0

	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, "presence:*", 100).Result()
		if err != nil {
			return swept, err
		}
		for _, key := range keys {
			if strings.HasSuffix(key, ":devices") {
				continue
			}
			data, err := s.rdb.HGetAll(ctx, key).Result()
			if err != nil || data["status"] != StatusOnline {
				continue
			}
			lastOnline, err := time.Parse(time.RFC3339Nano, data["last_online"])
			if err != nil || !lastOnline.Before(cutoff) {
				continue
			}
			if err := s.rdb.HSet(ctx, key, "status", StatusOffline).Err(); err != nil {
				middleware.Logger.WarnContext(ctx, "presence: stale sweep write failed",
					slog.String("key", key), slog.String("error", err.Error()))
				continue
			}
			swept++
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return swept, nil
}

// RunSweeper periodically sweeps stale online records until the context is
// cancelled. A zero staleAfter disables the sweep entirely.
func (s *Store) RunSweeper(ctx context.Context, staleAfter time.Duration) {
	if staleAfter <= 0 {
		return
	}
	interval := staleAfter / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := s.SweepStale(ctx, staleAfter)
			if err != nil {
				middleware.Logger.ErrorContext(ctx, "presence: stale sweep failed",
					slog.String("error", err.Error()))
				continue
			}
			if swept > 0 {
				middleware.Logger.InfoContext(ctx, "presence: swept stale records",
					slog.Int("count", swept))
			}
		}
	}
}
