package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"geoforge/internal/realtime"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
)

const (
	presencePrefix   = "presence:"
	presenceChannels = "presence:channels"
)

// removeMemberScript deletes a member and drops the channel from the index
// when the hash is left empty, in one step so a concurrent SetMember on the
// same channel cannot lose its index entry.
var removeMemberScript = redis.NewScript(`
local removed = redis.call("HDEL", KEYS[1], ARGV[1])
if redis.call("HLEN", KEYS[1]) == 0 then
	redis.call("SREM", KEYS[2], ARGV[2])
end
return removed
`)

// SetMember stores m in the channel's presence hash, keyed by connection.
// It reports whether the member was newly added.
func (c *Client) SetMember(ctx context.Context, channel string, m realtime.Member) (bool, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return false, fmt.Errorf("marshal member: %w", err)
	}

	var added *redis.IntCmd
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.HSet(ctx, presencePrefix+channel, m.ClientID, payload)
		pipe.SAdd(ctx, presenceChannels, channel)
		return nil
	})
	if err != nil {
		slog.Error("[REDIS] Failed to store presence member", "channel", channel, "clientId", m.ClientID, "error", err)
		return false, err
	}
	return added.Val() > 0, nil
}

// RemoveMember reports whether the member was present.
func (c *Client) RemoveMember(ctx context.Context, channel, clientID string) (bool, error) {
	keys := []string{presencePrefix + channel, presenceChannels}

	removed, err := removeMemberScript.Run(ctx, c.rdb, keys, clientID, channel).Int64()
	if err != nil {
		slog.Error("[REDIS] Failed to remove presence member", "channel", channel, "clientId", clientID, "error", err)
		return false, err
	}
	return removed > 0, nil
}

func (c *Client) ListMembers(ctx context.Context, channel string) ([]realtime.Member, error) {
	entries, err := c.rdb.HGetAll(ctx, presencePrefix+channel).Result()
	if err != nil {
		slog.Error("[REDIS] Failed to list presence members", "channel", channel, "error", err)
		return nil, err
	}

	members := make([]realtime.Member, 0, len(entries))
	for clientID, raw := range entries {
		var m realtime.Member
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			slog.Error("[REDIS] Error unmarshaling presence member", "channel", channel, "clientId", clientID, "error", err)
			continue
		}
		members = append(members, m)
	}
	return members, nil
}

func (c *Client) MemberChannels(ctx context.Context) ([]string, error) {
	channels, err := c.rdb.SMembers(ctx, presenceChannels).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(channels)
	return channels, nil
}
