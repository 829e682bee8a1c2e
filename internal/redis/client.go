package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
)

// channelPrefix namespaces realtime channels inside the Redis keyspace.
const channelPrefix = "channel:"

// Client implements realtime.Transport and realtime.MemberStore on Redis
// pub/sub and hashes.
type Client struct {
	rdb *redis.Client
}

func NewClient(ctx context.Context, redisURL string) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		slog.Error("[REDIS] Failed to parse Redis URL", "error", err)
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)

	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("[REDIS] Failed to connect to Redis", "addr", opt.Addr, "error", err)
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	slog.Info("[REDIS] Connected to Redis", "addr", opt.Addr)

	return &Client{rdb: rdb}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	key := channelPrefix + channel
	if err := c.rdb.Publish(ctx, key, payload).Err(); err != nil {
		slog.Error("[REDIS] Failed to publish event", "channel", key, "error", err)
		return err
	}
	return nil
}
