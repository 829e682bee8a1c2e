package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"geoforge/internal/realtime"

	"github.com/go-redis/redis/v8"
)

type subscription struct {
	pubsub *redis.PubSub
	out    chan []byte
	done   chan struct{}
	once   sync.Once
}

// Subscribe waits for Redis to confirm the subscription before returning, so
// a publish issued afterwards is never missed.
func (c *Client) Subscribe(ctx context.Context, channel string) (realtime.Subscription, error) {
	key := channelPrefix + channel
	pubsub := c.rdb.Subscribe(ctx, key)

	if _, err := pubsub.Receive(ctx); err != nil {
		slog.Error("[REDIS] Failed to receive subscription confirmation", "channel", key, "error", err)
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", key, err)
	}

	slog.Debug("[REDIS] Subscription confirmed", "channel", key)

	s := &subscription{
		pubsub: pubsub,
		out:    make(chan []byte, 256),
		done:   make(chan struct{}),
	}
	go s.pump(pubsub.Channel())
	return s, nil
}

func (s *subscription) pump(ch <-chan *redis.Message) {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				slog.Info("[REDIS] Redis pub/sub channel closed")
				return
			}
			select {
			case s.out <- []byte(msg.Payload):
			case <-s.done:
				return
			}
		}
	}
}

func (s *subscription) Messages() <-chan []byte {
	return s.out
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
