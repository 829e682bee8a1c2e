package presence

import (
	"context"
	"log/slog"
	"sync"

	"geoforge/internal/models"
	"geoforge/internal/realtime"
)

// Callback receives the complete member set of a channel, never a delta.
type Callback func(members []realtime.Member)

// SubscribeToPresence calls cb with the full member list once on subscribe
// and again after every enter, update or leave on channel. A failed fetch is
// logged and delivered as an empty list. Calls to cb never overlap.
func SubscribeToPresence(ctx context.Context, rt *realtime.Client, channel string, cb Callback) (func(), error) {
	var mu sync.Mutex
	refresh := func() {
		mu.Lock()
		defer mu.Unlock()

		members, err := Members(ctx, rt, channel)
		if err != nil {
			slog.Error("[PRESENCE] Failed to fetch members", "channel", channel, "error", err)
			members = []realtime.Member{}
		}
		cb(members)
	}

	unsubscribe, err := rt.Subscribe(ctx, channel, models.EventPresence, func(env realtime.Envelope) {
		var event models.PresenceEvent
		if err := env.Decode(&event); err != nil {
			slog.Error("[PRESENCE] Error unmarshaling presence event", "channel", channel, "error", err)
			return
		}
		slog.Debug("[PRESENCE] Event", "channel", channel, "action", event.Action, "clientId", event.ClientID)
		refresh()
	})
	if err != nil {
		return nil, err
	}

	refresh()
	return unsubscribe, nil
}
