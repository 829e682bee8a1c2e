package presence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"geoforge/internal/models"
	"geoforge/internal/realtime"
)

// Sweep removes members whose LastSeen is older than ttl and publishes a
// leave for each, so subscribers refresh. It returns the number removed.
func Sweep(ctx context.Context, rt *realtime.Client, ttl time.Duration, now time.Time) (int, error) {
	channels, err := rt.MemberChannels(ctx)
	if err != nil {
		return 0, fmt.Errorf("list presence channels: %w", err)
	}

	cutoff := now.Add(-ttl)
	removed := 0

	for _, channel := range channels {
		members, err := rt.ListMembers(ctx, channel)
		if err != nil {
			slog.Error("[PRESENCE] Sweep failed to list members", "channel", channel, "error", err)
			continue
		}

		for _, m := range members {
			if !m.LastSeen.Before(cutoff) {
				continue
			}

			ok, err := rt.RemoveMember(ctx, channel, m.ClientID)
			if err != nil {
				slog.Error("[PRESENCE] Sweep failed to remove member", "channel", channel, "clientId", m.ClientID, "error", err)
				continue
			}
			if !ok {
				continue
			}
			removed++

			slog.Info("[PRESENCE] Expired member", "channel", channel, "user", m.Record.UserID, "clientId", m.ClientID, "lastSeen", m.LastSeen)
			if err := publish(ctx, rt, channel, models.PresenceLeave, m.ClientID, m.Record); err != nil {
				slog.Warn("[PRESENCE] Failed to publish expiry", "channel", channel, "error", err)
			}
		}
	}

	return removed, nil
}
