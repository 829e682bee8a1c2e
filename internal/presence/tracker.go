package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"geoforge/internal/models"
	"geoforge/internal/realtime"
)

var ErrNotEntered = errors.New("presence: not entered on channel")

// Tracker manages the presence of one connection. Membership is keyed by
// connection id, so a user with two open connections appears twice.
type Tracker struct {
	rt           *realtime.Client
	connectionID string
	now          func() time.Time

	mu      sync.Mutex
	entered map[string]realtime.Member
}

func NewTracker(rt *realtime.Client, connectionID string) *Tracker {
	return &Tracker{
		rt:           rt,
		connectionID: connectionID,
		now:          time.Now,
		entered:      make(map[string]realtime.Member),
	}
}

func (t *Tracker) ConnectionID() string {
	return t.connectionID
}

// Enter adds this connection to channel's member set and notifies
// subscribers.
func (t *Tracker) Enter(ctx context.Context, channel string, record models.PresenceRecord) error {
	if record.Status == "" {
		record.Status = models.StatusOnline
	}

	now := t.now()
	m := realtime.Member{
		ClientID:  t.connectionID,
		Record:    record,
		EnteredAt: now,
		LastSeen:  now,
	}

	t.mu.Lock()
	if prev, ok := t.entered[channel]; ok {
		m.EnteredAt = prev.EnteredAt
	}
	t.mu.Unlock()

	if _, err := t.rt.SetMember(ctx, channel, m); err != nil {
		return fmt.Errorf("enter %s: %w", channel, err)
	}

	t.mu.Lock()
	t.entered[channel] = m
	t.mu.Unlock()

	slog.Info("[PRESENCE] Entered", "channel", channel, "user", record.UserID, "clientId", t.connectionID)
	return publish(ctx, t.rt, channel, models.PresenceEnter, t.connectionID, record)
}

// Update changes this connection's status on a channel it has entered.
func (t *Tracker) Update(ctx context.Context, channel string, status models.PresenceStatus) error {
	t.mu.Lock()
	m, ok := t.entered[channel]
	t.mu.Unlock()
	if !ok {
		return ErrNotEntered
	}

	m.Record.Status = status
	m.LastSeen = t.now()
	if _, err := t.rt.SetMember(ctx, channel, m); err != nil {
		return fmt.Errorf("update %s: %w", channel, err)
	}

	t.mu.Lock()
	t.entered[channel] = m
	t.mu.Unlock()

	return publish(ctx, t.rt, channel, models.PresenceUpdate, t.connectionID, m.Record)
}

// Leave removes this connection from channel. Leaving a channel that was
// never entered is a no-op.
func (t *Tracker) Leave(ctx context.Context, channel string) error {
	t.mu.Lock()
	m, ok := t.entered[channel]
	delete(t.entered, channel)
	t.mu.Unlock()
	if !ok {
		return nil
	}

	if _, err := t.rt.RemoveMember(ctx, channel, t.connectionID); err != nil {
		return fmt.Errorf("leave %s: %w", channel, err)
	}

	slog.Info("[PRESENCE] Left", "channel", channel, "user", m.Record.UserID, "clientId", t.connectionID)
	return publish(ctx, t.rt, channel, models.PresenceLeave, t.connectionID, m.Record)
}

// LeaveAll leaves every channel this tracker entered and returns the first
// error encountered.
func (t *Tracker) LeaveAll(ctx context.Context) error {
	var firstErr error
	for _, channel := range t.Channels() {
		if err := t.Leave(ctx, channel); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Channels lists the channels this tracker is currently entered on.
func (t *Tracker) Channels() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.entered))
	for channel := range t.entered {
		out = append(out, channel)
	}
	sort.Strings(out)
	return out
}

// Heartbeat refreshes LastSeen on every entered channel so the sweep keeps
// the connection's membership alive. A member the sweep already removed is
// written back and announced with an enter event.
func (t *Tracker) Heartbeat(ctx context.Context) error {
	now := t.now()

	t.mu.Lock()
	members := make(map[string]realtime.Member, len(t.entered))
	for channel, m := range t.entered {
		m.LastSeen = now
		t.entered[channel] = m
		members[channel] = m
	}
	t.mu.Unlock()

	for channel, m := range members {
		added, err := t.rt.SetMember(ctx, channel, m)
		if err != nil {
			return fmt.Errorf("heartbeat %s: %w", channel, err)
		}
		if !added {
			continue
		}

		slog.Info("[PRESENCE] Re-entered after expiry", "channel", channel, "user", m.Record.UserID, "clientId", t.connectionID)
		if err := publish(ctx, t.rt, channel, models.PresenceEnter, t.connectionID, m.Record); err != nil {
			return err
		}
	}
	return nil
}

// Members returns channel's current member set ordered by enter time.
func Members(ctx context.Context, rt *realtime.Client, channel string) ([]realtime.Member, error) {
	members, err := rt.ListMembers(ctx, channel)
	if err != nil {
		return nil, err
	}
	sort.Slice(members, func(i, j int) bool {
		if !members[i].EnteredAt.Equal(members[j].EnteredAt) {
			return members[i].EnteredAt.Before(members[j].EnteredAt)
		}
		return members[i].ClientID < members[j].ClientID
	})
	return members, nil
}

func publish(ctx context.Context, rt *realtime.Client, channel string, action models.PresenceAction, clientID string, record models.PresenceRecord) error {
	event := models.PresenceEvent{Action: action, ClientID: clientID, Record: record}
	if err := rt.Publish(ctx, channel, models.EventPresence, event); err != nil {
		return fmt.Errorf("notify %s %s: %w", action, channel, err)
	}
	return nil
}
