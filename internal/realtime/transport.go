package realtime

import (
	"context"
	"time"

	"geoforge/internal/models"
)

// Transport is the pub/sub provider connection. Subscribe must not return
// until the provider has confirmed the subscription.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// Subscription delivers raw payloads for one channel in provider order.
// Messages is closed once the subscription ends.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Member is one presence entry. Membership is keyed by connection, so one
// user connected twice is two members.
type Member struct {
	ClientID  string                `json:"clientId"`
	Record    models.PresenceRecord `json:"record"`
	EnteredAt time.Time             `json:"enteredAt"`
	LastSeen  time.Time             `json:"lastSeen"`
}

// MemberStore holds presence membership per channel. SetMember reports
// whether the write created the entry.
type MemberStore interface {
	SetMember(ctx context.Context, channel string, m Member) (bool, error)
	RemoveMember(ctx context.Context, channel, clientID string) (bool, error)
	ListMembers(ctx context.Context, channel string) ([]Member, error)
	MemberChannels(ctx context.Context) ([]string, error)
}
