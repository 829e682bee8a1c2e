package models

type PresenceStatus string

const (
	StatusOnline PresenceStatus = "online"
	StatusAway   PresenceStatus = "away"
)

type PresenceRecord struct {
	UserID   string         `json:"userId"`
	UserName string         `json:"userName"`
	Status   PresenceStatus `json:"status"`
}

type PresenceAction string

const (
	PresenceEnter  PresenceAction = "enter"
	PresenceLeave  PresenceAction = "leave"
	PresenceUpdate PresenceAction = "update"
)

// PresenceEvent is published on a channel whenever its membership changes.
type PresenceEvent struct {
	Action   PresenceAction `json:"action"`
	ClientID string         `json:"clientId"`
	Record   PresenceRecord `json:"record"`
}
