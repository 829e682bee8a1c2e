package models

import "time"

// Event names carried on realtime channels.
const (
	EventMessage     = "message"
	EventTyping      = "typing"
	EventPresence    = "presence"
	EventCursorMove  = "cursor-move"
	EventCursorClick = "cursor-click"
)

// ProjectChannel is the channel shared by a project's chat, typing and presence.
func ProjectChannel(projectID string) string {
	return "project-" + projectID
}

// CursorChannel is the channel for a collaborative cursor session.
func CursorChannel(sessionID string) string {
	return "cursor-control-" + sessionID
}

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSystem MessageType = "system"
	MessageAlert  MessageType = "alert"
)

type Message struct {
	ID        string      `json:"id"`
	UserID    string      `json:"userId"`
	UserName  string      `json:"userName"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	Type      MessageType `json:"type"`
}

// MessageData is the published body of a chat message. Id and timestamp are
// assigned by the transport envelope.
type MessageData struct {
	UserID   string      `json:"userId"`
	UserName string      `json:"userName"`
	Content  string      `json:"content"`
	Type     MessageType `json:"type,omitempty"`
}

type TypingData struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}
