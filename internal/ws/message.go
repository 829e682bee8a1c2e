package ws

import (
	"context"
	"log/slog"
	"net/http"

	"geoforge/internal/auth"
	"geoforge/internal/cursor"
	"geoforge/internal/presence"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Frame types exchanged with the browser. Realtime events are forwarded
// under their event name.
const (
	FrameMessage        = "message"
	FrameTyping         = "typing"
	FrameCursorMove     = "cursor-move"
	FrameCursorLeave    = "cursor-leave"
	FrameCursorClick    = "cursor-click"
	FramePresenceUpdate = "presence-update"
	FrameError          = "error"
)

// Frame is an outbound WebSocket message.
type Frame struct {
	Type      string `json:"type"`
	Channel   string `json:"channel,omitempty"`
	ID        string `json:"id,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Data      any    `json:"data,omitempty"`
	Action    string `json:"action,omitempty"`
	Error     string `json:"error,omitempty"`
	Content   string `json:"content,omitempty"`
}

type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type messageData struct {
	Content string `json:"content"`
}

type cursorMoveData struct {
	X       *float64     `json:"x"`
	Y       *float64     `json:"y"`
	ClientX *float64     `json:"clientX"`
	ClientY *float64     `json:"clientY"`
	Bounds  *cursor.Rect `json:"bounds"`
}

type cursorClickData struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Annotation string  `json:"annotation"`
}

type presenceUpdateData struct {
	Status string `json:"status"`
}

// ServeWS authenticates the request and attaches a collaboration session:
// GET /ws?project=<id>[&session=<cursorSessionId>]&token=<jwt>
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	remoteAddr := r.RemoteAddr
	slog.Debug("[WS] New WebSocket connection request", "from", remoteAddr)

	token := auth.ExtractTokenFromRequest(r)
	if token == "" {
		slog.Warn("[WS] No token provided", "from", remoteAddr)
		http.Error(w, "Unauthorized: token required", http.StatusUnauthorized)
		return
	}

	claims, err := hub.validator.ValidateToken(token)
	if err != nil {
		slog.Warn("[WS] Token validation failed", "from", remoteAddr, "error", err)
		http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
		return
	}

	projectID := r.URL.Query().Get("project")
	if projectID == "" {
		slog.Warn("[WS] No project provided", "user", claims.UserID(), "from", remoteAddr)
		http.Error(w, "project required", http.StatusBadRequest)
		return
	}
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = projectID
	}

	if !hub.rt.IsConfigured() {
		http.Error(w, "Realtime collaboration is not configured", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("[WS] Failed to upgrade connection", "user", claims.UserID(), "project", projectID, "error", err)
		return
	}

	slog.Info("[WS] Connection upgraded", "user", claims.UserID(), "project", projectID, "session", sessionID)

	connectionID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, 256),
		done:         make(chan struct{}),
		projectID:    projectID,
		sessionID:    sessionID,
		userID:       claims.UserID(),
		userName:     claims.DisplayName(),
		connectionID: connectionID,
		ctx:          ctx,
		cancel:       cancel,
		presence:     presence.NewTracker(hub.rt, connectionID),
		cursor:       cursor.NewPublisher(hub.rt, sessionID, claims.UserID(), claims.DisplayName(), hub.opts.CursorThrottle, nil),
	}

	go client.WritePump()

	if err := client.start(); err != nil {
		slog.Error("[WS] Failed to start session", "user", client.userID, "project", projectID, "error", err)
		client.sendError("connect", err, "")
		cancel()
		client.close()
		return
	}

	if !hub.Register(client) {
		client.teardown()
		return
	}

	if hub.opts.HeartbeatInterval > 0 {
		client.heartbeats.Add(1)
		go client.HeartbeatLoop(hub.opts.HeartbeatInterval)
	}
	go client.ReadPump()
}
