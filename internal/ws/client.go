package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"geoforge/internal/cursor"
	"geoforge/internal/models"
	"geoforge/internal/presence"
	"geoforge/internal/realtime"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message
	writeWait = 10 * time.Second

	// Time allowed to read next pong message
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Max message size
	maxMessageSize = 64 * 1024

	// Time allowed for the final cursor and presence notifications
	teardownWait = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once

	projectID    string
	sessionID    string
	userID       string
	userName     string
	connectionID string

	ctx        context.Context
	cancel     context.CancelFunc
	heartbeats sync.WaitGroup

	presence  *presence.Tracker
	cursor    *cursor.Publisher
	disposers []func()
}

// start subscribes the connection to its project and cursor session and
// enters presence. On error everything already set up is torn down.
func (c *Client) start() error {
	channel := models.ProjectChannel(c.projectID)
	cursorChannel := models.CursorChannel(c.sessionID)

	subs := []struct {
		channel string
		event   string
	}{
		{channel, models.EventMessage},
		{channel, models.EventTyping},
		{cursorChannel, models.EventCursorMove},
		{cursorChannel, models.EventCursorClick},
	}
	for _, s := range subs {
		unsubscribe, err := c.hub.rt.Subscribe(c.ctx, s.channel, s.event, c.forward)
		if err != nil {
			c.dispose()
			return fmt.Errorf("subscribe %s: %w", s.event, err)
		}
		c.disposers = append(c.disposers, unsubscribe)
	}

	unsubscribe, err := presence.SubscribeToPresence(c.ctx, c.hub.rt, channel, func(members []realtime.Member) {
		c.sendFrame(Frame{Type: models.EventPresence, Channel: channel, Data: members})
	})
	if err != nil {
		c.dispose()
		return fmt.Errorf("subscribe presence: %w", err)
	}
	c.disposers = append(c.disposers, unsubscribe)

	record := models.PresenceRecord{UserID: c.userID, UserName: c.userName, Status: models.StatusOnline}
	if err := c.presence.Enter(c.ctx, channel, record); err != nil {
		c.dispose()
		return fmt.Errorf("enter presence: %w", err)
	}
	return nil
}

func (c *Client) forward(env realtime.Envelope) {
	c.sendFrame(Frame{
		Type:      env.Name,
		Channel:   env.Channel,
		ID:        env.ID,
		Timestamp: env.Timestamp,
		Data:      env.Data,
	})
}

func (c *Client) dispose() {
	for _, d := range c.disposers {
		d()
	}
	c.disposers = nil
}

// teardown removes every subscription, hides the cursor and leaves presence.
// The heartbeat is stopped first so it cannot write the member back. The
// final notifications are best effort.
func (c *Client) teardown() {
	c.dispose()
	c.cancel()
	c.heartbeats.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), teardownWait)
	defer cancel()

	if err := c.cursor.Leave(ctx); err != nil {
		slog.Warn("[CLIENT] Failed to publish final cursor", "user", c.userID, "session", c.sessionID, "error", err)
	}
	if err := c.presence.LeaveAll(ctx); err != nil {
		slog.Warn("[CLIENT] Failed to leave presence", "user", c.userID, "project", c.projectID, "error", err)
	}

	c.close()
}

// close stops the write pump, which flushes queued frames and then closes
// the connection.
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ReadPump pumps frames from the WebSocket to the realtime client
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.teardown()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("[CLIENT] Unexpected close", "user", c.userID, "project", c.projectID, "error", err)
			}
			break
		}

		c.handleClientMessage(message)
	}
}

// HeartbeatLoop refreshes the connection's presence every interval until the
// connection is torn down.
func (c *Client) HeartbeatLoop(interval time.Duration) {
	defer c.heartbeats.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			if err := c.presence.Heartbeat(ctx); err != nil {
				slog.Warn("[CLIENT] Presence heartbeat failed", "user", c.userID, "project", c.projectID, "error", err)
			}
			cancel()
		}
	}
}

// WritePump pumps frames from the send buffer to the WebSocket
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				slog.Error("[CLIENT] Failed to get writer", "user", c.userID, "project", c.projectID, "error", err)
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				slog.Error("[CLIENT] Failed to close writer", "user", c.userID, "project", c.projectID, "error", err)
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.flush()
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Error("[CLIENT] Failed to send ping", "user", c.userID, "project", c.projectID, "error", err)
				return
			}
		}
	}
}

func (c *Client) flush() {
	for {
		select {
		case message := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) sendFrame(f Frame) {
	payload, err := json.Marshal(f)
	if err != nil {
		slog.Error("[CLIENT] Failed to marshal frame", "type", f.Type, "error", err)
		return
	}

	select {
	case c.send <- payload:
	case <-c.done:
	default:
		slog.Warn("[CLIENT] Send buffer full, disconnecting", "user", c.userID, "project", c.projectID)
		c.close()
	}
}

func (c *Client) sendError(action string, err error, content string) {
	c.sendFrame(Frame{
		Type:    FrameError,
		Action:  action,
		Error:   fmt.Sprintf("%s failed: %v", action, err),
		Content: content,
	})
}

func (c *Client) handleClientMessage(message []byte) {
	var in inboundFrame
	if err := json.Unmarshal(message, &in); err != nil {
		slog.Error("[CLIENT] Error unmarshaling message", "user", c.userID, "project", c.projectID, "error", err)
		return
	}

	switch in.Type {
	case FrameMessage:
		var d messageData
		if err := decodeData(in.Data, &d); err != nil {
			c.sendError(in.Type, err, "")
			return
		}
		content := strings.TrimSpace(d.Content)
		if content == "" {
			return
		}
		draft := models.MessageData{UserID: c.userID, UserName: c.userName, Content: content}
		if err := c.hub.messaging.PublishMessage(c.ctx, c.projectID, draft); err != nil {
			c.sendError(in.Type, err, d.Content)
		}

	case FrameTyping:
		if err := c.hub.messaging.PublishTyping(c.ctx, c.projectID, c.userID, c.userName); err != nil {
			c.sendError(in.Type, err, "")
		}

	case FrameCursorMove:
		var d cursorMoveData
		if err := decodeData(in.Data, &d); err != nil {
			c.sendError(in.Type, err, "")
			return
		}
		var moveErr error
		switch {
		case d.Bounds != nil && d.ClientX != nil && d.ClientY != nil:
			_, moveErr = c.cursor.MoveWithin(c.ctx, cursor.Point{X: *d.ClientX, Y: *d.ClientY}, *d.Bounds)
		case d.X != nil && d.Y != nil:
			_, moveErr = c.cursor.Move(c.ctx, *d.X, *d.Y)
		default:
			moveErr = errMissingPosition
		}
		if moveErr != nil {
			c.sendError(in.Type, moveErr, "")
		}

	case FrameCursorLeave:
		if err := c.cursor.Leave(c.ctx); err != nil {
			c.sendError(in.Type, err, "")
		}

	case FrameCursorClick:
		var d cursorClickData
		if err := decodeData(in.Data, &d); err != nil {
			c.sendError(in.Type, err, "")
			return
		}
		if err := c.cursor.Click(c.ctx, d.X, d.Y, d.Annotation); err != nil {
			c.sendError(in.Type, err, "")
		}

	case FramePresenceUpdate:
		var d presenceUpdateData
		if err := decodeData(in.Data, &d); err != nil {
			c.sendError(in.Type, err, "")
			return
		}
		status := models.PresenceStatus(d.Status)
		if status != models.StatusOnline && status != models.StatusAway {
			c.sendError(in.Type, fmt.Errorf("unknown status %q", d.Status), "")
			return
		}
		if err := c.presence.Update(c.ctx, models.ProjectChannel(c.projectID), status); err != nil {
			c.sendError(in.Type, err, "")
		}

	default:
		slog.Warn("[CLIENT] Unknown event type", "type", in.Type, "user", c.userID, "project", c.projectID)
	}
}

var errMissingPosition = errors.New("missing position")

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
