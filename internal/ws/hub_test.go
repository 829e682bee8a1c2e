package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"geoforge/internal/auth"
	"geoforge/internal/models"
	"geoforge/internal/presence"
	"geoforge/internal/realtime"
	"geoforge/internal/realtime/realtimetest"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	hub       *Hub
	broker    *realtimetest.Broker
	validator *auth.Validator
	srv       *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithOptions(t, Options{})
}

func newTestServerWithOptions(t *testing.T, opts Options) *testServer {
	t.Helper()

	rt, broker := realtimetest.NewClient("server")
	validator := auth.NewValidator("test-secret")
	hub := NewHub(rt, validator, opts)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, w, r)
	}))

	t.Cleanup(func() {
		cancel()
		srv.Close()
		rt.Close()
	})
	return &testServer{hub: hub, broker: broker, validator: validator, srv: srv}
}

func (s *testServer) dial(t *testing.T, userID, name, query string) *websocket.Conn {
	t.Helper()

	token, err := s.validator.GenerateToken(userID, name, "", time.Hour)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?" + query + "&token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil returns the first frame of the given type.
func readUntil(t *testing.T, conn *websocket.Conn, frameType string) map[string]any {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s frame", frameType)

		var f map[string]any
		require.NoError(t, json.Unmarshal(raw, &f))
		if f["type"] == frameType {
			return f
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, frameType string, data any) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"type": frameType, "data": data})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

func TestServeWS_Unauthorized(t *testing.T) {
	s := newTestServer(t)

	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?project=p1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWS_NotConfigured(t *testing.T) {
	validator := auth.NewValidator("test-secret")
	hub := NewHub(realtime.NewClient(nil, nil, "server"), validator, Options{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, w, r)
	}))
	defer srv.Close()

	token, err := validator.GenerateToken("u1", "Ann", "", time.Hour)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?project=p1&token=" + token
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHub_RelaysMessages(t *testing.T) {
	s := newTestServer(t)

	ann := s.dial(t, "u1", "Ann", "project=p1")
	ben := s.dial(t, "u2", "Ben", "project=p1")

	require.Eventually(t, func() bool { return s.hub.Stats().Connections == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"u1", "u2"}, s.hub.ProjectUsers("p1"))

	send(t, ann, FrameMessage, map[string]string{"content": "need help at DH-07"})

	f := readUntil(t, ben, FrameMessage)
	data, ok := f["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "need help at DH-07", data["content"])
	assert.Equal(t, "Ann", data["userName"])
	assert.Equal(t, string(models.MessageAlert), data["type"])
	assert.NotEmpty(t, f["id"])
}

func TestHub_PresenceFrames(t *testing.T) {
	s := newTestServer(t)

	ann := s.dial(t, "u1", "Ann", "project=p1")
	readUntil(t, ann, models.EventPresence)

	_ = s.dial(t, "u2", "Ben", "project=p1")

	for i := 0; ; i++ {
		require.Less(t, i, 10, "presence never listed both members")
		f := readUntil(t, ann, models.EventPresence)
		if members, _ := f["data"].([]any); len(members) == 2 {
			break
		}
	}
}

func TestHub_CursorRelay(t *testing.T) {
	s := newTestServer(t)

	ann := s.dial(t, "u1", "Ann", "project=p1&session=map-1")
	ben := s.dial(t, "u2", "Ben", "project=p1&session=map-1")
	require.Eventually(t, func() bool { return s.hub.Stats().Connections == 2 }, 2*time.Second, 10*time.Millisecond)

	send(t, ann, FrameCursorMove, map[string]any{
		"clientX": 150, "clientY": 100,
		"bounds": map[string]float64{"left": 100, "top": 50, "width": 200, "height": 100},
	})

	f := readUntil(t, ben, FrameCursorMove)
	data := f["data"].(map[string]any)
	assert.Equal(t, "u1", data["userId"])
	assert.InDelta(t, 0.25, data["x"], 1e-9)
	assert.Equal(t, true, data["isActive"])
	assert.Equal(t, models.CursorChannel("map-1"), f["channel"])
}

func TestHub_MessageFailureEchoesContent(t *testing.T) {
	s := newTestServer(t)

	ann := s.dial(t, "u1", "Ann", "project=p1")
	require.Eventually(t, func() bool { return s.hub.Stats().Connections == 1 }, 2*time.Second, 10*time.Millisecond)

	s.broker.FailPublish(errors.New("provider unavailable"))
	defer s.broker.FailPublish(nil)

	send(t, ann, FrameMessage, map[string]string{"content": "core recovery 92%"})

	f := readUntil(t, ann, FrameError)
	assert.Equal(t, FrameMessage, f["action"])
	assert.Equal(t, "core recovery 92%", f["content"])
	assert.Contains(t, f["error"], "message failed: ")
	assert.Contains(t, f["error"], "provider unavailable")
}

func TestHub_DisconnectLeavesPresence(t *testing.T) {
	s := newTestServer(t)

	ann := s.dial(t, "u1", "Ann", "project=p1")
	require.Eventually(t, func() bool { return s.hub.Stats().Connections == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ann.Close())

	require.Eventually(t, func() bool { return s.hub.Stats().Connections == 0 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		for _, env := range s.broker.PublishedNamed(models.CursorChannel("p1"), models.EventCursorMove) {
			var pos models.CursorPosition
			if env.Decode(&pos) == nil && !pos.IsActive {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		members, err := s.hub.rt.ListMembers(context.Background(), models.ProjectChannel("p1"))
		return err == nil && len(members) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_HeartbeatSurvivesSweep(t *testing.T) {
	const ttl = 150 * time.Millisecond
	channel := models.ProjectChannel("p1")

	memberCount := func(s *testServer) int {
		members, err := s.hub.rt.ListMembers(context.Background(), channel)
		if err != nil {
			return -1
		}
		return len(members)
	}

	t.Run("connected client is kept", func(t *testing.T) {
		s := newTestServerWithOptions(t, Options{HeartbeatInterval: ttl / 5})

		_ = s.dial(t, "u1", "Ann", "project=p1")
		require.Eventually(t, func() bool { return memberCount(s) == 1 }, 2*time.Second, 10*time.Millisecond)

		time.Sleep(ttl + 100*time.Millisecond)

		removed, err := presence.Sweep(context.Background(), s.hub.rt, ttl, time.Now())
		require.NoError(t, err)
		assert.Zero(t, removed)
		assert.Equal(t, 1, memberCount(s))
		assert.Equal(t, 1, s.hub.Stats().Connections)
	})

	t.Run("without heartbeats the member goes stale", func(t *testing.T) {
		s := newTestServer(t)

		_ = s.dial(t, "u1", "Ann", "project=p1")
		require.Eventually(t, func() bool { return memberCount(s) == 1 }, 2*time.Second, 10*time.Millisecond)

		time.Sleep(ttl + 100*time.Millisecond)

		removed, err := presence.Sweep(context.Background(), s.hub.rt, ttl, time.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
	})
}
