package video

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"geoforge/internal/models"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRegistry struct {
	mu    sync.Mutex
	rooms map[string][]models.VideoRoom
	err   error
}

func newMemRegistry() *memRegistry {
	return &memRegistry{rooms: make(map[string][]models.VideoRoom)}
}

func (r *memRegistry) SaveRoom(_ context.Context, projectID, _ string, room models.VideoRoom) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.rooms[projectID] = append(r.rooms[projectID], room)
	return nil
}

func (r *memRegistry) ListRooms(_ context.Context, projectID string) ([]models.VideoRoom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.VideoRoom(nil), r.rooms[projectID]...), nil
}

func (r *memRegistry) DeleteRoom(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for project, rooms := range r.rooms {
		kept := rooms[:0]
		for _, room := range rooms {
			if room.Name != name {
				kept = append(kept, room)
			}
		}
		r.rooms[project] = kept
	}
	return nil
}

func TestManager_CreateRoom(t *testing.T) {
	var (
		gotMethod string
		gotAuth   string
		gotBody   map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"r1","url":"https://x/r1","name":"geoforge-proj-1-123"}`))
	}))
	defer srv.Close()

	m := NewManager("secret", srv.URL, srv.Client(), nil, 0)
	m.now = func() time.Time { return time.UnixMilli(123) }

	t.Run("join receives the created room unmodified", func(t *testing.T) {
		info, err := m.CreateAndJoin(context.Background(), "proj-1", "label", "Ann")
		require.NoError(t, err)

		want := models.VideoRoom{ID: "r1", URL: "https://x/r1", Name: "geoforge-proj-1-123"}
		assert.Equal(t, want, info.Room)
		assert.Equal(t, "https://x/r1", info.URL)
		assert.Equal(t, "Ann", info.UserName)
	})

	t.Run("request carries room policy", func(t *testing.T) {
		_, err := m.CreateRoom(context.Background(), "proj-1", "label")
		require.NoError(t, err)

		assert.Equal(t, http.MethodPost, gotMethod)
		assert.Equal(t, "Bearer secret", gotAuth)
		assert.Equal(t, "geoforge-proj-1-123", gotBody["name"])
		assert.Equal(t, "private", gotBody["privacy"])

		props, ok := gotBody["properties"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, true, props["enable_knocking"])
		assert.Equal(t, "cloud", props["enable_recording"])
		assert.EqualValues(t, 50, props["max_participants"])
	})
}

func TestManager_CreateRoom_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"authorization-header-error"}`))
	}))
	defer srv.Close()

	m := NewManager("bad", srv.URL, srv.Client(), nil, 0)
	_, err := m.CreateRoom(context.Background(), "proj-1", "label")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, `daily.co API error: 401 - {"error":"authorization-header-error"}`, err.Error())
}

func TestManager_NotConfigured(t *testing.T) {
	m := NewManager("", "", nil, nil, 0)
	ctx := context.Background()

	assert.False(t, m.IsConfigured())

	_, err := m.CreateRoom(ctx, "p", "l")
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = m.ListRooms(ctx)
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = m.ListProjectRooms(ctx, "p")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, m.DeleteRoom(ctx, "geoforge-p-1"), ErrNotConfigured)
}

const listResponse = `{
	"total_count": 3,
	"data": [
		{"id":"a","name":"geoforge-proj-1-100","url":"https://x/a","privacy":"private","config":{"enable_recording":"cloud","max_participants":20}},
		{"id":"b","name":"geoforge-proj-10-200","url":"https://x/b","config":{}},
		{"id":"c","name":"geoforge-proj-1-300","url":"https://x/c","config":{"enable_chat":true}}
	]
}`

func TestManager_ListRooms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rooms", r.URL.Path)
		_, _ = w.Write([]byte(listResponse))
	}))
	defer srv.Close()

	m := NewManager("secret", srv.URL, srv.Client(), nil, 0)

	rooms, err := m.ListRooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 3)

	assert.True(t, rooms[0].Config.EnableRecording)
	assert.Equal(t, 20, rooms[0].Config.MaxParticipants)
	assert.Equal(t, models.RoomPrivate, rooms[1].Privacy)
	assert.Equal(t, DefaultMaxParticipants, rooms[1].Config.MaxParticipants)
	assert.True(t, rooms[2].Config.EnableChat)

	t.Run("prefix fallback does not leak similar project ids", func(t *testing.T) {
		rooms, err := m.ListProjectRooms(context.Background(), "proj-1")
		require.NoError(t, err)
		require.Len(t, rooms, 2)
		assert.Equal(t, "a", rooms[0].ID)
		assert.Equal(t, "c", rooms[1].ID)
	})

	n, err := m.TestConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestManager_Registry(t *testing.T) {
	var deleted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			_, _ = w.Write([]byte(`{"id":"r1","url":"https://x/r1","name":"geoforge-p1-5","privacy":"private"}`))
		case http.MethodDelete:
			deleted = r.URL.Path
			_, _ = w.Write([]byte(`{"deleted":true,"name":"geoforge-p1-5"}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	reg := newMemRegistry()
	m := NewManager("secret", srv.URL, srv.Client(), reg, 0)
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, "p1", "daily standup")
	require.NoError(t, err)

	rooms, err := m.ListProjectRooms(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []models.VideoRoom{room}, rooms)

	other, err := m.ListProjectRooms(ctx, "p2")
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, m.DeleteRoom(ctx, room.Name))
	assert.Equal(t, "/rooms/geoforge-p1-5", deleted)

	rooms, err = m.ListProjectRooms(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestManager_RegistryFailureKeepsRoom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"r1","url":"https://x/r1","name":"geoforge-p1-5"}`))
	}))
	defer srv.Close()

	reg := newMemRegistry()
	reg.err = errors.New("db down")
	m := NewManager("secret", srv.URL, srv.Client(), reg, 0)

	room, err := m.CreateRoom(context.Background(), "p1", "label")
	require.NoError(t, err)
	assert.Equal(t, "r1", room.ID)
}

func TestRoomName(t *testing.T) {
	assert.Equal(t, "geoforge-proj-1-1700000000000", RoomName("proj-1", time.UnixMilli(1700000000000)))
}
