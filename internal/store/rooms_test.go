package store

import (
	"context"
	"os"
	"testing"
	"time"

	"geoforge/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real Postgres when TEST_DATABASE_URL is set.
func newTestStore(t *testing.T) *RoomStore {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	pool, err := Connect(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := NewRoomStore(pool)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestRoomStore_SaveListDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	project := "test-" + uuid.NewString()
	base := time.Now()

	older := models.VideoRoom{
		ID:      "r1",
		Name:    "geoforge-" + project + "-1",
		URL:     "https://x/r1",
		Privacy: models.RoomPrivate,
		Config:  models.RoomConfig{EnableRecording: true, MaxParticipants: 50},
	}
	newer := models.VideoRoom{
		ID:      "r2",
		Name:    "geoforge-" + project + "-2",
		URL:     "https://x/r2",
		Privacy: models.RoomPrivate,
		Config:  models.RoomConfig{EnableChat: true, MaxParticipants: 10},
	}

	s.now = func() time.Time { return base }
	require.NoError(t, s.SaveRoom(ctx, project, "first", older))
	s.now = func() time.Time { return base.Add(time.Minute) }
	require.NoError(t, s.SaveRoom(ctx, project, "second", newer))

	t.Cleanup(func() {
		_ = s.DeleteRoom(ctx, older.Name)
		_ = s.DeleteRoom(ctx, newer.Name)
	})

	rooms, err := s.ListRooms(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, []models.VideoRoom{newer, older}, rooms)

	other, err := s.ListRooms(ctx, project+"-other")
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, s.DeleteRoom(ctx, newer.Name))
	rooms, err = s.ListRooms(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, []models.VideoRoom{older}, rooms)
}

func TestConnect_InvalidURL(t *testing.T) {
	_, err := Connect(context.Background(), "postgres://%zz")
	assert.Error(t, err)
}
