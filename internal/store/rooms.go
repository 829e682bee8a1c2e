package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"geoforge/internal/models"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS video_rooms (
    name       TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    room_id    TEXT NOT NULL,
    url        TEXT NOT NULL,
    privacy    TEXT NOT NULL DEFAULT 'private',
    label      TEXT NOT NULL DEFAULT '',
    config     JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS video_rooms_project_idx ON video_rooms (project_id, created_at DESC);
`

// RoomStore maps video rooms to the project that created them, so listing
// a project's rooms never depends on provider-side naming.
type RoomStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewRoomStore(pool *pgxpool.Pool) *RoomStore {
	return &RoomStore{pool: pool, now: time.Now}
}

func (s *RoomStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate video_rooms: %w", err)
	}
	return nil
}

func (s *RoomStore) SaveRoom(ctx context.Context, projectID, label string, room models.VideoRoom) error {
	config, err := json.Marshal(room.Config)
	if err != nil {
		return fmt.Errorf("marshal room config: %w", err)
	}

	query := `
        INSERT INTO video_rooms (name, project_id, room_id, url, privacy, label, config, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (name) DO UPDATE
        SET room_id = EXCLUDED.room_id, url = EXCLUDED.url, privacy = EXCLUDED.privacy,
            label = EXCLUDED.label, config = EXCLUDED.config
    `

	_, err = s.pool.Exec(ctx, query,
		room.Name,
		projectID,
		room.ID,
		room.URL,
		string(room.Privacy),
		label,
		config,
		s.now(),
	)
	if err != nil {
		slog.Error("[STORE] Failed to save room", "name", room.Name, "project", projectID, "error", err)
		return err
	}
	return nil
}

// ListRooms returns projectID's rooms, newest first.
func (s *RoomStore) ListRooms(ctx context.Context, projectID string) ([]models.VideoRoom, error) {
	query := `
        SELECT room_id, name, url, privacy, config
        FROM video_rooms
        WHERE project_id = $1
        ORDER BY created_at DESC, name
    `

	rows, err := s.pool.Query(ctx, query, projectID)
	if err != nil {
		slog.Error("[STORE] Failed to list rooms", "project", projectID, "error", err)
		return nil, err
	}
	defer rows.Close()

	rooms := []models.VideoRoom{}
	for rows.Next() {
		var (
			room    models.VideoRoom
			privacy string
			config  []byte
		)
		if err := rows.Scan(&room.ID, &room.Name, &room.URL, &privacy, &config); err != nil {
			return nil, err
		}
		room.Privacy = models.RoomPrivacy(privacy)
		if err := json.Unmarshal(config, &room.Config); err != nil {
			return nil, fmt.Errorf("decode config of %s: %w", room.Name, err)
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (s *RoomStore) DeleteRoom(ctx context.Context, name string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM video_rooms WHERE name = $1`, name); err != nil {
		slog.Error("[STORE] Failed to delete room", "name", name, "error", err)
		return err
	}
	return nil
}
