package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"geoforge/internal/models"

	"github.com/goccy/go-json"
)

var ErrNotConfigured = errors.New("daily.co API key not configured")

// NotConfiguredMessage is shown to users when video is unavailable.
const NotConfiguredMessage = "Video calls are not configured. Add your Daily.co API key to enable them."

const (
	DefaultBaseURL         = "https://api.daily.co/v1"
	DefaultMaxParticipants = 50
	roomPrefix             = "geoforge-"
)

// APIError is a non-2xx response from the video provider.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daily.co API error: %d - %s", e.Status, e.Body)
}

// Registry records which project each room belongs to.
type Registry interface {
	SaveRoom(ctx context.Context, projectID, label string, room models.VideoRoom) error
	ListRooms(ctx context.Context, projectID string) ([]models.VideoRoom, error)
	DeleteRoom(ctx context.Context, name string) error
}

// JoinInfo is everything the embeddable call widget needs.
type JoinInfo struct {
	Room     models.VideoRoom `json:"room"`
	URL      string           `json:"url"`
	UserName string           `json:"userName"`
}

type Manager struct {
	apiKey          string
	baseURL         string
	httpClient      *http.Client
	registry        Registry
	maxParticipants int
	now             func() time.Time
}

// NewManager builds a Daily.co room manager. A nil registry falls back to
// scoping rooms by name prefix.
func NewManager(apiKey, baseURL string, httpClient *http.Client, registry Registry, maxParticipants int) *Manager {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if maxParticipants <= 0 {
		maxParticipants = DefaultMaxParticipants
	}
	if apiKey == "" {
		slog.Warn("[VIDEO] Daily.co API key not configured, video rooms are disabled")
	}
	return &Manager{
		apiKey:          apiKey,
		baseURL:         strings.TrimRight(baseURL, "/"),
		httpClient:      httpClient,
		registry:        registry,
		maxParticipants: maxParticipants,
		now:             time.Now,
	}
}

func (m *Manager) IsConfigured() bool {
	return m.apiKey != ""
}

// RoomName is the provider room name for scopeID created at t.
func RoomName(scopeID string, t time.Time) string {
	return fmt.Sprintf("%s%s-%d", roomPrefix, scopeID, t.UnixMilli())
}

type roomProperties struct {
	EnableScreenshare bool   `json:"enable_screenshare"`
	EnableChat        bool   `json:"enable_chat"`
	EnableRecording   string `json:"enable_recording"`
	MaxParticipants   int    `json:"max_participants"`
	EnableKnocking    bool   `json:"enable_knocking"`
	EnableNetworkUI   bool   `json:"enable_network_ui"`
	EnablePrejoinUI   bool   `json:"enable_prejoin_ui"`
}

type createRoomRequest struct {
	Name       string         `json:"name"`
	Privacy    string         `json:"privacy"`
	Properties roomProperties `json:"properties"`
}

type dailyRoom struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	URL     string          `json:"url"`
	Privacy string          `json:"privacy"`
	Config  dailyRoomConfig `json:"config"`
}

type dailyRoomConfig struct {
	EnableScreenshare *bool           `json:"enable_screenshare"`
	EnableChat        *bool           `json:"enable_chat"`
	EnableRecording   json.RawMessage `json:"enable_recording"`
	MaxParticipants   int             `json:"max_participants"`
}

type listRoomsResponse struct {
	TotalCount int         `json:"total_count"`
	Data       []dailyRoom `json:"data"`
}

// CreateRoom creates a private, knocking-enabled room with cloud recording.
// The provider response is returned as decoded; when a registry is set the
// room is recorded against scopeID.
func (m *Manager) CreateRoom(ctx context.Context, scopeID, label string) (models.VideoRoom, error) {
	if !m.IsConfigured() {
		return models.VideoRoom{}, ErrNotConfigured
	}

	req := createRoomRequest{
		Name:    RoomName(scopeID, m.now()),
		Privacy: string(models.RoomPrivate),
		Properties: roomProperties{
			EnableScreenshare: true,
			EnableChat:        true,
			EnableRecording:   "cloud",
			MaxParticipants:   m.maxParticipants,
			EnableKnocking:    true,
			EnableNetworkUI:   true,
			EnablePrejoinUI:   true,
		},
	}

	var created dailyRoom
	if err := m.do(ctx, "create room", http.MethodPost, "/rooms", req, &created); err != nil {
		return models.VideoRoom{}, err
	}
	room := created.toModel()

	slog.Info("[VIDEO] Room created", "name", room.Name, "scope", scopeID)

	if m.registry != nil {
		if err := m.registry.SaveRoom(ctx, scopeID, label, room); err != nil {
			slog.Error("[VIDEO] Failed to record room", "name", room.Name, "scope", scopeID, "error", err)
		}
	}
	return room, nil
}

// ListRooms returns every room on the account.
func (m *Manager) ListRooms(ctx context.Context) ([]models.VideoRoom, error) {
	if !m.IsConfigured() {
		return nil, ErrNotConfigured
	}

	var resp listRoomsResponse
	if err := m.do(ctx, "list rooms", http.MethodGet, "/rooms", nil, &resp); err != nil {
		return nil, err
	}

	rooms := make([]models.VideoRoom, 0, len(resp.Data))
	for _, r := range resp.Data {
		room := r.toModel()
		if room.Privacy == "" {
			room.Privacy = models.RoomPrivate
		}
		if room.Config.MaxParticipants == 0 {
			room.Config.MaxParticipants = m.maxParticipants
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

// ListProjectRooms returns the rooms belonging to projectID. With a registry
// the lookup is scoped server-side; otherwise the account's rooms are
// filtered by name prefix.
func (m *Manager) ListProjectRooms(ctx context.Context, projectID string) ([]models.VideoRoom, error) {
	if !m.IsConfigured() {
		return nil, ErrNotConfigured
	}

	if m.registry != nil {
		return m.registry.ListRooms(ctx, projectID)
	}

	all, err := m.ListRooms(ctx)
	if err != nil {
		return nil, err
	}

	prefix := roomPrefix + projectID + "-"
	var rooms []models.VideoRoom
	for _, r := range all {
		if strings.HasPrefix(r.Name, prefix) {
			rooms = append(rooms, r)
		}
	}
	return rooms, nil
}

func (m *Manager) DeleteRoom(ctx context.Context, name string) error {
	if !m.IsConfigured() {
		return ErrNotConfigured
	}

	if err := m.do(ctx, "delete room", http.MethodDelete, "/rooms/"+url.PathEscape(name), nil, nil); err != nil {
		return err
	}

	slog.Info("[VIDEO] Room deleted", "name", name)

	if m.registry != nil {
		if err := m.registry.DeleteRoom(ctx, name); err != nil {
			slog.Error("[VIDEO] Failed to remove room record", "name", name, "error", err)
		}
	}
	return nil
}

// Join hands room to the call widget as is.
func (m *Manager) Join(room models.VideoRoom, userName string) JoinInfo {
	return JoinInfo{Room: room, URL: room.URL, UserName: userName}
}

func (m *Manager) CreateAndJoin(ctx context.Context, scopeID, label, userName string) (JoinInfo, error) {
	room, err := m.CreateRoom(ctx, scopeID, label)
	if err != nil {
		return JoinInfo{}, err
	}
	return m.Join(room, userName), nil
}

// TestConnection lists rooms to verify the API key and reports the count.
func (m *Manager) TestConnection(ctx context.Context) (int, error) {
	rooms, err := m.ListRooms(ctx)
	if err != nil {
		slog.Error("[VIDEO] Connection test failed", "error", err)
		return 0, err
	}
	slog.Info("[VIDEO] Connection test succeeded", "rooms", len(rooms))
	return len(rooms), nil
}

func (m *Manager) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		slog.Error("[VIDEO] Request failed", "op", op, "error", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Op: op, Status: resp.StatusCode, Body: string(raw)}
		slog.Error("[VIDEO] Daily.co API error", "op", op, "status", resp.StatusCode, "body", apiErr.Body)
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (r dailyRoom) toModel() models.VideoRoom {
	room := models.VideoRoom{
		ID:      r.ID,
		Name:    r.Name,
		URL:     r.URL,
		Privacy: models.RoomPrivacy(r.Privacy),
		Config: models.RoomConfig{
			EnableRecording: recordingEnabled(r.Config.EnableRecording),
			MaxParticipants: r.Config.MaxParticipants,
		},
	}
	if r.Config.EnableScreenshare != nil {
		room.Config.EnableScreenshare = *r.Config.EnableScreenshare
	}
	if r.Config.EnableChat != nil {
		room.Config.EnableChat = *r.Config.EnableChat
	}
	return room
}

// recordingEnabled accepts the provider's boolean or recording-mode string.
func recordingEnabled(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var mode string
	if err := json.Unmarshal(raw, &mode); err == nil {
		return mode != "" && mode != "false"
	}
	return false
}
