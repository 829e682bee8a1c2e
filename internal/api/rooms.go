package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"geoforge/internal/auth"
	"geoforge/internal/models"
	"geoforge/internal/video"

	"github.com/goccy/go-json"
)

const requestTimeout = 15 * time.Second

// RoomManager is the video room surface the handlers need.
type RoomManager interface {
	IsConfigured() bool
	CreateAndJoin(ctx context.Context, scopeID, label, userName string) (video.JoinInfo, error)
	ListRooms(ctx context.Context) ([]models.VideoRoom, error)
	ListProjectRooms(ctx context.Context, projectID string) ([]models.VideoRoom, error)
	DeleteRoom(ctx context.Context, name string) error
}

type createRoomRequest struct {
	Label string `json:"label"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[API] Failed to encode response", "error", err)
	}
}

// writeRoomError maps video errors to responses: not configured is 503,
// provider failures are 502 with the raw provider message.
func writeRoomError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, video.ErrNotConfigured) {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: video.NotConfiguredMessage})
		return
	}

	slog.Error("[API] Room operation failed", "op", op, "error", err)
	writeJSON(w, http.StatusBadGateway, errorResponse{Error: op + " failed: " + err.Error()})
}

// CreateRoomHandler serves POST /api/projects/{id}/rooms.
func CreateRoomHandler(rooms RoomManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := r.PathValue("id")
		if projectID == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "project id required"})
			return
		}

		var payload createRoomRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				slog.Warn("[API] Decode error", "error", err)
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
				return
			}
		}
		payload.Label = strings.TrimSpace(payload.Label)

		userName := ""
		if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
			userName = claims.DisplayName()
		}

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		info, err := rooms.CreateAndJoin(ctx, projectID, payload.Label, userName)
		if err != nil {
			writeRoomError(w, "create room", err)
			return
		}

		slog.Info("[API] Room created", "project", projectID, "room", info.Room.Name, "user", userName)
		writeJSON(w, http.StatusCreated, info)
	}
}

// ListProjectRoomsHandler serves GET /api/projects/{id}/rooms.
func ListProjectRoomsHandler(rooms RoomManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		list, err := rooms.ListProjectRooms(ctx, r.PathValue("id"))
		if err != nil {
			writeRoomError(w, "list rooms", err)
			return
		}
		if list == nil {
			list = []models.VideoRoom{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// ListRoomsHandler serves GET /api/rooms.
func ListRoomsHandler(rooms RoomManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		list, err := rooms.ListRooms(ctx)
		if err != nil {
			writeRoomError(w, "list rooms", err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// DeleteRoomHandler serves DELETE /api/rooms/{name}.
func DeleteRoomHandler(rooms RoomManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		name := r.PathValue("name")
		if err := rooms.DeleteRoom(ctx, name); err != nil {
			writeRoomError(w, "delete room", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
