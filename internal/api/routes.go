package api

import (
	"net/http"

	"geoforge/internal/auth"
	"geoforge/internal/realtime"
	"geoforge/internal/ws"
)

// Routes registers the HTTP API and the WebSocket gateway on mux. Room routes
// require a valid token; the gateway checks its own.
func Routes(mux *http.ServeMux, rt *realtime.Client, hub *ws.Hub, rooms RoomManager, validator *auth.Validator) {
	protect := auth.Middleware(validator)

	mux.HandleFunc("GET /health", HealthHandler(rt, hub, rooms))
	mux.Handle("POST /api/projects/{id}/rooms", protect(CreateRoomHandler(rooms)))
	mux.Handle("GET /api/projects/{id}/rooms", protect(ListProjectRoomsHandler(rooms)))
	mux.Handle("GET /api/rooms", protect(ListRoomsHandler(rooms)))
	mux.Handle("DELETE /api/rooms/{name}", protect(DeleteRoomHandler(rooms)))
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, w, r)
	})
}
