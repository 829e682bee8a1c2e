package api

import (
	"net/http"

	"geoforge/internal/realtime"
	"geoforge/internal/ws"
)

type HealthStatus struct {
	Status   string         `json:"status"`
	Realtime RealtimeHealth `json:"realtime"`
	Video    VideoHealth    `json:"video"`
	Gateway  ws.Stats       `json:"gateway"`
}

type RealtimeHealth struct {
	Configured bool           `json:"configured"`
	State      realtime.State `json:"state"`
}

type VideoHealth struct {
	Configured bool `json:"configured"`
}

// HealthHandler serves GET /health. Unconfigured providers are reported but
// do not fail the check.
func HealthHandler(rt *realtime.Client, hub *ws.Hub, rooms RoomManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := HealthStatus{
			Status:  "ok",
			Video:   VideoHealth{Configured: rooms.IsConfigured()},
			Gateway: hub.Stats(),
		}
		status.Realtime.Configured = rt.IsConfigured()
		status.Realtime.State = rt.State()

		if status.Realtime.State == realtime.StateFailed {
			status.Status = "degraded"
		}
		writeJSON(w, http.StatusOK, status)
	}
}
