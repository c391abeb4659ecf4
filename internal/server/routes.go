package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes:
// health check, WebSocket endpoint, history fallback, rooms, presence and,
// when enabled, Prometheus metrics.
func SetupRoutes(h *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.HealthHandler)
	mux.HandleFunc("/ws", h.WebSocketHandler)

	mux.HandleFunc("GET /api/messages/direct/{userId}", h.DirectHistoryHandler)
	mux.HandleFunc("GET /api/messages/room/{roomId}", h.RoomHistoryHandler)
	mux.HandleFunc("GET /api/rooms", h.ListRoomsHandler)
	mux.HandleFunc("POST /api/rooms", h.CreateRoomHandler)
	mux.HandleFunc("POST /api/rooms/{roomId}/join", h.JoinRoomHandler)
	mux.HandleFunc("POST /api/rooms/{roomId}/leave", h.LeaveRoomHandler)
	mux.HandleFunc("GET /api/users/{userId}/presence", h.PresenceHandler)

	if h.cfg.Metrics.Enabled && h.metrics != nil {
		mux.Handle("GET "+h.cfg.Metrics.Path, h.metrics.Handler())
	}
	return mux
}
