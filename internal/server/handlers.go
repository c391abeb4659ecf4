package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/livechat/internal/auth"
	"github.com/Tyrowin/livechat/internal/chat"
	"github.com/Tyrowin/livechat/internal/store"
)

// maxRoomBody bounds the JSON body of a room creation request.
const maxRoomBody = 4 << 10

func (h *Hub) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.origins.check,
	}
}

// requestIdentity resolves the verified identity of r. It returns zero for
// anonymous requests that are allowed through.
func (h *Hub) requestIdentity(r *http.Request) (chat.Identity, error) {
	id, err := h.auth.CurrentIdentity(r)
	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, auth.ErrNoCredentials) && !h.cfg.Auth.Required:
		return 0, nil
	default:
		return 0, err
	}
}

// WebSocketHandler upgrades GET /ws. The HTTP session token, when present,
// pins the identity the auth frame must announce.
func (h *Hub) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	verified, err := h.requestIdentity(r)
	if err != nil {
		h.logger.Info("rejected websocket upgrade", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		h.logger.Info("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s := newSession(h, conn, r.RemoteAddr, verified)
	if !h.admit(s) {
		s.Close()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
	}
}

// HealthHandler reports that the server is up and how many users are
// reachable.
func (h *Hub) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "livechat server is running! reachable users: %d", h.registry.Len())
}

// DirectHistoryHandler serves GET /api/messages/direct/{userId}.
func (h *Hub) DirectHistoryHandler(w http.ResponseWriter, r *http.Request) {
	me, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	other, err := pathID(r, "userId")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid user id")
		return
	}
	if h.history == nil {
		writeJSONError(w, http.StatusNotImplemented, "History is not available")
		return
	}

	msgs, err := h.history.DirectMessages(r.Context(), me, chat.Identity(other), historyLimit(r))
	if err != nil {
		h.logger.Error("get direct messages", "user", int64(me), "other", other, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to get messages")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(msgs))
}

// RoomHistoryHandler serves GET /api/messages/room/{roomId}.
func (h *Hub) RoomHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireIdentity(w, r); !ok {
		return
	}
	room, err := pathID(r, "roomId")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid room id")
		return
	}
	if h.history == nil {
		writeJSONError(w, http.StatusNotImplemented, "History is not available")
		return
	}

	msgs, err := h.history.RoomMessages(r.Context(), chat.RoomID(room), historyLimit(r))
	if err != nil {
		h.logger.Error("get room messages", "room", room, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to get room messages")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(msgs))
}

// ListRoomsHandler serves GET /api/rooms.
func (h *Hub) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireIdentity(w, r); !ok {
		return
	}
	if h.catalog == nil {
		writeJSONError(w, http.StatusNotImplemented, "Rooms are not available")
		return
	}

	rooms, err := h.catalog.ListRooms(r.Context())
	if err != nil {
		h.logger.Error("list rooms", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to get rooms")
		return
	}
	if rooms == nil {
		rooms = []chat.Room{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

// CreateRoomHandler serves POST /api/rooms. The caller becomes the creator
// and first member of the new room.
func (h *Hub) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	me, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	if h.catalog == nil {
		writeJSONError(w, http.StatusNotImplemented, "Rooms are not available")
		return
	}

	var req chat.NewRoom
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRoomBody)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid room data")
		return
	}
	req.CreatedBy = me

	room, err := h.catalog.CreateRoom(r.Context(), req)
	switch {
	case errors.Is(err, chat.ErrInvalidRoom):
		writeJSONError(w, http.StatusBadRequest, "Invalid room data")
	case err != nil:
		h.logger.Error("create room", "user", int64(me), "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to create room")
	default:
		h.logger.Info("room created", "room", int64(room.ID), "user", int64(me))
		writeJSON(w, http.StatusOK, room)
	}
}

// JoinRoomHandler serves POST /api/rooms/{roomId}/join.
func (h *Hub) JoinRoomHandler(w http.ResponseWriter, r *http.Request) {
	h.changeMembership(w, r, true)
}

// LeaveRoomHandler serves POST /api/rooms/{roomId}/leave.
func (h *Hub) LeaveRoomHandler(w http.ResponseWriter, r *http.Request) {
	h.changeMembership(w, r, false)
}

func (h *Hub) changeMembership(w http.ResponseWriter, r *http.Request, join bool) {
	me, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	room, err := pathID(r, "roomId")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid room id")
		return
	}
	if h.rooms == nil {
		writeJSONError(w, http.StatusNotImplemented, "Rooms are not available")
		return
	}

	if join {
		err = h.rooms.JoinRoom(r.Context(), me, chat.RoomID(room))
	} else {
		err = h.rooms.LeaveRoom(r.Context(), me, chat.RoomID(room))
	}
	switch {
	case errors.Is(err, chat.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "Room not found")
	case err != nil:
		h.logger.Error("change room membership", "user", int64(me), "room", room, "join", join, "error", err)
		if join {
			writeJSONError(w, http.StatusInternalServerError, "Failed to join room")
		} else {
			writeJSONError(w, http.StatusInternalServerError, "Failed to leave room")
		}
	case join:
		writeJSON(w, http.StatusOK, map[string]string{"message": "Joined room successfully"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"message": "Left room successfully"})
	}
}

type presenceStatus struct {
	UserID chat.Identity `json:"userId"`
	Online bool          `json:"online"`
	// Local is set when the user is connected to this process.
	Local bool `json:"local"`
}

// PresenceHandler serves GET /api/users/{userId}/presence. The local
// registry answers first; the shared presence record covers users
// connected elsewhere.
func (h *Hub) PresenceHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireIdentity(w, r); !ok {
		return
	}
	raw, err := pathID(r, "userId")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid user id")
		return
	}
	status := presenceStatus{UserID: chat.Identity(raw)}

	if _, ok := h.registry.Lookup(status.UserID); ok {
		status.Online, status.Local = true, true
	} else if h.locator != nil {
		ctx, cancel := context.WithTimeout(r.Context(), presenceTimeout)
		_, online, err := h.locator.Lookup(ctx, status.UserID)
		cancel()
		if err != nil {
			h.logger.Error("presence lookup", "user", raw, "error", err)
			writeJSONError(w, http.StatusInternalServerError, "Failed to get presence")
			return
		}
		status.Online = online
	}
	writeJSON(w, http.StatusOK, status)
}

// requireIdentity writes 401 and returns false when r carries no verified
// identity.
func (h *Hub) requireIdentity(w http.ResponseWriter, r *http.Request) (chat.Identity, bool) {
	id, err := h.auth.CurrentIdentity(r)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "Not authenticated")
		return 0, false
	}
	return id, true
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, r.PathValue(name))
	}
	return id, nil
}

func historyLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return store.ClampLimit(limit)
}

func nonNil(msgs []chat.Message) []chat.Message {
	if msgs == nil {
		return []chat.Message{}
	}
	return msgs
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
