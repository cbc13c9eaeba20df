package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"projectchat/internal/chat"
	"projectchat/internal/middleware"
)

const historyLimit = 100

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (dev mode); lock down behind a gateway in prod.
	},
}

// RoomDirectory answers whether a project room exists. In the marketplace
// deployment this is backed by the project service; a nil directory treats
// every room as existing (rooms are implicit).
type RoomDirectory interface {
	RoomExists(ctx context.Context, roomID string) (bool, error)
}

// Handler serves the websocket endpoint and the room history REST endpoint.
type Handler struct {
	hub   *Hub
	repo  MessageRepository
	rooms RoomDirectory
}

func NewHandler(hub *Hub, repo MessageRepository, rooms RoomDirectory) *Handler {
	return &Handler{hub: hub, repo: repo, rooms: rooms}
}

// ServeWs upgrades the connection and registers the client with the hub.
// Auth has already run; the sender identity comes from the request context.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserKey).(string)
	if !ok || userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	client := &client{
		hub:    h.hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: userID,
	}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// GetRoomHistory returns the room's message backlog, ascending by created_at.
func (h *Handler) GetRoomHistory(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	if h.rooms != nil {
		exists, err := h.rooms.RoomExists(r.Context(), roomID)
		if err != nil {
			http.Error(w, "room lookup failed", http.StatusInternalServerError)
			return
		}
		if !exists {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
	}

	msgs, err := h.repo.RoomMessages(r.Context(), roomID, historyLimit)
	if err != nil {
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msgs)
}
